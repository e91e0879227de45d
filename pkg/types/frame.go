package types

// Format describes the fixed geometry of frames produced by the capture
// subsystem. The sensor delivers buffers at OriginalHeight rows; only the
// bottom Height rows are kept for streaming.
type Format struct {
	Width          int    // Frame width in pixels
	Height         int    // Streamed frame height in pixels (after crop)
	OriginalHeight int    // Sensor frame height before crop
	BytesPerPixel  int    // Bytes per pixel (2 for packed YUV422)
	PixelFormat    string // Wire format tag (e.g. "YUV422")
}

// DefaultFormat matches the thermal sensor this server was built for:
// 256x384 YUV422 input, streamed as the bottom 256x192.
func DefaultFormat() Format {
	return Format{
		Width:          256,
		Height:         192,
		OriginalHeight: 384,
		BytesPerPixel:  2,
		PixelFormat:    "YUV422",
	}
}

// BytesPerRow returns the byte length of one row.
func (f Format) BytesPerRow() int {
	return f.Width * f.BytesPerPixel
}

// BytesPerFrame returns the byte length of one streamed (cropped) frame.
func (f Format) BytesPerFrame() int {
	return f.Width * f.Height * f.BytesPerPixel
}

// OriginalBytesPerFrame returns the byte length of one uncropped sensor frame.
func (f Format) OriginalBytesPerFrame() int {
	return f.Width * f.OriginalHeight * f.BytesPerPixel
}

// CropOffset returns the byte offset of the first kept row in an uncropped
// sensor buffer. The top OriginalHeight-Height rows are discarded.
func (f Format) CropOffset() int {
	return (f.OriginalHeight - f.Height) * f.BytesPerRow()
}

// Valid reports whether the format describes a usable frame geometry.
func (f Format) Valid() bool {
	return f.Width > 0 && f.Height > 0 && f.BytesPerPixel > 0 &&
		f.OriginalHeight >= f.Height
}
