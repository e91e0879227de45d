package streamserver

import (
	"fmt"
	"image"
	"image/jpeg"
	"net/http"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/herohan/thermal-stream-server/internal/logger"
	"github.com/herohan/thermal-stream-server/pkg/types"
)

// handleSnapshot renders the latest raw frame as a single grayscale JPEG for
// quick browser inspection. It is a debugging surface, not a third streaming
// protocol: one image per request, no polling loop.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, gen, ok := s.slot.Latest()
	if !ok {
		writeJSON(w, map[string]interface{}{"error": "no frame produced yet"},
			http.StatusServiceUnavailable)
		return
	}

	img := lumaImage(data, s.cfg.Format)
	label := fmt.Sprintf("frame %d  %dx%d %s",
		gen, s.cfg.Format.Width, s.cfg.Format.Height, s.cfg.Format.PixelFormat)
	drawLabel(img, label)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-cache")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 85}); err != nil {
		logger.Debug("Snapshot", "encode: %v", err)
	}
}

// lumaImage extracts the luminance plane of a packed YUV422 frame (luma on
// even byte offsets) into a grayscale image. For other pixel formats the
// first byte of each pixel still gives a usable intensity preview.
func lumaImage(data []byte, f types.Format) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		row := y * f.BytesPerRow()
		for x := 0; x < f.Width; x++ {
			img.Pix[y*img.Stride+x] = data[row+x*f.BytesPerPixel]
		}
	}
	return img
}

func drawLabel(img *image.Gray, text string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	d.DrawString(text)
}
