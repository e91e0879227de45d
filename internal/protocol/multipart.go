// Package protocol implements the two framings used on the wire: multipart
// HTTP parts and the websocket JSON control messages.
package protocol

import (
	"fmt"
	"io"

	"github.com/herohan/thermal-stream-server/pkg/types"
)

// Boundary is the fixed multipart boundary token.
const Boundary = "frame"

// MultipartContentType is the response Content-Type for the stream endpoint.
const MultipartContentType = "multipart/x-mixed-replace; boundary=" + Boundary

// PartHeader renders the header block for one multipart frame part: boundary
// line, content headers, and the blank line that precedes the payload.
func PartHeader(f types.Format, frameLen int) []byte {
	return []byte(fmt.Sprintf(
		"--%s\r\n"+
			"Content-Type: application/octet-stream\r\n"+
			"Content-Length: %d\r\n"+
			"X-Frame-Width: %d\r\n"+
			"X-Frame-Height: %d\r\n"+
			"X-Pixel-Format: %s\r\n"+
			"\r\n",
		Boundary, frameLen, f.Width, f.Height, f.PixelFormat))
}

// WritePart writes one complete frame part: header block, raw frame bytes,
// trailing line separator. No closing boundary is ever written; the multipart
// stream stays open until the connection closes.
func WritePart(w io.Writer, f types.Format, data []byte) error {
	if _, err := w.Write(PartHeader(f, len(data))); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
