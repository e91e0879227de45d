// Package source adapts the external capture callback to the frame slot.
package source

import (
	"github.com/herohan/thermal-stream-server/internal/frame"
	"github.com/herohan/thermal-stream-server/internal/logger"
	"github.com/herohan/thermal-stream-server/internal/metrics"
	"github.com/herohan/thermal-stream-server/pkg/types"
)

// Source receives raw sensor buffers pushed by the capture subsystem, applies
// the fixed row crop and writes the result into the frame slot. Push is safe
// to call from the capture thread; it never blocks beyond the frame copy and
// never panics on bad input.
type Source struct {
	format types.Format
	slot   *frame.Slot
	m      *metrics.Metrics

	cropped []byte // scratch buffer, reused across pushes
}

// New creates a Source feeding slot. The slot's size must match
// format.BytesPerFrame.
func New(format types.Format, slot *frame.Slot, m *metrics.Metrics) *Source {
	if m == nil {
		m = metrics.New()
	}
	return &Source{
		format:  format,
		slot:    slot,
		m:       m,
		cropped: make([]byte, format.BytesPerFrame()),
	}
}

// Format returns the frame geometry this source enforces.
func (s *Source) Format() types.Format {
	return s.format
}

// Push ingests one raw sensor buffer.
//
// Full-size buffers keep only the bottom Height rows; the top rows are
// discarded. Buffers that are already cropped (at least BytesPerFrame bytes
// but smaller than a full sensor frame) are stored as-is. Anything smaller is
// dropped: logged and counted, the slot untouched.
func (s *Source) Push(buf []byte) {
	full := s.format.OriginalBytesPerFrame()
	want := s.format.BytesPerFrame()

	switch {
	case len(buf) >= full:
		copy(s.cropped, buf[s.format.CropOffset():s.format.CropOffset()+want])
		s.m.FramesCropped.Add(1)
	case len(buf) >= want:
		copy(s.cropped, buf[:want])
	default:
		logger.Warn("Source", "frame too small: %d bytes, need %d", len(buf), want)
		s.m.FramesRejected.Add(1)
		return
	}

	if err := s.slot.Write(s.cropped); err != nil {
		// Slot closed during shutdown; nothing to deliver to.
		logger.Debug("Source", "dropping frame: %v", err)
		return
	}
	s.m.FramesReceived.Add(1)
}
