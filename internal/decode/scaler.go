package decode

import (
	"fmt"
	"image"

	"github.com/asticode/go-astiav"
)

// frameScaler converts decoder-native planar pictures into interleaved RGBA.
// A scaler is built for exactly one picture size and must be replaced, not
// reused, when dimensions change.
type frameScaler interface {
	// scale converts src into dst. dst must already be allocated at the
	// scaler's dimensions.
	scale(src *astiav.Frame, dst *image.RGBA) error
	close()
}

// scalerFactory builds a scaler for the given picture geometry. The session
// holds a factory rather than a scaler so the conversion context can be
// rebuilt whenever negotiated dimensions change.
type scalerFactory func(width, height int, srcFormat astiav.PixelFormat) (frameScaler, error)

// swsScaler wraps an FFmpeg software-scale context.
type swsScaler struct {
	ctx    *astiav.SoftwareScaleContext
	width  int
	height int
}

func newSwsScaler(width, height int, srcFormat astiav.PixelFormat) (frameScaler, error) {
	ctx, err := astiav.CreateSoftwareScaleContext(
		width, height, srcFormat,
		width, height, astiav.PixelFormatRgba,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return nil, fmt.Errorf("creating scale context: %w", err)
	}
	return &swsScaler{ctx: ctx, width: width, height: height}, nil
}

func (s *swsScaler) scale(src *astiav.Frame, dst *image.RGBA) error {
	out := astiav.AllocFrame()
	defer out.Free()
	out.SetWidth(s.width)
	out.SetHeight(s.height)
	out.SetPixelFormat(astiav.PixelFormatRgba)
	if err := out.AllocBuffer(1); err != nil {
		return fmt.Errorf("allocating destination buffer: %w", err)
	}

	if err := s.ctx.ScaleFrame(src, out); err != nil {
		return fmt.Errorf("scaling frame: %w", err)
	}

	data, err := out.Data().Bytes(1)
	if err != nil {
		return fmt.Errorf("reading scaled frame: %w", err)
	}

	// The packed source rows are width*4; the destination image carries
	// its own stride, respected row by row.
	rowLen := s.width * 4
	if len(data) < rowLen*s.height {
		return fmt.Errorf("scaled frame %d bytes, expected %d", len(data), rowLen*s.height)
	}
	for y := 0; y < s.height; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowLen], data[y*rowLen:(y+1)*rowLen])
	}
	return nil
}

func (s *swsScaler) close() {
	s.ctx.Free()
}
