// Package decode implements the frame decode pipeline: compressed video
// packets go in, displayable RGBA images come out, with the pixel-format
// conversion context rebuilt transparently across mid-stream resolution
// changes.
package decode

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/deskcast/deskcast/internal/bus"
	"github.com/deskcast/deskcast/internal/logger"
	"github.com/deskcast/deskcast/internal/perf"
)

// ErrClosed reports use of a session after Close.
var ErrClosed = errors.New("decode session closed")

// Frame is one decoded picture handed to consumers. The image is freshly
// allocated per picture; the consumer owns it outright.
type Frame struct {
	Image     *image.RGBA
	FrameID   int64
	DecodedAt time.Time
}

// Options configures optional session behavior.
type Options struct {
	// Frames receives one event per decoded picture when non-nil.
	Frames *bus.Bus[Frame]

	// Tracker receives per-stage timings when non-nil.
	Tracker *perf.Tracker
}

// Session owns one codec context and one conversion context. Decode calls
// are serialized under the session mutex because codec, packet and frame
// scratch state are reused across calls: one caller goroutine at a time.
type Session struct {
	mu    sync.Mutex
	codec videoCodec
	opts  Options

	newScaler scalerFactory
	scaler    frameScaler
	width     int
	height    int

	frames uint64
	closed bool
}

// NewSession opens an H.264 decode session. Like the capture session, a
// finalizer backstops Close; explicit Close remains the primary release
// path for the FFmpeg handles.
func NewSession(opts Options) (*Session, error) {
	codec, err := newH264Codec()
	if err != nil {
		return nil, fmt.Errorf("opening h264 decoder: %w", err)
	}
	return newSession(codec, newSwsScaler, opts), nil
}

// newSession wires a session around explicit codec and scaler
// implementations. Split from NewSession so behavior can be exercised
// without FFmpeg state behind it.
func newSession(codec videoCodec, factory scalerFactory, opts Options) *Session {
	s := &Session{
		codec:     codec,
		newScaler: factory,
		opts:      opts,
	}
	runtime.SetFinalizer(s, func(s *Session) { _ = s.Close() })
	return s
}

// Decode submits one compressed packet and drains every picture the codec
// yields for it, publishing each as a Frame event. It returns the last
// picture, or nil when the submission produced none (a reference-only
// frame, for example) - an expected outcome, not an error.
//
// When width or height differ from the previous call, the conversion
// context is rebuilt for the new dimensions before the packet is submitted,
// and the old context is released first.
func (s *Session) Decode(data []byte, width, height int, frameID int64) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}

	if s.scaler == nil || width != s.width || height != s.height {
		if err := s.rebuildScaler(width, height); err != nil {
			return nil, err
		}
	}

	decodeStart := time.Now()
	if err := s.codec.submit(data, frameID); err != nil {
		return nil, fmt.Errorf("submitting packet %d: %w", frameID, err)
	}

	var last *image.RGBA
	for {
		pic, err := s.codec.next()
		if errors.Is(err, errDrained) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("draining packet %d: %w", frameID, err)
		}
		if t := s.opts.Tracker; t != nil {
			t.Observe(perf.StageDecode, time.Since(decodeStart))
		}

		img, err := s.assemble(pic, width, height, frameID)
		if err != nil {
			return nil, err
		}
		last = img
		decodeStart = time.Now()
	}
	return last, nil
}

// assemble converts one decoded picture into a consumer-owned image and
// publishes it.
func (s *Session) assemble(pic *astiav.Frame, width, height int, frameID int64) (*image.RGBA, error) {
	convertStart := time.Now()
	// Freshly allocated per picture: consumers own it, nothing is reused
	// beneath them.
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if err := s.scaler.scale(pic, img); err != nil {
		return nil, fmt.Errorf("converting picture for packet %d: %w", frameID, err)
	}

	s.frames++
	if t := s.opts.Tracker; t != nil {
		t.Observe(perf.StageConvert, time.Since(convertStart))
		t.FrameDone()
	}
	if s.opts.Frames != nil {
		s.opts.Frames.Publish(Frame{
			Image:     img,
			FrameID:   frameID,
			DecodedAt: time.Now(),
		})
	}
	return img, nil
}

// rebuildScaler replaces the conversion context with one sized for the new
// negotiated dimensions. H.264 decoders emit 4:2:0 planar pictures, so the
// source format is fixed.
func (s *Session) rebuildScaler(width, height int) error {
	if s.scaler != nil {
		s.scaler.close()
		s.scaler = nil
	}
	scaler, err := s.newScaler(width, height, astiav.PixelFormatYuv420P)
	if err != nil {
		return fmt.Errorf("rebuilding conversion context for %dx%d: %w", width, height, err)
	}
	logger.WithComponent("decode").Debug().
		Int("width", width).
		Int("height", height).
		Msg("conversion context rebuilt")
	s.scaler = scaler
	s.width = width
	s.height = height
	return nil
}

// Frames returns the cumulative decoded picture count.
func (s *Session) Frames() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Close releases the codec and conversion contexts. It is idempotent and
// safe to call from both explicit teardown and the finalizer backstop.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	runtime.SetFinalizer(s, nil)

	if s.scaler != nil {
		s.scaler.close()
		s.scaler = nil
	}
	s.codec.close()
	return nil
}
