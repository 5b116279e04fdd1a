package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/deskcast/deskcast/internal/logger"
)

// Session owns one duplication backend and the pinned frame buffer it fills.
// All native operations run under the session mutex: the device, duplication
// and staging handles are not safe for concurrent use.
//
// The session never recreates its backend after device loss. The owner is
// expected to notice (DeviceLost, or the distinct error log) and build a new
// session.
type Session struct {
	mu  sync.Mutex
	dup Duplicator
	buf *FrameBuffer

	width  int
	height int

	failureStreak int
	deviceLost    bool
	closed        bool
}

// NewSession wraps a duplication backend. The frame buffer is sized to the
// backend's bounds once and never resized. A finalizer backstops Close for
// sessions that are dropped without explicit teardown; explicit Close
// remains the primary release path since the backend handles are scarce.
func NewSession(dup Duplicator) *Session {
	bounds := dup.Bounds()
	s := &Session{
		dup:    dup,
		width:  bounds.Dx(),
		height: bounds.Dy(),
		buf:    NewFrameBuffer(bounds.Dx(), bounds.Dy()),
	}
	runtime.SetFinalizer(s, func(s *Session) { _ = s.Close() })
	return s
}

// Width returns the capture width in pixels.
func (s *Session) Width() int { return s.width }

// Height returns the capture height in pixels.
func (s *Session) Height() int { return s.height }

// Buffer returns the session frame buffer. Its contents are only stable
// between a successful CaptureOnce and the next capture.
func (s *Session) Buffer() *FrameBuffer { return s.buf }

// CaptureOnce pulls the next desktop frame into the session buffer.
//
// It returns (false, nil) when the duplication interface produced no new
// frame within timeout - a normal outcome under a static desktop, not an
// error. On success the buffer holds a fresh packed BGRA frame and the
// failure streak resets.
func (s *Session) CaptureOnce(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}

	frame, err := s.dup.AcquireFrame(timeout)
	if errors.Is(err, ErrTimeout) {
		s.failureStreak++
		return false, nil
	}
	if err != nil {
		s.failureStreak++
		return false, s.classify(err, "acquiring frame")
	}

	// Device-side copy first, then release immediately so the duplication
	// interface is free to hand out the next frame while we read staging.
	copyErr := frame.CopyToStaging()
	frame.Release()
	if copyErr != nil {
		s.failureStreak++
		return false, s.classify(copyErr, "copying to staging surface")
	}

	data, stride, err := s.dup.MapStaging()
	if err != nil {
		s.failureStreak++
		return false, s.classify(err, "mapping staging surface")
	}
	defer s.dup.UnmapStaging()

	rowLen := s.width * 4
	if stride < rowLen {
		s.failureStreak++
		return false, fmt.Errorf("staging stride %d shorter than row length %d", stride, rowLen)
	}
	if len(data) < (s.height-1)*stride+rowLen {
		s.failureStreak++
		return false, fmt.Errorf("staging data %d bytes, need %d", len(data), (s.height-1)*stride+rowLen)
	}

	// Source rows may carry padding beyond width*4; copy row by row rather
	// than assuming the strides match.
	for y := 0; y < s.height; y++ {
		copy(s.buf.data[y*rowLen:(y+1)*rowLen], data[y*stride:y*stride+rowLen])
	}

	s.failureStreak = 0
	return true, nil
}

// FailureStreak returns the number of consecutive captures that produced no
// frame since the last success.
func (s *Session) FailureStreak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failureStreak
}

// DeviceLost reports whether the session has seen a device-invalidated
// error. Once set it never clears; the session must be reconstructed.
func (s *Session) DeviceLost() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceLost
}

// Close releases the duplication backend. It is idempotent and safe to call
// from both explicit teardown and the finalizer backstop.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	runtime.SetFinalizer(s, nil)

	err := s.dup.Close()
	if err != nil {
		logger.WithComponent("capture").Warn().Err(err).Msg("closing duplication backend")
	}
	return err
}

// classify wraps err with context and marks the session dead on
// device-invalidated errors. Device loss is logged distinctly because it
// signals that the whole session needs reconstruction, unlike transient
// failures which the loop simply retries next cycle.
func (s *Session) classify(err error, op string) error {
	if errors.Is(err, ErrDeviceLost) {
		s.deviceLost = true
		logger.WithComponent("capture").Error().
			Err(err).
			Str("op", op).
			Msg("capture device invalidated, session requires reconstruction")
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
