// Package capture implements the frame acquisition pipeline: a session that
// pulls composited desktop frames through a duplication backend into a
// reusable pixel buffer, and a paced loop that drives the session and emits
// finished images.
package capture

import (
	"errors"
	"image"
	"time"
)

var (
	// ErrTimeout reports that the duplication interface produced no new
	// frame within the bounded wait. It is an expected outcome, not a
	// failure.
	ErrTimeout = errors.New("no desktop frame within timeout")

	// ErrDeviceLost reports that the underlying device or duplication
	// handle has been invalidated. The session is no longer usable and
	// must be reconstructed by its owner; it never self-heals.
	ErrDeviceLost = errors.New("capture device lost")

	// ErrClosed reports use of a session after Close.
	ErrClosed = errors.New("capture session closed")
)

// AcquiredFrame is one desktop frame handed out by a Duplicator. It must be
// released promptly after the staging copy so the duplication interface can
// hand out the next frame.
type AcquiredFrame interface {
	// CopyToStaging copies the frame into the backend's staging surface.
	// The copy stays on the device side; no pixels reach the CPU yet.
	CopyToStaging() error

	// Release hands the frame back to the duplication interface.
	Release()
}

// Duplicator is the desktop duplication boundary. Implementations own the
// device, duplication and staging handles; the session never touches them
// directly. A Duplicator is not safe for concurrent use - the owning
// session serializes all calls.
type Duplicator interface {
	// AcquireFrame blocks until the desktop produces a new composited
	// frame or the timeout expires. Expiry is reported as ErrTimeout.
	AcquireFrame(timeout time.Duration) (AcquiredFrame, error)

	// MapStaging maps the staging surface for CPU reads. The returned
	// rows use the backend's stride, which may exceed width*4. The data
	// is only valid until UnmapStaging.
	MapStaging() (data []byte, stride int, err error)

	// UnmapStaging invalidates the mapping returned by MapStaging.
	UnmapStaging()

	// Bounds reports the desktop dimensions the backend captures.
	Bounds() image.Rectangle

	// Close releases all native handles owned by the backend.
	Close() error
}

// FrameBuffer is a fixed-size pixel arena in packed BGRA layout. It is
// allocated once per session, never resized, and rewritten in place by every
// capture - consumers must not read it after the next capture begins.
type FrameBuffer struct {
	width  int
	height int
	data   []byte
}

// NewFrameBuffer allocates a buffer for width x height BGRA pixels.
func NewFrameBuffer(width, height int) *FrameBuffer {
	return &FrameBuffer{
		width:  width,
		height: height,
		data:   make([]byte, width*height*4),
	}
}

// Width returns the buffer width in pixels.
func (b *FrameBuffer) Width() int { return b.width }

// Height returns the buffer height in pixels.
func (b *FrameBuffer) Height() int { return b.height }

// Bytes exposes the raw packed BGRA pixels. The slice always aliases the
// same backing array.
func (b *FrameBuffer) Bytes() []byte { return b.data }

// AssembleRGBA builds a freshly allocated RGBA image from the buffer
// contents. The result is independent of the buffer, so it can safely
// outlive the next capture.
func (b *FrameBuffer) AssembleRGBA() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	for y := 0; y < b.height; y++ {
		srcRow := b.data[y*b.width*4:]
		dstRow := img.Pix[y*img.Stride:]
		for x := 0; x < b.width; x++ {
			// BGRA to RGBA
			dstRow[x*4+0] = srcRow[x*4+2]
			dstRow[x*4+1] = srcRow[x*4+1]
			dstRow[x*4+2] = srcRow[x*4+0]
			dstRow[x*4+3] = 255
		}
	}
	return img
}

// Frame is one captured desktop frame as handed to consumers. The image is
// owned by the consumer; nothing in the pipeline retains or rewrites it.
type Frame struct {
	Image      *image.RGBA
	Seq        uint64
	CapturedAt time.Time
}
