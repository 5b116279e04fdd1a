package decode

import (
	"errors"
	"image"
	"testing"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/deskcast/deskcast/internal/bus"
)

// fakeCodec scripts packet submissions. pictures is the number of pictures
// the next submission will yield.
type fakeCodec struct {
	pictures  int
	remaining int
	submitErr error
	nextErr   error

	submits         []int64
	scalersAtSubmit []int // scaler construction count observed at each submit
	closes          int

	// set by the test harness so submit can record construction order
	builtScalers *int
}

func (c *fakeCodec) submit(data []byte, pts int64) error {
	c.submits = append(c.submits, pts)
	if c.builtScalers != nil {
		c.scalersAtSubmit = append(c.scalersAtSubmit, *c.builtScalers)
	}
	if c.submitErr != nil {
		return c.submitErr
	}
	c.remaining = c.pictures
	return nil
}

func (c *fakeCodec) next() (*astiav.Frame, error) {
	if c.nextErr != nil {
		return nil, c.nextErr
	}
	if c.remaining == 0 {
		return nil, errDrained
	}
	c.remaining--
	// The fake never inspects the picture, so nil stands in for the
	// codec-owned scratch frame.
	return nil, nil
}

func (c *fakeCodec) close() { c.closes++ }

type fakeScaler struct {
	width, height int
	scales        int
	closes        int
}

func (s *fakeScaler) scale(src *astiav.Frame, dst *image.RGBA) error {
	s.scales++
	return nil
}

func (s *fakeScaler) close() { s.closes++ }

// harness builds a session over fakes and tracks every scaler it creates.
type harness struct {
	codec   *fakeCodec
	session *Session
	scalers []*fakeScaler
	built   int
}

func newHarness(t *testing.T, codec *fakeCodec, opts Options) *harness {
	t.Helper()
	h := &harness{codec: codec}
	codec.builtScalers = &h.built
	factory := func(width, height int, srcFormat astiav.PixelFormat) (frameScaler, error) {
		h.built++
		sc := &fakeScaler{width: width, height: height}
		h.scalers = append(h.scalers, sc)
		return sc, nil
	}
	h.session = newSession(codec, factory, opts)
	t.Cleanup(func() { h.session.Close() })
	return h
}

func TestDecodeRebuildsConversionContextOnDimensionChange(t *testing.T) {
	codec := &fakeCodec{pictures: 1}
	h := newHarness(t, codec, Options{})

	if _, err := h.session.Decode([]byte{1}, 1920, 1080, 1); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if _, err := h.session.Decode([]byte{2}, 1280, 720, 2); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if h.built != 2 {
		t.Fatalf("built %d conversion contexts, want one per distinct size", h.built)
	}
	if h.scalers[0].width != 1920 || h.scalers[0].height != 1080 {
		t.Fatalf("first context sized %dx%d, want 1920x1080", h.scalers[0].width, h.scalers[0].height)
	}
	if h.scalers[1].width != 1280 || h.scalers[1].height != 720 {
		t.Fatalf("second context sized %dx%d, want 1280x720", h.scalers[1].width, h.scalers[1].height)
	}
	if h.scalers[0].closes != 1 {
		t.Fatal("stale conversion context was not released")
	}
	if h.scalers[0].scales != 1 || h.scalers[1].scales != 1 {
		t.Fatal("each picture must be converted by the context built for its size")
	}
}

func TestDecodeReusesContextForSameDimensions(t *testing.T) {
	codec := &fakeCodec{pictures: 1}
	h := newHarness(t, codec, Options{})

	for i := int64(0); i < 5; i++ {
		if _, err := h.session.Decode([]byte{byte(i)}, 1920, 1080, i); err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
	}
	if h.built != 1 {
		t.Fatalf("built %d conversion contexts for a fixed size, want 1", h.built)
	}
}

func TestDecodeRebuildsBeforeSubmitting(t *testing.T) {
	codec := &fakeCodec{pictures: 0}
	h := newHarness(t, codec, Options{})

	if _, err := h.session.Decode([]byte{1}, 640, 480, 1); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(codec.scalersAtSubmit) != 1 || codec.scalersAtSubmit[0] != 1 {
		t.Fatalf("submit saw %v contexts built, want the rebuild to precede submission", codec.scalersAtSubmit)
	}
}

func TestDecodeZeroPicturesIsNotAnError(t *testing.T) {
	// A reference-only frame: the submission is accepted but yields no
	// picture.
	codec := &fakeCodec{pictures: 0}
	h := newHarness(t, codec, Options{})

	img, err := h.session.Decode([]byte{1}, 640, 480, 7)
	if err != nil {
		t.Fatalf("zero pictures must not be an error, got %v", err)
	}
	if img != nil {
		t.Fatal("expected nil image when the codec yields nothing")
	}
	if len(codec.submits) != 1 || codec.submits[0] != 7 {
		t.Fatalf("submits = %v, want the packet submitted once with pts 7", codec.submits)
	}
}

func TestDecodeDrainsEveryPicturePerSubmission(t *testing.T) {
	frames := bus.New[Frame]()
	defer frames.Close()
	frameCh := make(chan Frame, 4)
	if err := frames.Subscribe("test", frameCh); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	codec := &fakeCodec{pictures: 3}
	h := newHarness(t, codec, Options{Frames: frames})

	img, err := h.session.Decode([]byte{1}, 320, 240, 9)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if img == nil {
		t.Fatal("expected the last drained picture")
	}

	for i := 0; i < 3; i++ {
		select {
		case f := <-frameCh:
			if f.FrameID != 9 {
				t.Fatalf("frame id = %d, want 9", f.FrameID)
			}
		case <-time.After(time.Second):
			t.Fatalf("only %d of 3 pictures were published", i)
		}
	}
	if h.session.Frames() != 3 {
		t.Fatalf("Frames() = %d, want 3", h.session.Frames())
	}
}

func TestDecodeGenuineErrorAbandonsPacket(t *testing.T) {
	codec := &fakeCodec{nextErr: errors.New("corrupt NAL unit")}
	h := newHarness(t, codec, Options{})

	if _, err := h.session.Decode([]byte{1}, 640, 480, 1); err == nil {
		t.Fatal("expected a decode error to surface")
	}
	// The next packet proceeds normally; nothing is retried.
	codec.nextErr = nil
	codec.pictures = 1
	if _, err := h.session.Decode([]byte{2}, 640, 480, 2); err != nil {
		t.Fatalf("Decode after an error failed: %v", err)
	}
}

func TestDecodeCloseIsIdempotent(t *testing.T) {
	codec := &fakeCodec{pictures: 1}
	h := newHarness(t, codec, Options{})

	if _, err := h.session.Decode([]byte{1}, 640, 480, 1); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if err := h.session.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := h.session.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if codec.closes != 1 {
		t.Fatalf("codec closed %d times, want exactly once", codec.closes)
	}
	if h.scalers[0].closes != 1 {
		t.Fatalf("conversion context closed %d times, want exactly once", h.scalers[0].closes)
	}
	if _, err := h.session.Decode([]byte{1}, 640, 480, 2); !errors.Is(err, ErrClosed) {
		t.Fatalf("Decode after Close = %v, want ErrClosed", err)
	}
}

func TestDecodeRejectsInvalidDimensions(t *testing.T) {
	codec := &fakeCodec{}
	h := newHarness(t, codec, Options{})

	if _, err := h.session.Decode([]byte{1}, 0, 480, 1); err == nil {
		t.Fatal("expected an error for zero width")
	}
	if len(codec.submits) != 0 {
		t.Fatal("invalid dimensions must not reach the codec")
	}
}
