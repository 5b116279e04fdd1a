package decode

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"
)

// errDrained signals that the codec has no more output for the current
// submission. It is an expected control-flow outcome, never logged as a
// failure.
var errDrained = errors.New("decoder drained")

// videoCodec is the packet-in/picture-out contract the session decodes
// through. One submission may yield zero, one or several pictures.
type videoCodec interface {
	// submit feeds one compressed packet tagged with pts.
	submit(data []byte, pts int64) error

	// next returns the next decoded picture for the previous submission,
	// or errDrained when the codec has nothing further to emit. The
	// returned frame is codec-owned scratch, valid until the next call.
	next() (*astiav.Frame, error)

	close()
}

// h264Codec wraps an FFmpeg H.264 decoder context. Packet and frame scratch
// structures are allocated once and reused across calls; the owning session
// serializes access.
type h264Codec struct {
	ctx   *astiav.CodecContext
	pkt   *astiav.Packet
	frame *astiav.Frame
}

func newH264Codec() (*h264Codec, error) {
	codec := astiav.FindDecoder(astiav.CodecIDH264)
	if codec == nil {
		return nil, errors.New("h264 decoder not available")
	}
	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, errors.New("allocating codec context")
	}
	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("opening codec: %w", err)
	}
	return &h264Codec{
		ctx:   ctx,
		pkt:   astiav.AllocPacket(),
		frame: astiav.AllocFrame(),
	}, nil
}

func (c *h264Codec) submit(data []byte, pts int64) error {
	c.pkt.Unref()
	if err := c.pkt.FromData(data); err != nil {
		return fmt.Errorf("wrapping packet data: %w", err)
	}
	c.pkt.SetPts(pts)
	if err := c.ctx.SendPacket(c.pkt); err != nil {
		return fmt.Errorf("sending packet: %w", err)
	}
	return nil
}

func (c *h264Codec) next() (*astiav.Frame, error) {
	c.frame.Unref()
	if err := c.ctx.ReceiveFrame(c.frame); err != nil {
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil, errDrained
		}
		return nil, fmt.Errorf("receiving frame: %w", err)
	}
	return c.frame, nil
}

func (c *h264Codec) close() {
	c.frame.Free()
	c.pkt.Free()
	c.ctx.Free()
}
