// Package wire defines the binary framing used to push compressed video
// packets into the receive side. Each websocket message carries exactly one
// packet: a fixed header followed by the compressed payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic guards against feeding arbitrary websocket traffic into the
	// decoder.
	Magic uint16 = 0xDC01

	headerSize = 2 + 8 + 4 + 4 + 4 // magic + frame id + width + height + payload length
)

var (
	ErrShortPacket = errors.New("packet shorter than header")
	ErrBadMagic    = errors.New("bad packet magic")
)

// Packet is one compressed video frame in transit.
type Packet struct {
	FrameID uint64
	Width   uint32
	Height  uint32
	Data    []byte
}

// Marshal encodes the packet into a single wire message.
func (p *Packet) Marshal() []byte {
	buf := make([]byte, headerSize+len(p.Data))
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint64(buf[2:10], p.FrameID)
	binary.BigEndian.PutUint32(buf[10:14], p.Width)
	binary.BigEndian.PutUint32(buf[14:18], p.Height)
	binary.BigEndian.PutUint32(buf[18:22], uint32(len(p.Data)))
	copy(buf[headerSize:], p.Data)
	return buf
}

// Unmarshal decodes one wire message. The returned packet's Data aliases b;
// callers that retain the packet beyond the message lifetime must copy it.
func Unmarshal(b []byte) (*Packet, error) {
	if len(b) < headerSize {
		return nil, ErrShortPacket
	}
	if binary.BigEndian.Uint16(b[0:2]) != Magic {
		return nil, ErrBadMagic
	}
	payloadLen := binary.BigEndian.Uint32(b[18:22])
	if int(payloadLen) != len(b)-headerSize {
		return nil, fmt.Errorf("payload length %d does not match message size %d", payloadLen, len(b)-headerSize)
	}
	return &Packet{
		FrameID: binary.BigEndian.Uint64(b[2:10]),
		Width:   binary.BigEndian.Uint32(b[10:14]),
		Height:  binary.BigEndian.Uint32(b[14:18]),
		Data:    b[headerSize:],
	}, nil
}
