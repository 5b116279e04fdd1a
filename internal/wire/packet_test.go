package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	in := &Packet{
		FrameID: 42,
		Width:   1920,
		Height:  1080,
		Data:    []byte{0x00, 0x00, 0x00, 0x01, 0x67, 0x42},
	}
	out, err := Unmarshal(in.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.FrameID != in.FrameID || out.Width != in.Width || out.Height != in.Height {
		t.Fatalf("header mismatch: got %d/%dx%d, want %d/%dx%d",
			out.FrameID, out.Width, out.Height, in.FrameID, in.Width, in.Height)
	}
	if !bytes.Equal(out.Data, in.Data) {
		t.Fatalf("payload mismatch: got %x, want %x", out.Data, in.Data)
	}
}

func TestPacketEmptyPayload(t *testing.T) {
	out, err := Unmarshal((&Packet{FrameID: 1, Width: 640, Height: 480}).Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(out.Data) != 0 {
		t.Fatalf("payload length = %d, want 0", len(out.Data))
	}
}

func TestUnmarshalShortPacket(t *testing.T) {
	if _, err := Unmarshal(make([]byte, headerSize-1)); !errors.Is(err, ErrShortPacket) {
		t.Fatalf("err = %v, want ErrShortPacket", err)
	}
}

func TestUnmarshalBadMagic(t *testing.T) {
	msg := (&Packet{FrameID: 3, Width: 100, Height: 100, Data: []byte{1}}).Marshal()
	binary.BigEndian.PutUint16(msg[0:2], 0xBEEF)
	if _, err := Unmarshal(msg); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestUnmarshalLengthMismatch(t *testing.T) {
	msg := (&Packet{FrameID: 3, Width: 100, Height: 100, Data: []byte{1, 2, 3}}).Marshal()
	// Claim more payload than the message carries.
	binary.BigEndian.PutUint32(msg[18:22], 4)
	if _, err := Unmarshal(msg); err == nil {
		t.Fatal("expected error for payload length mismatch")
	}
}
