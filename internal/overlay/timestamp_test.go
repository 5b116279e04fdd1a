package overlay

import (
	"image"
	"image/color"
	"testing"
	"time"
)

func TestStampTimestampModifiesPixels(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for i := range img.Pix {
		img.Pix[i] = 0x40
	}

	StampTimestamp(img, time.Date(2026, 8, 27, 12, 30, 45, 123e6, time.UTC))

	changed := 0
	for y := 0; y < fontHeight+padding*2; y++ {
		for x := 0; x < 200; x++ {
			if img.RGBAAt(x, y) != (color.RGBA{0x40, 0x40, 0x40, 0x40}) {
				changed++
			}
		}
	}
	if changed == 0 {
		t.Fatal("stamp left the image untouched")
	}

	// The stamp is confined to its corner box.
	if got := img.RGBAAt(300, 200); got != (color.RGBA{0x40, 0x40, 0x40, 0x40}) {
		t.Fatalf("pixel far from the stamp changed: %v", got)
	}
}

func TestStampTimestampTinyImage(t *testing.T) {
	// An image smaller than the stamp box must not panic; the box is
	// clipped to the image bounds.
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	StampTimestamp(img, time.Now())
}
