// Package overlay stamps diagnostic text onto captured frames. The stamp is
// cosmetic: capture correctness never depends on it.
package overlay

import (
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	padding    = 4
	fontHeight = 13 // basicfont.Face7x13
)

var (
	textColor = color.RGBA{255, 255, 255, 255}
	bgColor   = color.RGBA{0, 0, 0, 180}
)

// StampTimestamp draws a wall-clock timestamp in the top-left corner of img.
// The image is modified in place, so it must be the per-frame clone, never a
// buffer that is reused across captures.
func StampTimestamp(img *image.RGBA, at time.Time) {
	text := at.Format("2006-01-02 15:04:05.000")
	face := basicfont.Face7x13

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
	}
	textWidth := d.MeasureString(text).Ceil()

	boxWidth := textWidth + padding*2
	boxHeight := fontHeight + padding*2
	box := image.Rect(0, 0, boxWidth, boxHeight).Intersect(img.Bounds())
	draw.Draw(img, box, &image.Uniform{bgColor}, image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(padding),
		Y: fixed.I(padding + fontHeight - 2),
	}
	d.DrawString(text)
}
