package preview

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelPadding = 5

var (
	labelText       = color.RGBA{255, 255, 255, 255}
	labelBackground = color.RGBA{0, 0, 0, 160}
)

// recLabel formats the label shown on preview frames.
func recLabel(elapsed time.Duration, width, height int) string {
	elapsed = elapsed.Truncate(time.Second)
	h := int(elapsed.Hours())
	m := int(elapsed.Minutes()) % 60
	s := int(elapsed.Seconds()) % 60
	return fmt.Sprintf("REC %02d:%02d:%02d  %dx%d", h, m, s, width, height)
}

// drawLabel draws text on a translucent box in the top-left corner of img.
// Frames too small to hold the box are left alone.
func drawLabel(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelText),
		Face: face,
	}

	textWidth := d.MeasureString(text).Ceil()
	box := image.Rect(0, 0, textWidth+labelPadding*2, face.Height+labelPadding*2).Add(img.Bounds().Min)
	if !box.In(img.Bounds()) {
		return
	}

	draw.Draw(img, box, image.NewUniform(labelBackground), image.Point{}, draw.Over)

	d.Dot = fixed.Point26_6{
		X: fixed.I(box.Min.X + labelPadding),
		Y: fixed.I(box.Min.Y + labelPadding + face.Ascent),
	}
	d.DrawString(text)
}
