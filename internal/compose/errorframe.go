package compose

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	errorFrameWidth  = 640
	errorFrameHeight = 480
)

// ErrorFrame renders a black frame carrying a status message. Served
// to viewers while no source frame exists, so a dead source shows a
// readable reason instead of a frozen or blank player.
func ErrorFrame(message string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, errorFrameWidth, errorFrameHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(50, errorFrameHeight/2),
	}
	d.DrawString(message)
	return img
}
