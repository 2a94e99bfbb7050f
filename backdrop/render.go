package backdrop

import (
	"image"
	"image/color"
	"image/draw"
)

const (
	floorRatio  = 0.3
	floorDarken = 0.15
)

func renderSolid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// renderGradient interpolates each row from g.Top to g.Bottom and optionally
// darkens the floor band at the bottom.
func renderGradient(w, h int, g Gradient) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	floorH := 0
	if g.Floor {
		floorH = int(float64(h) * floorRatio)
	}
	floorTop := h - floorH

	for y := 0; y < h; y++ {
		ratio := float64(y) / float64(h)
		c := color.NRGBA{
			R: lerp(g.Top.R, g.Bottom.R, ratio),
			G: lerp(g.Top.G, g.Bottom.G, ratio),
			B: lerp(g.Top.B, g.Bottom.B, ratio),
			A: 0xff,
		}

		if floorH > 0 && y >= floorTop {
			progress := float64(y-floorTop) / float64(floorH)
			alpha := int(255 * floorDarken * progress)
			c = darken(c, alpha)
		}

		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			row[x*4] = c.R
			row[x*4+1] = c.G
			row[x*4+2] = c.B
			row[x*4+3] = c.A
		}
	}
	return img
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(int(float64(a) + (float64(b)-float64(a))*t))
}

// darken blends black with alpha/255 coverage over c.
func darken(c color.NRGBA, alpha int) color.NRGBA {
	keep := 255 - alpha
	scale := func(v uint8) uint8 {
		return uint8((int(v)*keep + 127) / 255)
	}
	return color.NRGBA{R: scale(c.R), G: scale(c.G), B: scale(c.B), A: c.A}
}
