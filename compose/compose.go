// Package compose places a transparent subject on a background canvas. Every
// function here is pure: no I/O, no shared state, identical inputs give
// identical pixels.
package compose

import (
	"image"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/util"
)

// Composite trims subject, scales and positions it on a copy of background,
// adds the optional shadow and reflection and returns an opaque canvas the
// size of background. Neither input is modified.
func Composite(subject, background image.Image, p Params) (*image.RGBA, error) {
	if background == nil || background.Bounds().Empty() {
		return nil, errs.New(errs.KindInvalidImage, "composite", "empty background")
	}

	trimmed, err := Trim(subject)
	if err != nil {
		return nil, err
	}

	p = p.Normalize()
	hasAlpha := util.HasAlphaChannel(subject)
	if !hasAlpha {
		p.Shadow.Enabled = false
		p.Reflection.Enabled = false
	}

	bgW, bgH := background.Bounds().Dx(), background.Bounds().Dy()
	l := Plan(trimmed.Bounds().Dx(), trimmed.Bounds().Dy(), bgW, bgH, p)
	scaled := scale(trimmed, l.Width, l.Height)

	canvas := opaqueCopy(background)

	if p.Shadow.Enabled && p.Shadow.Opacity > 0 {
		layer, pad := shadowLayer(scaled, p.Shadow.Opacity, p.Shadow.Blur)
		at := image.Pt(l.X-pad, l.Y+p.Shadow.Offset-pad)
		draw.Draw(canvas, layer.Bounds().Add(at), layer, image.Point{}, draw.Over)
	}

	if l.ReflectionHeight > 0 {
		layer := reflectionLayer(scaled, l.ReflectionHeight, p.Reflection.Opacity)
		at := image.Pt(l.X, l.Y+l.Height)
		draw.Draw(canvas, layer.Bounds().Add(at), layer, image.Point{}, draw.Over)
	}

	draw.Draw(canvas, scaled.Bounds().Add(image.Pt(l.X, l.Y)), scaled, image.Point{}, draw.Over)
	return canvas, nil
}

// scale resamples img with a Lanczos filter. Same-size requests return img.
func scale(img *image.NRGBA, w, h int) *image.NRGBA {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	return util.ToNRGBA(resize.Resize(uint(w), uint(h), img, resize.Lanczos3))
}

// opaqueCopy copies img into a fresh canvas at the origin, discarding alpha
// the way an RGB conversion does.
func opaqueCopy(img image.Image) *image.RGBA {
	src := util.ToNRGBA(img)
	dst := image.NewRGBA(src.Bounds())
	for i := 0; i < len(src.Pix); i += 4 {
		dst.Pix[i] = src.Pix[i]
		dst.Pix[i+1] = src.Pix[i+1]
		dst.Pix[i+2] = src.Pix[i+2]
		dst.Pix[i+3] = 0xff
	}
	return dst
}
