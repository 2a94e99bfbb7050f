package compose

import (
	"image"
	"math"
)

// shadowLayer builds a black silhouette of subject whose alpha is the subject
// alpha scaled by opacity, then Gaussian blurred. The returned image is padded
// on every side by the returned margin so the blur is not cut off.
func shadowLayer(subject *image.NRGBA, opacity, sigma float64) (*image.NRGBA, int) {
	w, h := subject.Bounds().Dx(), subject.Bounds().Dy()
	pad := int(math.Ceil(3 * sigma))
	pw, ph := w+2*pad, h+2*pad

	alpha := make([]float64, pw*ph)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a := subject.Pix[y*subject.Stride+x*4+3]
			alpha[(y+pad)*pw+x+pad] = float64(a) * opacity
		}
	}

	if pad > 0 {
		alpha = gaussianBlur(alpha, pw, ph, sigma, pad)
	}

	layer := image.NewNRGBA(image.Rect(0, 0, pw, ph))
	for i, a := range alpha {
		layer.Pix[i*4+3] = uint8(math.Min(255, math.Round(a)))
	}
	return layer, pad
}

// gaussianBlur is a separable blur of a w x h float plane; samples outside the
// plane count as zero.
func gaussianBlur(src []float64, w, h int, sigma float64, radius int) []float64 {
	kernel := make([]float64, 2*radius+1)
	var sum float64
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}

	tmp := make([]float64, len(src))
	for y := 0; y < h; y++ {
		row := y * w
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				sx := x + k
				if sx < 0 || sx >= w {
					continue
				}
				acc += src[row+sx] * kernel[k+radius]
			}
			tmp[row+x] = acc
		}
	}

	dst := make([]float64, len(src))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for k := -radius; k <= radius; k++ {
				sy := y + k
				if sy < 0 || sy >= h {
					continue
				}
				acc += tmp[sy*w+x] * kernel[k+radius]
			}
			dst[y*w+x] = acc
		}
	}
	return dst
}

// reflectionLayer flips subject vertically, keeps the first height rows and
// fades them linearly from opaque to minOpacity.
func reflectionLayer(subject *image.NRGBA, height int, minOpacity float64) *image.NRGBA {
	w, h := subject.Bounds().Dx(), subject.Bounds().Dy()
	height = min(height, h)

	layer := image.NewNRGBA(image.Rect(0, 0, w, height))
	for i := 0; i < height; i++ {
		fade := 1.0
		if height > 1 {
			fade = 1 - (1-minOpacity)*float64(i)/float64(height-1)
		}

		src := subject.Pix[(h-1-i)*subject.Stride : (h-1-i)*subject.Stride+w*4]
		dst := layer.Pix[i*layer.Stride : i*layer.Stride+w*4]
		copy(dst, src)
		for x := 0; x < w; x++ {
			dst[x*4+3] = uint8(math.Round(float64(dst[x*4+3]) * fade))
		}
	}
	return layer
}
