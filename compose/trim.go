package compose

import (
	"image"

	"github.com/chaos-io/carstudio/errs"
	"github.com/chaos-io/carstudio/util"
)

// alphaBBox returns the bounding box of pixels whose alpha exceeds threshold.
func alphaBBox(img *image.NRGBA, threshold uint8) (image.Rectangle, bool) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	minX, minY := w, h
	maxX, maxY := -1, -1

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] <= threshold {
				continue
			}
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}

	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

// Trim crops subject to the bounding box of its non-transparent pixels. Images
// without an alpha channel are returned as an unmodified copy.
func Trim(subject image.Image) (*image.NRGBA, error) {
	if subject == nil || subject.Bounds().Empty() {
		return nil, errs.New(errs.KindInvalidImage, "trim", "empty subject")
	}

	src := util.ToNRGBA(subject)
	if !util.HasAlphaChannel(subject) {
		return src, nil
	}

	bbox, ok := alphaBBox(src, 0)
	if !ok {
		return nil, errs.New(errs.KindInvalidImage, "trim", "subject is fully transparent")
	}
	if bbox == src.Bounds() {
		return src, nil
	}
	return util.ToNRGBA(src.SubImage(bbox)), nil
}
