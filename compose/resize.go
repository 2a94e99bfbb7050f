package compose

import (
	"image"

	"github.com/nfnt/resize"

	"github.com/chaos-io/carstudio/errs"
)

const maxResizeSide = 4096

// Resize scales img to width x height. With keepAspect the image is fit inside
// the box instead, never enlarged.
func Resize(img image.Image, width, height int, keepAspect bool) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errs.New(errs.KindInvalidImage, "resize", "empty image")
	}
	if width < 1 || height < 1 || width > maxResizeSide || height > maxResizeSide {
		return nil, errs.Newf(errs.KindInvalidImage, "resize", "target size %dx%d out of range", width, height)
	}

	if keepAspect {
		b := img.Bounds()
		if b.Dx() <= width && b.Dy() <= height {
			return img, nil
		}
		return resize.Thumbnail(uint(width), uint(height), img, resize.Lanczos3), nil
	}
	return resize.Resize(uint(width), uint(height), img, resize.Lanczos3), nil
}
