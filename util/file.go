package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"sync/atomic"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/chaos-io/carstudio/errs"
	nhttp "github.com/chaos-io/carstudio/util/http"
)

const (
	// DefaultMaxUpload is the ceiling applied to submitted photographs.
	DefaultMaxUpload = 10 << 20
	// DefaultMaxBackground is the ceiling applied to uploaded backgrounds.
	DefaultMaxBackground = 20 << 20
	// DefaultMaxPixels caps the decoded raster of any image.
	DefaultMaxPixels = 50_000_000

	JPEGQuality = 92
)

var maxPixels atomic.Int64

func init() {
	maxPixels.Store(DefaultMaxPixels)
}

// SetMaxPixels changes the decoded size ceiling; n <= 0 restores the default.
func SetMaxPixels(n int64) {
	if n <= 0 {
		n = DefaultMaxPixels
	}
	maxPixels.Store(n)
}

func MaxPixels() int64 {
	return maxPixels.Load()
}

// DownloadImage fetches the raw bytes behind url, refusing payloads larger than limit.
func DownloadImage(ctx context.Context, cli nhttp.IClient, url string, limit int64) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, errs.Newf(errs.KindInvalidImage, "download", "unsupported image url %q", url)
	}

	var data []byte
	err := cli.DoHTTPRequest(ctx, &nhttp.RequestParam{
		RequestURI:       url,
		Method:           "GET",
		Response:         &data,
		MaxResponseBytes: limit,
	})
	if err != nil {
		if errors.Is(err, nhttp.ErrResponseTooLarge) {
			return nil, errs.Newf(errs.KindInvalidImage, "download", "image exceeds %d bytes", limit)
		}
		if ctxErr := errs.FromContext(ctx, "download"); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, errs.Wrap(errs.KindUpstream, "download", "fetch image", err)
	}
	return data, nil
}

// DecodeImage decodes a JPEG, PNG or WebP blob. Empty, oversized, undecodable
// and zero-sized inputs are invalid images. The header is checked against
// MaxPixels before any pixel is decoded.
func DecodeImage(data []byte, limit int64) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errs.New(errs.KindInvalidImage, "decode", "empty image payload")
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, "", errs.Newf(errs.KindInvalidImage, "decode", "image exceeds %d bytes", limit)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInvalidImage, "decode", "unsupported or malformed image", err)
	}
	if limit := MaxPixels(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return nil, "", errs.Newf(errs.KindInvalidImage, "decode", "image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, limit)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInvalidImage, "decode", "unsupported or malformed image", err)
	}
	if img.Bounds().Empty() {
		return nil, "", errs.New(errs.KindInvalidImage, "decode", "zero-sized image")
	}
	return img, format, nil
}

func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}

func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = JPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// ToNRGBA returns img as *image.NRGBA with its origin at (0, 0). The result
// never aliases img.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// HasAlphaChannel reports whether the pixel model of img can carry transparency.
func HasAlphaChannel(img image.Image) bool {
	switch m := img.(type) {
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		return false
	case *image.Paletted:
		for _, c := range m.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// HasTransparency reports whether any pixel of img is not fully opaque.
func HasTransparency(img image.Image) bool {
	if !HasAlphaChannel(img) {
		return false
	}
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// Info is the metadata reported for an encoded image.
type Info struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	Mode      string `json:"mode"`
	HasAlpha  bool   `json:"has_alpha"`
	SizeBytes int    `json:"size_bytes"`
}

func Inspect(data []byte) (Info, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, errs.Wrap(errs.KindInvalidImage, "inspect", "unsupported or malformed image", err)
	}

	mode, alpha := colorMode(cfg.ColorModel)
	return Info{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		Mode:      mode,
		HasAlpha:  alpha,
		SizeBytes: len(data),
	}, nil
}

func colorMode(m color.Model) (string, bool) {
	if p, ok := m.(color.Palette); ok {
		for _, c := range p {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return "P", true
			}
		}
		return "P", false
	}

	switch m {
	case color.RGBAModel, color.RGBA64Model:
		return "RGBA", true
	case color.NRGBAModel, color.NRGBA64Model:
		return "NRGBA", true
	case color.GrayModel, color.Gray16Model:
		return "L", false
	case color.YCbCrModel:
		return "YCbCr", false
	case color.NYCbCrAModel:
		return "YCbCrA", true
	case color.CMYKModel:
		return "CMYK", false
	default:
		return "unknown", false
	}
}
