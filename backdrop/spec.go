package backdrop

import (
	"fmt"
	"image/color"
	"strconv"
	"strings"
)

type Category string

const (
	CategoryStudio   Category = "studio"
	CategoryShowroom Category = "showroom"
	CategoryGarage   Category = "garage"
	CategoryOutdoor  Category = "outdoor"
	CategoryCustom   Category = "custom"
)

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryStudio, CategoryShowroom, CategoryGarage, CategoryOutdoor, CategoryCustom:
		return c, nil
	default:
		return "", fmt.Errorf("unknown background category %q", s)
	}
}

// Gradient is a two-stop vertical gradient. Floor darkens the bottom of the
// canvas to suggest a floor plane.
type Gradient struct {
	Top    color.NRGBA
	Bottom color.NRGBA
	Floor  bool
}

// ImageSource points at a static background: a file name in the backgrounds
// directory, an artifact key or an http(s) URL. The first non-empty wins.
type ImageSource struct {
	File string
	Key  string
	URL  string
}

// Recipe describes how a background is rendered. Exactly one field is set.
type Recipe struct {
	Solid    *color.NRGBA
	Gradient *Gradient
	Image    *ImageSource
}

func (r Recipe) Kind() string {
	switch {
	case r.Solid != nil:
		return "solid"
	case r.Gradient != nil:
		return "gradient"
	case r.Image != nil:
		return "image"
	default:
		return ""
	}
}

// Defaults are the compositing settings a background suggests.
type Defaults struct {
	Shadow        bool
	ShadowOpacity float64
}

type Spec struct {
	ID          string
	Name        string
	Description string
	PreviewURL  string
	Category    Category
	Recipe      Recipe
	Defaults    Defaults
}

func (s Spec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("background id is empty")
	}
	if _, err := ParseCategory(string(s.Category)); err != nil {
		return fmt.Errorf("background %s: %w", s.ID, err)
	}

	set := 0
	if s.Recipe.Solid != nil {
		set++
	}
	if s.Recipe.Gradient != nil {
		set++
	}
	if s.Recipe.Image != nil {
		set++
		if *s.Recipe.Image == (ImageSource{}) {
			return fmt.Errorf("background %s: image recipe has no source", s.ID)
		}
	}
	if set != 1 {
		return fmt.Errorf("background %s: exactly one recipe must be set, got %d", s.ID, set)
	}
	return nil
}

// ParseHex parses #RGB or #RRGGBB.
func ParseHex(s string) (color.NRGBA, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}, nil
}

func rgb(r, g, b uint8) color.NRGBA {
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}
