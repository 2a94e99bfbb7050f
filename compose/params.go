package compose

import "math"

type Position string

const (
	PositionLeft   Position = "left"
	PositionCenter Position = "center"
	PositionRight  Position = "right"
)

func ParsePosition(s string) Position {
	switch Position(s) {
	case PositionLeft, PositionRight:
		return Position(s)
	default:
		return PositionCenter
	}
}

// Params controls how a subject is laid out on a canvas. Out of range values
// are clamped by Normalize, never rejected.
type Params struct {
	// Scale at or below AutoScaleThreshold selects the auto-scale heuristic,
	// otherwise it is the subject width as a fraction of the canvas width.
	Scale    float64
	Position Position
	// VerticalOffset is a signed fraction of the canvas height added to the
	// bottom-anchored y coordinate.
	VerticalOffset float64

	Shadow     Shadow
	Reflection Reflection
}

type Shadow struct {
	Enabled bool
	Opacity float64
	// Blur is the Gaussian standard deviation in pixels.
	Blur float64
	// Offset moves the shadow down by this many pixels.
	Offset int
}

type Reflection struct {
	Enabled bool
	// Opacity is reached at the far edge; the edge touching the subject is opaque.
	Opacity     float64
	HeightRatio float64
}

const (
	AutoScaleThreshold = 0.1
	maxScale           = 2.0
	maxVerticalOffset  = 1.0
	maxBlur            = 100.0
	maxShadowOffset    = 2000
)

func DefaultParams() Params {
	return Params{
		Position: PositionCenter,
		Shadow: Shadow{
			Opacity: 0.5,
			Blur:    12,
			Offset:  8,
		},
		Reflection: Reflection{
			HeightRatio: 0.3,
		},
	}
}

// Normalize returns p with every field inside its documented bounds.
func (p Params) Normalize() Params {
	def := DefaultParams()

	p.Scale = clamp(finiteOr(p.Scale, 0), 0, maxScale)
	p.Position = ParsePosition(string(p.Position))
	p.VerticalOffset = clamp(finiteOr(p.VerticalOffset, 0), -maxVerticalOffset, maxVerticalOffset)

	p.Shadow.Opacity = clamp(finiteOr(p.Shadow.Opacity, def.Shadow.Opacity), 0, 1)
	p.Shadow.Blur = clamp(finiteOr(p.Shadow.Blur, def.Shadow.Blur), 0, maxBlur)
	p.Shadow.Offset = max(-maxShadowOffset, min(p.Shadow.Offset, maxShadowOffset))

	p.Reflection.Opacity = clamp(finiteOr(p.Reflection.Opacity, def.Reflection.Opacity), 0, 1)
	p.Reflection.HeightRatio = clamp(finiteOr(p.Reflection.HeightRatio, def.Reflection.HeightRatio), 0, 1)
	return p
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}
