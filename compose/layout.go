package compose

import "math"

const (
	landscapeRatio = 1.3
	portraitRatio  = 0.8

	landscapeWidth = 0.45
	squareWidth    = 0.38
	portraitHeight = 0.30
	maxHeight      = 0.50

	sideMargin = 0.05
)

// TargetSize returns the subject size on a bgW x bgH canvas.
func TargetSize(subjectW, subjectH, bgW, bgH int, scale float64) (int, int) {
	ratio := float64(subjectW) / float64(subjectH)

	if scale <= AutoScaleThreshold {
		switch {
		case ratio > landscapeRatio:
			scale = landscapeWidth
		case ratio < portraitRatio:
			// front or rear view: height driven
			targetH := int(float64(bgH) * portraitHeight)
			targetW := int(float64(subjectW) * (float64(targetH) / float64(subjectH)))
			return atLeastOne(targetW), atLeastOne(targetH)
		default:
			scale = squareWidth
		}
	}

	targetW := int(float64(bgW) * scale)
	factor := float64(targetW) / float64(subjectW)
	targetH := int(float64(subjectH) * factor)

	if float64(targetH) > float64(bgH)*maxHeight {
		targetH = int(float64(bgH) * maxHeight)
		factor = float64(targetH) / float64(subjectH)
		targetW = int(float64(subjectW) * factor)
	}

	return atLeastOne(targetW), atLeastOne(targetH)
}

// Place returns the top-left corner of a w x h subject. The bottom edge sits on
// the canvas bottom shifted by offset*bgH; the result is not clamped.
func Place(w, h, bgW, bgH int, pos Position, offset float64) (int, int) {
	offsetPixels := int(float64(bgH) * offset)
	y := bgH - h + offsetPixels

	var x int
	switch pos {
	case PositionLeft:
		x = int(float64(bgW) * sideMargin)
	case PositionRight:
		x = bgW - w - int(float64(bgW)*sideMargin)
	default:
		x = floorDiv(bgW-w, 2)
	}
	return x, y
}

// Layout is the resolved geometry of one composite.
type Layout struct {
	Width, Height int
	X, Y          int
	// ReflectionHeight is zero when no reflection will be drawn.
	ReflectionHeight int
}

// Plan resolves the geometry for a trimmed subject of size subjectW x subjectH.
func Plan(subjectW, subjectH, bgW, bgH int, p Params) Layout {
	w, h := TargetSize(subjectW, subjectH, bgW, bgH, p.Scale)
	x, y := Place(w, h, bgW, bgH, p.Position, p.VerticalOffset)

	l := Layout{Width: w, Height: h, X: x, Y: y}
	if p.Reflection.Enabled {
		rh := int(float64(h) * p.Reflection.HeightRatio)
		if rh > 0 && y+h+rh <= bgH {
			l.ReflectionHeight = rh
		}
	}
	return l
}

func atLeastOne(v int) int {
	return max(v, 1)
}

func floorDiv(a, b int) int {
	return int(math.Floor(float64(a) / float64(b)))
}
