package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name               string
		subjectW, subjectH int
		bgW, bgH           int
		scale              float64
		wantW, wantH       int
	}{
		{name: "landscape capped by height", subjectW: 1200, subjectH: 800, bgW: 1920, bgH: 1080, wantW: 810, wantH: 540},
		{name: "portrait is height driven", subjectW: 600, subjectH: 1000, bgW: 1920, bgH: 1080, wantW: 194, wantH: 324},
		{name: "ratio 1.3 uses square width", subjectW: 1300, subjectH: 1000, bgW: 2000, bgH: 2000, wantW: 760, wantH: 584},
		{name: "manual scale", subjectW: 100, subjectH: 100, bgW: 1000, bgH: 1000, scale: 0.5, wantW: 500, wantH: 500},
		{name: "manual scale capped", subjectW: 100, subjectH: 100, bgW: 1000, bgH: 500, scale: 1, wantW: 250, wantH: 250},
		{name: "threshold still auto", subjectW: 1200, subjectH: 800, bgW: 1920, bgH: 1080, scale: 0.1, wantW: 810, wantH: 540},
		{name: "never zero", subjectW: 10000, subjectH: 1, bgW: 100, bgH: 100, scale: 0.2, wantW: 20, wantH: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w, h := TargetSize(tt.subjectW, tt.subjectH, tt.bgW, tt.bgH, tt.scale)
			assert.Equal(t, tt.wantW, w)
			assert.Equal(t, tt.wantH, h)
		})
	}
}

func TestTargetSize_PortraitBoundary(t *testing.T) {
	t.Parallel()

	// 0.8 exactly is not portrait, so the width rule applies
	w, _ := TargetSize(800, 1000, 2000, 2000, 0)
	assert.Equal(t, 760, w)
}

func TestPlace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pos    Position
		offset float64
		wantX  int
		wantY  int
	}{
		{pos: PositionCenter, wantX: 555, wantY: 540},
		{pos: PositionLeft, wantX: 96, wantY: 540},
		{pos: PositionRight, wantX: 1014, wantY: 540},
		{pos: PositionCenter, offset: -0.1, wantX: 555, wantY: 432},
		{pos: PositionCenter, offset: 0.1, wantX: 555, wantY: 648},
	}

	for _, tt := range tests {
		x, y := Place(810, 540, 1920, 1080, tt.pos, tt.offset)
		assert.Equal(t, tt.wantX, x, "%s %v", tt.pos, tt.offset)
		assert.Equal(t, tt.wantY, y, "%s %v", tt.pos, tt.offset)
	}
}

func TestPlan_Reflection(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.Reflection.Enabled = true

	// resting on the bottom edge leaves no room below the subject
	l := Plan(1200, 800, 1920, 1080, p)
	assert.Zero(t, l.ReflectionHeight)

	p.VerticalOffset = -0.2
	l = Plan(1200, 800, 1920, 1080, p)
	assert.Equal(t, 324, l.Y)
	assert.Equal(t, 162, l.ReflectionHeight)
}

func TestParamsNormalize(t *testing.T) {
	t.Parallel()

	p := Params{
		Scale:          5,
		Position:       "diagonal",
		VerticalOffset: -3,
		Shadow:         Shadow{Opacity: 2, Blur: -1, Offset: 1 << 20},
		Reflection:     Reflection{Opacity: -1, HeightRatio: 9},
	}.Normalize()

	assert.Equal(t, 2.0, p.Scale)
	assert.Equal(t, PositionCenter, p.Position)
	assert.Equal(t, -1.0, p.VerticalOffset)
	assert.Equal(t, 1.0, p.Shadow.Opacity)
	assert.Equal(t, 0.0, p.Shadow.Blur)
	assert.Equal(t, 2000, p.Shadow.Offset)
	assert.Equal(t, 0.0, p.Reflection.Opacity)
	assert.Equal(t, 1.0, p.Reflection.HeightRatio)
}
