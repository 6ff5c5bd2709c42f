// Package colormap provides color parsing and gradient arithmetic for
// choropleth rendering.
package colormap

import (
	"image/color"
	"math"
)

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
}

// Gradient is a linear two-stop color ramp.
type Gradient struct {
	Low  Color
	High Color
}

// At returns the color at position t (0-1).
func (g Gradient) At(t float64) color.Color {
	return Interpolate(g.Low, g.High, t)
}

// Interpolate blends low and high per channel. t is clamped to [0, 1] and
// NaN is treated as 0. Channels round half away from zero.
func Interpolate(low, high Color, t float64) Color {
	t = clamp01(t)
	return Color{
		R: lerp(low.R, high.R, t),
		G: lerp(low.G, high.G, t),
		B: lerp(low.B, high.B, t),
		A: lerp(low.A, high.A, t),
	}
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}

func clamp01(t float64) float64 {
	if math.IsNaN(t) || t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t
}

// Pair is the fill and stroke color of a single region.
type Pair struct {
	Fill   Color `json:"fill"`
	Stroke Color `json:"stroke"`
}

// Axis is a precomputed fill and stroke gradient for one value domain.
// It is immutable and safe for concurrent reads.
type Axis struct {
	fill       Gradient
	stroke     Gradient
	min, max   float64
	degenerate bool
}

// BuildAxis precomputes the color axis for the domain [min, max]. When
// min == max the axis is degenerate and always yields the high endpoints.
func BuildAxis(fill, stroke Gradient, min, max float64) Axis {
	return Axis{
		fill:       fill,
		stroke:     stroke,
		min:        min,
		max:        max,
		degenerate: min == max,
	}
}

// Degenerate reports whether the axis domain collapses to a single value.
func (a Axis) Degenerate() bool { return a.degenerate }

// Domain returns the value range the axis was built for.
func (a Axis) Domain() (min, max float64) { return a.min, a.max }

// Fill returns the fill gradient.
func (a Axis) Fill() Gradient { return a.fill }

// Stroke returns the stroke gradient.
func (a Axis) Stroke() Gradient { return a.stroke }

// RelativeColors returns the fill and stroke at position t.
func (a Axis) RelativeColors(t float64) Pair {
	if a.degenerate {
		return Pair{Fill: a.fill.High, Stroke: a.stroke.High}
	}
	return Pair{
		Fill:   Interpolate(a.fill.Low, a.fill.High, t),
		Stroke: Interpolate(a.stroke.Low, a.stroke.High, t),
	}
}

// At returns the fill color at position t, honoring degeneracy so the
// legend ramp and region fills agree.
func (a Axis) At(t float64) color.Color {
	return a.RelativeColors(t).Fill
}
