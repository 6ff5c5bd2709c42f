// Package style resolves the visual style of a region from bound data and
// interaction state.
package style

import (
	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/pkg/colormap"
)

// Stacking order of emphasized regions. Highlight sits above selection.
const (
	BaseZIndex        = 0
	SelectedZIndex    = 999
	HighlightedZIndex = 1000
)

// Style is the presentation of one region.
type Style struct {
	FillColor     colormap.Color `json:"fill_color"`
	FillOpacity   float64        `json:"fill_opacity"`
	StrokeColor   colormap.Color `json:"stroke_color"`
	StrokeOpacity float64        `json:"stroke_opacity"`
	StrokeWeight  float64        `json:"stroke_weight"`
	ZIndex        int            `json:"z_index"`
	Cursor        string         `json:"cursor,omitempty"`
}

// Emphasis is the set of attributes changed on selected or highlighted
// regions. Zero fields leave the base attribute untouched.
type Emphasis struct {
	StrokeWeight  float64 `json:"stroke_weight,omitempty"`
	StrokeOpacity float64 `json:"stroke_opacity,omitempty"`
	FillOpacity   float64 `json:"fill_opacity,omitempty"`
}

// Options are the fixed styles used by the resolver.
type Options struct {
	// Dataless applies to regions with no dataset row.
	Dataless Style
	// NoValue applies to bound regions without a numeric value.
	NoValue Style
	// Valued supplies opacity, weight and cursor for gradient-colored regions.
	Valued      Style
	Highlighted Emphasis
}

// DefaultOptions mirrors the stock chart look.
func DefaultOptions() Options {
	base := Style{
		FillColor:     colormap.MustParse("#f5f5f5"),
		FillOpacity:   1,
		StrokeColor:   colormap.MustParse("#dddddd"),
		StrokeOpacity: 1,
		StrokeWeight:  1,
		Cursor:        "default",
	}
	noValue := base
	noValue.FillColor = colormap.MustParse("#efe6dc")
	noValue.StrokeColor = colormap.MustParse("#d7cfc6")
	noValue.Cursor = "pointer"

	valued := base
	valued.Cursor = "pointer"

	return Options{
		Dataless:    base,
		NoValue:     noValue,
		Valued:      valued,
		Highlighted: Emphasis{StrokeWeight: 3, StrokeOpacity: 1},
	}
}

// Properties is the read side of the region property store.
type Properties interface {
	Get(id region.ID) (databind.Properties, bool)
}

// Snapshot is the immutable input to Resolve.
type Snapshot struct {
	Mode        databind.Mode
	Domain      databind.Domain
	Axis        colormap.Axis
	Props       Properties
	Highlighted region.ID
	Options     Options
}

// Resolve computes the style of id. It has no side effects.
func Resolve(s *Snapshot, id region.ID) Style {
	var p databind.Properties
	var ok bool
	if s.Props != nil {
		p, ok = s.Props.Get(id)
	}

	var st Style
	switch {
	case !ok || !p.HasData:
		st = s.Options.Dataless
	case s.Mode == databind.ModeValued && p.HasValue:
		st = s.Options.Valued
		pair := s.Axis.RelativeColors(Relative(s.Domain, p.Value))
		st.FillColor, st.StrokeColor = pair.Fill, pair.Stroke
	default:
		st = s.Options.NoValue
	}

	if ok && p.Selected {
		st = emphasize(st, s.Options.Highlighted)
		st.ZIndex = SelectedZIndex
	}
	if s.Highlighted != "" && s.Highlighted == id {
		st = emphasize(st, s.Options.Highlighted)
		st.ZIndex = HighlightedZIndex
	}
	return st
}

// Relative returns the gradient position of v, or 1 for a degenerate domain
// so callers agree with the axis single-value rule.
func Relative(d databind.Domain, v float64) float64 {
	if d.IsDegenerate() {
		return 1
	}
	return databind.RelativeValue(d, v)
}

func emphasize(st Style, e Emphasis) Style {
	if e.StrokeWeight > 0 {
		st.StrokeWeight = e.StrokeWeight
	}
	if e.StrokeOpacity > 0 {
		st.StrokeOpacity = e.StrokeOpacity
	}
	if e.FillOpacity > 0 {
		st.FillOpacity = e.FillOpacity
	}
	return st
}
