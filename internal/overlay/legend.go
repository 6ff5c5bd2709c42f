package overlay

import (
	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/selection"
	"github.com/geochart/server/pkg/colormap"
)

// Indicator marks the highlighted region's value on the legend ramp.
type Indicator struct {
	Visible bool           `json:"visible"`
	Offset  float64        `json:"offset"`
	Value   float64        `json:"value"`
	Color   colormap.Color `json:"color"`
}

// LegendState is the current legend content.
type LegendState struct {
	Enabled   bool           `json:"enabled"`
	Position  Position       `json:"position"`
	Label     string         `json:"label,omitempty"`
	Min       float64        `json:"min"`
	Max       float64        `json:"max"`
	Low       colormap.Color `json:"low"`
	High      colormap.Color `json:"high"`
	Indicator Indicator      `json:"indicator"`
}

// Legend shows the value ramp and an indicator for the highlighted region.
type Legend struct {
	enabled   bool
	inspector Inspector
	state     LegendState
}

// NewLegend creates a legend with no bound range.
func NewLegend(enabled bool, position Position, inspector Inspector) *Legend {
	return &Legend{
		enabled:   enabled,
		inspector: inspector,
		state:     LegendState{Enabled: enabled, Position: position},
	}
}

// Reset loads the range of a new bind and hides the indicator. A dataless
// bind disables the legend since there is no ramp to show.
func (l *Legend) Reset(mode databind.Mode, axis colormap.Axis, label string) {
	min, max := axis.Domain()
	l.state = LegendState{
		Enabled:  l.enabled && mode == databind.ModeValued,
		Position: l.state.Position,
		Label:    label,
		Min:      min,
		Max:      max,
		Low:      axis.RelativeColors(0).Fill,
		High:     axis.RelativeColors(1).Fill,
	}
}

// State returns a copy of the legend state.
func (l *Legend) State() LegendState { return l.state }

// HighlightChanged implements selection.Observer.
func (l *Legend) HighlightChanged(ev selection.Event) {
	if ev.Cleared() || !l.state.Enabled {
		l.state.Indicator = Indicator{}
		return
	}
	info, ok := l.inspector.Inspect(ev.Region)
	if !ok || !info.HasValue {
		l.state.Indicator = Indicator{}
		return
	}
	l.state.Indicator = Indicator{
		Visible: true,
		Offset:  info.Relative,
		Value:   info.Value,
		Color:   info.Fill,
	}
}

// SelectionChanged implements selection.Observer. The legend only tracks the
// highlight.
func (l *Legend) SelectionChanged(selection.Event) {}
