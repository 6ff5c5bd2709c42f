package overlay

import (
	"github.com/geochart/server/internal/selection"
)

// TooltipState is the current tooltip content.
type TooltipState struct {
	Trigger   Trigger    `json:"trigger"`
	Visible   bool       `json:"visible"`
	Anchor    [2]float64 `json:"anchor"`
	Info      *Info      `json:"info,omitempty"`
	TextColor string     `json:"text_color,omitempty"`
}

// Tooltip follows either the highlight or the selection depending on its
// trigger.
type Tooltip struct {
	trigger   Trigger
	inspector Inspector
	state     TooltipState
}

// NewTooltip creates a hidden tooltip.
func NewTooltip(trigger Trigger, inspector Inspector) *Tooltip {
	return &Tooltip{
		trigger:   trigger,
		inspector: inspector,
		state:     TooltipState{Trigger: trigger},
	}
}

// State returns a copy of the tooltip state.
func (t *Tooltip) State() TooltipState {
	st := t.state
	if st.Info != nil {
		info := *st.Info
		st.Info = &info
	}
	return st
}

// Hide clears the tooltip.
func (t *Tooltip) Hide() {
	t.state = TooltipState{Trigger: t.trigger}
}

// HighlightChanged implements selection.Observer.
func (t *Tooltip) HighlightChanged(ev selection.Event) {
	if t.trigger != TriggerHover {
		return
	}
	t.apply(ev)
}

// SelectionChanged implements selection.Observer.
func (t *Tooltip) SelectionChanged(ev selection.Event) {
	if t.trigger != TriggerSelection {
		return
	}
	t.apply(ev)
}

func (t *Tooltip) apply(ev selection.Event) {
	if ev.Cleared() {
		t.Hide()
		return
	}
	info, ok := t.inspector.Inspect(ev.Region)
	if !ok || !info.HasData {
		t.Hide()
		return
	}
	t.state = TooltipState{
		Trigger:   t.trigger,
		Visible:   true,
		Anchor:    [2]float64{ev.Anchor[0], ev.Anchor[1]},
		Info:      &info,
		TextColor: TextColor(info.Fill).Hex(),
	}
}
