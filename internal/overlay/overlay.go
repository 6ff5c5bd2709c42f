// Package overlay keeps the tooltip and legend state in sync with the
// selection controller. Drawing the overlays is left to the client.
package overlay

import (
	"errors"
	"fmt"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/pkg/colormap"
)

// ErrInvalidOption is returned for unknown trigger or position names.
var ErrInvalidOption = errors.New("invalid overlay option")

// Info is what an overlay may show about one region.
type Info struct {
	ID       region.ID      `json:"id"`
	Name     string         `json:"name,omitempty"`
	HasData  bool           `json:"has_data"`
	Label    string         `json:"label,omitempty"`
	Value    float64        `json:"value"`
	HasValue bool           `json:"has_value"`
	Relative float64        `json:"relative"`
	Fill     colormap.Color `json:"fill"`
	Stroke   colormap.Color `json:"stroke"`
}

// Inspector returns overlay information for a region.
type Inspector interface {
	Inspect(id region.ID) (Info, bool)
}

// InspectorFunc adapts a function to Inspector.
type InspectorFunc func(id region.ID) (Info, bool)

// Inspect calls f.
func (f InspectorFunc) Inspect(id region.ID) (Info, bool) { return f(id) }

// TextColor picks black or white text for legibility on bg, using CIE L*.
func TextColor(bg colormap.Color) colormap.Color {
	c := colorful.Color{R: float64(bg.R) / 255, G: float64(bg.G) / 255, B: float64(bg.B) / 255}
	l, _, _ := c.Lab()
	if l > 0.6 {
		return colormap.RGB(0, 0, 0)
	}
	return colormap.RGB(255, 255, 255)
}

// Trigger selects which interaction shows the tooltip.
type Trigger string

const (
	TriggerHover     Trigger = "hover"
	TriggerSelection Trigger = "selection"
	TriggerNone      Trigger = "none"
)

// ParseTrigger validates a trigger name. Empty means hover.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case "":
		return TriggerHover, nil
	case TriggerHover, TriggerSelection, TriggerNone:
		return Trigger(s), nil
	default:
		return "", fmt.Errorf("%w: tooltip trigger %q", ErrInvalidOption, s)
	}
}

// Position is a legend corner.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
)

// ParsePosition validates a legend position. Empty means bottom-left.
func ParsePosition(s string) (Position, error) {
	switch Position(s) {
	case "":
		return BottomLeft, nil
	case TopLeft, TopRight, BottomLeft, BottomRight:
		return Position(s), nil
	default:
		return "", fmt.Errorf("%w: legend position %q", ErrInvalidOption, s)
	}
}
