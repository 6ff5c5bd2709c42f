package engine

import (
	"github.com/geochart/server/internal/overlay"
	"github.com/geochart/server/internal/style"
	"github.com/geochart/server/pkg/colormap"
)

// Options configure how a bound dataset is drawn and inspected.
type Options struct {
	Fill           colormap.Gradient
	Stroke         colormap.Gradient
	Styles         style.Options
	Tooltip        overlay.Trigger
	Legend         bool
	LegendPosition overlay.Position
}

// DefaultOptions returns the stock chart options.
func DefaultOptions() Options {
	return Options{
		Fill: colormap.Gradient{
			Low:  colormap.MustParse("#efe6dc"),
			High: colormap.MustParse("#109618"),
		},
		Stroke: colormap.Gradient{
			Low:  colormap.MustParse("#d7cfc6"),
			High: colormap.MustParse("0e8716"),
		},
		Styles:         style.DefaultOptions(),
		Tooltip:        overlay.TriggerHover,
		Legend:         true,
		LegendPosition: overlay.BottomLeft,
	}
}
