package style

import (
	"testing"

	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/pkg/colormap"
)

type resolver struct{}

func (resolver) Lookup(id region.ID) (*region.Region, bool) {
	return &region.Region{ID: id}, true
}

var (
	fillGradient   = colormap.Gradient{Low: colormap.MustParse("#efe6dc"), High: colormap.MustParse("#109618")}
	strokeGradient = colormap.Gradient{Low: colormap.MustParse("#d7cfc6"), High: colormap.MustParse("0e8716")}
)

func snapshot(t *testing.T, ds *databind.Dataset) *Snapshot {
	t.Helper()

	res, err := databind.Bind(ds, resolver{})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	return &Snapshot{
		Mode:    res.Mode,
		Domain:  res.Domain,
		Axis:    colormap.BuildAxis(fillGradient, strokeGradient, res.Domain.Min, res.Domain.Max),
		Props:   res.Store,
		Options: DefaultOptions(),
	}
}

func valuedDataset(rows ...[]any) *databind.Dataset {
	return &databind.Dataset{
		Columns: []databind.Column{{Label: "id"}, {Label: "value"}},
		Rows:    rows,
	}
}

func TestResolveBranches(t *testing.T) {
	s := snapshot(t, valuedDataset([]any{"low", 0.0}, []any{"high", 10.0}, []any{"mid", 5.0}, []any{"null", nil}))
	opts := DefaultOptions()

	t.Run("dataless region", func(t *testing.T) {
		got := Resolve(s, "unbound")
		if got != opts.Dataless {
			t.Fatalf("got %+v, want dataless style", got)
		}
	})

	t.Run("gradient endpoints", func(t *testing.T) {
		low := Resolve(s, "low")
		if low.FillColor != fillGradient.Low || low.StrokeColor != strokeGradient.Low {
			t.Fatalf("low got %+v", low)
		}
		high := Resolve(s, "high")
		if high.FillColor != fillGradient.High || high.StrokeColor != strokeGradient.High {
			t.Fatalf("high got %+v", high)
		}
		if high.ZIndex != BaseZIndex || high.StrokeWeight != opts.Valued.StrokeWeight {
			t.Fatalf("unexpected emphasis on plain region %+v", high)
		}
	})

	t.Run("midpoint", func(t *testing.T) {
		mid := Resolve(s, "mid")
		want := colormap.Interpolate(fillGradient.Low, fillGradient.High, 0.5)
		if mid.FillColor != want {
			t.Fatalf("mid fill %v, want %v", mid.FillColor, want)
		}
	})

	t.Run("bound without value", func(t *testing.T) {
		got := Resolve(s, "null")
		if got != opts.NoValue {
			t.Fatalf("got %+v, want no-value style", got)
		}
	})
}

func TestResolveDegenerateDomain(t *testing.T) {
	s := snapshot(t, valuedDataset([]any{"only", 3.0}))
	got := Resolve(s, "only")
	if got.FillColor != fillGradient.High || got.StrokeColor != strokeGradient.High {
		t.Fatalf("single value should use high endpoints, got %+v", got)
	}

	s = snapshot(t, valuedDataset([]any{"a", 3.0}, []any{"b", 3.0}))
	if Resolve(s, "a") != Resolve(s, "b") {
		t.Fatal("equal values should resolve identically")
	}
}

func TestResolveDatalessModeRegion(t *testing.T) {
	s := snapshot(t, &databind.Dataset{
		Columns: []databind.Column{{Label: "id"}},
		Rows:    [][]any{{"A"}},
	})
	if got := Resolve(s, "A"); got != DefaultOptions().NoValue {
		t.Fatalf("dataless-mode region should use no-value style, got %+v", got)
	}
}

func TestResolveSelectionKeepsHue(t *testing.T) {
	s := snapshot(t, valuedDataset([]any{"a", 0.0}, []any{"b", 10.0}))
	before := Resolve(s, "b")

	store := s.Props.(*databind.Store)
	store.SetSelected("b", true)
	after := Resolve(s, "b")

	if after.FillColor != before.FillColor || after.StrokeColor != before.StrokeColor {
		t.Fatalf("selection changed hue: %+v -> %+v", before, after)
	}
	if after.StrokeWeight != 3 || after.StrokeOpacity != 1 || after.ZIndex != SelectedZIndex {
		t.Fatalf("selection emphasis missing: %+v", after)
	}
}

func TestResolveHighlight(t *testing.T) {
	s := snapshot(t, valuedDataset([]any{"a", 0.0}, []any{"b", 10.0}))
	plain := Resolve(s, "a")

	s.Highlighted = "a"
	hl := Resolve(s, "a")
	if hl.ZIndex != HighlightedZIndex || hl.StrokeWeight != 3 || hl.FillColor != plain.FillColor {
		t.Fatalf("unexpected highlight style %+v", hl)
	}
	if Resolve(s, "b").ZIndex != BaseZIndex {
		t.Fatal("highlight leaked to another region")
	}

	s.Highlighted = ""
	if Resolve(s, "a") != plain {
		t.Fatal("clearing highlight should restore data-driven style")
	}
}
