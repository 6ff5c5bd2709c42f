package engine

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/paulmach/orb"

	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/overlay"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/internal/selection"
	"github.com/geochart/server/internal/style"
)

const testGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type":"Feature","id":"A","properties":{"name":"Alpha"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
    {"type":"Feature","id":"B","properties":{"name":"Bravo"},"geometry":{"type":"Polygon","coordinates":[[[2,0],[4,0],[4,2],[2,2],[2,0]]]}},
    {"type":"Feature","id":"C","properties":{"name":"Charlie"},"geometry":{"type":"Polygon","coordinates":[[[4,0],[6,0],[6,2],[4,2],[4,0]]]}},
    {"type":"Feature","id":"N","properties":{"name":"Nodata"},"geometry":{"type":"Polygon","coordinates":[[[6,0],[8,0],[8,2],[6,2],[6,0]]]}}
  ]
}`

func newTestChart(t *testing.T, opts Options) (*Chart, *bytes.Buffer) {
	t.Helper()

	regions, err := region.Parse([]byte(testGeoJSON), "")
	if err != nil {
		t.Fatalf("region.Parse: %v", err)
	}
	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	return New(Config{Regions: regions, Options: opts, Logger: logger}), &buf
}

func popularity() *databind.Dataset {
	return &databind.Dataset{
		Columns: []databind.Column{{Label: "Region"}, {Label: "Popularity"}},
		Rows: [][]any{
			{"A", 100.0},
			{"B", 300.0},
			{"C", 200.0},
		},
	}
}

func TestBindEmitsReadyOnce(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())

	var events []ReadyEvent
	c.OnReady(func(ev ReadyEvent) { events = append(events, ev) })

	ev, err := c.Bind(popularity(), nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(events) != 1 || events[0] != ev {
		t.Fatalf("expected one ready event, got %+v", events)
	}
	if ev.Mode != databind.ModeValued || ev.Bound != 3 || ev.Domain.Min != 100 || ev.Domain.Max != 300 || ev.BindID == "" {
		t.Fatalf("unexpected ready event %+v", ev)
	}

	ev2, err := c.Bind(popularity(), nil)
	if err != nil {
		t.Fatalf("second Bind: %v", err)
	}
	if len(events) != 2 || ev2.BindID == ev.BindID {
		t.Fatalf("rebind should emit a fresh ready event, got %+v", events)
	}
}

func TestBindIncompatibleLeavesNoState(t *testing.T) {
	c, logs := newTestChart(t, DefaultOptions())

	ready := 0
	c.OnReady(func(ReadyEvent) { ready++ })

	mixed := &databind.Dataset{
		Columns: []databind.Column{{Label: "Region"}, {Label: "Popularity"}},
		Rows:    [][]any{{"A", 1.0}, {"B"}},
	}
	if _, err := c.Bind(mixed, nil); !errors.Is(err, databind.ErrIncompatibleDataset) {
		t.Fatalf("expected ErrIncompatibleDataset, got %v", err)
	}
	if got := c.GetSelection(); len(got) != 0 {
		t.Fatalf("expected empty selection, got %+v", got)
	}
	if c.BindID() != "" || ready != 0 {
		t.Fatal("failed bind must not publish state")
	}
	if err := c.Click("A"); !errors.Is(err, ErrNotBound) {
		t.Fatalf("expected ErrNotBound, got %v", err)
	}
	if !strings.Contains(logs.String(), "bind failed") {
		t.Fatalf("expected bind failure to be logged, got %q", logs.String())
	}
}

func TestFailedRebindKeepsPreviousState(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := c.Click("B"); err != nil {
		t.Fatalf("Click: %v", err)
	}
	id := c.BindID()

	bad := &databind.Dataset{Columns: make([]databind.Column, 3)}
	if _, err := c.Bind(bad, nil); err == nil {
		t.Fatal("expected error")
	}
	if c.BindID() != id {
		t.Fatal("failed bind replaced the previous bind")
	}
	if got := c.GetSelection(); len(got) != 1 || got[0].Row != 1 {
		t.Fatalf("selection should survive failed bind, got %+v", got)
	}
}

func TestMissingRegionWarning(t *testing.T) {
	c, logs := newTestChart(t, DefaultOptions())

	ds := popularity()
	ds.Rows = append(ds.Rows, []any{"X999", 5000.0})
	ev, err := c.Bind(ds, nil)
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if ev.Skipped != 1 || ev.Bound != 3 {
		t.Fatalf("unexpected ready event %+v", ev)
	}
	if ev.Domain.Min != 100 || ev.Domain.Max != 300 {
		t.Fatalf("domain affected by skipped row: %+v", ev.Domain)
	}
	if !strings.Contains(logs.String(), "X999") {
		t.Fatalf("expected warning mentioning X999, got %q", logs.String())
	}
}

func TestClickSequence(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	selectedCount := func() int {
		snap := c.Snapshot()
		n := 0
		snap.Props.(*databind.Store).Each(func(p databind.Properties) {
			if p.Selected {
				n++
			}
		})
		return n
	}

	c.Click("A")
	if got := c.GetSelection(); !reflect.DeepEqual(got, []SelectionEntry{{Row: 0}}) {
		t.Fatalf("after click A: %+v", got)
	}
	c.Click("B")
	if got := c.GetSelection(); !reflect.DeepEqual(got, []SelectionEntry{{Row: 1}}) {
		t.Fatalf("after click B: %+v", got)
	}
	if selectedCount() != 1 {
		t.Fatal("more than one region selected")
	}
	c.Click("B")
	if got := c.GetSelection(); len(got) != 0 {
		t.Fatalf("after second click B: %+v", got)
	}
	if selectedCount() != 0 {
		t.Fatal("selected flag not cleared")
	}

	c.Click("A")
	c.Click("N")
	if got := c.GetSelection(); len(got) != 0 {
		t.Fatalf("click on region without data should clear, got %+v", got)
	}
}

func TestSetSelection(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if err := c.SetSelection([]SelectionEntry{{Row: 2}}); err != nil {
		t.Fatalf("SetSelection: %v", err)
	}
	got := c.GetSelection()
	if len(got) != 1 || got[0].Row != 2 || got[0].Column != nil {
		t.Fatalf("unexpected selection %+v", got)
	}
	if c.State().Selected != "C" {
		t.Fatalf("row 2 should select C, got %q", c.State().Selected)
	}

	if err := c.SetSelection([]SelectionEntry{}); err != nil {
		t.Fatalf("SetSelection([]): %v", err)
	}
	if got := c.GetSelection(); len(got) != 0 {
		t.Fatalf("expected empty selection, got %+v", got)
	}

	if err := c.SetSelection([]SelectionEntry{{Row: 9}}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	if err := c.SetSelection([]SelectionEntry{{Row: 0}, {Row: 1}}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
}

func TestHoverRestoresStyle(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	plain := c.Style("A")
	at := orb.Point{1, 1}
	c.PointerEnter("A", &at)

	hl := c.Style("A")
	if hl.ZIndex != style.HighlightedZIndex || hl.StrokeWeight != 3 || hl.FillColor != plain.FillColor {
		t.Fatalf("unexpected highlight style %+v", hl)
	}
	if !c.Tooltip().Visible || !c.Legend().Indicator.Visible {
		t.Fatal("hover should show tooltip and legend indicator")
	}

	c.PointerLeave("A")
	if c.State().Highlighted != "" {
		t.Fatal("highlight not cleared")
	}
	if got := c.Style("A"); got != plain {
		t.Fatalf("style not restored: %+v vs %+v", got, plain)
	}
	if c.Tooltip().Visible || c.Legend().Indicator.Visible {
		t.Fatal("leave should hide hover overlays")
	}
}

func TestSelectionTooltipAnchorsAtCenter(t *testing.T) {
	opts := DefaultOptions()
	opts.Tooltip = overlay.TriggerSelection
	c, _ := newTestChart(t, opts)
	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	c.Click("B")
	tt := c.Tooltip()
	if !tt.Visible || tt.Anchor != [2]float64{3, 1} || tt.Info.Value != 300 || tt.Info.Name != "Bravo" {
		t.Fatalf("unexpected tooltip %+v", tt)
	}

	c.ClickOutside()
	if c.Tooltip().Visible || !c.State().Idle() {
		t.Fatal("click outside should clear everything")
	}
}

func TestDegenerateDomainUsesHighColor(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	ds := &databind.Dataset{
		Columns: []databind.Column{{Label: "Region"}, {Label: "Popularity"}},
		Rows:    [][]any{{"A", 7.0}},
	}
	if _, err := c.Bind(ds, nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	want := DefaultOptions().Fill.High
	if got := c.Style("A").FillColor; got != want {
		t.Fatalf("fill = %v, want %v", got, want)
	}
	if lg := c.Legend(); lg.Low != want || lg.High != want {
		t.Fatalf("legend disagrees with fill: %+v", lg)
	}
}

type countingObserver struct {
	mu         sync.Mutex
	selections []selection.Event
}

func (o *countingObserver) HighlightChanged(selection.Event) {}
func (o *countingObserver) SelectionChanged(ev selection.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.selections = append(o.selections, ev)
}

func TestObserversAndInvalidation(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	obs := &countingObserver{}
	c.AddObserver(obs)

	var invalidated [][]region.ID
	c.OnInvalidate(func(ids []region.ID) { invalidated = append(invalidated, ids) })

	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if len(invalidated) != 1 || len(invalidated[0]) != 4 {
		t.Fatalf("bind should invalidate every region, got %v", invalidated)
	}

	v := c.Version()
	c.Click("A")
	c.Click("C")
	if c.Version() <= v {
		t.Fatal("version should advance on transitions")
	}
	if got := invalidated[len(invalidated)-1]; !reflect.DeepEqual(got, []region.ID{"A", "C"}) {
		t.Fatalf("unexpected invalidation %v", got)
	}
	if len(obs.selections) != 2 || obs.selections[1].Region != "C" {
		t.Fatalf("unexpected observer events %+v", obs.selections)
	}
}

func TestConcurrentClicksKeepSingleSelection(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids := []region.ID{"A", "B", "C", "N"}
			c.Click(ids[i%len(ids)])
			c.Style(ids[(i+1)%len(ids)])
		}(i)
	}
	wg.Wait()

	n := 0
	c.Snapshot().Props.(*databind.Store).Each(func(p databind.Properties) {
		if p.Selected {
			n++
		}
	})
	if n > 1 {
		t.Fatalf("%d regions selected", n)
	}
}

func TestFrame(t *testing.T) {
	c, _ := newTestChart(t, DefaultOptions())
	if f := c.Frame(); f.Bound || len(f.Styles) != 4 {
		t.Fatalf("unbound frame should still style every region: %+v", f)
	}

	if _, err := c.Bind(popularity(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	c.Click("B")
	f := c.Frame()
	if !f.Bound || f.Version != c.Version() || f.BindID != c.BindID() {
		t.Fatalf("frame out of sync: %+v", f)
	}
	if f.Styles["B"].ZIndex != style.SelectedZIndex || f.Styles["B"] != c.Style("B") {
		t.Fatalf("unexpected selected style %+v", f.Styles["B"])
	}
	if !f.Legend.Enabled || f.Legend.Min != 100 || f.Legend.Max != 300 {
		t.Fatalf("unexpected legend %+v", f.Legend)
	}
}
