package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/geochart/server/internal/cache"
	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/datastore"
	"github.com/geochart/server/internal/engine"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/internal/render"
)

const testGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type":"Feature","id":"A","properties":{"name":"Alpha"},"geometry":{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}},
    {"type":"Feature","id":"B","properties":{"name":"Bravo"},"geometry":{"type":"Polygon","coordinates":[[[2,0],[4,0],[4,2],[2,2],[2,0]]]}}
  ]
}`

func newTestService(t *testing.T, store DatasetStore) *ChartService {
	t.Helper()

	regions, err := region.Parse([]byte(testGeoJSON), "")
	if err != nil {
		t.Fatalf("region.Parse: %v", err)
	}
	cm, err := cache.NewManager(cache.Config{ImageCacheSizeMB: 16, ImageTTL: time.Minute, QueryCacheSize: 10})
	if err != nil {
		t.Fatalf("cache.NewManager: %v", err)
	}
	t.Cleanup(func() { cm.Close() })

	return NewChartService(ChartServiceConfig{
		MapID:        "world",
		Regions:      regions,
		Options:      engine.DefaultOptions(),
		Cache:        cm,
		Renderer:     render.NewMapRenderer(render.Config{Width: 80, Height: 40}),
		Store:        store,
		Logger:       log.New(io.Discard),
		RenderLegend: true,
	})
}

func testDataset() *databind.Dataset {
	return &databind.Dataset{
		Columns: []databind.Column{{Label: "Region"}, {Label: "Popularity"}},
		Rows:    [][]any{{"A", 1.0}, {"B", 2.0}},
	}
}

func TestMapImageCachedPerVersion(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Bind(testDataset(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	first, err := svc.MapImage(0, 0)
	if err != nil {
		t.Fatalf("MapImage: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(first))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 80 || b.Dy() != 40 {
		t.Fatalf("unexpected size %v", b)
	}

	frame := svc.Chart().Frame()
	key := cache.ImageKey("world", frame.BindID, frame.Version, 80, 40, true)
	if _, ok := svc.cache.GetImage(key); !ok {
		t.Fatal("expected rendered image to be cached")
	}

	if err := svc.Dispatch(Event{Type: EventClick, Region: "A"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if svc.Chart().Frame().Version == frame.Version {
		t.Fatal("click should advance the version")
	}
	if _, err := svc.MapImage(0, 0); err != nil {
		t.Fatalf("MapImage: %v", err)
	}
}

func TestDispatchByCoordinates(t *testing.T) {
	svc := newTestService(t, nil)

	if err := svc.Dispatch(Event{Type: EventClick, Region: "A"}); !errors.Is(err, engine.ErrNotBound) {
		t.Fatalf("expected ErrNotBound, got %v", err)
	}
	if _, err := svc.Bind(testDataset(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	lon, lat := 3.0, 1.0
	if err := svc.Dispatch(Event{Type: EventClick, Lon: &lon, Lat: &lat}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := svc.Chart().State().Selected; got != "B" {
		t.Fatalf("expected B selected, got %q", got)
	}

	lon = 50
	if err := svc.Dispatch(Event{Type: EventClick, Lon: &lon, Lat: &lat}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !svc.Chart().State().Idle() {
		t.Fatal("click on empty surface should clear")
	}

	if err := svc.Dispatch(Event{Type: EventEnter}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Dispatch(Event{Type: "drag", Region: "A"}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := svc.Dispatch(Event{Type: EventEnter, Region: "A", Lon: &lon}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
}

func TestDispatchUnknownRegion(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Bind(testDataset(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	before := svc.Chart().Version()

	for _, typ := range []EventType{EventEnter, EventLeave, EventClick} {
		if err := svc.Dispatch(Event{Type: typ, Region: "ZZZ"}); !errors.Is(err, ErrInvalidEvent) {
			t.Fatalf("%s ZZZ: expected ErrInvalidEvent, got %v", typ, err)
		}
	}
	if st := svc.Chart().State(); !st.Idle() {
		t.Fatalf("unknown region changed state: %+v", st)
	}
	if got := svc.Chart().Version(); got != before {
		t.Fatalf("version moved from %d to %d", before, got)
	}
}

func TestBindStored(t *testing.T) {
	if _, err := newTestService(t, nil).BindStored(context.Background(), "x", nil); !errors.Is(err, ErrStoreDisabled) {
		t.Fatalf("expected ErrStoreDisabled, got %v", err)
	}

	store, err := datastore.NewStore(t.TempDir() + "/datasets.db")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()
	if err := store.Save(ctx, "pop", testDataset()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	svc := newTestService(t, store)
	ev, err := svc.BindStored(ctx, "pop", nil)
	if err != nil {
		t.Fatalf("BindStored: %v", err)
	}
	if ev.Bound != 2 || ev.Domain.Min != 1 || ev.Domain.Max != 2 {
		t.Fatalf("unexpected ready event %+v", ev)
	}
	if _, err := svc.BindStored(ctx, "missing", nil); !errors.Is(err, datastore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStylesJSON(t *testing.T) {
	svc := newTestService(t, nil)
	if _, err := svc.Bind(testDataset(), nil); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	data, err := svc.StylesJSON()
	if err != nil {
		t.Fatalf("StylesJSON: %v", err)
	}
	var payload struct {
		Version uint64                            `json:"version"`
		Styles  map[string]map[string]interface{} `json:"styles"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(payload.Styles) != 2 || payload.Styles["B"]["fill_color"] != "#109618" {
		t.Fatalf("unexpected styles %s", data)
	}

	again, _ := svc.StylesJSON()
	if !bytes.Equal(data, again) {
		t.Fatal("expected cached styles for unchanged version")
	}
}

func TestRegionsGeoJSONAndInfo(t *testing.T) {
	svc := newTestService(t, nil)

	data, err := svc.RegionsGeoJSON()
	if err != nil {
		t.Fatalf("RegionsGeoJSON: %v", err)
	}
	var fc struct {
		Features []struct {
			ID         string                 `json:"id"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(fc.Features) != 2 || fc.Features[0].ID != "A" || fc.Features[0].Properties["name"] != "Alpha" {
		t.Fatalf("unexpected features %s", data)
	}

	info := svc.Info()
	if info.ID != "world" || info.Title != "world" || info.Regions != 2 || info.Bound != [4]float64{0, 0, 4, 2} || info.BindID != "" {
		t.Fatalf("unexpected info %+v", info)
	}
	svc.Bind(testDataset(), nil)
	if info := svc.Info(); info.Mode != databind.ModeValued || info.BindID == "" {
		t.Fatalf("unexpected info after bind %+v", info)
	}
}
