// Package service provides business logic for the chart server.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/geochart/server/internal/cache"
	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/engine"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/internal/render"
)

var (
	// ErrStoreDisabled is returned when binding by name without a store.
	ErrStoreDisabled = errors.New("dataset store is disabled")
	// ErrInvalidEvent is returned for malformed pointer events.
	ErrInvalidEvent = errors.New("invalid event")
)

// DatasetStore loads datasets by name.
type DatasetStore interface {
	Load(ctx context.Context, name string) (*databind.Dataset, error)
}

// ChartServiceConfig contains chart service configuration.
type ChartServiceConfig struct {
	MapID        string
	Title        string
	Regions      *region.Collection
	Options      engine.Options
	Cache        *cache.Manager
	Renderer     *render.MapRenderer
	Store        DatasetStore
	Logger       *log.Logger
	RenderLegend bool
}

// ChartService serves one configured map.
type ChartService struct {
	mapID        string
	title        string
	regions      *region.Collection
	chart        *engine.Chart
	cache        *cache.Manager
	renderer     *render.MapRenderer
	store        DatasetStore
	logger       *log.Logger
	renderLegend bool
}

// NewChartService creates a chart service with an unbound chart.
func NewChartService(cfg ChartServiceConfig) *ChartService {
	mapID := cfg.MapID
	if mapID == "" {
		mapID = "default"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.With("map", mapID)

	return &ChartService{
		mapID:   mapID,
		title:   cfg.Title,
		regions: cfg.Regions,
		chart: engine.New(engine.Config{
			Regions: cfg.Regions,
			Options: cfg.Options,
			Logger:  logger,
		}),
		cache:        cfg.Cache,
		renderer:     cfg.Renderer,
		store:        cfg.Store,
		logger:       logger,
		renderLegend: cfg.RenderLegend,
	}
}

// MapID returns the configured map id.
func (s *ChartService) MapID() string { return s.mapID }

// Chart returns the underlying chart.
func (s *ChartService) Chart() *engine.Chart { return s.chart }

// MapInfo summarizes a map for listings.
type MapInfo struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Regions int           `json:"regions"`
	Bound   [4]float64    `json:"bound"`
	BindID  string        `json:"bind_id,omitempty"`
	Mode    databind.Mode `json:"mode,omitempty"`
}

// Info returns the map summary.
func (s *ChartService) Info() MapInfo {
	title := s.title
	if title == "" {
		title = s.mapID
	}
	b := s.regions.Bound()
	info := MapInfo{
		ID:      s.mapID,
		Title:   title,
		Regions: s.regions.Len(),
		Bound:   [4]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]},
		BindID:  s.chart.BindID(),
	}
	if ds, ok := s.chart.Dataset(); ok {
		info.Mode, _ = databind.DetectMode(ds)
	}
	return info
}

// Bind binds a dataset to the chart.
func (s *ChartService) Bind(ds *databind.Dataset, opts *engine.Options) (engine.ReadyEvent, error) {
	return s.chart.Bind(ds, opts)
}

// BindStored binds a dataset previously saved under name.
func (s *ChartService) BindStored(ctx context.Context, name string, opts *engine.Options) (engine.ReadyEvent, error) {
	if s.store == nil {
		return engine.ReadyEvent{}, ErrStoreDisabled
	}
	ds, err := s.store.Load(ctx, name)
	if err != nil {
		return engine.ReadyEvent{}, err
	}
	return s.chart.Bind(ds, opts)
}

// BindFile binds a dataset read from a .csv or .json file.
func (s *ChartService) BindFile(path string) (engine.ReadyEvent, error) {
	ds, err := databind.ReadFile(path)
	if err != nil {
		return engine.ReadyEvent{}, err
	}
	return s.chart.Bind(ds, nil)
}

// EventType names a pointer interaction.
type EventType string

const (
	EventEnter        EventType = "enter"
	EventLeave        EventType = "leave"
	EventClick        EventType = "click"
	EventClickOutside EventType = "click_outside"
)

// Event is a pointer interaction addressed by region id or by map
// coordinates.
type Event struct {
	Type   EventType `json:"type"`
	Region region.ID `json:"region,omitempty"`
	Lon    *float64  `json:"lon,omitempty"`
	Lat    *float64  `json:"lat,omitempty"`
}

// Dispatch routes an event to the chart. An event with coordinates but no
// region is resolved to the containing region; a click that hits nothing is
// a click outside. Ids that name no region are rejected.
func (s *ChartService) Dispatch(ev Event) error {
	var at *orb.Point
	if (ev.Lon == nil) != (ev.Lat == nil) {
		return fmt.Errorf("%w: lon and lat must be given together", ErrInvalidEvent)
	}
	if ev.Lon != nil {
		p := orb.Point{*ev.Lon, *ev.Lat}
		at = &p
		if ev.Region == "" {
			if id, ok := s.regions.Locate(p); ok {
				ev.Region = id
			}
		}
	}

	if ev.Region != "" {
		if _, ok := s.regions.Lookup(ev.Region); !ok {
			return fmt.Errorf("%w: unknown region %q", ErrInvalidEvent, ev.Region)
		}
	}

	switch ev.Type {
	case EventEnter:
		if ev.Region == "" {
			return fmt.Errorf("%w: enter needs a region", ErrInvalidEvent)
		}
		return s.chart.PointerEnter(ev.Region, at)
	case EventLeave:
		if ev.Region == "" {
			return fmt.Errorf("%w: leave needs a region", ErrInvalidEvent)
		}
		return s.chart.PointerLeave(ev.Region)
	case EventClick:
		if ev.Region == "" {
			return s.chart.ClickOutside()
		}
		return s.chart.Click(ev.Region)
	case EventClickOutside:
		return s.chart.ClickOutside()
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
}

// MapImage renders the chart as PNG. Images are cached per bind and version.
func (s *ChartService) MapImage(width, height int) ([]byte, error) {
	if width == 0 && height == 0 {
		width, height = s.renderer.Size()
	}
	frame := s.chart.Frame()
	legend := s.renderLegend && frame.Legend.Enabled

	key := cache.ImageKey(s.mapID, frame.BindID, frame.Version, width, height, legend)
	if s.cache != nil {
		if data, ok := s.cache.GetImage(key); ok {
			return data, nil
		}
	}

	scene := render.Scene{Bound: s.regions.Bound()}
	for _, r := range s.regions.Regions() {
		scene.Features = append(scene.Features, render.Feature{
			Geometry: r.Geometry,
			Style:    frame.Styles[r.ID],
		})
	}
	if legend {
		lb := &render.LegendBar{
			Ramp:     frame.Axis,
			Min:      frame.Legend.Min,
			Max:      frame.Legend.Max,
			Position: frame.Legend.Position,
		}
		if frame.Legend.Indicator.Visible {
			offset := frame.Legend.Indicator.Offset
			lb.Indicator = &offset
		}
		scene.Legend = lb
	}

	data, err := s.renderer.Render(scene, width, height)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetImage(key, data); err != nil {
			s.logger.Debug("image not cached", "key", key, "err", err)
		}
	}
	s.logger.Debug("map rendered", "version", frame.Version, "width", width, "height", height)
	return data, nil
}

// EmptyImage returns a transparent image of the given size.
func (s *ChartService) EmptyImage(width, height int) ([]byte, error) {
	return s.renderer.CreateEmptyImage(width, height)
}

// StylesJSON returns every region style as JSON, cached per version.
func (s *ChartService) StylesJSON() ([]byte, error) {
	frame := s.chart.Frame()
	key := cache.QueryKey(s.mapID, "styles", frame.Version, map[string]string{"bind": frame.BindID})
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	data, err := json.Marshal(map[string]interface{}{
		"version": frame.Version,
		"bind_id": frame.BindID,
		"styles":  frame.Styles,
	})
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}

// RegionsGeoJSON returns the region collection as a FeatureCollection.
// Geometry never changes, so the result is cached once.
func (s *ChartService) RegionsGeoJSON() ([]byte, error) {
	key := cache.QueryKey(s.mapID, "regions", 0, nil)
	if s.cache != nil {
		if data, ok := s.cache.GetQuery(key); ok {
			return data, nil
		}
	}

	fc := geojson.NewFeatureCollection()
	for _, r := range s.regions.Regions() {
		f := geojson.NewFeature(r.Geometry)
		f.ID = string(r.ID)
		for k, v := range r.Properties {
			f.Properties[k] = v
		}
		center := r.Center()
		f.Properties["center"] = []float64{center[0], center[1]}
		fc.Append(f)
	}
	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetQuery(key, data)
	}
	return data, nil
}
