// Package config handles configuration loading for the geochart server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/geochart/server/internal/engine"
	"github.com/geochart/server/internal/overlay"
	"github.com/geochart/server/internal/style"
	"github.com/geochart/server/pkg/colormap"
)

// DefaultMapID names the map created from the legacy single-map form.
const DefaultMapID = "default"

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Maps   MapsConfig   `yaml:"maps"`
	// Data is the legacy single-map form. It is folded into Maps on load.
	Data   *MapConfig   `yaml:"data"`
	Chart  ChartConfig  `yaml:"chart"`
	Cache  CacheConfig  `yaml:"cache"`
	Render RenderConfig `yaml:"render"`
	Store  StoreConfig  `yaml:"store"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// MapConfig describes one region collection and the dataset bound at startup.
type MapConfig struct {
	Title      string `yaml:"title"`
	GeoJSON    string `yaml:"geojson"`
	IDProperty string `yaml:"id_property"`
	// Dataset is an optional .json or .csv file bound when the map loads.
	Dataset string `yaml:"dataset"`
}

// MapsConfig keeps maps in file order. The first map is the default.
type MapsConfig struct {
	Default string
	Maps    map[string]MapConfig
	order   []string
}

// UnmarshalYAML decodes a mapping of map id to MapConfig, preserving order.
func (m *MapsConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: maps must be a mapping", node.Line)
	}
	m.Maps = make(map[string]MapConfig, len(node.Content)/2)
	m.order = m.order[:0]
	for i := 0; i+1 < len(node.Content); i += 2 {
		id := node.Content[i].Value
		var mc MapConfig
		if err := node.Content[i+1].Decode(&mc); err != nil {
			return fmt.Errorf("map %q: %w", id, err)
		}
		if _, dup := m.Maps[id]; dup {
			return fmt.Errorf("line %d: duplicate map %q", node.Content[i].Line, id)
		}
		m.Maps[id] = mc
		m.order = append(m.order, id)
	}
	if len(m.order) > 0 {
		m.Default = m.order[0]
	}
	return nil
}

// IDs returns map ids in configuration order.
func (m MapsConfig) IDs() []string {
	return append([]string(nil), m.order...)
}

// Get returns the configuration of one map.
func (m MapsConfig) Get(id string) (MapConfig, bool) {
	mc, ok := m.Maps[id]
	return mc, ok
}

func (m *MapsConfig) add(id string, mc MapConfig) {
	if m.Maps == nil {
		m.Maps = make(map[string]MapConfig)
	}
	if _, ok := m.Maps[id]; !ok {
		m.order = append(m.order, id)
	}
	m.Maps[id] = mc
	if m.Default == "" {
		m.Default = id
	}
}

// ColorValue is a color written as a string or as a channel sequence.
type ColorValue struct {
	colormap.Color
}

// UnmarshalYAML parses the color eagerly so bad values fail at load time.
func (c *ColorValue) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	switch node.Kind {
	case yaml.ScalarNode:
		raw = node.Value
	case yaml.SequenceNode:
		var channels []any
		if err := node.Decode(&channels); err != nil {
			return err
		}
		raw = channels
	default:
		return fmt.Errorf("line %d: %w: expected string or sequence", node.Line, colormap.ErrInvalidColorFormat)
	}
	col, err := colormap.ParseAny(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	c.Color = col
	return nil
}

// ChartConfig contains color axis, style and overlay settings.
type ChartConfig struct {
	FillColors   []ColorValue   `yaml:"fill_colors"`
	StrokeColors []ColorValue   `yaml:"stroke_colors"`
	Dataless     StyleConfig    `yaml:"dataless"`
	NoValue      StyleConfig    `yaml:"no_value"`
	Valued       StyleConfig    `yaml:"valued"`
	Highlighted  EmphasisConfig `yaml:"highlighted"`
	Tooltip      string         `yaml:"tooltip"`
	Legend       LegendConfig   `yaml:"legend"`
}

// StyleConfig overrides fields of a base style. Unset fields keep the default.
type StyleConfig struct {
	FillColor     *ColorValue `yaml:"fill_color"`
	FillOpacity   *float64    `yaml:"fill_opacity"`
	StrokeColor   *ColorValue `yaml:"stroke_color"`
	StrokeOpacity *float64    `yaml:"stroke_opacity"`
	StrokeWeight  *float64    `yaml:"stroke_weight"`
}

func (s StyleConfig) apply(base style.Style) style.Style {
	if s.FillColor != nil {
		base.FillColor = s.FillColor.Color
	}
	if s.FillOpacity != nil {
		base.FillOpacity = *s.FillOpacity
	}
	if s.StrokeColor != nil {
		base.StrokeColor = s.StrokeColor.Color
	}
	if s.StrokeOpacity != nil {
		base.StrokeOpacity = *s.StrokeOpacity
	}
	if s.StrokeWeight != nil {
		base.StrokeWeight = *s.StrokeWeight
	}
	return base
}

// EmphasisConfig overrides the highlighted and selected deltas.
type EmphasisConfig struct {
	StrokeWeight  float64 `yaml:"stroke_weight"`
	StrokeOpacity float64 `yaml:"stroke_opacity"`
	FillOpacity   float64 `yaml:"fill_opacity"`
}

// LegendConfig contains legend settings.
type LegendConfig struct {
	Enabled  *bool  `yaml:"enabled"`
	Position string `yaml:"position"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	ImageSizeMB     int `yaml:"image_size_mb"`
	ImageTTLMinutes int `yaml:"image_ttl_minutes"`
	QueryEntries    int `yaml:"query_entries"`
}

// RenderConfig contains map image settings.
type RenderConfig struct {
	Width      int         `yaml:"width"`
	Height     int         `yaml:"height"`
	Padding    int         `yaml:"padding"`
	Background *ColorValue `yaml:"background"`
	Legend     *bool       `yaml:"legend"`
}

// StoreConfig contains dataset store settings.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// Load reads configuration from a YAML file. A missing file yields the
// default configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "GeoChart",
		},
		Cache: CacheConfig{
			ImageSizeMB:     128,
			ImageTTLMinutes: 10,
			QueryEntries:    1000,
		},
		Render: RenderConfig{
			Width:   800,
			Height:  500,
			Padding: 16,
		},
		Store: StoreConfig{
			Path: "./data/datasets.db",
		},
	}
	cfg.Maps.add(DefaultMapID, MapConfig{GeoJSON: "./data/regions.geojson"})
	return cfg
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Data != nil {
		cfg.Maps.add(DefaultMapID, *cfg.Data)
		cfg.Data = nil
	}
	if len(cfg.Maps.Maps) == 0 {
		cfg.Maps = defaults.Maps
	}
	if cfg.Cache.ImageSizeMB == 0 {
		cfg.Cache.ImageSizeMB = defaults.Cache.ImageSizeMB
	}
	if cfg.Cache.ImageTTLMinutes == 0 {
		cfg.Cache.ImageTTLMinutes = defaults.Cache.ImageTTLMinutes
	}
	if cfg.Cache.QueryEntries == 0 {
		cfg.Cache.QueryEntries = defaults.Cache.QueryEntries
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.Padding == 0 {
		cfg.Render.Padding = defaults.Render.Padding
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = defaults.Store.Path
	}
}

// Validate checks option values that YAML decoding cannot.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	for _, id := range c.Maps.IDs() {
		if c.Maps.Maps[id].GeoJSON == "" {
			return fmt.Errorf("map %q: geojson path is required", id)
		}
	}
	if n := len(c.Chart.FillColors); n != 0 && n != 2 {
		return fmt.Errorf("chart.fill_colors: expected 2 colors, got %d", n)
	}
	if n := len(c.Chart.StrokeColors); n != 0 && n != 2 {
		return fmt.Errorf("chart.stroke_colors: expected 2 colors, got %d", n)
	}
	for name, s := range map[string]StyleConfig{
		"dataless": c.Chart.Dataless,
		"no_value": c.Chart.NoValue,
		"valued":   c.Chart.Valued,
	} {
		for _, v := range []*float64{s.FillOpacity, s.StrokeOpacity} {
			if v != nil && (*v < 0 || *v > 1) {
				return fmt.Errorf("chart.%s: opacity %v out of [0,1]", name, *v)
			}
		}
		if s.StrokeWeight != nil && *s.StrokeWeight < 0 {
			return fmt.Errorf("chart.%s: negative stroke_weight", name)
		}
	}
	if _, err := overlay.ParseTrigger(c.Chart.Tooltip); err != nil {
		return fmt.Errorf("chart.tooltip: %w", err)
	}
	if _, err := overlay.ParsePosition(c.Chart.Legend.Position); err != nil {
		return fmt.Errorf("chart.legend: %w", err)
	}
	if c.Render.Width < 0 || c.Render.Height < 0 {
		return fmt.Errorf("render size %dx%d is invalid", c.Render.Width, c.Render.Height)
	}
	return nil
}

// ChartOptions converts the chart section into engine options.
func (c *Config) ChartOptions() (engine.Options, error) {
	opts := engine.DefaultOptions()
	if len(c.Chart.FillColors) == 2 {
		opts.Fill = colormap.Gradient{Low: c.Chart.FillColors[0].Color, High: c.Chart.FillColors[1].Color}
	}
	if len(c.Chart.StrokeColors) == 2 {
		opts.Stroke = colormap.Gradient{Low: c.Chart.StrokeColors[0].Color, High: c.Chart.StrokeColors[1].Color}
	}

	opts.Styles.Dataless = c.Chart.Dataless.apply(opts.Styles.Dataless)
	opts.Styles.NoValue = c.Chart.NoValue.apply(opts.Styles.NoValue)
	opts.Styles.Valued = c.Chart.Valued.apply(opts.Styles.Valued)
	h := c.Chart.Highlighted
	if h.StrokeWeight > 0 {
		opts.Styles.Highlighted.StrokeWeight = h.StrokeWeight
	}
	if h.StrokeOpacity > 0 {
		opts.Styles.Highlighted.StrokeOpacity = h.StrokeOpacity
	}
	if h.FillOpacity > 0 {
		opts.Styles.Highlighted.FillOpacity = h.FillOpacity
	}

	var err error
	if opts.Tooltip, err = overlay.ParseTrigger(c.Chart.Tooltip); err != nil {
		return engine.Options{}, err
	}
	if opts.LegendPosition, err = overlay.ParsePosition(c.Chart.Legend.Position); err != nil {
		return engine.Options{}, err
	}
	if c.Chart.Legend.Enabled != nil {
		opts.Legend = *c.Chart.Legend.Enabled
	}
	return opts, nil
}

// RenderLegend reports whether rendered images include the legend bar.
func (c *Config) RenderLegend() bool {
	return c.Render.Legend == nil || *c.Render.Legend
}

// Background returns the render background, white by default.
func (c *Config) Background() colormap.Color {
	if c.Render.Background != nil {
		return c.Render.Background.Color
	}
	return colormap.RGB(255, 255, 255)
}
