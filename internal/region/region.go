// Package region loads boundary geometry and resolves region identifiers.
package region

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrMissingID is returned when a feature carries no usable identifier.
var ErrMissingID = errors.New("feature has no id")

// ID identifies a region. Numeric identifiers are normalized to their
// decimal string form so 7 and "7" address the same region.
type ID string

// IDOf normalizes a string or number into an ID.
func IDOf(v any) (ID, bool) {
	switch x := v.(type) {
	case ID:
		return x, x != ""
	case string:
		return ID(x), x != ""
	case int:
		return ID(strconv.Itoa(x)), true
	case int64:
		return ID(strconv.FormatInt(x, 10)), true
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return IDOf(f)
		}
		return ID(x.String()), x != ""
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return "", false
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return ID(strconv.FormatInt(int64(x), 10)), true
		}
		return ID(strconv.FormatFloat(x, 'f', -1, 64)), true
	default:
		return "", false
	}
}

// Region is a named geographic area.
type Region struct {
	ID         ID
	Geometry   orb.Geometry
	Properties map[string]any
}

// Name returns the "name" property when present.
func (r *Region) Name() string {
	if s, ok := r.Properties["name"].(string); ok {
		return s
	}
	return ""
}

// Center returns the area-weighted centroid for polygonal geometry and the
// bounding box center otherwise.
func (r *Region) Center() orb.Point {
	if r.Geometry == nil {
		return orb.Point{}
	}
	switch r.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon, orb.Ring:
		if c, area := planar.CentroidArea(r.Geometry); area != 0 {
			return c
		}
	}
	return r.Geometry.Bound().Center()
}

// Source resolves dataset identifiers to regions.
type Source interface {
	Lookup(id ID) (*Region, bool)
	Center(id ID) (orb.Point, bool)
}

// Collection is a Source backed by a GeoJSON FeatureCollection.
type Collection struct {
	regions map[ID]*Region
	order   []ID
	bound   orb.Bound
}

// Load reads a GeoJSON FeatureCollection from disk.
func Load(path, idProperty string) (*Collection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading geojson: %w", err)
	}
	return Parse(data, idProperty)
}

// Parse decodes a GeoJSON FeatureCollection. When idProperty is set the
// region id is read from that feature property instead of the feature id.
// A repeated id replaces the earlier feature.
func Parse(data []byte, idProperty string) (*Collection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}
	return FromFeatures(fc, idProperty)
}

// FromFeatures builds a collection from already decoded features.
func FromFeatures(fc *geojson.FeatureCollection, idProperty string) (*Collection, error) {
	c := &Collection{regions: make(map[ID]*Region, len(fc.Features))}

	first := true
	for i, f := range fc.Features {
		raw := f.ID
		if idProperty != "" {
			raw = f.Properties[idProperty]
		}
		id, ok := IDOf(raw)
		if !ok {
			return nil, fmt.Errorf("feature %d: %w", i, ErrMissingID)
		}

		if _, dup := c.regions[id]; !dup {
			c.order = append(c.order, id)
		}
		c.regions[id] = &Region{ID: id, Geometry: f.Geometry, Properties: f.Properties}

		if f.Geometry == nil {
			continue
		}
		if first {
			c.bound = f.Geometry.Bound()
			first = false
		} else {
			c.bound = c.bound.Union(f.Geometry.Bound())
		}
	}

	return c, nil
}

// Lookup returns the region with the given id.
func (c *Collection) Lookup(id ID) (*Region, bool) {
	r, ok := c.regions[id]
	return r, ok
}

// Center returns the geometric center of a region.
func (c *Collection) Center(id ID) (orb.Point, bool) {
	r, ok := c.regions[id]
	if !ok {
		return orb.Point{}, false
	}
	return r.Center(), true
}

// Bound returns the union of all region bounds.
func (c *Collection) Bound() orb.Bound { return c.bound }

// Len returns the number of distinct regions.
func (c *Collection) Len() int { return len(c.order) }

// IDs returns region ids in first-seen order.
func (c *Collection) IDs() []ID {
	ids := make([]ID, len(c.order))
	copy(ids, c.order)
	return ids
}

// Regions returns all regions in first-seen order.
func (c *Collection) Regions() []*Region {
	out := make([]*Region, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.regions[id])
	}
	return out
}

// Locate returns the region containing p. Later regions win where
// geometries overlap.
func (c *Collection) Locate(p orb.Point) (ID, bool) {
	for i := len(c.order) - 1; i >= 0; i-- {
		r := c.regions[c.order[i]]
		if contains(r.Geometry, p) {
			return r.ID, true
		}
	}
	return "", false
}

func contains(g orb.Geometry, p orb.Point) bool {
	switch geo := g.(type) {
	case orb.Polygon:
		return planar.PolygonContains(geo, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(geo, p)
	case orb.Ring:
		return planar.RingContains(geo, p)
	case orb.Collection:
		for _, sub := range geo {
			if contains(sub, p) {
				return true
			}
		}
	}
	return false
}
