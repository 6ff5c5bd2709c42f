package api

import (
	"github.com/geochart/server/internal/service"
)

// MapRegistry holds chart services for all configured maps.
type MapRegistry struct {
	services   map[string]*service.ChartService
	defaultMap string
	mapOrder   []string
	title      string
}

// NewMapRegistry creates a new map registry.
func NewMapRegistry(defaultMap string, title string) *MapRegistry {
	return &MapRegistry{
		services:   make(map[string]*service.ChartService),
		defaultMap: defaultMap,
		title:      title,
	}
}

// Register adds a chart service. Maps are listed in registration order.
func (r *MapRegistry) Register(svc *service.ChartService) {
	id := svc.MapID()
	if _, ok := r.services[id]; !ok {
		r.mapOrder = append(r.mapOrder, id)
	}
	r.services[id] = svc
	if r.defaultMap == "" {
		r.defaultMap = id
	}
}

// Get returns the chart service for a map, or nil if not found.
func (r *MapRegistry) Get(mapID string) *service.ChartService {
	return r.services[mapID]
}

// DefaultMapID returns the default map ID.
func (r *MapRegistry) DefaultMapID() string {
	return r.defaultMap
}

// MapIDs returns all map IDs in registration order.
func (r *MapRegistry) MapIDs() []string {
	return r.mapOrder
}

// Title returns the configured site title.
func (r *MapRegistry) Title() string {
	if r.title != "" {
		return r.title
	}
	return "GeoChart"
}

// Maps returns summaries of all registered maps.
func (r *MapRegistry) Maps() []service.MapInfo {
	infos := make([]service.MapInfo, 0, len(r.mapOrder))
	for _, id := range r.mapOrder {
		infos = append(infos, r.services[id].Info())
	}
	return infos
}
