// Package api provides HTTP handlers for the geochart server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/geochart/server/internal/databind"
	"github.com/geochart/server/internal/datastore"
	"github.com/geochart/server/internal/engine"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/internal/render"
	"github.com/geochart/server/internal/service"
	"github.com/geochart/server/pkg/colormap"
)

const maxBodyBytes = 32 << 20

// DatasetStore is the dataset persistence used by the /api/datasets routes.
type DatasetStore interface {
	Save(ctx context.Context, name string, ds *databind.Dataset) error
	Load(ctx context.Context, name string) (*databind.Dataset, error)
	List(ctx context.Context) ([]datastore.Entry, error)
	Delete(ctx context.Context, name string) error
}

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *MapRegistry
	Store       DatasetStore
	CORSOrigins []string
	Logger      *log.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	h := &handlers{registry: cfg.Registry, store: cfg.Store, logger: cfg.Logger}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/maps", h.maps)

	r.Route("/api/datasets", func(r chi.Router) {
		r.Get("/", h.listDatasets)
		r.Put("/{name}", h.saveDataset)
		r.Get("/{name}", h.getDataset)
		r.Delete("/{name}", h.deleteDataset)
	})

	// Map-scoped routes: /m/{map}/...
	r.Route("/m/{map}", func(r chi.Router) {
		r.Use(mapMiddleware(cfg.Registry))

		r.Get("/map.png", h.mapImage)

		r.Route("/api", func(r chi.Router) {
			r.Post("/bind", h.bind)
			r.Get("/selection", h.getSelection)
			r.Put("/selection", h.setSelection)
			r.Post("/events", h.events)
			r.Get("/styles", h.styles)
			r.Get("/styles/{id}", h.regionStyle)
			r.Get("/tooltip", h.tooltip)
			r.Get("/legend", h.legend)
			r.Get("/regions", h.regions)
		})
	})

	return r
}

// Context key for map service
type ctxKey string

const mapServiceKey ctxKey = "mapService"

// mapMiddleware resolves the map from URL and injects the chart service into context.
func mapMiddleware(registry *MapRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapID := chi.URLParam(r, "map")
			svc := registry.Get(mapID)
			if svc == nil {
				http.Error(w, "map not found: "+mapID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), mapServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getMapService(r *http.Request) *service.ChartService {
	if svc, ok := r.Context().Value(mapServiceKey).(*service.ChartService); ok {
		return svc
	}
	return nil
}

type handlers struct {
	registry *MapRegistry
	store    DatasetStore
	logger   *log.Logger
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, databind.ErrIncompatibleDataset),
		errors.Is(err, colormap.ErrInvalidColorFormat),
		errors.Is(err, engine.ErrInvalidSelection),
		errors.Is(err, service.ErrInvalidEvent),
		errors.Is(err, render.ErrInvalidSize),
		errors.Is(err, datastore.ErrInvalidName),
		errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, datastore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrNotBound):
		status = http.StatusConflict
	case errors.Is(err, service.ErrStoreDisabled):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

// readDataset decodes a request body as CSV or as JSON in either accepted form.
func readDataset(r *http.Request, body io.Reader) (*databind.Dataset, error) {
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "text/csv" {
		return databind.ReadCSV(body)
	}
	var ds databind.Dataset
	if err := json.NewDecoder(body).Decode(&ds); err != nil {
		return nil, errors.Join(errBadRequest, err)
	}
	return &ds, nil
}

func (h *handlers) maps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default": h.registry.DefaultMapID(),
		"maps":    h.registry.Maps(),
		"title":   h.registry.Title(),
	})
}

func (h *handlers) listDatasets(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, service.ErrStoreDisabled)
		return
	}
	entries, err := h.store.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"datasets": entries})
}

func (h *handlers) saveDataset(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, service.ErrStoreDisabled)
		return
	}
	ds, err := readDataset(r, http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if _, err := databind.DetectMode(ds); err != nil {
		h.writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	if err := h.store.Save(r.Context(), name, ds); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    name,
		"columns": ds.NumberOfColumns(),
		"rows":    ds.NumberOfRows(),
	})
}

func (h *handlers) getDataset(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, service.ErrStoreDisabled)
		return
	}
	ds, err := h.store.Load(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

func (h *handlers) deleteDataset(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		h.writeError(w, service.ErrStoreDisabled)
		return
	}
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// bindRequest binds either an inline dataset or a stored one by name.
type bindRequest struct {
	Dataset *databind.Dataset `json:"dataset"`
	Name    string            `json:"name"`
}

func (h *handlers) bind(w http.ResponseWriter, r *http.Request) {
	svc := getMapService(r)
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var (
		ev  engine.ReadyEvent
		err error
	)
	if mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mt == "text/csv" {
		var ds *databind.Dataset
		if ds, err = databind.ReadCSV(body); err == nil {
			ev, err = svc.Bind(ds, nil)
		}
	} else {
		var req bindRequest
		if err = json.NewDecoder(body).Decode(&req); err != nil {
			h.writeError(w, errors.Join(errBadRequest, err))
			return
		}
		switch {
		case req.Dataset != nil:
			ev, err = svc.Bind(req.Dataset, nil)
		case req.Name != "":
			ev, err = svc.BindStored(r.Context(), req.Name, nil)
		default:
			err = errors.Join(errBadRequest, errors.New("dataset or name is required"))
		}
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *handlers) getSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getMapService(r).Chart().GetSelection())
}

func (h *handlers) setSelection(w http.ResponseWriter, r *http.Request) {
	chart := getMapService(r).Chart()
	var sel []engine.SelectionEntry
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sel); err != nil {
		h.writeError(w, errors.Join(errBadRequest, err))
		return
	}
	if err := chart.SetSelection(sel); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chart.GetSelection())
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	svc := getMapService(r)
	var ev service.Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		h.writeError(w, errors.Join(errBadRequest, err))
		return
	}
	if err := svc.Dispatch(ev); err != nil {
		h.writeError(w, err)
		return
	}
	chart := svc.Chart()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":     chart.State(),
		"selection": chart.GetSelection(),
		"version":   chart.Version(),
	})
}

func (h *handlers) styles(w http.ResponseWriter, r *http.Request) {
	data, err := getMapService(r).StylesJSON()
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (h *handlers) regionStyle(w http.ResponseWriter, r *http.Request) {
	chart := getMapService(r).Chart()
	id := region.ID(chi.URLParam(r, "id"))
	if _, ok := chart.Regions().Lookup(id); !ok {
		http.Error(w, "region not found: "+string(id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, chart.Style(id))
}

func (h *handlers) tooltip(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getMapService(r).Chart().Tooltip())
}

func (h *handlers) legend(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, getMapService(r).Chart().Legend())
}

func (h *handlers) regions(w http.ResponseWriter, r *http.Request) {
	data, err := getMapService(r).RegionsGeoJSON()
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}

func (h *handlers) mapImage(w http.ResponseWriter, r *http.Request) {
	svc := getMapService(r)
	width, err := queryInt(r, "width")
	if err != nil {
		http.Error(w, "invalid width", http.StatusBadRequest)
		return
	}
	height, err := queryInt(r, "height")
	if err != nil {
		http.Error(w, "invalid height", http.StatusBadRequest)
		return
	}
	if (width == 0) != (height == 0) {
		http.Error(w, "width and height must be given together", http.StatusBadRequest)
		return
	}

	data, err := svc.MapImage(width, height)
	if err != nil {
		if errors.Is(err, render.ErrInvalidSize) {
			h.writeError(w, err)
			return
		}
		h.logger.Warn("map render failed", "map", svc.MapID(), "err", err)
		if data, err = svc.EmptyImage(width, height); err != nil {
			h.writeError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
