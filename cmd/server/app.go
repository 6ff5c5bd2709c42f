package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/geochart/server/internal/api"
	"github.com/geochart/server/internal/cache"
	"github.com/geochart/server/internal/config"
	"github.com/geochart/server/internal/datastore"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/internal/render"
	"github.com/geochart/server/internal/service"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	cache    *cache.Manager
	store    *datastore.Store
	registry *api.MapRegistry
}

func newApp(cfg *config.Config, logger *log.Logger) (*app, error) {
	chartOpts, err := cfg.ChartOptions()
	if err != nil {
		return nil, fmt.Errorf("chart options: %w", err)
	}

	// Shared across all maps
	cacheManager, err := cache.NewManager(cache.Config{
		ImageCacheSizeMB: cfg.Cache.ImageSizeMB,
		ImageTTL:         time.Duration(cfg.Cache.ImageTTLMinutes) * time.Minute,
		QueryCacheSize:   cfg.Cache.QueryEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, cache: cacheManager}

	if !cfg.Store.Disabled {
		a.store, err = datastore.NewStore(cfg.Store.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open dataset store: %w", err)
		}
		logger.Info("dataset store opened", "path", cfg.Store.Path)
	}

	renderer := render.NewMapRenderer(render.Config{
		Width:      cfg.Render.Width,
		Height:     cfg.Render.Height,
		Padding:    cfg.Render.Padding,
		Background: cfg.Background(),
	})

	ids := cfg.Maps.IDs()
	a.registry = api.NewMapRegistry(cfg.Maps.Default, cfg.Server.Title)
	logger.Info("initializing maps", "count", len(ids), "default", cfg.Maps.Default)

	for _, id := range ids {
		mc, _ := cfg.Maps.Get(id)
		regions, err := region.Load(mc.GeoJSON, mc.IDProperty)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("map %q: %w", id, err)
		}
		logger.Info("regions loaded", "map", id, "path", mc.GeoJSON, "regions", regions.Len())

		svcCfg := service.ChartServiceConfig{
			MapID:        id,
			Title:        mc.Title,
			Regions:      regions,
			Options:      chartOpts,
			Cache:        cacheManager,
			Renderer:     renderer,
			Logger:       logger,
			RenderLegend: cfg.RenderLegend(),
		}
		if a.store != nil {
			svcCfg.Store = a.store
		}
		svc := service.NewChartService(svcCfg)

		if mc.Dataset != "" {
			if _, err := svc.BindFile(mc.Dataset); err != nil {
				a.Close()
				return nil, fmt.Errorf("map %q: dataset %s: %w", id, mc.Dataset, err)
			}
		}
		a.registry.Register(svc)
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing dataset store", "err", err)
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("closing cache", "err", err)
		}
	}
}
