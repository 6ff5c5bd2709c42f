package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/geochart/server/internal/api"
	"github.com/geochart/server/internal/config"
	"github.com/geochart/server/internal/region"
	"github.com/geochart/server/internal/service"
)

func loadApp(opts *options) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newApp(cfg, opts.logger)
}

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if port != 0 {
				a.cfg.Server.Port = port
			}
			return serve(cmd.Context(), a)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "override server.port")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	cfg := a.cfg

	routerCfg := api.RouterConfig{
		Registry:    a.registry,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	}
	if a.store != nil {
		routerCfg.Store = a.store
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", fmt.Sprintf("http://localhost:%d", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", "err", err)
	}

	logger.Info("server stopped")
	return nil
}

func newRenderCmd(opts *options) *cobra.Command {
	var (
		mapID    string
		dataset  string
		stored   string
		selected string
		out      string
		width    int
		height   int
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Bind a dataset and write the map as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dataset != "" && stored != "" {
				return errors.New("--dataset and --stored are mutually exclusive")
			}
			a, err := loadApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if mapID == "" {
				mapID = a.registry.DefaultMapID()
			}
			svc := a.registry.Get(mapID)
			if svc == nil {
				return fmt.Errorf("map not found: %s (available: %s)", mapID, strings.Join(a.registry.MapIDs(), ", "))
			}

			switch {
			case dataset != "":
				_, err = svc.BindFile(dataset)
			case stored != "":
				_, err = svc.BindStored(cmd.Context(), stored, nil)
			}
			if err != nil {
				return err
			}

			if selected != "" {
				if err := svc.Dispatch(service.Event{Type: service.EventClick, Region: region.ID(selected)}); err != nil {
					return fmt.Errorf("select %s: %w", selected, err)
				}
			}

			data, err := svc.MapImage(width, height)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return err
			}
			a.logger.Info("map written", "map", mapID, "path", out, "bytes", len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&mapID, "map", "m", "", "map id (default map if empty)")
	cmd.Flags().StringVarP(&dataset, "dataset", "d", "", "dataset file (.csv or .json) to bind")
	cmd.Flags().StringVar(&stored, "stored", "", "name of a stored dataset to bind")
	cmd.Flags().StringVar(&selected, "select", "", "region id to select before rendering")
	cmd.Flags().StringVarP(&out, "out", "o", "map.png", "output PNG path")
	cmd.Flags().IntVar(&width, "width", 0, "image width (config default if 0)")
	cmd.Flags().IntVar(&height, "height", 0, "image height (config default if 0)")
	return cmd
}
