// Package server assembles the chat server from its components.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8501", srv.Handler)
//	defer srv.ShutdownFunc(ctx)
//
// Open builds only the storage and session layer, which is what the CLI
// needs to inspect and edit the chat log without starting HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/llmselect/llmselect-chat/internal/api"
	"github.com/llmselect/llmselect-chat/internal/api/handlers"
	"github.com/llmselect/llmselect-chat/internal/catalog"
	"github.com/llmselect/llmselect-chat/internal/config"
	"github.com/llmselect/llmselect-chat/internal/hub"
	"github.com/llmselect/llmselect-chat/internal/metrics"
	"github.com/llmselect/llmselect-chat/internal/notify"
	"github.com/llmselect/llmselect-chat/internal/pricing"
	"github.com/llmselect/llmselect-chat/internal/retention"
	"github.com/llmselect/llmselect-chat/internal/router"
	"github.com/llmselect/llmselect-chat/internal/sessions"
	"github.com/llmselect/llmselect-chat/internal/store"
	"github.com/llmselect/llmselect-chat/internal/telemetry"
	"github.com/llmselect/llmselect-chat/internal/web"
	"github.com/llmselect/llmselect-chat/pkg/models"
)

// Core is the storage and session layer shared by the server and the CLI.
type Core struct {
	Config   *config.Config
	Store    store.Store
	Catalog  *catalog.Catalog
	Pricing  *pricing.Table
	Router   *router.ModelRouter
	Sessions *sessions.Service
}

// Open loads the catalog and pricing, opens the chat log and builds the
// session service. events and observer may be nil.
func Open(ctx context.Context, cfg *config.Config, events sessions.EventSink, observer sessions.TurnObserver) (*Core, error) {
	st, err := store.Open(cfg.Paths.LogFile)
	if err != nil {
		return nil, fmt.Errorf("open chat log: %w", err)
	}

	cat := catalog.New(cfg)
	if err := cat.Load(ctx); err != nil {
		// An empty catalog still lets existing sessions be browsed.
		log.Warn().Err(err).Msg("⚠️ Deployment catalog could not be loaded")
	}

	prices, err := pricing.Load(cfg.Paths.PricingFile)
	if err != nil {
		return nil, err
	}

	mr := router.NewModelRouter(cfg.LLM)
	svc := sessions.New(st, cat, mr, prices, sessions.Options{
		USDToJPY:       cfg.Pricing.USDToJPY,
		PersistAPIKeys: cfg.LLM.PersistAPIKeys,
		Events:         events,
		Observer:       observer,
	})

	return &Core{
		Config:   cfg,
		Store:    st,
		Catalog:  cat,
		Pricing:  prices,
		Router:   mr,
		Sessions: svc,
	}, nil
}

// NewJanitor returns the trash janitor, or nil when retention is disabled.
func NewJanitor(cfg *config.Config, core *Core) *retention.Janitor {
	rc := cfg.Retention
	if rc.TrashDays <= 0 {
		return nil
	}
	var archiver retention.Archiver
	if rc.ArchiveDir != "" {
		archiver = retention.NewLocalFileArchiver(rc.ArchiveDir, rc.Compress)
	}
	return retention.NewJanitor(core.Sessions, time.Duration(rc.TrashDays)*24*time.Hour, rc.Interval, archiver)
}

// Server holds the initialized chat server.
type Server struct {
	*Core

	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc stops background workers, closes live connections and
	// flushes telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes the server from environment configuration.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	renderer, err := web.NewRenderer()
	if err != nil {
		return nil, err
	}
	themes, err := web.LoadThemes()
	if err != nil {
		return nil, err
	}

	collector := metrics.New()
	events := notify.NewService(0)

	core, err := Open(ctx, cfg, events, collector)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", core.Store.Path()).Msg("✅ Chat log opened")

	// Live updates for browsers.
	sockets := hub.New()
	events.Register(sockets)

	// Session gauges follow every change.
	events.Register(notify.FuncChannel{
		ChannelName: "metrics",
		Fn: func(ctx context.Context, _ models.Event) error {
			counts, err := core.Sessions.Counts(ctx)
			if err != nil {
				return err
			}
			collector.SetSessionCounts(counts)
			return nil
		},
	})
	if counts, err := core.Sessions.Counts(ctx); err == nil {
		collector.SetSessionCounts(counts)
	}

	if cfg.Notify.WebhookURL != "" {
		events.Register(notify.NewWebhookChannel(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
		log.Info().Str("url", cfg.Notify.WebhookURL).Msg("✅ Event webhook enabled")
	}

	bg, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go events.Run(bg)

	var watcher *catalog.Watcher
	if cfg.Paths.WatchCatalog {
		watcher, err = catalog.NewWatcher(core.Catalog, cfg.Paths.ConfigDir, catalog.DefaultDebounce, func() {
			events.Publish(models.Event{Type: models.EventCatalogReloaded, Timestamp: time.Now()})
		})
		if err == nil {
			err = watcher.Start(bg)
		}
		if err != nil {
			log.Warn().Err(err).Str("dir", cfg.Paths.ConfigDir).Msg("Catalog watching disabled")
			if watcher != nil {
				watcher.Close()
				watcher = nil
			}
		}
	}

	if j := NewJanitor(cfg, core); j != nil {
		go j.Start(bg)
	}

	h := handlers.New(core.Sessions, core.Catalog, core.Pricing, renderer, themes, handlers.Options{
		USDToJPY: cfg.Pricing.USDToJPY,
		LogFile:  core.Store.Path(),
		Events:   events,
	})
	handler := api.NewRouter(cfg, api.Deps{
		Handlers: h,
		Metrics:  collector.Handler(),
		Events:   sockets,
	})

	log.Info().
		Int("deployments", len(core.Catalog.Models())).
		Strs("drivers", core.Router.ListDrivers()).
		Strs("channels", events.Channels()).
		Msg("✅ Chat server initialized")

	shutdown := func(ctx context.Context) error {
		cancel()
		sockets.CloseAll()
		var errs []error
		if watcher != nil {
			errs = append(errs, watcher.Close())
		}
		errs = append(errs, core.Store.Close(), shutdownTelemetry(ctx))
		return errors.Join(errs...)
	}

	return &Server{
		Core:         core,
		Handler:      handler,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}
