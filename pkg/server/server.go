// Package server provides the public entry point for initializing the
// setter service: the multi-tenant control plane that owns platform
// workers, conversation state, and the automated response cascade.
//
// It lives in pkg/ (not internal/) so deployment-specific binaries can
// compose the server with extra middleware:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/ai"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/api"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/api/handlers"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/cache"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/cascade"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/chat"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/config"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/flow"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/metrics"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/network"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/pipeline"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/store/postgres"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/telemetry"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/tier"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/internal/worker"
	"github.com/Alets-Nexfy/new-setter-wsp-sub001/pkg/models"
)

// eventBufferSize bounds how many worker lifecycle events are kept for the
// operations API.
const eventBufferSize = 512

// Server holds the initialized setter service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (Postgres when DATABASE_URL is set, in-memory
	// otherwise).
	Store store.Store

	// Manager owns every tenant worker. Exposed so main can stop workers
	// before the process exits.
	Manager *worker.Manager

	// Config is the loaded configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from environment configuration and returns
// a ready Server. Background loops (sweeper, heartbeat monitor) run until
// ctx is cancelled.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the service with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	networkCache, err := newCache(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()

	engine := network.NewEngine(dataStore, networkCache, cfg.Cache.NetworkTTL)
	state := chat.NewState(dataStore)
	casc := cascade.New(dataStore, flow.NewExecutor(), ai.NewClient(cfg.AI), nil)

	factory := func(tenantID string, t models.Tier) (worker.Runtime, error) {
		return &worker.LoopbackRuntime{
			TenantID:          tenantID,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		}, nil
	}
	manager := worker.NewManager(cfg.Worker, tier.NewCatalog(cfg.Tier), dataStore, factory, worker.NewEventBuffer(eventBufferSize), m)

	pipe := pipeline.New(dataStore, state, engine, casc, manager, m)
	manager.SetHandler(pipe)

	gateway := worker.NewGateway(manager)
	sweeper := chat.NewSweeper(dataStore, state, cfg.Sweep, m)

	go sweeper.Start(ctx)
	go manager.MonitorHeartbeats(ctx)

	h := handlers.New(dataStore, manager, pipe, engine, state, gateway)
	router := api.NewRouter(cfg, h, m)

	log.Info().
		Str("ai_provider", cfg.AI.Provider).
		Str("ai_model", cfg.AI.Model).
		Msg("Setter service initialized")

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Manager:      manager,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func newStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.URL != "" {
		s, err := postgres.NewStore(cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		log.Info().Int("max_conns", cfg.Database.MaxConnections).Msg("Postgres store initialized")
		return s, nil
	}
	log.Info().Msg("In-memory store initialized")
	return store.NewMemoryStore(), nil
}

func newCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.RedisURL != "" {
		c, err := cache.NewRedis(cfg.Cache.RedisURL, cfg.Cache.RedisPassword)
		if err != nil {
			return nil, fmt.Errorf("init redis cache: %w", err)
		}
		log.Info().Str("addr", cfg.Cache.RedisURL).Msg("Redis network cache initialized")
		return c, nil
	}
	return cache.NewMemory(), nil
}
