package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/yungbote/trace-backend/internal/http"
	"github.com/yungbote/trace-backend/internal/observability"
	"github.com/yungbote/trace-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Services Services
	Server   *http.Server
	Metrics  *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading configuration...")
	cfg, err := LoadConfig(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("load config: %w", err)
	}

	metrics := observability.Init(log)

	clients, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	// Jobs, scheduled runs and the SSE bus live until Close.
	ctx, cancel := context.WithCancel(context.Background())
	services, err := wireServices(ctx, log, cfg, clients)
	if err != nil {
		cancel()
		clients.Close()
		log.Sync()
		return nil, fmt.Errorf("wire services: %w", err)
	}

	handlers := wireHandlers(log, services)
	server := wireServer(log, cfg, metrics, handlers)

	return &App{
		Log:      log,
		Cfg:      cfg,
		Clients:  clients,
		Services: services,
		Server:   server,
		Metrics:  metrics,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (a *App) Start() {
	if a == nil || a.ctx == nil {
		return
	}
	if err := a.Services.Tools.AssertReady(a.ctx); err != nil {
		a.Log.Warn("Media tools not ready; audio and video jobs will fail", "error", err)
	}
	if a.Clients.Redis != nil {
		a.Metrics.StartRedisCollector(a.ctx, a.Log, a.Clients.Redis, 15*time.Second)
	}
	a.Services.Scheduler.Start()
}

func (a *App) Run() error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("HTTP server listening", "addr", a.Cfg.HTTPAddr)
	return a.Server.Run(a.Cfg.HTTPAddr)
}

// Close stops intake first, then background work, then the clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout.Std())
	defer cancel()

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			a.Log.Warn("HTTP shutdown failed", "error", err)
		}
	}
	if a.Services.Scheduler != nil {
		a.Services.Scheduler.Stop(ctx)
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Runner != nil {
		a.Services.Runner.Wait()
	}
	if a.Services.Router != nil {
		a.Services.Router.Wait()
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
