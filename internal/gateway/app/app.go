package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"repoaudit/internal/app"
	"repoaudit/internal/config"
	"repoaudit/internal/gateway/handler"
	"repoaudit/internal/gateway/run"
	"repoaudit/internal/gateway/server"
)

type App struct {
	server *server.Server
	runs   *run.Service
	log    *zap.Logger
}

type deps struct {
	dig.In

	app.Components
	Server *server.Server
	Runs   *run.Service
}

// New loads configuration from configPath (optional) and assembles the
// gateway.
func New(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return NewWithConfig(cfg)
}

func NewWithConfig(cfg *config.Config) (*App, error) {
	c := dig.New()
	if err := app.RegisterProviders(c, cfg); err != nil {
		return nil, err
	}
	if err := registerGateway(c); err != nil {
		return nil, err
	}

	var d deps
	if err := c.Invoke(func(in deps) { d = in }); err != nil {
		return nil, fmt.Errorf("failed to build gateway: %w", err)
	}
	return &App{server: d.Server, runs: d.Runs, log: d.Logger}, nil
}

func registerGateway(c *dig.Container) error {
	providers := []any{
		newRunService,
		handler.NewAuditHandler,
		handler.NewWatchHandler,
		handler.NewTraceHandler,
		newServer,
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

func newRunService(in app.Components) *run.Service {
	return run.New(in.Stats, in.Orchestrator, in.Traces, in.Archive, run.Options{
		MaxRuns:   in.Config.Server.MaxRuns,
		Retention: in.Config.Server.RunRetention,
	}, in.Logger.Named("runs"))
}

func newServer(cfg *config.Config, audit *handler.AuditHandler, watch *handler.WatchHandler, traces *handler.TraceHandler, log *zap.Logger) *server.Server {
	mux := server.NewMux(cfg.Server.AllowedOrigins, audit, watch, traces)
	return server.New(cfg.Server.Port, mux, log.Named("server"))
}

func (a *App) Logger() *zap.Logger { return a.log }

func (a *App) Start() error {
	return a.server.Start()
}

// Shutdown stops accepting requests, then cancels in-flight runs.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if rerr := a.runs.Shutdown(ctx); rerr != nil {
		err = errors.Join(err, rerr)
	}
	_ = a.log.Sync()
	return err
}
