package app

import (
	"context"
	"fmt"

	"github.com/yungbote/conceptgraph/internal/observability"
	"github.com/yungbote/conceptgraph/internal/pkg/ctxutil"
	"github.com/yungbote/conceptgraph/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services

	otelShutdown func(context.Context) error
}

// New validates cfg and wires only what its mode needs: a stage run never
// dials Neo4j and a load run never opens object storage.
func New(ctx context.Context, cfg Config) (*App, error) {
	ctx = ctxutil.Default(ctx)
	logMode := cfg.LogMode
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if err := ValidateConfig(cfg); err != nil {
		log.Sync()
		return nil, err
	}

	shutdown := observability.InitOTel(ctx, log, cfg.Otel)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		_ = shutdown(ctx)
		log.Sync()
		return nil, err
	}
	reposet := wireRepos(clients, log)
	serviceset, err := wireServices(log, cfg, clients, reposet)
	if err != nil {
		clients.Close()
		_ = shutdown(ctx)
		log.Sync()
		return nil, err
	}

	return &App{
		Log:          log,
		Cfg:          cfg,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		otelShutdown: shutdown,
	}, nil
}

// Execute runs the pipeline in the configured mode.
func (a *App) Execute(ctx context.Context) (RunResult, error) {
	if a == nil || a.Services.OntologyUpdate == nil {
		return RunResult{}, fmt.Errorf("app not initialized")
	}
	switch a.Cfg.Mode {
	case ModeStage:
		return a.Services.OntologyUpdate.Stage(ctx, a.Cfg.Sources)
	case ModeLoad:
		return a.Services.OntologyUpdate.Load(ctx)
	default:
		return a.Services.OntologyUpdate.Run(ctx, a.Cfg.Sources)
	}
}

func (a *App) Close() {
	if a == nil {
		return
	}
	a.Clients.Close()
	if a.otelShutdown != nil {
		if err := a.otelShutdown(context.Background()); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
