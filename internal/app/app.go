package app

import (
	"context"

	"github.com/rs/zerolog"

	"device-health-alerts/internal/alerting"
	"device-health-alerts/internal/config"
	"device-health-alerts/internal/service"
	"device-health-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool, a.Logger)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	if !a.Config.Alerting.Enabled {
		return nil
	}
	if a.Config.Alerting.Resend.Enabled {
		cfg := a.Config.Alerting.Resend
		return alerting.NewResendNotifier(cfg.APIKey, cfg.From, cfg.APIBase, cfg.RequestTimeout, a.Logger)
	}
	a.Logger.Warn().Msg("alerting enabled but no outbound channel configured")
	return nil
}

// newService wires the run coordinator over an open store.
func (a *App) newService(store *storage.Store) *service.Service {
	var dispatcher service.AlertDispatcher
	if notifier := a.newNotifier(); notifier != nil {
		dispatcher = alerting.NewDispatcher(store, notifier, a.Config.Alerting.SubjectPrefix, a.Logger)
	}

	dedup := service.NewDeduplicator(store, a.Config.Evaluation.DedupScope == config.DedupScopeProbe)

	return service.New(
		store,
		store,
		store,
		dedup,
		dispatcher,
		store,
		service.Options{
			Concurrency: a.Config.Evaluation.Concurrency,
			RunTimeout:  a.Config.Evaluation.RunTimeout,
			LockKey:     a.Config.Scheduler.AdvisoryLockKey,
		},
		a.Logger,
	)
}
