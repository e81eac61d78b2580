package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"device-health-alerts/internal/scheduler"
)

// Run executes evaluation passes on the in-process schedule until
// interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().Dur("interval", a.Config.Scheduler.Interval).Msg("starting evaluation loop")

	// A failed pass (including ErrDeviceList) only fails that tick; the
	// scheduler logs it and the next tick retries.
	err = sched.Run(ctx, func(ctx context.Context) error {
		_, err := svc.RunPass(ctx)
		return err
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("evaluation loop terminated with error")
		return err
	}

	a.Logger.Info().Msg("evaluation loop stopped")
	return nil
}
