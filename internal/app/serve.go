package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"device-health-alerts/internal/server"
)

// Serve exposes the run trigger over HTTP until interrupted.
func (a *App) Serve(ctx context.Context) error {
	if a.Config.Server.CronToken == "" {
		return errors.New("server.cron_token must be configured")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := a.newService(store)
	srv := server.New(svc, a.Config.Server, a.Logger)

	httpServer := &http.Server{
		Addr:         a.Config.Server.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("listen", a.Config.Server.Listen).Msg("http server listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
		return err
	}

	a.Logger.Info().Msg("http server stopped")
	return nil
}
