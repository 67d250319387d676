package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// serve runs the match server until SIGINT or SIGTERM. On a signal it stops
// accepting requests, then closes the hub and the session registry, so no
// clock keeps ticking once serve returns.
func (app *application) serve() error {
	app.Server = &http.Server{
		Addr:         ":" + app.Config.Port,
		Handler:      app.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopped := make(chan error, 1)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		s := <-quit
		app.Logger.Info("stopping match server",
			zap.String("signal", s.String()),
			zap.Int("sessions", app.Manager.Len()),
			zap.Int("connections", app.Hub.Connections()),
		)

		ctx, cancel := context.WithTimeout(context.Background(), app.Config.ShutdownTimeout)
		defer cancel()

		// hijacked websockets are not tracked by Shutdown; the hub closes them
		err := app.Server.Shutdown(ctx)
		if err != nil {
			app.Logger.Error("http server did not drain in time", zap.Error(err))
		}

		app.Shutdown()
		stopped <- err
	}()

	app.Logger.Info("match server listening",
		zap.String("address", app.Server.Addr),
		zap.Duration("tick_interval", app.Config.TickInterval),
		zap.Duration("session_stale_after", app.Config.StaleAfter),
	)

	if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if err := <-stopped; err != nil {
		return err
	}

	app.Logger.Info("match server stopped")
	return nil
}
