package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aett-tours/tours-api/api/handlers"
	"github.com/aett-tours/tours-api/config"
)

func main() {
	conf, err := config.New()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	defer zap.L().Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := handlers.App{Config: *conf}
	if err := a.Initialize(ctx); err != nil { // initialize database and router
		zap.S().Fatalw("failed to initialize tours-api", "error", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%v", conf.Port),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zap.S().Infow("tours-api is up and running",
			"port", conf.Port,
			"url", conf.BaseURL,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Fatalw("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	zap.S().Info("shutting down tours-api")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown does not wait for hijacked websocket connections, the app
	// closes those itself
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorw("http server shutdown", "error", err)
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		zap.S().Errorw("app shutdown", "error", err)
	}
}
