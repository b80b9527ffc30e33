package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/runview/internal/adapter/backend"
	"github.com/xiaot623/gogo/runview/internal/adapter/stream"
	"github.com/xiaot623/gogo/runview/internal/config"
	"github.com/xiaot623/gogo/runview/internal/hub"
	"github.com/xiaot623/gogo/runview/internal/policy"
	"github.com/xiaot623/gogo/runview/internal/poller"
	internalhttp "github.com/xiaot623/gogo/runview/internal/transport/http"
	v1 "github.com/xiaot623/gogo/runview/internal/transport/http/v1"
	"github.com/xiaot623/gogo/runview/internal/transport/ws"
	"github.com/xiaot623/gogo/runview/internal/workspace"
)

func main() {
	config.LoadEnvFile()
	cfg := config.Load()
	config.SetupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("runview exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting runview", "http_port", cfg.HTTPPort, "backend_url", cfg.BackendURL)

	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to load fetch policy: %w", err)
	}
	gate := policy.NewGate(engine)
	gate.OnChange(func(s policy.AuthState) {
		slog.Info("Auth state changed", "state", s)
	})
	if cfg.BackendToken != "" {
		if err := gate.SignIn(cfg.BackendToken); err != nil {
			return err
		}
	}

	client := backend.NewClient(cfg.BackendURL, cfg.HTTPTimeout, gate)

	views, err := workspace.New(client, cfg.SnapshotCacheSize)
	if err != nil {
		return err
	}
	tracker := poller.New(client, views, poller.Config{
		Interval:  cfg.PollInterval,
		MaxErrors: cfg.PollMaxErrors,
	})
	defer tracker.Close()
	views.SetTracker(tracker)

	connectionHub := hub.NewHub()
	views.Subscribe(connectionHub)

	wsServer := ws.NewServer(cfg, connectionHub, views)
	api := v1.NewHandler(views, tracker, gate)
	server := internalhttp.NewServer(api, wsServer)

	subscriber := stream.NewSubscriber(cfg.BackendURL, gate, cfg.StreamReconnect, views.HandleStreamPayload)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		connectionHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return subscriber.Run(gctx)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down runview...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("runview stopped")
	return nil
}
