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

	"github.com/xiaot623/gogo/runview/internal/config"
	"github.com/xiaot623/gogo/runview/internal/devbackend"
	"github.com/xiaot623/gogo/runview/internal/repository"
)

func main() {
	config.LoadEnvFile()
	cfg := config.LoadDev()
	config.SetupLogging(cfg.LogLevel)

	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	svc := devbackend.NewService(store, devbackend.NewBus(), cfg.StepDelay)

	server := devbackend.NewServer(devbackend.NewHandler(svc), cfg.AuthToken)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}()
	slog.Info("Development backend started", "port", cfg.HTTPPort, "auth", cfg.AuthToken != "")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down development backend...")
	svc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("Failed to shutdown HTTP server gracefully", "error", err)
	}
}
