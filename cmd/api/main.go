package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammadpnp/card-ingest/internal/bootstrap"
	"github.com/mohammadpnp/card-ingest/internal/config"
	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

func main() {
	cfg, err := config.Load(".env", ".env.local")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer appLog.Sync()

	a, err := bootstrap.Build(context.Background(), cfg, appLog)
	if err != nil {
		appLog.Fatal("failed to start", "error", err)
	}

	server := bootstrap.NewHTTPServer(a)

	go func() {
		appLog.Info("http server listening", "port", cfg.Port)
		if err := server.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLog.Error("graceful shutdown failed", "error", err)
	}
	a.Close()
}
