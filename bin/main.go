package main

import (
	"arena/lib/config"
	"arena/lib/maintenance"
	"arena/lib/server"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("cannot load config: %s", err))
	}

	close_logs, err := maintenance.InitLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("cannot init logger: %s", err))
	}
	defer close_logs()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	arena_server := server.New(cfg)
	arena_server.Start(ctx)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		slog.Info("Shutting down the server")
		shutdown_ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := arena_server.Shutdown(shutdown_ctx); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	if err := arena_server.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		panic(fmt.Sprintf("cannot start server: %s", err))
	}
	<-stopped
}
