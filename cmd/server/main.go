package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/server"
	"github.com/dmitrijs2005/nodesync/internal/server/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}
	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel).With("app", "server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "init", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		logger.Error(context.Background(), "server stopped", "error", err)
		return 1
	}
	return 0
}
