package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/nodesync/internal/client/app"
	"github.com/dmitrijs2005/nodesync/internal/client/cli"
	"github.com/dmitrijs2005/nodesync/internal/client/config"
	"github.com/dmitrijs2005/nodesync/internal/flagx"
	"github.com/dmitrijs2005/nodesync/internal/logging"
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
	logger := logging.New(os.Stderr, cfg.LogFormat, cfg.LogLevel).With("app", "client")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, closeApp, err := app.Open(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	defer func() {
		if err := closeApp(); err != nil {
			logger.Error(context.Background(), "close", "error", err)
		}
	}()

	args := flagx.RemoveArgs(os.Args[1:], config.Flags())
	if err := cli.Execute(ctx, a, bufio.NewReader(os.Stdin), args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
