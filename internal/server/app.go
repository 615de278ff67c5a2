// Package server wires the nodesync server together: it opens the store,
// builds the services and the notification hub, and runs the gRPC endpoint
// until the context is cancelled.
package server

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/server/config"
	"github.com/dmitrijs2005/nodesync/internal/server/hub"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/nodesync/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/nodesync/internal/server/grpc"
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  repomanager.Store
	server *gs.GRPCServer
}

// openPostgres is a seam for tests.
var openPostgres = func(ctx context.Context, dsn string) (repomanager.Store, error) {
	return repomanager.OpenPostgres(ctx, dsn)
}

func openStore(ctx context.Context, c *config.Config) (repomanager.Store, error) {
	if c.Memory {
		return memory.New(), nil
	}
	store, err := openPostgres(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	return store, nil
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	store, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	h := hub.New(hub.DefaultBuffer, logger)
	accounts := services.NewAccountService(store, c)
	sync := services.NewSyncService(store, h, c, logger)
	files := services.NewFileService(store, c)

	s := gs.NewGRPCServer(c.GRPCAddr, logger, accounts, sync, files, h, c.SecretKey)

	return &App{config: c, logger: logger, store: store, server: s}, nil
}

// Run serves until ctx is cancelled or the server fails, then closes the
// store.
func (app *App) Run(ctx context.Context) error {
	app.logger.Info(ctx, "Starting app...", "memory", app.config.Memory)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.server.Run(ctx)
	})

	err := g.Wait()
	if cerr := app.store.Close(); cerr != nil {
		app.logger.Error(context.Background(), "close store", "error", cerr)
	}
	app.logger.Info(context.Background(), "App stopped")
	return err
}
