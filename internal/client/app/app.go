package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/config"
	"github.com/dmitrijs2005/nodesync/internal/client/connection"
	"github.com/dmitrijs2005/nodesync/internal/client/events"
	"github.com/dmitrijs2005/nodesync/internal/client/jobs"
	"github.com/dmitrijs2005/nodesync/internal/client/mutation"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/sqlitedb"
	"github.com/dmitrijs2005/nodesync/internal/client/syncer"
	"github.com/dmitrijs2005/nodesync/internal/client/transport"
	"github.com/dmitrijs2005/nodesync/internal/client/txlog"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/filex"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"golang.org/x/sync/errgroup"
)

// Remote is the server as seen by the client.
type Remote interface {
	syncer.Pusher
	connection.Dialer
	Register(ctx context.Context, email, password string) (*wire.RegisterResponse, error)
	Login(ctx context.Context, email, password, deviceID string) (*wire.LoginResponse, error)
	PresignFileUpload(ctx context.Context, workspaceID, nodeID string) (*wire.PresignResponse, error)
	SetAccessToken(token string)
}

type App struct {
	cfg    *config.Config
	db     *sql.DB
	repos  repomanager.RepositoryManager
	remote Remote
	logger logging.Logger
	http   *http.Client

	bus      *events.Bus
	log      *txlog.Log
	sched    *jobs.Scheduler
	conn     *connection.Manager
	syncer   *syncer.Syncer
	pipeline *mutation.Pipeline

	deviceID string
	running  atomic.Bool

	mu      sync.RWMutex
	session *metadata.Session
}

// New builds the client over an open, migrated database.
func New(ctx context.Context, db *sql.DB, remote Remote, cfg *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	a := &App{
		cfg:    cfg,
		db:     db,
		repos:  repomanager.NewSQLiteRepositoryManager(),
		remote: remote,
		logger: logger.With("module", "app"),
		http:   &http.Client{Timeout: 10 * time.Minute},
		bus:    events.NewBus(),
	}

	a.log = txlog.New(db, a.repos, txlog.WithLogger(logger))
	a.sched = jobs.New(jobs.Config{
		MaxConcurrent: cfg.MaxConcurrentJobs,
		BackoffMin:    cfg.ReconnectMin,
		BackoffMax:    cfg.ReconnectMax,
	}, logger)
	a.conn = connection.New(remote, a, logger, connection.Config{
		PingInterval:   cfg.PingInterval,
		IdleTimeout:    cfg.IdleTimeout,
		RequestTimeout: cfg.RequestTimeout,
		ReconnectMin:   cfg.ReconnectMin,
		ReconnectMax:   cfg.ReconnectMax,
	})
	a.syncer = syncer.New(a.log, remote, a.conn, a.sched, a.bus, logger, syncer.Config{
		BatchSize:         cfg.OutboundBatchSize,
		OfflineRetryDelay: cfg.OfflineRetryDelay,
	})
	a.syncer.Register(a.sched)
	a.sched.Register(JobUpload, a.uploadFiles)

	a.pipeline = mutation.New(db, a.repos, a.log,
		mutation.NewRoleAuthorizer(db, a.repos), a.bus,
		mutation.WithLogger(logger),
		mutation.WithAfterCommit(a.afterCommit),
	)

	meta := a.repos.Metadata(db)
	a.deviceID = cfg.DeviceID
	if a.deviceID == "" {
		id, err := metadata.DeviceID(ctx, meta)
		if err != nil {
			return nil, fmt.Errorf("device id: %w", err)
		}
		a.deviceID = id
	}

	s, err := metadata.LoadSession(ctx, meta)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s != nil {
		a.session = s
		remote.SetAccessToken(s.AccessToken)
	}
	return a, nil
}

// Open creates the database directory, opens the store and dials the server.
// The returned function releases both.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, func() error, error) {
	if err := filex.EnsureParentDir(cfg.DatabasePath); err != nil {
		return nil, nil, err
	}
	db, err := sqlitedb.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, nil, err
	}
	remote, err := transport.New(cfg.ServerAddr)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	a, err := New(ctx, db, remote, cfg, logger)
	if err != nil {
		_ = remote.Close()
		_ = db.Close()
		return nil, nil, err
	}
	closer := func() error {
		a.bus.Close()
		return errors.Join(remote.Close(), db.Close())
	}
	return a, closer, nil
}

func (a *App) DeviceID() string { return a.deviceID }

// Events subscribes to domain events.
func (a *App) Events(buffer int) (<-chan events.Event, func()) {
	return a.bus.Subscribe(buffer)
}

func (a *App) Session() *metadata.Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.session == nil {
		return nil
	}
	s := *a.session
	return &s
}

func (a *App) accountID() (string, error) {
	s := a.Session()
	if s == nil {
		return "", fmt.Errorf("%w: not signed in", common.ErrUnauthorized)
	}
	return s.AccountID, nil
}

// Run replicates until ctx is done. It requires a session.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.accountID(); err != nil {
		return err
	}
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("client already running")
	}
	defer a.running.Store(false)

	states, cancel := a.conn.Subscribe()
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sched.Run(ctx) })
	g.Go(func() error { return a.conn.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case s := <-states:
				a.bus.Publish(events.Event{
					Type: events.ConnectionChanged,
					Data: map[string]any{"state": s.String()},
				})
			}
		}
	})
	return g.Wait()
}

func (a *App) enqueue(ctx context.Context, job jobs.Job) {
	if !a.running.Load() {
		return
	}
	if err := a.sched.Enqueue(job); err != nil {
		a.logger.Warn(ctx, "enqueue failed", "key", job.Key, "error", err)
	}
}

// wake enqueues job and cuts short any retry delay its key is waiting out.
func (a *App) wake(ctx context.Context, job jobs.Job) {
	if !a.running.Load() {
		return
	}
	a.enqueue(ctx, job)
	a.sched.Kick(job.Key)
}

func (a *App) afterCommit(ctx context.Context, r *mutation.Result) {
	accountID, err := a.accountID()
	if err != nil {
		return
	}
	a.enqueue(ctx, syncer.OutboundJob(accountID, r.Transaction.WorkspaceID))
}

// OnConnected triggers the account stream and both directions of every
// known workspace.
func (a *App) OnConnected(ctx context.Context) {
	accountID, err := a.accountID()
	if err != nil {
		return
	}
	a.wake(ctx, syncer.InboundAccountJob(accountID))

	list, err := a.log.Workspaces(ctx, accountID)
	if err != nil {
		a.logger.Error(ctx, "list workspaces", "error", err)
		return
	}
	for _, w := range list {
		a.wake(ctx, syncer.OutboundJob(accountID, w.ID))
		a.wake(ctx, syncer.InboundWorkspaceJob(accountID, w.ID))
		a.wake(ctx, UploadJob(accountID, w.ID))
	}
}

func (a *App) OnAccountChanged(ctx context.Context) {
	if accountID, err := a.accountID(); err == nil {
		a.enqueue(ctx, syncer.InboundAccountJob(accountID))
	}
}

func (a *App) OnWorkspaceChanged(ctx context.Context, workspaceID string) {
	if accountID, err := a.accountID(); err == nil {
		a.enqueue(ctx, syncer.InboundWorkspaceJob(accountID, workspaceID))
	}
}
