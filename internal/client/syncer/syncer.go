// Package syncer implements the replication jobs: draining pending local
// transactions to the server and pulling the account and workspace streams.
package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/events"
	"github.com/dmitrijs2005/nodesync/internal/client/jobs"
	"github.com/dmitrijs2005/nodesync/internal/client/txlog"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
)

const (
	JobOutbound = "sync.outbound"
	JobInbound  = "sync.inbound"
)

// Pusher submits pending transactions.
type Pusher interface {
	PushTransactions(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error)
}

// Connection is the account's duplex channel.
type Connection interface {
	Connected() bool
	Request(ctx context.Context, in *wire.SyncInput) (*wire.SyncOutput, error)
}

type Scheduler interface {
	Enqueue(job jobs.Job) error
	Deactivate(ctx context.Context, scope string) error
	Activate(scope string)
}

type Config struct {
	BatchSize         int
	MaxRounds         int
	OfflineRetryDelay time.Duration
}

// Input is the payload of both job types. An inbound job with an empty
// WorkspaceID pulls the account stream.
type Input struct {
	AccountID   string
	WorkspaceID string
}

func OutboundJob(accountID, workspaceID string) jobs.Job {
	return jobs.Job{
		Type:  JobOutbound,
		Key:   models.OutboundJobKey(accountID, workspaceID),
		Input: Input{AccountID: accountID, WorkspaceID: workspaceID},
	}
}

func InboundWorkspaceJob(accountID, workspaceID string) jobs.Job {
	return jobs.Job{
		Type:  JobInbound,
		Key:   models.InboundWorkspaceJobKey(accountID, workspaceID),
		Input: Input{AccountID: accountID, WorkspaceID: workspaceID},
	}
}

func InboundAccountJob(accountID string) jobs.Job {
	return jobs.Job{
		Type:  JobInbound,
		Key:   models.InboundAccountJobKey(accountID),
		Input: Input{AccountID: accountID},
	}
}

type Syncer struct {
	log    *txlog.Log
	push   Pusher
	conn   Connection
	sched  Scheduler
	events events.Publisher
	logger logging.Logger
	cfg    Config
}

func New(log *txlog.Log, push Pusher, conn Connection, sched Scheduler, pub events.Publisher, logger logging.Logger, cfg Config) *Syncer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 10
	}
	if cfg.OfflineRetryDelay <= 0 {
		cfg.OfflineRetryDelay = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Syncer{
		log:    log,
		push:   push,
		conn:   conn,
		sched:  sched,
		events: pub,
		logger: logger.With("module", "syncer"),
		cfg:    cfg,
	}
}

// Register installs both handlers.
func (s *Syncer) Register(r interface {
	Register(jobType string, h jobs.Handler)
}) {
	r.Register(JobOutbound, s.Outbound)
	r.Register(JobInbound, s.Inbound)
}

func (s *Syncer) enqueue(ctx context.Context, job jobs.Job) {
	if err := s.sched.Enqueue(job); err != nil {
		s.logger.Warn(ctx, "enqueue failed", "key", job.Key, "error", err)
	}
}

// outcome maps an error to what the scheduler should do with the job.
func outcome(ctx context.Context, err error) jobs.Outcome {
	switch {
	case ctx.Err() != nil:
		return jobs.Cancel(ctx.Err())
	case common.IsTransient(err):
		return jobs.RetryBackoff(err)
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrServerRejected):
		return jobs.Cancel(err)
	}
	return jobs.RetryBackoff(err)
}

func input(job jobs.Job) (Input, bool) {
	in, ok := job.Input.(Input)
	return in, ok && in.AccountID != ""
}
