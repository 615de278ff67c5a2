// Package txlog is the device's transaction log: the durable, per-node ordered
// record of every mutation, and the only writer of node state and cursors.
package txlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/nodetypes"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/google/uuid"
)

// MergeFunc reconciles a server value and a pending local value of one
// attribute. It returns common.ErrMergeConflict when they cannot be combined.
type MergeFunc func(t models.NodeType, key string, server, local any) (any, error)

type Log struct {
	db       *sql.DB
	repos    repomanager.RepositoryManager
	merge    MergeFunc
	logger   logging.Logger
	now      func() time.Time
	newID    func() string
	pageSize int

	// beforeCursor runs inside ApplyBatch after the items are applied and
	// before the cursor is written.
	beforeCursor func() error
}

type Option func(*Log)

func WithMerge(f MergeFunc) Option { return func(l *Log) { l.merge = f } }

func WithLogger(lg logging.Logger) Option { return func(l *Log) { l.logger = lg } }

func WithClock(now func() time.Time) Option { return func(l *Log) { l.now = now } }

func WithIDGenerator(f func() string) Option { return func(l *Log) { l.newID = f } }

// WithPageSize sets how many rows Pending reads per query.
func WithPageSize(n int) Option { return func(l *Log) { l.pageSize = n } }

func New(db *sql.DB, repos repomanager.RepositoryManager, opts ...Option) *Log {
	l := &Log{
		db:       db,
		repos:    repos,
		merge:    nodetypes.Merge,
		logger:   logging.Nop{},
		now:      time.Now,
		newID:    NewID,
		pageSize: 100,
	}
	for _, o := range opts {
		o(l)
	}
	l.logger = l.logger.With("module", "txlog")
	return l
}

// NewID returns a time-sortable unique id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Append records a locally produced transaction in its own durable unit.
func (l *Log) Append(ctx context.Context, tx *models.Transaction) error {
	return dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		return l.AppendTx(ctx, q, tx)
	})
}

// AppendTx records tx using q, so callers can fold it into a larger unit.
//
// A create requires the node to be absent (tombstones count as present) and
// version 1. An update or delete requires a live node and exactly the next
// version.
func (l *Log) AppendTx(ctx context.Context, q dbx.DBTX, tx *models.Transaction) error {
	nodeRepo := l.repos.Nodes(q)
	txRepo := l.repos.Transactions(q)

	node, err := nodeRepo.Get(ctx, tx.NodeID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	exists := err == nil

	switch tx.Operation {
	case models.OperationCreate:
		if exists {
			return fmt.Errorf("%w: node %s already exists", common.ErrVersionConflict, tx.NodeID)
		}
		if tx.Version != 1 {
			return fmt.Errorf("%w: create must produce version 1, got %d", common.ErrVersionConflict, tx.Version)
		}
		node = &models.Node{
			ID:               tx.NodeID,
			Type:             tx.NodeType,
			ParentID:         tx.ParentID,
			RootID:           tx.RootID,
			WorkspaceID:      tx.WorkspaceID,
			Attributes:       models.ApplyDiff(models.Attributes{}, tx.Data),
			CreatedBy:        tx.CreatedBy,
			CreatedAt:        tx.CreatedAt,
			Version:          1,
			ServerAttributes: models.Attributes{},
		}
		if _, err := txRepo.Insert(ctx, tx); err != nil {
			return err
		}
		return nodeRepo.Insert(ctx, node)

	case models.OperationUpdate, models.OperationDelete:
		if !exists {
			return fmt.Errorf("%w: node %s is unknown", common.ErrVersionConflict, tx.NodeID)
		}
		if node.Deleted {
			return fmt.Errorf("node %s: %w", tx.NodeID, common.ErrNodeDeleted)
		}
		if tx.Version != node.Version+1 {
			return fmt.Errorf("%w: node %s is at version %d, transaction produces %d",
				common.ErrVersionConflict, tx.NodeID, node.Version, tx.Version)
		}
		if _, err := txRepo.Insert(ctx, tx); err != nil {
			return err
		}
		if tx.Operation == models.OperationUpdate {
			node.Attributes = models.ApplyDiff(node.Attributes, tx.Data)
		} else {
			node.Deleted = true
		}
		node.Version = tx.Version
		node.UpdatedBy = tx.CreatedBy
		at := tx.CreatedAt
		node.UpdatedAt = &at
		return nodeRepo.Update(ctx, node)
	}
	return fmt.Errorf("%w: unknown operation %q", common.ErrValidation, tx.Operation)
}

// MarkAcknowledged records the server's acceptance of a pending transaction.
// Repeating a call with the same arguments is a no-op; repeating it with
// different ones fails with common.ErrAlreadyAcknowledged. Server times are
// compared at microsecond precision, the precision the server stores.
func (l *Log) MarkAcknowledged(ctx context.Context, txID string, serverCreatedAt time.Time, version int64) error {
	return dbx.WithTx(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) error {
		tx, err := l.repos.Transactions(q).Get(ctx, txID)
		if err != nil {
			return err
		}
		if !tx.Pending() {
			if sameServerTime(*tx.ServerCreatedAt, serverCreatedAt) && tx.Version == version {
				return nil
			}
			return fmt.Errorf("%w: %s", common.ErrAlreadyAcknowledged, txID)
		}
		return l.acknowledge(ctx, q, tx, serverCreatedAt, version, 0)
	})
}

func sameServerTime(a, b time.Time) bool {
	return a.Truncate(time.Microsecond).Equal(b.Truncate(time.Microsecond))
}

// acknowledge marks a pending transaction as accepted and moves the node's
// server state past it. Local state already contains it.
func (l *Log) acknowledge(ctx context.Context, q dbx.DBTX, tx *models.Transaction, at time.Time, version, seq int64) error {
	if tx.Version != version {
		return fmt.Errorf("%w: transaction %s has version %d, server acknowledged %d",
			common.ErrVersionConflict, tx.ID, tx.Version, version)
	}

	nodeRepo := l.repos.Nodes(q)
	node, err := nodeRepo.Get(ctx, tx.NodeID)
	if err != nil {
		return err
	}
	if node.ServerVersion+1 != version {
		return fmt.Errorf("%w: node %s server version %d cannot take %d",
			common.ErrVersionConflict, node.ID, node.ServerVersion, version)
	}

	if err := l.repos.Transactions(q).MarkAcknowledged(ctx, tx.ID, at.UTC(), seq); err != nil {
		return err
	}
	advanceServer(node, tx)
	return nodeRepo.Update(ctx, node)
}

func advanceServer(node *models.Node, tx *models.Transaction) {
	switch tx.Operation {
	case models.OperationCreate:
		node.ServerAttributes = models.ApplyDiff(models.Attributes{}, tx.Data)
	case models.OperationUpdate:
		node.ServerAttributes = models.ApplyDiff(node.ServerAttributes, tx.Data)
	case models.OperationDelete:
		node.ServerDeleted = true
	}
	node.ServerVersion = tx.Version
}

// Reject drops a pending transaction the server refused and rebuilds the node
// without it. A refused create removes the node and all of its pending work,
// since the server never learned about it. The dropped transactions are
// returned.
func (l *Log) Reject(ctx context.Context, txID, reason string) ([]*models.Transaction, error) {
	return dbx.WithTxValue(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) ([]*models.Transaction, error) {
		txRepo := l.repos.Transactions(q)
		nodeRepo := l.repos.Nodes(q)

		tx, err := txRepo.Get(ctx, txID)
		if err != nil {
			return nil, err
		}
		if !tx.Pending() {
			return nil, fmt.Errorf("%w: %s", common.ErrAlreadyAcknowledged, txID)
		}

		node, err := nodeRepo.Get(ctx, tx.NodeID)
		if err != nil {
			return nil, err
		}
		pending, err := txRepo.ListPendingByNode(ctx, node.ID)
		if err != nil {
			return nil, err
		}

		l.logger.Warn(ctx, "transaction rejected", "tx", txID, "node", node.ID, "reason", reason)

		if node.ServerVersion == 0 {
			if err := txRepo.DeleteByNode(ctx, node.ID); err != nil {
				return nil, err
			}
			return pending, nodeRepo.Delete(ctx, node.ID)
		}

		var kept []*models.Transaction
		for _, p := range pending {
			if p.ID != txID {
				kept = append(kept, p)
			}
		}
		if err := l.rewritePending(ctx, q, node, kept); err != nil {
			return nil, err
		}
		return []*models.Transaction{tx}, nil
	})
}

// rewritePending replaces the node's pending rows with kept, renumbered from
// the server version, and rebuilds the materialized state from them.
func (l *Log) rewritePending(ctx context.Context, q dbx.DBTX, node *models.Node, kept []*models.Transaction) error {
	txRepo := l.repos.Transactions(q)
	if err := txRepo.DeletePendingByNode(ctx, node.ID); err != nil {
		return err
	}
	if err := l.insertPending(ctx, q, node, kept); err != nil {
		return err
	}
	return l.repos.Nodes(q).Update(ctx, node)
}

func (l *Log) insertPending(ctx context.Context, q dbx.DBTX, node *models.Node, kept []*models.Transaction) error {
	txRepo := l.repos.Transactions(q)
	for i, p := range kept {
		p.Version = node.ServerVersion + int64(i) + 1
		if _, err := txRepo.Insert(ctx, p); err != nil {
			return err
		}
	}
	rebuild(node, kept)
	return nil
}

// rebuild sets the local view to the server state plus the pending diffs.
func rebuild(node *models.Node, pending []*models.Transaction) {
	attrs := node.ServerAttributes.Clone()
	deleted := node.ServerDeleted
	version := node.ServerVersion

	for _, p := range pending {
		switch p.Operation {
		case models.OperationCreate:
			attrs = models.ApplyDiff(models.Attributes{}, p.Data)
		case models.OperationUpdate:
			attrs = models.ApplyDiff(attrs, p.Data)
		case models.OperationDelete:
			deleted = true
		}
		version = p.Version
	}

	node.Attributes = attrs
	node.Deleted = deleted
	node.Version = version
}

// Replay rebuilds a node from its log rows. The result equals the stored
// state whenever the log is consistent.
func (l *Log) Replay(ctx context.Context, nodeID string) (models.Attributes, int64, bool, error) {
	txs, err := l.repos.Transactions(l.db).ListByNode(ctx, nodeID)
	if err != nil {
		return nil, 0, false, err
	}
	if len(txs) == 0 {
		return nil, 0, false, fmt.Errorf("node %s: %w", nodeID, common.ErrNotFound)
	}

	// A tombstone learned without its history starts at the delete.
	if first := txs[0]; first.Version != 1 && first.Operation == models.OperationDelete && len(txs) == 1 {
		return models.Attributes{}, first.Version, true, nil
	}
	return models.Replay(txs)
}
