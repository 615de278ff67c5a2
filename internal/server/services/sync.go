package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	shared "github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/server/config"
	"github.com/dmitrijs2005/nodesync/internal/server/models"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/nodesync/internal/wire"
)

// Notifier delivers a frame to every open channel of an account.
type Notifier interface {
	Notify(accountID string, f *wire.Frame)
}

// SyncService is the authoritative transaction log. It decides, per pushed
// transaction, whether it extends the node's history, conflicts with it or
// can never be applied, and serves the replication streams.
type SyncService struct {
	store    repomanager.Store
	notifier Notifier
	pageSize int
	logger   logging.Logger
	now      func() time.Time
}

func NewSyncService(store repomanager.Store, n Notifier, cfg *config.Config, logger logging.Logger) *SyncService {
	return &SyncService{
		store:    store,
		notifier: n,
		pageSize: cfg.PullPageSize,
		logger:   logger.With("module", "sync_service"),
		now:      time.Now,
	}
}

// membership returns the caller's active membership in workspaceID.
func (s *SyncService) membership(ctx context.Context, r repomanager.Repos, accountID, workspaceID string) (*shared.Membership, error) {
	m, err := r.Workspaces.GetMembership(ctx, accountID, workspaceID)
	if errors.Is(err, common.ErrNotFound) || (err == nil && m.Removed) {
		return nil, fmt.Errorf("%w: not a member of workspace %s", common.ErrUnauthorized, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Push processes txs in order. Each transaction is decided in its own
// database transaction, so an error part way leaves the earlier ones
// acknowledged; pushing them again is idempotent.
func (s *SyncService) Push(ctx context.Context, accountID, workspaceID string, txs []*shared.Transaction) ([]wire.PushResult, error) {
	m, err := s.membership(ctx, s.store.Repos(), accountID, workspaceID)
	if err != nil {
		return nil, err
	}
	if !m.Role.CanWrite() {
		return nil, fmt.Errorf("%w: role %s cannot write", common.ErrServerRejected, m.Role)
	}

	results := make([]wire.PushResult, 0, len(txs))
	accepted := 0
	for _, tx := range txs {
		res, fresh, err := s.pushOne(ctx, accountID, workspaceID, tx)
		if err != nil {
			if accepted > 0 {
				s.notifyMembers(ctx, workspaceID)
			}
			return nil, fmt.Errorf("push %s: %w", tx.ID, err)
		}
		if fresh {
			accepted++
		}
		results = append(results, res)
	}

	if accepted > 0 {
		s.logger.Info(ctx, "transactions accepted", "workspace", workspaceID, "count", accepted)
		s.notifyMembers(ctx, workspaceID)
	}
	return results, nil
}

func rejected(tx *shared.Transaction, reason string) wire.PushResult {
	return wire.PushResult{TransactionID: tx.ID, Status: wire.PushRejected, Reason: reason}
}

func validate(tx *shared.Transaction, workspaceID string) string {
	switch {
	case tx.ID == "" || tx.NodeID == "":
		return "transaction and node ids are required"
	case tx.WorkspaceID != workspaceID:
		return "transaction belongs to another workspace"
	case !tx.NodeType.Valid():
		return fmt.Sprintf("unknown node type %q", tx.NodeType)
	case tx.Version < 1:
		return "version must be positive"
	}
	switch tx.Operation {
	case shared.OperationCreate:
		if tx.Version != 1 {
			return "create must produce version 1"
		}
	case shared.OperationUpdate, shared.OperationDelete:
	default:
		return fmt.Sprintf("unknown operation %q", tx.Operation)
	}
	return ""
}

// pushOne decides a single transaction. fresh reports whether it was
// appended to the log by this call.
func (s *SyncService) pushOne(ctx context.Context, accountID, workspaceID string, tx *shared.Transaction) (res wire.PushResult, fresh bool, err error) {
	if reason := validate(tx, workspaceID); reason != "" {
		return rejected(tx, reason), false, nil
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		recorded, err := r.Transactions.Get(ctx, tx.ID)
		switch {
		case err == nil:
			if recorded.NodeID != tx.NodeID || recorded.Version != tx.Version {
				res = rejected(tx, "transaction id already used")
				return nil
			}
			res = wire.PushResult{
				TransactionID:   tx.ID,
				Status:          wire.PushAcknowledged,
				ServerCreatedAt: recorded.ServerCreatedAt,
				Version:         recorded.Version,
				Seq:             recorded.Seq,
			}
			return nil
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		head, err := r.Nodes.Get(ctx, tx.NodeID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		if head != nil && head.WorkspaceID != workspaceID {
			res = rejected(tx, "node belongs to another workspace")
			return nil
		}

		var current int64
		if head != nil {
			current = head.Version
		}

		switch {
		case tx.Operation == shared.OperationCreate && head != nil:
			return s.conflict(ctx, r, tx, 1, &res)
		case tx.Operation != shared.OperationCreate && head == nil:
			res = rejected(tx, "node not found")
			return nil
		case head != nil && head.Deleted:
			res = rejected(tx, common.ErrNodeDeleted.Error())
			return nil
		case tx.Version != current+1:
			return s.conflict(ctx, r, tx, tx.Version, &res)
		}

		// Postgres keeps microseconds; the ack must carry the stored instant.
		at := s.now().UTC().Truncate(time.Microsecond)
		stored := *tx
		stored.CreatedBy = accountID
		stored.ServerCreatedAt = &at
		if _, err := r.Transactions.Insert(ctx, &stored); err != nil {
			return err
		}
		err = r.Nodes.Upsert(ctx, &models.NodeHead{
			ID:          tx.NodeID,
			WorkspaceID: workspaceID,
			Type:        tx.NodeType,
			Version:     tx.Version,
			Deleted:     tx.Operation == shared.OperationDelete,
			UpdatedAt:   at,
		})
		if err != nil {
			return err
		}

		fresh = true
		res = wire.PushResult{
			TransactionID:   tx.ID,
			Status:          wire.PushAcknowledged,
			ServerCreatedAt: &at,
			Version:         tx.Version,
			Seq:             stored.Seq,
		}
		return nil
	})
	if err != nil {
		return wire.PushResult{}, false, err
	}
	return res, fresh, nil
}

// conflict answers with the node's server transactions from fromVersion on,
// which is what the client lacks to rebase its pending work.
func (s *SyncService) conflict(ctx context.Context, r repomanager.Repos, tx *shared.Transaction, fromVersion int64, res *wire.PushResult) error {
	server, err := r.Transactions.ListForNode(ctx, tx.NodeID, fromVersion)
	if err != nil {
		return err
	}
	*res = wire.PushResult{TransactionID: tx.ID, Status: wire.PushConflict, ServerTransactions: server}
	return nil
}

func (s *SyncService) notifyMembers(ctx context.Context, workspaceID string) {
	if s.notifier == nil {
		return
	}
	members, err := s.store.Repos().Workspaces.Members(ctx, workspaceID)
	if err != nil {
		s.logger.Warn(ctx, "members lookup failed", "workspace", workspaceID, "error", err)
		return
	}
	f, err := wire.NewFrame(wire.FrameWorkspaceUpdated, wire.WorkspaceUpdated{WorkspaceID: workspaceID})
	if err != nil {
		s.logger.Error(ctx, "encode notification", "error", err)
		return
	}
	for _, id := range members {
		s.notifier.Notify(id, f)
	}
}

func (s *SyncService) limit(requested int) int {
	if requested <= 0 || requested > s.pageSize {
		return s.pageSize
	}
	return requested
}

// Pull returns the next page of a replication stream after in.Cursor. The
// workspaces stream lists the caller's membership changes; the transactions
// stream lists a workspace's accepted transactions. One row past the page is
// read to tell the client whether to keep pulling.
func (s *SyncService) Pull(ctx context.Context, accountID string, in *wire.SyncInput) (*wire.SyncOutput, error) {
	if in.Cursor < 0 {
		return nil, fmt.Errorf("%w: negative cursor", common.ErrValidation)
	}
	out := &wire.SyncOutput{ID: in.ID, Cursor: in.Cursor, Items: []wire.SyncItem{}}
	repos := s.store.Repos()
	limit := s.limit(in.Limit)

	switch in.Stream {
	case shared.StreamWorkspaces:
		ms, err := repos.Workspaces.MembershipsAfter(ctx, accountID, in.Cursor, limit+1)
		if err != nil {
			return nil, err
		}
		if len(ms) > limit {
			ms, out.More = ms[:limit], true
		}
		for _, m := range ms {
			out.Items = append(out.Items, wire.SyncItem{Cursor: m.Seq, Membership: m})
			out.Cursor = m.Seq
		}

	case shared.StreamTransactions:
		if _, err := s.membership(ctx, repos, accountID, in.WorkspaceID); err != nil {
			return nil, err
		}
		txs, err := repos.Transactions.ListAfter(ctx, in.WorkspaceID, in.Cursor, limit+1)
		if err != nil {
			return nil, err
		}
		if len(txs) > limit {
			txs, out.More = txs[:limit], true
		}
		for _, tx := range txs {
			out.Items = append(out.Items, wire.SyncItem{Cursor: tx.Seq, Transaction: tx})
			out.Cursor = tx.Seq
		}

	default:
		return nil, fmt.Errorf("%w: unknown stream %q", common.ErrValidation, in.Stream)
	}
	return out, nil
}
