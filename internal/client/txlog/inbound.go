package txlog

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

// InboundStatus says what applying a server transaction did.
type InboundStatus int

const (
	// InboundApplied: the transaction advanced the node.
	InboundApplied InboundStatus = iota
	// InboundDuplicate: the transaction was already in the log.
	InboundDuplicate
	// InboundAcknowledged: the transaction was our own pending one.
	InboundAcknowledged
	// InboundStale: the node was already at or past this version, or deleted.
	InboundStale
)

func (s InboundStatus) String() string {
	switch s {
	case InboundApplied:
		return "applied"
	case InboundDuplicate:
		return "duplicate"
	case InboundAcknowledged:
		return "acknowledged"
	case InboundStale:
		return "stale"
	}
	return fmt.Sprintf("InboundStatus(%d)", int(s))
}

type InboundResult struct {
	Status InboundStatus
	// Discarded lists pending local transactions dropped by conflict resolution.
	Discarded []*models.Transaction
	// Resynthesized lists the replacements issued for partially losing ones.
	Resynthesized []*models.Transaction
}

// ApplyInbound applies one server transaction in its own durable unit.
func (l *Log) ApplyInbound(ctx context.Context, tx *models.Transaction) (*InboundResult, error) {
	return dbx.WithTxValue(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) (*InboundResult, error) {
		return l.applyInbound(ctx, q, tx)
	})
}

// ApplyBatch applies a stream batch and advances the stream cursor in one
// durable unit. Nothing is written when any item fails.
func (l *Log) ApplyBatch(ctx context.Context, streamKey string, cursor int64, txs []*models.Transaction) ([]*InboundResult, error) {
	return dbx.WithTxValue(ctx, l.db, nil, func(ctx context.Context, q dbx.DBTX) ([]*InboundResult, error) {
		results := make([]*InboundResult, 0, len(txs))
		for _, tx := range txs {
			res, err := l.applyInbound(ctx, q, tx)
			if err != nil {
				return nil, fmt.Errorf("apply %s: %w", tx.ID, err)
			}
			results = append(results, res)
		}
		if l.beforeCursor != nil {
			if err := l.beforeCursor(); err != nil {
				return nil, err
			}
		}
		if err := l.repos.Cursors(q).Set(ctx, streamKey, cursor); err != nil {
			return nil, err
		}
		return results, nil
	})
}

// applyInbound accepts a server transaction under the version gate and
// rebases the node's pending local transactions on top of it.
func (l *Log) applyInbound(ctx context.Context, q dbx.DBTX, in *models.Transaction) (*InboundResult, error) {
	if in.ServerCreatedAt == nil {
		return nil, fmt.Errorf("%w: inbound transaction %s has no server time", common.ErrValidation, in.ID)
	}

	txRepo := l.repos.Transactions(q)
	nodeRepo := l.repos.Nodes(q)

	known, err := txRepo.Get(ctx, in.ID)
	switch {
	case err == nil && !known.Pending():
		return &InboundResult{Status: InboundDuplicate}, nil
	case err == nil:
		if err := l.acknowledge(ctx, q, known, *in.ServerCreatedAt, in.Version, in.Seq); err != nil {
			return nil, err
		}
		return &InboundResult{Status: InboundAcknowledged}, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	node, err := nodeRepo.Get(ctx, in.NodeID)
	if errors.Is(err, common.ErrNotFound) {
		return l.insertInbound(ctx, q, in)
	}
	if err != nil {
		return nil, err
	}

	if node.ServerDeleted || in.Version <= node.ServerVersion {
		return &InboundResult{Status: InboundStale}, nil
	}
	if in.Version != node.ServerVersion+1 {
		return nil, fmt.Errorf("%w: node %s server version %d, inbound %d",
			common.ErrVersionConflict, node.ID, node.ServerVersion, in.Version)
	}
	if node.ServerVersion == 0 && in.Operation != models.OperationCreate {
		return nil, fmt.Errorf("%w: node %s must be created first", common.ErrVersionConflict, node.ID)
	}

	pending, err := txRepo.ListPendingByNode(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	base := node.ServerAttributes.Clone()
	advanceServer(node, in)
	kept, result, err := l.reconcile(node.Type, base, in, pending)
	if err != nil {
		return nil, err
	}

	if err := txRepo.DeletePendingByNode(ctx, node.ID); err != nil {
		return nil, err
	}
	stored := *in
	stored.LocalSeq = 0
	if _, err := txRepo.Insert(ctx, &stored); err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		node.UpdatedBy = in.CreatedBy
		at := *in.ServerCreatedAt
		node.UpdatedAt = &at
	}
	if err := l.insertPending(ctx, q, node, kept); err != nil {
		return nil, err
	}
	if err := nodeRepo.Update(ctx, node); err != nil {
		return nil, err
	}

	if len(result.Discarded) > 0 {
		l.logger.Info(ctx, "pending transactions lost to server write",
			"node", node.ID, "discarded", len(result.Discarded), "resynthesized", len(result.Resynthesized))
	}
	return result, nil
}

// insertInbound handles a transaction for a node the device has never seen.
func (l *Log) insertInbound(ctx context.Context, q dbx.DBTX, in *models.Transaction) (*InboundResult, error) {
	node := &models.Node{
		ID:          in.NodeID,
		Type:        in.NodeType,
		ParentID:    in.ParentID,
		RootID:      in.RootID,
		WorkspaceID: in.WorkspaceID,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   in.CreatedAt,
	}

	switch in.Operation {
	case models.OperationCreate:
		if in.Version != 1 {
			return nil, fmt.Errorf("%w: create of %s at version %d", common.ErrVersionConflict, in.NodeID, in.Version)
		}
	case models.OperationDelete:
		// The device missed the history; keep a tombstone so nothing resurrects the id.
	default:
		return nil, fmt.Errorf("%w: update of unknown node %s", common.ErrVersionConflict, in.NodeID)
	}

	advanceServer(node, in)
	if node.ServerAttributes == nil {
		node.ServerAttributes = models.Attributes{}
	}
	rebuild(node, nil)

	stored := *in
	stored.LocalSeq = 0
	if _, err := l.repos.Transactions(q).Insert(ctx, &stored); err != nil {
		return nil, err
	}
	if err := l.repos.Nodes(q).Insert(ctx, node); err != nil {
		return nil, err
	}
	return &InboundResult{Status: InboundApplied}, nil
}

// reconcile rebases pending local transactions on an inbound one.
//
// An inbound delete discards everything pending. A pending delete is kept.
// For updates, keys the inbound transaction does not touch are kept as they
// are; a key both sides wrote goes through the merge function first and, on
// ErrMergeConflict, to the later write (inbound server time against pending
// creation time, ties to the greater transaction id). A key holding an object
// on both sides is merged field by field against base, the server attributes
// before the inbound transaction, and only fields both sides changed go to
// the later write. A pending transaction
// that loses any key is discarded and, if it still changes something,
// replaced by a new transaction carrying the rest of its diff.
func (l *Log) reconcile(t models.NodeType, base models.Attributes, in *models.Transaction, pending []*models.Transaction) ([]*models.Transaction, *InboundResult, error) {
	result := &InboundResult{Status: InboundApplied}

	if in.Operation == models.OperationDelete {
		result.Discarded = pending
		return nil, result, nil
	}

	var kept []*models.Transaction
	for _, p := range pending {
		if p.Operation == models.OperationDelete {
			kept = append(kept, p)
			continue
		}

		diff := p.Data.Clone()
		lost := false
		wins := inboundWins(in, p)
		for _, key := range models.Overlap(in.Data, diff) {
			server, sok := object(in.Data[key])
			mine, lok := object(diff[key])
			if sok && lok {
				before, _ := object(base[key])
				merged, dropped := mergeObjects(before, server, mine, wins)
				lost = lost || dropped
				if models.Equal(merged, server) {
					delete(diff, key)
				} else {
					diff[key] = merged
				}
				continue
			}

			merged, err := l.merge(t, key, in.Data[key], diff[key])
			if err == nil {
				diff[key] = merged
				continue
			}
			if !errors.Is(err, common.ErrMergeConflict) {
				return nil, nil, err
			}
			if wins {
				delete(diff, key)
				lost = true
			}
		}

		next := *p
		next.Operation = models.OperationUpdate
		next.Data = diff
		if lost {
			result.Discarded = append(result.Discarded, p)
			if len(diff) == 0 {
				continue
			}
			next.ID = l.newID()
			next.CreatedAt = l.now().UTC()
			result.Resynthesized = append(result.Resynthesized, &next)
		}
		kept = append(kept, &next)
	}
	return kept, result, nil
}

// mergeObjects applies the fields local changed relative to base on top of
// server. A field both sides changed to different values keeps the server
// value when serverWins, reported by dropped; nested objects are merged the
// same way.
func mergeObjects(base, server, local map[string]any, serverWins bool) (merged map[string]any, dropped bool) {
	merged = models.Attributes(server).Clone()
	for k, v := range models.Diff(base, local) {
		sv, serverHas := server[k]
		bv, baseHas := base[k]
		serverChanged := serverHas != baseHas || !models.Equal(sv, bv)
		switch {
		case !serverChanged || models.Equal(sv, v):
		case isObject(sv) && isObject(v):
			so, _ := object(sv)
			lo, _ := object(local[k])
			bo, _ := object(bv)
			sub, d := mergeObjects(bo, so, lo, serverWins)
			merged[k] = sub
			dropped = dropped || d
			continue
		case serverWins:
			dropped = true
			continue
		}
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged, dropped
}

func object(v any) (map[string]any, bool) {
	switch o := v.(type) {
	case map[string]any:
		return o, true
	case models.Attributes:
		return o, true
	}
	return nil, false
}

func isObject(v any) bool {
	_, ok := object(v)
	return ok
}

func inboundWins(in, local *models.Transaction) bool {
	it := in.EffectiveTime()
	lt := local.CreatedAt
	if !it.Equal(lt) {
		return it.After(lt)
	}
	return in.ID > local.ID
}
