package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/nodesync/internal/client/events"
	"github.com/dmitrijs2005/nodesync/internal/client/jobs"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
)

// Outbound drains the workspace's pending transactions to the server.
func (s *Syncer) Outbound(ctx context.Context, job jobs.Job) jobs.Outcome {
	in, ok := input(job)
	if !ok || in.WorkspaceID == "" {
		return jobs.Cancel(fmt.Errorf("bad outbound input %#v", job.Input))
	}
	if !s.conn.Connected() {
		return jobs.RetryAfter(s.cfg.OfflineRetryDelay)
	}

	for range s.cfg.MaxRounds {
		var batch []*models.Transaction
		for tx, err := range s.log.Pending(ctx, in.WorkspaceID, s.cfg.BatchSize) {
			if err != nil {
				return jobs.RetryBackoff(err)
			}
			batch = append(batch, tx)
		}
		if len(batch) == 0 {
			return jobs.Success()
		}

		resp, err := s.push.PushTransactions(ctx, &wire.PushRequest{WorkspaceID: in.WorkspaceID, Transactions: batch})
		if err != nil {
			s.logger.Info(ctx, "push failed", "workspace", in.WorkspaceID, "error", err)
			return outcome(ctx, err)
		}

		acked, err := s.applyPushResults(ctx, in, batch, resp.Results)
		if err != nil {
			return outcome(ctx, err)
		}
		s.events.Publish(events.Event{
			Type:        events.SyncProgress,
			AccountID:   in.AccountID,
			WorkspaceID: in.WorkspaceID,
			Data:        map[string]any{"direction": "outbound", "acknowledged": acked, "pushed": len(batch)},
		})
	}
	return jobs.RetryAfter(0)
}

// applyPushResults records the server's verdicts. Once a node hits a conflict
// or rejection, its later transactions in the batch are left for the next
// round since they were renumbered.
func (s *Syncer) applyPushResults(ctx context.Context, in Input, batch []*models.Transaction, results []wire.PushResult) (int, error) {
	byID := make(map[string]*models.Transaction, len(batch))
	for _, tx := range batch {
		byID[tx.ID] = tx
	}

	touched := map[string]bool{}
	var stuck error
	acked := 0
	pull := false

	for _, r := range results {
		tx, ok := byID[r.TransactionID]
		if !ok || touched[tx.NodeID] {
			continue
		}

		switch r.Status {
		case wire.PushAcknowledged:
			if r.ServerCreatedAt == nil {
				return acked, fmt.Errorf("acknowledgement of %s has no server time", tx.ID)
			}
			if err := s.log.MarkAcknowledged(ctx, tx.ID, *r.ServerCreatedAt, r.Version); err != nil {
				return acked, fmt.Errorf("acknowledge %s: %w", tx.ID, err)
			}
			acked++

		case wire.PushConflict:
			touched[tx.NodeID] = true
			pull = true
			for _, stx := range r.ServerTransactions {
				if _, err := s.log.ApplyInbound(ctx, stx); err != nil {
					s.logger.Info(ctx, "conflict not resolved locally", "node", tx.NodeID, "error", err)
					stuck = errors.Join(stuck, err)
					break
				}
			}

		case wire.PushRejected:
			touched[tx.NodeID] = true
			pull = true
			dropped, err := s.log.Reject(ctx, tx.ID, r.Reason)
			if err != nil {
				return acked, fmt.Errorf("reject %s: %w", tx.ID, err)
			}
			s.events.Publish(events.Event{
				Type:        events.SyncRejected,
				AccountID:   in.AccountID,
				WorkspaceID: in.WorkspaceID,
				NodeID:      tx.NodeID,
				Data:        map[string]any{"transaction": tx.ID, "reason": r.Reason, "dropped": len(dropped)},
			})

		default:
			return acked, fmt.Errorf("unknown push status %q for %s", r.Status, tx.ID)
		}
	}

	if pull {
		s.enqueue(ctx, InboundWorkspaceJob(in.AccountID, in.WorkspaceID))
	}
	return acked, stuck
}
