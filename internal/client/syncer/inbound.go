package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/nodesync/internal/client/events"
	"github.com/dmitrijs2005/nodesync/internal/client/jobs"
	"github.com/dmitrijs2005/nodesync/internal/client/txlog"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
)

// Inbound pulls one stream until the server has nothing newer.
func (s *Syncer) Inbound(ctx context.Context, job jobs.Job) jobs.Outcome {
	in, ok := input(job)
	if !ok {
		return jobs.Cancel(fmt.Errorf("bad inbound input %#v", job.Input))
	}
	if !s.conn.Connected() {
		return jobs.RetryAfter(s.cfg.OfflineRetryDelay)
	}

	for range s.cfg.MaxRounds {
		more, err := s.pull(ctx, in)
		if err != nil {
			s.logger.Info(ctx, "pull failed", "account", in.AccountID, "workspace", in.WorkspaceID, "error", err)
			return outcome(ctx, err)
		}
		if !more {
			return jobs.Success()
		}
	}
	return jobs.RetryAfter(0)
}

// pull fetches and applies one batch and reports whether the server holds
// more past it.
func (s *Syncer) pull(ctx context.Context, in Input) (bool, error) {
	stream, key := models.StreamWorkspaces, models.AccountStreamKey(in.AccountID)
	if in.WorkspaceID != "" {
		stream, key = models.StreamTransactions, models.WorkspaceStreamKey(in.AccountID, in.WorkspaceID)
	}

	cursor, err := s.log.Cursor(ctx, key)
	if err != nil {
		return false, err
	}
	out, err := s.conn.Request(ctx, &wire.SyncInput{
		ID:          txlog.NewID(),
		Stream:      stream,
		WorkspaceID: in.WorkspaceID,
		Cursor:      cursor,
		Limit:       s.cfg.BatchSize,
	})
	if err != nil {
		return false, err
	}
	if out.Error != "" {
		return false, errors.New(out.Error)
	}
	if len(out.Items) == 0 {
		return false, nil
	}

	if in.WorkspaceID != "" {
		err = s.applyTransactions(ctx, in, key, out)
	} else {
		err = s.applyMemberships(ctx, in, key, out)
	}
	if err != nil {
		return false, err
	}

	s.events.Publish(events.Event{
		Type:        events.SyncProgress,
		AccountID:   in.AccountID,
		WorkspaceID: in.WorkspaceID,
		Data:        map[string]any{"direction": "inbound", "stream": stream, "cursor": out.Cursor, "items": len(out.Items)},
	})
	return out.More, nil
}

func (s *Syncer) applyTransactions(ctx context.Context, in Input, key string, out *wire.SyncOutput) error {
	txs := make([]*models.Transaction, 0, len(out.Items))
	for _, item := range out.Items {
		if item.Transaction == nil {
			return fmt.Errorf("workspace stream item at %d has no transaction", item.Cursor)
		}
		txs = append(txs, item.Transaction)
	}

	results, err := s.log.ApplyBatch(ctx, key, out.Cursor, txs)
	if err != nil {
		return err
	}

	resynthesized := false
	for i, r := range results {
		if len(r.Resynthesized) > 0 {
			resynthesized = true
		}
		if r.Status != txlog.InboundApplied {
			continue
		}
		tx := txs[i]
		t := events.NodeUpdated
		switch tx.Operation {
		case models.OperationCreate:
			t = events.NodeCreated
		case models.OperationDelete:
			t = events.NodeDeleted
		}
		s.events.Publish(events.Event{
			Type:        t,
			AccountID:   in.AccountID,
			WorkspaceID: in.WorkspaceID,
			NodeID:      tx.NodeID,
			Data:        map[string]any{"version": tx.Version, "remote": true, "discarded": len(r.Discarded)},
		})
	}
	if resynthesized {
		s.enqueue(ctx, OutboundJob(in.AccountID, in.WorkspaceID))
	}
	return nil
}

// applyMemberships handles the account stream. Jobs of a removed workspace
// are deactivated before its rows are deleted.
func (s *Syncer) applyMemberships(ctx context.Context, in Input, key string, out *wire.SyncOutput) error {
	items := make([]*models.Membership, 0, len(out.Items))
	for _, item := range out.Items {
		if item.Membership == nil {
			return fmt.Errorf("account stream item at %d has no membership", item.Cursor)
		}
		m := *item.Membership
		if m.AccountID == "" {
			m.AccountID = in.AccountID
		}
		items = append(items, &m)
	}

	for _, m := range items {
		if m.Removed {
			if err := s.sched.Deactivate(ctx, models.WorkspaceScope(in.AccountID, m.WorkspaceID)); err != nil {
				return err
			}
		}
	}

	removed, err := s.log.ApplyMemberships(ctx, key, out.Cursor, items)
	if err != nil {
		return err
	}

	for _, id := range removed {
		s.events.Publish(events.Event{Type: events.WorkspaceRemoved, AccountID: in.AccountID, WorkspaceID: id})
	}
	for _, m := range items {
		if m.Removed {
			continue
		}
		s.sched.Activate(models.WorkspaceScope(in.AccountID, m.WorkspaceID))
		s.enqueue(ctx, InboundWorkspaceJob(in.AccountID, m.WorkspaceID))
		s.enqueue(ctx, OutboundJob(in.AccountID, m.WorkspaceID))
	}
	return nil
}
