package app

import (
	"context"

	"github.com/dmitrijs2005/nodesync/internal/client/connection"
	"github.com/dmitrijs2005/nodesync/internal/client/jobs"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

type WorkspaceStatus struct {
	ID      string
	Name    string
	Role    models.Role
	Pending int
	Cursor  int64
}

// Status is a point-in-time view of the client. Jobs is empty unless the
// client is running.
type Status struct {
	AccountID  string
	Email      string
	DeviceID   string
	Running    bool
	Connection connection.State
	Workspaces []WorkspaceStatus
	Jobs       []jobs.KeyStatus
}

// Paused reports whether replication is waiting for the network.
func (s *Status) Paused() bool {
	return s.Connection != connection.Connected
}

func (s *Status) PendingTotal() int {
	n := 0
	for _, w := range s.Workspaces {
		n += w.Pending
	}
	return n
}

func (a *App) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		DeviceID:   a.deviceID,
		Running:    a.running.Load(),
		Connection: a.conn.State(),
	}
	sess := a.Session()
	if sess == nil {
		return st, nil
	}
	st.AccountID = sess.AccountID
	st.Email = sess.Email

	list, err := a.log.Workspaces(ctx, sess.AccountID)
	if err != nil {
		return nil, err
	}
	for _, w := range list {
		n, err := a.log.CountPending(ctx, w.ID)
		if err != nil {
			return nil, err
		}
		pos, err := a.log.Cursor(ctx, models.WorkspaceStreamKey(sess.AccountID, w.ID))
		if err != nil {
			return nil, err
		}
		st.Workspaces = append(st.Workspaces, WorkspaceStatus{ID: w.ID, Name: w.Name, Role: w.Role, Pending: n, Cursor: pos})
	}

	if st.Running {
		st.Jobs = a.sched.Snapshot()
	}
	return st, nil
}
