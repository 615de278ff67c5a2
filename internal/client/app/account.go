package app

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/nodesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
)

func (a *App) Register(ctx context.Context, email, password string) (*wire.RegisterResponse, error) {
	return a.remote.Register(ctx, email, password)
}

// Login signs in, stores the session and the account's workspaces. Signing
// in as another account first removes the previous account's data.
func (a *App) Login(ctx context.Context, email, password string) (*metadata.Session, error) {
	resp, err := a.remote.Login(ctx, email, password, a.deviceID)
	if err != nil {
		return nil, err
	}

	if prev := a.Session(); prev != nil && prev.AccountID != resp.AccountID {
		if err := a.Logout(ctx); err != nil {
			return nil, err
		}
		a.remote.SetAccessToken(resp.AccessToken)
	}

	s := &metadata.Session{
		AccountID:   resp.AccountID,
		Email:       email,
		AccessToken: resp.AccessToken,
		ExpiresAt:   resp.ExpiresAt,
	}
	if err := metadata.SaveSession(ctx, a.repos.Metadata(a.db), s); err != nil {
		return nil, err
	}

	for _, w := range resp.Workspaces {
		if w.AccountID == "" {
			w.AccountID = resp.AccountID
		}
	}
	if err := a.log.SaveWorkspaces(ctx, resp.Workspaces); err != nil {
		return nil, fmt.Errorf("save workspaces: %w", err)
	}

	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	if a.running.Load() {
		a.sched.Activate(models.AccountScope(s.AccountID))
		a.OnConnected(ctx)
	}
	a.logger.Info(ctx, "signed in", "account", s.AccountID)
	return s, nil
}

// Logout stops the account's jobs, then removes its local data and session.
// Pending transactions that were never pushed are lost.
func (a *App) Logout(ctx context.Context) error {
	s := a.Session()
	if s == nil {
		return nil
	}

	if a.running.Load() {
		if err := a.sched.Deactivate(ctx, models.AccountScope(s.AccountID)); err != nil {
			return fmt.Errorf("stop account jobs: %w", err)
		}
	}
	if err := a.log.PurgeAccount(ctx, s.AccountID); err != nil {
		return fmt.Errorf("purge account: %w", err)
	}
	if err := metadata.ClearSession(ctx, a.repos.Metadata(a.db)); err != nil {
		return err
	}

	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	a.remote.SetAccessToken("")

	a.logger.Info(ctx, "signed out", "account", s.AccountID)
	return nil
}
