// Package services contains server-side business logic: accounts and
// authentication, the authoritative transaction log and file presigning.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/cryptox"
	shared "github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/server/auth"
	"github.com/dmitrijs2005/nodesync/internal/server/config"
	"github.com/dmitrijs2005/nodesync/internal/server/models"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const (
	MinPasswordLength     = 8
	PersonalWorkspaceName = "Personal"
)

// Session is the result of a successful login.
type Session struct {
	AccountID   string
	AccessToken string
	ExpiresAt   time.Time
	Workspaces  []*shared.Workspace
}

// AccountService registers accounts and issues access tokens.
type AccountService struct {
	store                       repomanager.Store
	jwtSecret                   []byte
	accessTokenValidityDuration time.Duration
}

func NewAccountService(store repomanager.Store, cfg *config.Config) *AccountService {
	return &AccountService{
		store:                       store,
		jwtSecret:                   []byte(cfg.SecretKey),
		accessTokenValidityDuration: cfg.AccessTokenTTL,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: invalid email %q", common.ErrValidation, email)
	}
	return email, nil
}

// Register creates the account together with its personal workspace, where
// the account is the owner. Returns the account and workspace ids.
func (s *AccountService) Register(ctx context.Context, email, password string) (string, string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", "", err
	}
	if len(password) < MinPasswordLength {
		return "", "", fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, MinPasswordLength)
	}

	salt, err := cryptox.NewSalt()
	if err != nil {
		return "", "", err
	}

	account := &models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Salt:         salt,
		PasswordHash: cryptox.HashPassword([]byte(password), salt),
	}
	ws := &models.Workspace{ID: uuid.NewString(), Name: PersonalWorkspaceName, OwnerID: account.ID}

	err = s.store.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		if _, err := r.Accounts.Create(ctx, account); err != nil {
			return err
		}
		if _, err := r.Workspaces.Create(ctx, ws); err != nil {
			return err
		}
		_, err := r.Workspaces.PutMembership(ctx, &shared.Membership{
			AccountID:     account.ID,
			WorkspaceID:   ws.ID,
			WorkspaceName: ws.Name,
			Role:          shared.RoleOwner,
		})
		return err
	})
	if err != nil {
		return "", "", fmt.Errorf("error creating account: %w", err)
	}
	return account.ID, ws.ID, nil
}

// Login verifies the password and mints an access token bound to deviceID.
// An unknown email and a wrong password are indistinguishable.
func (s *AccountService) Login(ctx context.Context, email, password, deviceID string) (*Session, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, common.ErrInvalidCredentials
	}

	repos := s.store.Repos()
	account, err := repos.Accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error loading account: %w", err)
	}
	if !cryptox.VerifyPassword([]byte(password), account.Salt, account.PasswordHash) {
		return nil, common.ErrInvalidCredentials
	}

	token, expiresAt, err := auth.GenerateToken(account.ID, deviceID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	memberships, err := repos.Workspaces.ListMemberships(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("error listing workspaces: %w", err)
	}
	workspaces := make([]*shared.Workspace, 0, len(memberships))
	for _, m := range memberships {
		workspaces = append(workspaces, m.Workspace())
	}

	return &Session{AccountID: account.ID, AccessToken: token, ExpiresAt: expiresAt, Workspaces: workspaces}, nil
}
