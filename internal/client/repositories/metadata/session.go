package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/google/uuid"
)

// Session is the signed-in account of this device.
type Session struct {
	AccountID   string    `json:"accountId"`
	Email       string    `json:"email"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// LoadSession returns nil when nobody is signed in.
func LoadSession(ctx context.Context, r Repository) (*Session, error) {
	b, err := r.Get(ctx, KeySession)
	if errors.Is(err, common.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

func SaveSession(ctx context.Context, r Repository, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return r.Set(ctx, KeySession, b)
}

func ClearSession(ctx context.Context, r Repository) error {
	return r.Delete(ctx, KeySession)
}

// DeviceID returns the stored device id, generating and storing one on first use.
func DeviceID(ctx context.Context, r Repository) (string, error) {
	b, err := r.Get(ctx, KeyDeviceID)
	if err == nil {
		return string(b), nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return "", err
	}
	id := uuid.NewString()
	if err := r.Set(ctx, KeyDeviceID, []byte(id)); err != nil {
		return "", err
	}
	return id, nil
}
