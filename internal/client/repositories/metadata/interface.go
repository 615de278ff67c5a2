// Package metadata stores small device-level values such as the device id and
// the signed-in session.
package metadata

import (
	"context"
)

const (
	KeyDeviceID = "device_id"
	KeySession  = "session"
)

type Repository interface {
	// Get returns common.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set inserts or replaces the value under key.
	Set(ctx context.Context, key string, value []byte) error
	// Delete is a no-op for an absent key.
	Delete(ctx context.Context, key string) error
}
