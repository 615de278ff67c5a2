// Package common defines the sentinel errors shared by the client and server
// sides of nodesync. Callers wrap them with fmt.Errorf("...: %w", err) and
// match them with errors.Is.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Replication errors. ErrVersionConflict is recoverable and never shown to
	// the user; the transaction log resolves it.
	ErrVersionConflict     = errors.New("version conflict")
	ErrNodeDeleted         = errors.New("node deleted")
	ErrMergeConflict       = errors.New("merge conflict")
	ErrCursorRegression    = errors.New("cursor cannot move backwards")
	ErrAlreadyAcknowledged = errors.New("transaction already acknowledged with different values")

	// Mutation errors surfaced to the caller.
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation error")

	// Network errors. Both are transient and drive a retry outcome.
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrNetworkTimeout     = errors.New("network timeout")

	// ErrServerRejected is terminal for the transaction it refers to.
	ErrServerRejected = errors.New("rejected by server")

	// Auth errors.
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// AccessTokenHeaderName is the gRPC metadata key used to carry the access
// token on outbound requests.
const AccessTokenHeaderName = "access_token"

// IsTransient reports whether err is a network condition worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable) || errors.Is(err, ErrNetworkTimeout)
}
