// Package wire defines the messages exchanged between client and server and
// the gRPC service that carries them.
//
// Every message travels as a google.protobuf.Struct. Typed Go values are
// converted with ToStruct/FromStruct, so the service needs no generated code.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

// FrameType names a message on the duplex channel.
type FrameType string

const (
	FrameSyncInput        FrameType = "synchronizer.input"
	FrameSyncOutput       FrameType = "synchronizer.output"
	FrameAccountUpdated   FrameType = "account.updated"
	FrameWorkspaceUpdated FrameType = "workspace.updated"
	FrameWorkspaceDeleted FrameType = "workspace.deleted"
	FrameUserCreated      FrameType = "user.created"
	FrameUserUpdated      FrameType = "user.updated"
	FramePing             FrameType = "ping"
	FramePong             FrameType = "pong"
	FrameError            FrameType = "error"
)

// Frame is the envelope of every channel message.
type Frame struct {
	Type    FrameType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewFrame encodes payload into a frame of type t. A nil payload is allowed.
func NewFrame(t FrameType, payload any) (*Frame, error) {
	f := &Frame{Type: t}
	if payload == nil {
		return f, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	f.Payload = b
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Type)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	return nil
}

// SyncInput asks the server for the next batch of a stream.
type SyncInput struct {
	ID          string `json:"id"`
	Stream      string `json:"stream"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Cursor      int64  `json:"cursor"`
	Limit       int    `json:"limit,omitempty"`
}

// SyncItem carries one stream entry with the cursor position it ends at.
// Exactly one of Transaction and Membership is set.
type SyncItem struct {
	Cursor      int64               `json:"cursor"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Membership  *models.Membership  `json:"membership,omitempty"`
}

// SyncOutput answers the SyncInput with the same ID. More is set when the
// stream has items past Cursor that did not fit the page.
type SyncOutput struct {
	ID     string     `json:"id"`
	Items  []SyncItem `json:"items"`
	Cursor int64      `json:"cursor"`
	More   bool       `json:"more,omitempty"`
	Error  string     `json:"error,omitempty"`
}

type AccountUpdated struct {
	AccountID string `json:"accountId"`
}

type WorkspaceUpdated struct {
	WorkspaceID string `json:"workspaceId"`
}

type WorkspaceDeleted struct {
	AccountID   string `json:"accountId"`
	WorkspaceID string `json:"workspaceId,omitempty"`
}

type UserChanged struct {
	AccountID string `json:"accountId"`
	Email     string `json:"email,omitempty"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterResponse struct {
	AccountID   string `json:"accountId"`
	WorkspaceID string `json:"workspaceId"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId,omitempty"`
}

type LoginResponse struct {
	AccountID   string              `json:"accountId"`
	AccessToken string              `json:"accessToken"`
	ExpiresAt   time.Time           `json:"expiresAt"`
	Workspaces  []*models.Workspace `json:"workspaces"`
}

type PingRequest struct{}

type PingResponse struct {
	ServerTime time.Time `json:"serverTime"`
}

type PushRequest struct {
	WorkspaceID  string                `json:"workspaceId"`
	Transactions []*models.Transaction `json:"transactions"`
}

// PushStatus is the per-transaction verdict of a push.
type PushStatus string

const (
	PushAcknowledged PushStatus = "acknowledged"
	PushConflict     PushStatus = "conflict"
	PushRejected     PushStatus = "rejected"
)

// PushResult reports the outcome of one pushed transaction. On conflict,
// ServerTransactions holds the server transactions the client is missing.
type PushResult struct {
	TransactionID      string                `json:"transactionId"`
	Status             PushStatus            `json:"status"`
	ServerCreatedAt    *time.Time            `json:"serverCreatedAt,omitempty"`
	Version            int64                 `json:"version,omitempty"`
	Seq                int64                 `json:"seq,omitempty"`
	Reason             string                `json:"reason,omitempty"`
	ServerTransactions []*models.Transaction `json:"serverTransactions,omitempty"`
}

type PushResponse struct {
	Results []PushResult `json:"results"`
}

type PresignRequest struct {
	WorkspaceID string `json:"workspaceId"`
	NodeID      string `json:"nodeId"`
}

type PresignResponse struct {
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expiresAt"`
}
