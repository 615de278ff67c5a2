// Package models defines server-side records persisted in the database.
// Replicated types (transactions, memberships, workspaces as seen by a
// member) live in the shared models package.
package models

import (
	"time"

	"github.com/dmitrijs2005/nodesync/internal/models"
)

type Account struct {
	ID           string
	Email        string
	PasswordHash []byte
	Salt         []byte
	CreatedAt    time.Time
}

type Workspace struct {
	ID        string
	Name      string
	OwnerID   string
	CreatedAt time.Time
}

// NodeHead is the server's authoritative position for a node: the version of
// its last accepted transaction and whether that transaction deleted it.
type NodeHead struct {
	ID          string
	WorkspaceID string
	Type        models.NodeType
	Version     int64
	Deleted     bool
	UpdatedAt   time.Time
}
