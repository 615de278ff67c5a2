package models

import "time"

// Role is an account's role inside a workspace.
type Role string

const (
	RoleOwner        Role = "owner"
	RoleAdmin        Role = "admin"
	RoleEditor       Role = "editor"
	RoleCollaborator Role = "collaborator"
	RoleViewer       Role = "viewer"
)

// CanWrite reports whether the role may produce transactions at all.
func (r Role) CanWrite() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleEditor, RoleCollaborator:
		return true
	}
	return false
}

// Workspace is a workspace the local account is a member of.
type Workspace struct {
	ID        string    `json:"id"`
	AccountID string    `json:"accountId"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Membership is an item of the account stream.
type Membership struct {
	AccountID     string    `json:"accountId"`
	WorkspaceID   string    `json:"workspaceId"`
	WorkspaceName string    `json:"workspaceName"`
	Role          Role      `json:"role"`
	Removed       bool      `json:"removed,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Seq           int64     `json:"seq"`
}

// Workspace converts the membership into the local workspace row.
func (m *Membership) Workspace() *Workspace {
	return &Workspace{
		ID:        m.WorkspaceID,
		AccountID: m.AccountID,
		Name:      m.WorkspaceName,
		Role:      m.Role,
		UpdatedAt: m.UpdatedAt,
	}
}

// Cursor is a resumable position in one replication stream.
type Cursor struct {
	StreamKey string    `json:"streamKey"`
	Position  int64     `json:"position"`
	UpdatedAt time.Time `json:"updatedAt"`
}
