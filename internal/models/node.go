// Package models defines the node, transaction and replication types shared by
// the client and the server.
package models

import "time"

// NodeType classifies a node. The set is closed.
type NodeType string

const (
	NodeTypeSpace    NodeType = "space"
	NodeTypePage     NodeType = "page"
	NodeTypeDatabase NodeType = "database"
	NodeTypeRecord   NodeType = "record"
	NodeTypeMessage  NodeType = "message"
	NodeTypeFile     NodeType = "file"
)

// NodeTypes lists every known node type.
var NodeTypes = []NodeType{
	NodeTypeSpace, NodeTypePage, NodeTypeDatabase,
	NodeTypeRecord, NodeTypeMessage, NodeTypeFile,
}

func (t NodeType) Valid() bool {
	for _, nt := range NodeTypes {
		if nt == t {
			return true
		}
	}
	return false
}

// Node is the materialized state of a content entity.
//
// Attributes/Version/Deleted hold the local view: the server state plus every
// pending local transaction. The Server* fields hold the last state the server
// acknowledged, which is what pending transactions are rebased on.
type Node struct {
	ID          string     `json:"id"`
	Type        NodeType   `json:"type"`
	ParentID    string     `json:"parentId,omitempty"`
	RootID      string     `json:"rootId"`
	WorkspaceID string     `json:"workspaceId"`
	Attributes  Attributes `json:"attributes"`
	CreatedBy   string     `json:"createdBy"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedBy   string     `json:"updatedBy,omitempty"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	Version     int64      `json:"version"`
	Deleted     bool       `json:"deleted,omitempty"`

	ServerAttributes Attributes `json:"-"`
	ServerVersion    int64      `json:"-"`
	ServerDeleted    bool       `json:"-"`
}

// Synced reports whether the local view equals the acknowledged one.
func (n *Node) Synced() bool {
	return n.Version == n.ServerVersion && n.Deleted == n.ServerDeleted
}
