package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
)

// Operation is the kind of change a transaction records.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Transaction is an immutable log entry producing one node version.
//
// Data holds the full attributes for a create, a diff for an update and
// nothing for a delete. ServerCreatedAt is nil until the server acknowledged
// the transaction.
type Transaction struct {
	ID              string     `json:"id"`
	Operation       Operation  `json:"operation"`
	NodeID          string     `json:"nodeId"`
	NodeType        NodeType   `json:"nodeType"`
	ParentID        string     `json:"parentId,omitempty"`
	RootID          string     `json:"rootId"`
	WorkspaceID     string     `json:"workspaceId"`
	Data            Attributes `json:"data,omitempty"`
	CreatedBy       string     `json:"createdBy"`
	CreatedAt       time.Time  `json:"createdAt"`
	ServerCreatedAt *time.Time `json:"serverCreatedAt,omitempty"`
	Version         int64      `json:"version"`
	// Seq is the server-assigned position in the workspace stream.
	Seq int64 `json:"seq,omitempty"`
	// LocalSeq is the device-local creation order.
	LocalSeq int64 `json:"-"`
}

// Pending reports whether the transaction still waits for acknowledgement.
func (t *Transaction) Pending() bool {
	return t.ServerCreatedAt == nil
}

// EffectiveTime is the time used to order competing writes.
func (t *Transaction) EffectiveTime() time.Time {
	if t.ServerCreatedAt != nil {
		return *t.ServerCreatedAt
	}
	return t.CreatedAt
}

// Replay rebuilds node attributes from its transactions, which must be sorted
// by version, start at 1 and be contiguous. A create must come first and
// nothing may follow a delete.
func Replay(txs []*Transaction) (Attributes, int64, bool, error) {
	attrs := Attributes{}
	var version int64
	deleted := false

	for _, tx := range txs {
		if tx.Version != version+1 {
			return nil, 0, false, fmt.Errorf("%w: node %s expected version %d, got %d",
				common.ErrVersionConflict, tx.NodeID, version+1, tx.Version)
		}
		if deleted {
			return nil, 0, false, fmt.Errorf("%w: node %s", common.ErrNodeDeleted, tx.NodeID)
		}
		switch tx.Operation {
		case OperationCreate:
			if version != 0 {
				return nil, 0, false, fmt.Errorf("%w: create at version %d", common.ErrVersionConflict, tx.Version)
			}
			attrs = ApplyDiff(Attributes{}, tx.Data)
		case OperationUpdate:
			if version == 0 {
				return nil, 0, false, fmt.Errorf("%w: update before create", common.ErrVersionConflict)
			}
			attrs = ApplyDiff(attrs, tx.Data)
		case OperationDelete:
			deleted = true
		default:
			return nil, 0, false, fmt.Errorf("unknown operation %q", tx.Operation)
		}
		version = tx.Version
	}
	return attrs, version, deleted, nil
}
