package models

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDiff(t *testing.T) {
	base := Attributes{"title": "a", "body": "b", "nested": map[string]any{"x": 1.0}}
	out := ApplyDiff(base, Attributes{"title": "c", "body": nil, "tag": "t"})

	assert.Equal(t, Attributes{"title": "c", "tag": "t", "nested": map[string]any{"x": 1.0}}, out)
	assert.Equal(t, "a", base["title"], "base must not change")

	out["nested"].(map[string]any)["x"] = 2.0
	assert.Equal(t, 1.0, base["nested"].(map[string]any)["x"], "nested values are copied")
}

func TestDiff(t *testing.T) {
	from := Attributes{"a": "1", "b": "2", "c": "3"}
	to := Attributes{"a": "1", "b": "20", "d": "4"}

	d := Diff(from, to)
	assert.Equal(t, Attributes{"b": "20", "c": nil, "d": "4"}, d)
	assert.Equal(t, to, ApplyDiff(from, d))
}

func TestOverlap(t *testing.T) {
	assert.Equal(t, []string{"a", "c"}, Overlap(Attributes{"a": 1, "b": 2, "c": 3}, Attributes{"c": 0, "a": 0}))
	assert.Empty(t, Overlap(Attributes{"a": 1}, Attributes{"b": 1}))
}

func tx(op Operation, version int64, data Attributes) *Transaction {
	return &Transaction{ID: "t", NodeID: "n", Operation: op, Version: version, Data: data}
}

func TestReplay(t *testing.T) {
	attrs, version, deleted, err := Replay([]*Transaction{
		tx(OperationCreate, 1, Attributes{"title": "a", "body": "x"}),
		tx(OperationUpdate, 2, Attributes{"title": "b"}),
		tx(OperationUpdate, 3, Attributes{"body": nil}),
	})
	require.NoError(t, err)
	assert.Equal(t, Attributes{"title": "b"}, attrs)
	assert.Equal(t, int64(3), version)
	assert.False(t, deleted)

	_, version, deleted, err = Replay([]*Transaction{
		tx(OperationCreate, 1, Attributes{"title": "a"}),
		tx(OperationDelete, 2, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.True(t, deleted)
}

func TestReplay_Errors(t *testing.T) {
	_, _, _, err := Replay([]*Transaction{tx(OperationCreate, 2, nil)})
	require.ErrorIs(t, err, common.ErrVersionConflict)

	_, _, _, err = Replay([]*Transaction{tx(OperationUpdate, 1, nil)})
	require.ErrorIs(t, err, common.ErrVersionConflict)

	_, _, _, err = Replay([]*Transaction{
		tx(OperationCreate, 1, nil),
		tx(OperationDelete, 2, nil),
		tx(OperationUpdate, 3, nil),
	})
	require.ErrorIs(t, err, common.ErrNodeDeleted)
}

func TestTransaction_PendingAndEffectiveTime(t *testing.T) {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := &Transaction{CreatedAt: created}
	assert.True(t, tr.Pending())
	assert.Equal(t, created, tr.EffectiveTime())

	server := created.Add(time.Minute)
	tr.ServerCreatedAt = &server
	assert.False(t, tr.Pending())
	assert.Equal(t, server, tr.EffectiveTime())
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "account/a/workspaces", AccountStreamKey("a"))
	assert.Equal(t, "account/a/workspace/w/transactions", WorkspaceStreamKey("a", "w"))
	assert.Equal(t, "account/a/workspace/w/outbound", OutboundJobKey("a", "w"))
	assert.Equal(t, "account/a/workspace/w/inbound", InboundWorkspaceJobKey("a", "w"))
	assert.Equal(t, "account/a/inbound/workspaces", InboundAccountJobKey("a"))

	assert.True(t, InScope(OutboundJobKey("a", "w"), WorkspaceScope("a", "w")))
	assert.True(t, InScope(OutboundJobKey("a", "w"), AccountScope("a")))
	assert.False(t, InScope(OutboundJobKey("a", "w2"), WorkspaceScope("a", "w")))
	assert.False(t, InScope("account/ab/x", AccountScope("a")))
}

func TestRole(t *testing.T) {
	assert.True(t, RoleOwner.CanWrite())
	assert.True(t, RoleCollaborator.CanWrite())
	assert.False(t, RoleViewer.CanWrite())
	assert.False(t, Role("").CanWrite())
	assert.True(t, NodeTypePage.Valid())
	assert.False(t, NodeType("folder").Valid())
}
