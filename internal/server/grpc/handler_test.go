package grpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func createTx(id, node, workspace string, version int64, op models.Operation) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		Operation:   op,
		NodeID:      node,
		NodeType:    models.NodeTypePage,
		RootID:      node,
		WorkspaceID: workspace,
		Data:        models.Attributes{"title": id},
		CreatedAt:   time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Version:     version,
	}
}

func TestRegisterAndLogin(t *testing.T) {
	c := serve(t, newTestServer())
	ctx := context.Background()

	alice := signUp(t, c, "alice@example.com")
	assert.NotEmpty(t, alice.workspaceID)

	login, err := c.Login(ctx, &wire.LoginRequest{Email: "ALICE@example.com ", Password: "correct horse"})
	require.NoError(t, err)
	require.Len(t, login.Workspaces, 1)
	assert.Equal(t, alice.workspaceID, login.Workspaces[0].ID)

	_, err = c.Register(ctx, &wire.RegisterRequest{Email: "alice@example.com", Password: "correct horse"})
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	_, err = c.Register(ctx, &wire.RegisterRequest{Email: "bob@example.com", Password: "short"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = c.Login(ctx, &wire.LoginRequest{Email: "alice@example.com", Password: "wrong password"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestPing(t *testing.T) {
	s := newTestServer()
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.FixedZone("X", 3600))
	s.now = func() time.Time { return fixed }
	c := serve(t, s)

	resp, err := c.Ping(context.Background(), &wire.PingRequest{})
	require.NoError(t, err)
	assert.True(t, fixed.Equal(resp.ServerTime))
	assert.Equal(t, time.UTC, resp.ServerTime.Location())
}

func TestPushTransactions(t *testing.T) {
	c := serve(t, newTestServer())
	alice := signUp(t, c, "alice@example.com")
	bob := signUp(t, c, "bob@example.com")
	ctx := withToken(context.Background(), alice.token)

	_, err := c.PushTransactions(context.Background(), &wire.PushRequest{WorkspaceID: alice.workspaceID})
	assert.Equal(t, codes.Unauthenticated, status.Code(err), "no token")

	resp, err := c.PushTransactions(ctx, &wire.PushRequest{
		WorkspaceID: alice.workspaceID,
		Transactions: []*models.Transaction{
			createTx("t1", "n1", alice.workspaceID, 1, models.OperationCreate),
			createTx("t2", "n1", alice.workspaceID, 2, models.OperationUpdate),
			createTx("t3", "n1", alice.workspaceID, 2, models.OperationUpdate),
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)
	assert.Equal(t, wire.PushAcknowledged, resp.Results[0].Status)
	assert.Equal(t, wire.PushAcknowledged, resp.Results[1].Status)
	assert.Equal(t, wire.PushConflict, resp.Results[2].Status)
	require.Len(t, resp.Results[2].ServerTransactions, 1)
	assert.Equal(t, "t2", resp.Results[2].ServerTransactions[0].ID)
	assert.Equal(t, alice.accountID, resp.Results[2].ServerTransactions[0].CreatedBy)

	_, err = c.PushTransactions(withToken(context.Background(), bob.token), &wire.PushRequest{
		WorkspaceID:  alice.workspaceID,
		Transactions: []*models.Transaction{createTx("t4", "n2", alice.workspaceID, 1, models.OperationCreate)},
	})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	_, err = c.PushTransactions(ctx, &wire.PushRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	big := make([]*models.Transaction, MaxPushBatch+1)
	for i := range big {
		big[i] = createTx(fmt.Sprintf("b%d", i), fmt.Sprintf("n%d", i), alice.workspaceID, 1, models.OperationCreate)
	}
	_, err = c.PushTransactions(ctx, &wire.PushRequest{WorkspaceID: alice.workspaceID, Transactions: big})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestPresignFileUpload_ChecksNode(t *testing.T) {
	c := serve(t, newTestServer())
	alice := signUp(t, c, "alice@example.com")
	ctx := withToken(context.Background(), alice.token)

	_, err := c.PresignFileUpload(ctx, &wire.PresignRequest{WorkspaceID: alice.workspaceID, NodeID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.PushTransactions(ctx, &wire.PushRequest{
		WorkspaceID:  alice.workspaceID,
		Transactions: []*models.Transaction{createTx("t1", "page", alice.workspaceID, 1, models.OperationCreate)},
	})
	require.NoError(t, err)

	_, err = c.PresignFileUpload(ctx, &wire.PresignRequest{WorkspaceID: alice.workspaceID, NodeID: "page"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "not a file node")
}

func TestToStatus(t *testing.T) {
	s := newTestServer()
	s.logger = logging.Nop{}

	tests := []struct {
		err  error
		code codes.Code
	}{
		{common.ErrInvalidCredentials, codes.Unauthenticated},
		{common.ErrTokenExpired, codes.Unauthenticated},
		{fmt.Errorf("wrap: %w", common.ErrUnauthorized), codes.PermissionDenied},
		{common.ErrValidation, codes.InvalidArgument},
		{common.ErrServerRejected, codes.FailedPrecondition},
		{common.ErrNodeDeleted, codes.FailedPrecondition},
		{common.ErrAlreadyExists, codes.AlreadyExists},
		{common.ErrNotFound, codes.NotFound},
		{context.Canceled, codes.Canceled},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("disk on fire"), codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, status.Code(s.toStatus(context.Background(), tt.err)))
		})
	}

	assert.Equal(t, "internal error", status.Convert(s.toStatus(context.Background(), errors.New("secret detail"))).Message())
}
