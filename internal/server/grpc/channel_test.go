package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func openChannel(t *testing.T, c *wire.SyncServiceClient, token string) wire.ChannelClient {
	t.Helper()
	ctx, cancel := context.WithCancel(withToken(context.Background(), token))
	t.Cleanup(cancel)
	ch, err := c.Channel(ctx)
	require.NoError(t, err)
	return ch
}

func send(t *testing.T, ch wire.ChannelClient, ft wire.FrameType, payload any) {
	t.Helper()
	f, err := wire.NewFrame(ft, payload)
	require.NoError(t, err)
	require.NoError(t, ch.Send(f))
}

// recvType reads frames until one of type ft arrives.
func recvType(t *testing.T, ch wire.ChannelClient, ft wire.FrameType) *wire.Frame {
	t.Helper()
	got := make(chan *wire.Frame, 1)
	go func() {
		for {
			f, err := ch.Recv()
			if err != nil {
				close(got)
				return
			}
			if f.Type == ft {
				got <- f
				return
			}
		}
	}()
	select {
	case f, ok := <-got:
		require.True(t, ok, "channel closed before %s", ft)
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no %s frame", ft)
	}
	return nil
}

func TestChannel_RequiresToken(t *testing.T) {
	c := serve(t, newTestServer())
	ch, err := c.Channel(context.Background())
	if err == nil {
		_, err = ch.Recv()
	}
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestChannel_PingAndUnknownFrames(t *testing.T) {
	c := serve(t, newTestServer())
	alice := signUp(t, c, "alice@example.com")
	ch := openChannel(t, c, alice.token)

	send(t, ch, wire.FramePing, nil)
	recvType(t, ch, wire.FramePong)

	send(t, ch, wire.FrameUserCreated, nil)
	f := recvType(t, ch, wire.FrameError)
	var e wire.ErrorPayload
	require.NoError(t, f.Decode(&e))
	assert.Contains(t, e.Message, "user.created")
}

func TestChannel_AnswersSyncInputs(t *testing.T) {
	c := serve(t, newTestServer())
	alice := signUp(t, c, "alice@example.com")
	ch := openChannel(t, c, alice.token)

	send(t, ch, wire.FrameSyncInput, wire.SyncInput{ID: "r1", Stream: models.StreamWorkspaces})
	var out wire.SyncOutput
	require.NoError(t, recvType(t, ch, wire.FrameSyncOutput).Decode(&out))
	assert.Equal(t, "r1", out.ID)
	assert.Empty(t, out.Error)
	require.Len(t, out.Items, 1)
	require.NotNil(t, out.Items[0].Membership)
	assert.Equal(t, alice.workspaceID, out.Items[0].Membership.WorkspaceID)

	send(t, ch, wire.FrameSyncInput, wire.SyncInput{ID: "r2", Stream: models.StreamTransactions, WorkspaceID: "someone-else"})
	out = wire.SyncOutput{}
	require.NoError(t, recvType(t, ch, wire.FrameSyncOutput).Decode(&out))
	assert.Equal(t, "r2", out.ID)
	assert.NotEmpty(t, out.Error)
}

func TestChannel_NotifiesEveryDeviceAfterPush(t *testing.T) {
	c := serve(t, newTestServer())
	alice := signUp(t, c, "alice@example.com")
	laptop := openChannel(t, c, alice.token)
	phone := openChannel(t, c, alice.token)

	// A round trip proves both channels are registered with the hub.
	for _, ch := range []wire.ChannelClient{laptop, phone} {
		send(t, ch, wire.FramePing, nil)
		recvType(t, ch, wire.FramePong)
	}

	_, err := c.PushTransactions(withToken(context.Background(), alice.token), &wire.PushRequest{
		WorkspaceID:  alice.workspaceID,
		Transactions: []*models.Transaction{createTx("t1", "n1", alice.workspaceID, 1, models.OperationCreate)},
	})
	require.NoError(t, err)

	for _, ch := range []wire.ChannelClient{laptop, phone} {
		var upd wire.WorkspaceUpdated
		require.NoError(t, recvType(t, ch, wire.FrameWorkspaceUpdated).Decode(&upd))
		assert.Equal(t, alice.workspaceID, upd.WorkspaceID)
	}

	send(t, phone, wire.FrameSyncInput, wire.SyncInput{ID: "r1", Stream: models.StreamTransactions, WorkspaceID: alice.workspaceID})
	var out wire.SyncOutput
	require.NoError(t, recvType(t, phone, wire.FrameSyncOutput).Decode(&out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, "t1", out.Items[0].Transaction.ID)
	assert.Equal(t, out.Items[0].Cursor, out.Cursor)
}
