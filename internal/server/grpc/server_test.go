package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/server/config"
	"github.com/dmitrijs2005/nodesync/internal/server/hub"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/nodesync/internal/server/services"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
)

const secret = "test-secret"

func newTestServer() *GRPCServer {
	store := memory.New()
	cfg := &config.Config{SecretKey: secret, AccessTokenTTL: time.Hour, PullPageSize: 100, PresignTTL: time.Minute}
	h := hub.New(8, logging.Nop{})
	return NewGRPCServer("127.0.0.1:0", logging.Nop{},
		services.NewAccountService(store, cfg),
		services.NewSyncService(store, h, cfg, logging.Nop{}),
		services.NewFileService(store, cfg),
		h, secret)
}

// serve runs s on an in-memory listener and returns a client for it.
func serve(t *testing.T, s *GRPCServer) *wire.SyncServiceClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("server did not stop")
		}
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return wire.NewSyncServiceClient(conn)
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, token)
}

type session struct {
	accountID   string
	workspaceID string
	token       string
}

func signUp(t *testing.T, c *wire.SyncServiceClient, email string) session {
	t.Helper()
	ctx := context.Background()
	reg, err := c.Register(ctx, &wire.RegisterRequest{Email: email, Password: "correct horse"})
	require.NoError(t, err)
	login, err := c.Login(ctx, &wire.LoginRequest{Email: email, Password: "correct horse", DeviceID: "d1"})
	require.NoError(t, err)
	require.Equal(t, reg.AccountID, login.AccountID)
	return session{accountID: reg.AccountID, workspaceID: reg.WorkspaceID, token: login.AccessToken}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Parallel()
	srv := newTestServer()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	select {
	case err := <-done:
		t.Fatalf("server exited too early: %v", err)
	case <-time.After(150 * time.Millisecond):
	}

	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error on graceful stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop within timeout after context cancel")
	}
}

func TestRun_ReturnsErrorOnBadAddress(t *testing.T) {
	t.Parallel()
	srv := newTestServer()
	srv.address = "127.0.0.1:99999"

	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error from Run on bad address, got nil")
	}
}
