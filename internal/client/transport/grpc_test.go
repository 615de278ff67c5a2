package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

// fakeServer records the access token of every call.
type fakeServer struct {
	mu     sync.Mutex
	tokens map[string]string
	pushFn func(*wire.PushRequest) (*wire.PushResponse, error)
}

func (s *fakeServer) record(ctx context.Context, method string) {
	md, _ := metadata.FromIncomingContext(ctx)
	tok := ""
	if v := md.Get(common.AccessTokenHeaderName); len(v) > 0 {
		tok = v[0]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[method] = tok
}

func (s *fakeServer) token(method string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[method]
}

func (s *fakeServer) Register(ctx context.Context, req *wire.RegisterRequest) (*wire.RegisterResponse, error) {
	s.record(ctx, "register")
	if req.Email == "taken@example.com" {
		return nil, status.Error(codes.AlreadyExists, "email taken")
	}
	return &wire.RegisterResponse{AccountID: "a1", WorkspaceID: "w1"}, nil
}

func (s *fakeServer) Login(ctx context.Context, req *wire.LoginRequest) (*wire.LoginResponse, error) {
	s.record(ctx, "login")
	if req.Password != "secret" {
		return nil, status.Error(codes.Unauthenticated, "bad credentials")
	}
	return &wire.LoginResponse{AccountID: "a1", AccessToken: "tok-" + req.DeviceID}, nil
}

func (s *fakeServer) Ping(ctx context.Context, _ *wire.PingRequest) (*wire.PingResponse, error) {
	s.record(ctx, "ping")
	return &wire.PingResponse{ServerTime: time.Unix(100, 0).UTC()}, nil
}

func (s *fakeServer) PushTransactions(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error) {
	s.record(ctx, "push")
	return s.pushFn(req)
}

func (s *fakeServer) PresignFileUpload(ctx context.Context, req *wire.PresignRequest) (*wire.PresignResponse, error) {
	s.record(ctx, "presign")
	return &wire.PresignResponse{URL: "https://bucket/" + req.NodeID, Method: "PUT"}, nil
}

func (s *fakeServer) Channel(stream wire.ChannelServer) error {
	s.record(stream.Context(), "channel")
	for {
		f, err := stream.Recv()
		if err != nil {
			return nil
		}
		if f.Type == wire.FramePing {
			pong, _ := wire.NewFrame(wire.FramePong, nil)
			if err := stream.Send(pong); err != nil {
				return err
			}
		}
	}
}

func newClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fs := &fakeServer{tokens: map[string]string{}}
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	wire.RegisterSyncServiceServer(srv, fs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	c, err := New("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, fs
}

func TestClient_LoginAttachesTokenToLaterCalls(t *testing.T) {
	c, fs := newClient(t)
	ctx := context.Background()

	_, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Empty(t, fs.token("ping"))

	_, err = c.Login(ctx, "a@example.com", "nope", "d1")
	require.ErrorIs(t, err, common.ErrUnauthorized)

	resp, err := c.Login(ctx, "a@example.com", "secret", "d1")
	require.NoError(t, err)
	assert.Equal(t, "a1", resp.AccountID)

	pong, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), pong.ServerTime.Unix())
	assert.Equal(t, "tok-d1", fs.token("ping"))

	presign, err := c.PresignFileUpload(ctx, "w1", "n1")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket/n1", presign.URL)
	assert.Equal(t, "tok-d1", fs.token("presign"))
}

func TestClient_TokenOverridesCallerMetadata(t *testing.T) {
	c, fs := newClient(t)
	c.SetAccessToken("mine")

	ctx := metadata.AppendToOutgoingContext(context.Background(), common.AccessTokenHeaderName, "stale")
	_, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, "mine", fs.token("ping"))
}

func TestClient_RegisterRejected(t *testing.T) {
	c, _ := newClient(t)

	resp, err := c.Register(context.Background(), "new@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "w1", resp.WorkspaceID)

	_, err = c.Register(context.Background(), "taken@example.com", "pw")
	require.ErrorIs(t, err, common.ErrServerRejected)
}

func TestClient_PushTransactions(t *testing.T) {
	c, fs := newClient(t)
	fs.pushFn = func(req *wire.PushRequest) (*wire.PushResponse, error) {
		if req.WorkspaceID == "" {
			return nil, status.Error(codes.InvalidArgument, "workspace required")
		}
		return &wire.PushResponse{Results: []wire.PushResult{{TransactionID: "t1", Status: wire.PushAcknowledged, Version: 1, Seq: 7}}}, nil
	}

	resp, err := c.PushTransactions(context.Background(), &wire.PushRequest{WorkspaceID: "w1"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, wire.PushAcknowledged, resp.Results[0].Status)
	assert.Equal(t, int64(7), resp.Results[0].Seq)

	_, err = c.PushTransactions(context.Background(), &wire.PushRequest{})
	require.ErrorIs(t, err, common.ErrServerRejected)
}

func TestClient_ChannelCarriesToken(t *testing.T) {
	c, fs := newClient(t)
	c.SetAccessToken("tok")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := c.Dial(ctx)
	require.NoError(t, err)

	ping, _ := wire.NewFrame(wire.FramePing, nil)
	require.NoError(t, ch.Send(ping))
	f, err := ch.Recv()
	require.NoError(t, err)
	assert.Equal(t, wire.FramePong, f.Type)
	assert.Equal(t, "tok", fs.token("channel"))

	require.NoError(t, ch.CloseSend())
	_, err = ch.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestMapError(t *testing.T) {
	plain := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"unavailable", status.Error(codes.Unavailable, "down"), common.ErrNetworkUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), common.ErrNetworkTimeout},
		{"ctx deadline", context.DeadlineExceeded, common.ErrNetworkTimeout},
		{"unauthenticated", status.Error(codes.Unauthenticated, "who"), common.ErrUnauthorized},
		{"permission", status.Error(codes.PermissionDenied, "no"), common.ErrUnauthorized},
		{"precondition", status.Error(codes.FailedPrecondition, "viewer"), common.ErrServerRejected},
		{"invalid", status.Error(codes.InvalidArgument, "bad"), common.ErrServerRejected},
		{"not found", status.Error(codes.NotFound, "gone"), common.ErrNotFound},
		{"plain", plain, plain},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}

	assert.NoError(t, mapError(nil))
	internal := mapError(status.Error(codes.Internal, "oops"))
	assert.False(t, common.IsTransient(internal))
	assert.Contains(t, internal.Error(), "rpc error")
}
