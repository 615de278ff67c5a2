package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// syncClient is the subset of *wire.SyncServiceClient used here.
type syncClient interface {
	Register(ctx context.Context, req *wire.RegisterRequest, opts ...grpc.CallOption) (*wire.RegisterResponse, error)
	Login(ctx context.Context, req *wire.LoginRequest, opts ...grpc.CallOption) (*wire.LoginResponse, error)
	Ping(ctx context.Context, req *wire.PingRequest, opts ...grpc.CallOption) (*wire.PingResponse, error)
	PushTransactions(ctx context.Context, req *wire.PushRequest, opts ...grpc.CallOption) (*wire.PushResponse, error)
	PresignFileUpload(ctx context.Context, req *wire.PresignRequest, opts ...grpc.CallOption) (*wire.PresignResponse, error)
	Channel(ctx context.Context, opts ...grpc.CallOption) (wire.ChannelClient, error)
}

type Client struct {
	conn   *grpc.ClientConn
	client syncClient

	mu          sync.RWMutex
	accessToken string
}

// New connects to address. Extra dial options come after the defaults, so
// tests can replace the dialer.
func New(address string, opts ...grpc.DialOption) (*Client, error) {
	c := &Client{}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor),
		grpc.WithStreamInterceptor(c.accessTokenStreamInterceptor),
	}, opts...)

	conn, err := grpc.NewClient(address, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	c.conn = conn
	c.client = wire.NewSyncServiceClient(conn)
	return c, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// SetAccessToken replaces the token sent with every call. An empty token
// sends none.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (c *Client) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	return invoker(withAccessToken(ctx, c.token()), method, req, reply, cc, opts...)
}

func (c *Client) accessTokenStreamInterceptor(
	ctx context.Context,
	desc *grpc.StreamDesc,
	cc *grpc.ClientConn,
	method string,
	streamer grpc.Streamer,
	opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	return streamer(withAccessToken(ctx, c.token()), desc, cc, method, opts...)
}

func (c *Client) Register(ctx context.Context, email, password string) (*wire.RegisterResponse, error) {
	resp, err := c.client.Register(ctx, &wire.RegisterRequest{Email: email, Password: password})
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

// Login signs in and keeps the returned access token for later calls.
func (c *Client) Login(ctx context.Context, email, password, deviceID string) (*wire.LoginResponse, error) {
	resp, err := c.client.Login(ctx, &wire.LoginRequest{Email: email, Password: password, DeviceID: deviceID})
	if err != nil {
		return nil, mapError(err)
	}
	c.SetAccessToken(resp.AccessToken)
	return resp, nil
}

func (c *Client) Ping(ctx context.Context) (*wire.PingResponse, error) {
	resp, err := c.client.Ping(ctx, &wire.PingRequest{})
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

func (c *Client) PushTransactions(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error) {
	resp, err := c.client.PushTransactions(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

func (c *Client) PresignFileUpload(ctx context.Context, workspaceID, nodeID string) (*wire.PresignResponse, error) {
	resp, err := c.client.PresignFileUpload(ctx, &wire.PresignRequest{WorkspaceID: workspaceID, NodeID: nodeID})
	if err != nil {
		return nil, mapError(err)
	}
	return resp, nil
}

// Dial opens the duplex channel. Errors surfacing later from the stream's
// Recv or Send are mapped by the returned wrapper as well.
func (c *Client) Dial(ctx context.Context) (wire.ChannelClient, error) {
	stream, err := c.client.Channel(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	return &channel{stream}, nil
}

type channel struct {
	wire.ChannelClient
}

func (ch *channel) Send(f *wire.Frame) error {
	return mapError(ch.ChannelClient.Send(f))
}

func (ch *channel) Recv() (*wire.Frame, error) {
	f, err := ch.ChannelClient.Recv()
	if err != nil {
		return nil, mapError(err)
	}
	return f, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", common.ErrNetworkTimeout, err)
		}
		return err
	}
	switch st.Code() {
	case codes.Unavailable, codes.Canceled:
		return fmt.Errorf("%w: %s", common.ErrNetworkUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", common.ErrNetworkTimeout, st.Message())
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, st.Message())
	case codes.FailedPrecondition, codes.InvalidArgument, codes.AlreadyExists:
		return fmt.Errorf("%w: %s", common.ErrServerRejected, st.Message())
	case codes.NotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}
