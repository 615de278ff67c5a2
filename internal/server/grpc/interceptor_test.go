package grpc

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/server/auth"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func incoming(token string) context.Context {
	md := metadata.New(map[string]string{common.AccessTokenHeaderName: token})
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestInterceptor_PublicMethodsSkipAuth(t *testing.T) {
	s := newTestServer()
	called := false
	h := func(ctx context.Context, req any) (any, error) {
		called = true
		return "ok", nil
	}

	resp, err := s.accessTokenInterceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: wire.FullMethod(wire.MethodLogin)}, h)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, "ok", resp)
}

func TestInterceptor_RejectsMissingAndInvalidTokens(t *testing.T) {
	s := newTestServer()
	info := &grpc.UnaryServerInfo{FullMethod: wire.FullMethod(wire.MethodPushTransactions)}
	h := func(ctx context.Context, req any) (any, error) {
		t.Fatal("handler should not be called")
		return nil, nil
	}

	_, err := s.accessTokenInterceptor(context.Background(), nil, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "missing token", status.Convert(err).Message())

	_, err = s.accessTokenInterceptor(incoming("not-a-valid-jwt"), nil, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	other, _, err := auth.GenerateToken("a-1", "", []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	_, err = s.accessTokenInterceptor(incoming(other), nil, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestInterceptor_ValidTokenSetsAccount(t *testing.T) {
	s := newTestServer()
	token, _, err := auth.GenerateToken("a-1", "d-1", []byte(secret), time.Hour)
	require.NoError(t, err)

	var got string
	h := func(ctx context.Context, req any) (any, error) {
		got, _ = accountIDFromContext(ctx)
		return nil, nil
	}
	_, err = s.accessTokenInterceptor(incoming(token), nil, &grpc.UnaryServerInfo{FullMethod: wire.FullMethod(wire.MethodPushTransactions)}, h)
	require.NoError(t, err)
	assert.Equal(t, "a-1", got)
}

type fakeServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeServerStream) Context() context.Context { return f.ctx }

func TestStreamInterceptor(t *testing.T) {
	s := newTestServer()
	token, _, err := auth.GenerateToken("a-1", "", []byte(secret), time.Hour)
	require.NoError(t, err)
	info := &grpc.StreamServerInfo{FullMethod: wire.FullMethod(wire.StreamChannel)}

	var got string
	h := func(srv any, ss grpc.ServerStream) error {
		got, _ = accountIDFromContext(ss.Context())
		return nil
	}
	require.NoError(t, s.streamAccessTokenInterceptor(nil, &fakeServerStream{ctx: incoming(token)}, info, h))
	assert.Equal(t, "a-1", got)

	err = s.streamAccessTokenInterceptor(nil, &fakeServerStream{ctx: context.Background()}, info, h)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
