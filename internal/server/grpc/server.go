// Package grpc exposes the server services over gRPC: unary calls for
// accounts, pushes and file presigning, and the duplex channel that carries
// synchronizer requests and notifications.
package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/server/hub"
	"github.com/dmitrijs2005/nodesync/internal/server/services"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"google.golang.org/grpc"
)

type GRPCServer struct {
	address   string
	accounts  *services.AccountService
	sync      *services.SyncService
	files     *services.FileService
	hub       *hub.Hub
	logger    logging.Logger
	jwtSecret []byte
	now       func() time.Time

	// closing ends open channels so a graceful stop does not wait on them.
	closing   chan struct{}
	closeOnce sync.Once
}

// shutdownTimeout bounds the graceful stop before in-flight calls are cut.
const shutdownTimeout = 5 * time.Second

func NewGRPCServer(address string, l logging.Logger, accounts *services.AccountService, sync *services.SyncService,
	files *services.FileService, h *hub.Hub, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   address,
		accounts:  accounts,
		sync:      sync,
		files:     files,
		hub:       h,
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
		now:       time.Now,
		closing:   make(chan struct{}),
	}
}

// NewServer builds a grpc.Server with the authentication interceptors and
// the sync service registered.
func (s *GRPCServer) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.accessTokenInterceptor),
		grpc.ChainStreamInterceptor(s.streamAccessTokenInterceptor),
	}, opts...)
	srv := grpc.NewServer(opts...)
	wire.RegisterSyncServiceServer(srv, s)
	return srv
}

// Run listens on the configured address and serves until ctx is done.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis until ctx is done, then stops gracefully.
func (s *GRPCServer) Serve(ctx context.Context, lis net.Listener) error {
	srv := s.NewServer()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		s.closeOnce.Do(func() { close(s.closing) })

		graceful := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(graceful)
		}()
		select {
		case <-graceful:
		case <-time.After(shutdownTimeout):
			srv.Stop()
		}
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil {
		return err
	}
	<-stopped
	return nil
}
