package grpc

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// MaxPushBatch bounds the transactions accepted by one PushTransactions call.
const MaxPushBatch = 500

func (s *GRPCServer) account(ctx context.Context) (string, error) {
	id, ok := accountIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing account")
	}
	return id, nil
}

func (s *GRPCServer) Register(ctx context.Context, req *wire.RegisterRequest) (*wire.RegisterResponse, error) {
	s.logger.Info(ctx, "Registration request")

	accountID, workspaceID, err := s.accounts.Register(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Registered", "account", accountID)
	return &wire.RegisterResponse{AccountID: accountID, WorkspaceID: workspaceID}, nil
}

func (s *GRPCServer) Login(ctx context.Context, req *wire.LoginRequest) (*wire.LoginResponse, error) {
	session, err := s.accounts.Login(ctx, req.Email, req.Password, req.DeviceID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}

	s.logger.Info(ctx, "Logged in", "account", session.AccountID, "device", req.DeviceID)
	return &wire.LoginResponse{
		AccountID:   session.AccountID,
		AccessToken: session.AccessToken,
		ExpiresAt:   session.ExpiresAt,
		Workspaces:  session.Workspaces,
	}, nil
}

func (s *GRPCServer) Ping(ctx context.Context, req *wire.PingRequest) (*wire.PingResponse, error) {
	return &wire.PingResponse{ServerTime: s.now().UTC()}, nil
}

func (s *GRPCServer) PushTransactions(ctx context.Context, req *wire.PushRequest) (*wire.PushResponse, error) {
	accountID, err := s.account(ctx)
	if err != nil {
		return nil, err
	}
	if req.WorkspaceID == "" {
		return nil, s.toStatus(ctx, fmt.Errorf("%w: workspace is required", common.ErrValidation))
	}
	if len(req.Transactions) > MaxPushBatch {
		return nil, s.toStatus(ctx, fmt.Errorf("%w: at most %d transactions per push", common.ErrValidation, MaxPushBatch))
	}

	results, err := s.sync.Push(ctx, accountID, req.WorkspaceID, req.Transactions)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &wire.PushResponse{Results: results}, nil
}

func (s *GRPCServer) PresignFileUpload(ctx context.Context, req *wire.PresignRequest) (*wire.PresignResponse, error) {
	accountID, err := s.account(ctx)
	if err != nil {
		return nil, err
	}

	up, err := s.files.PresignUpload(ctx, accountID, req.WorkspaceID, req.NodeID)
	if err != nil {
		return nil, s.toStatus(ctx, err)
	}
	return &wire.PresignResponse{URL: up.URL, Method: up.Method, ExpiresAt: up.ExpiresAt}, nil
}
