package grpc

import (
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/nodesync/internal/wire"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errChannelClosed = errors.New("channel closed by peer")

// Channel serves one client's duplex stream. A reader goroutine answers pings
// and synchronizer inputs; this goroutine is the only writer and sends the
// replies together with the hub's notifications for the account.
//
// The reader is not awaited: Recv only returns once the stream ends, which
// happens when this handler returns.
func (s *GRPCServer) Channel(stream wire.ChannelServer) error {
	accountID, err := s.account(stream.Context())
	if err != nil {
		return err
	}

	conn := s.hub.Connect(accountID)
	defer s.hub.Disconnect(conn)

	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()

	logger := s.logger.With("account", accountID)
	logger.Info(ctx, "channel opened")

	replies := make(chan *wire.Frame, 16)
	readErr := make(chan error, 1)
	go func() {
		readErr <- s.readChannel(ctx, stream, accountID, replies)
	}()

	err = s.writeChannel(ctx, stream, conn.C, replies, readErr)
	logger.Info(context.Background(), "channel closed")

	switch {
	case err == nil, errors.Is(err, errChannelClosed), errors.Is(err, context.Canceled), status.Code(err) == codes.Canceled:
		return nil
	}
	return err
}

func (s *GRPCServer) readChannel(ctx context.Context, stream wire.ChannelServer, accountID string, replies chan<- *wire.Frame) error {
	reply := func(t wire.FrameType, payload any) error {
		f, err := wire.NewFrame(t, payload)
		if err != nil {
			return err
		}
		select {
		case replies <- f:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		f, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return errChannelClosed
		}
		if err != nil {
			return err
		}

		switch f.Type {
		case wire.FramePing:
			err = reply(wire.FramePong, nil)
		case wire.FramePong:
		case wire.FrameSyncInput:
			var in wire.SyncInput
			if err := f.Decode(&in); err != nil {
				return status.Error(codes.InvalidArgument, err.Error())
			}
			out, perr := s.sync.Pull(ctx, accountID, &in)
			if perr != nil {
				s.logger.Warn(ctx, "pull failed", "account", accountID, "stream", in.Stream, "workspace", in.WorkspaceID, "error", perr)
				out = &wire.SyncOutput{ID: in.ID, Cursor: in.Cursor, Items: []wire.SyncItem{}, Error: perr.Error()}
			}
			err = reply(wire.FrameSyncOutput, out)
		default:
			err = reply(wire.FrameError, wire.ErrorPayload{Message: "unsupported frame " + string(f.Type)})
		}
		if err != nil {
			return err
		}
	}
}

func (s *GRPCServer) writeChannel(ctx context.Context, stream wire.ChannelServer, notifications <-chan *wire.Frame,
	replies <-chan *wire.Frame, readErr <-chan error) error {
	for {
		select {
		case f := <-replies:
			if err := stream.Send(f); err != nil {
				return err
			}
		case f, ok := <-notifications:
			if !ok {
				return nil
			}
			if err := stream.Send(f); err != nil {
				return err
			}
		case err := <-readErr:
			for {
				select {
				case f := <-replies:
					if serr := stream.Send(f); serr != nil {
						return serr
					}
				default:
					return err
				}
			}
		case <-s.closing:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
