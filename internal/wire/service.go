package wire

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "nodesync.v1.SyncService"

const (
	MethodRegister          = "Register"
	MethodLogin             = "Login"
	MethodPing              = "Ping"
	MethodPushTransactions  = "PushTransactions"
	MethodPresignFileUpload = "PresignFileUpload"
	StreamChannel           = "Channel"
)

// FullMethod returns the gRPC method path, e.g. "/nodesync.v1.SyncService/Login".
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// SyncServiceServer is implemented by the server.
type SyncServiceServer interface {
	Register(context.Context, *RegisterRequest) (*RegisterResponse, error)
	Login(context.Context, *LoginRequest) (*LoginResponse, error)
	Ping(context.Context, *PingRequest) (*PingResponse, error)
	PushTransactions(context.Context, *PushRequest) (*PushResponse, error)
	PresignFileUpload(context.Context, *PresignRequest) (*PresignResponse, error)
	Channel(ChannelServer) error
}

// ChannelServer is the server side of the duplex channel.
type ChannelServer interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	Context() context.Context
}

// ChannelClient is the client side of the duplex channel.
type ChannelClient interface {
	Send(*Frame) error
	Recv() (*Frame, error)
	CloseSend() error
	Context() context.Context
}

// ServiceDesc describes SyncService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodRegister, Handler: unaryHandler(MethodRegister, SyncServiceServer.Register)},
		{MethodName: MethodLogin, Handler: unaryHandler(MethodLogin, SyncServiceServer.Login)},
		{MethodName: MethodPing, Handler: unaryHandler(MethodPing, SyncServiceServer.Ping)},
		{MethodName: MethodPushTransactions, Handler: unaryHandler(MethodPushTransactions, SyncServiceServer.PushTransactions)},
		{MethodName: MethodPresignFileUpload, Handler: unaryHandler(MethodPresignFileUpload, SyncServiceServer.PresignFileUpload)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    StreamChannel,
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
}

// RegisterSyncServiceServer attaches srv to s.
func RegisterSyncServiceServer(s grpc.ServiceRegistrar, srv SyncServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unaryHandler[Req, Resp any](method string, call func(SyncServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}

		handle := func(ctx context.Context, req any) (any, error) {
			var r Req
			if err := FromStruct(req.(*structpb.Struct), &r); err != nil {
				return nil, status.Error(codes.InvalidArgument, err.Error())
			}
			resp, err := call(srv.(SyncServiceServer), ctx, &r)
			if err != nil {
				return nil, err
			}
			out, err := ToStruct(resp)
			if err != nil {
				return nil, status.Error(codes.Internal, err.Error())
			}
			return out, nil
		}

		if interceptor == nil {
			return handle(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
		return interceptor(ctx, in, info, handle)
	}
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(SyncServiceServer).Channel(&channelServer{stream})
}

type channelServer struct {
	grpc.ServerStream
}

func (s *channelServer) Send(f *Frame) error {
	msg, err := ToStruct(f)
	if err != nil {
		return err
	}
	return s.ServerStream.SendMsg(msg)
}

func (s *channelServer) Recv() (*Frame, error) {
	msg := new(structpb.Struct)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	f := new(Frame)
	if err := FromStruct(msg, f); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return f, nil
}

// SyncServiceClient calls SyncService over a client connection.
type SyncServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewSyncServiceClient(cc grpc.ClientConnInterface) *SyncServiceClient {
	return &SyncServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req any, opts ...grpc.CallOption) (*Resp, error) {
	in, err := ToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	resp := new(Resp)
	if err := FromStruct(out, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *SyncServiceClient) Register(ctx context.Context, req *RegisterRequest, opts ...grpc.CallOption) (*RegisterResponse, error) {
	return invoke[RegisterResponse](ctx, c.cc, MethodRegister, req, opts...)
}

func (c *SyncServiceClient) Login(ctx context.Context, req *LoginRequest, opts ...grpc.CallOption) (*LoginResponse, error) {
	return invoke[LoginResponse](ctx, c.cc, MethodLogin, req, opts...)
}

func (c *SyncServiceClient) Ping(ctx context.Context, req *PingRequest, opts ...grpc.CallOption) (*PingResponse, error) {
	return invoke[PingResponse](ctx, c.cc, MethodPing, req, opts...)
}

func (c *SyncServiceClient) PushTransactions(ctx context.Context, req *PushRequest, opts ...grpc.CallOption) (*PushResponse, error) {
	return invoke[PushResponse](ctx, c.cc, MethodPushTransactions, req, opts...)
}

func (c *SyncServiceClient) PresignFileUpload(ctx context.Context, req *PresignRequest, opts ...grpc.CallOption) (*PresignResponse, error) {
	return invoke[PresignResponse](ctx, c.cc, MethodPresignFileUpload, req, opts...)
}

// Channel opens the duplex channel. The stream lives until ctx is done or
// either side closes it.
func (c *SyncServiceClient) Channel(ctx context.Context, opts ...grpc.CallOption) (ChannelClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], FullMethod(StreamChannel), opts...)
	if err != nil {
		return nil, err
	}
	return &channelClient{stream}, nil
}

type channelClient struct {
	grpc.ClientStream
}

func (c *channelClient) Send(f *Frame) error {
	msg, err := ToStruct(f)
	if err != nil {
		return err
	}
	return c.ClientStream.SendMsg(msg)
}

func (c *channelClient) Recv() (*Frame, error) {
	msg := new(structpb.Struct)
	if err := c.ClientStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	f := new(Frame)
	if err := FromStruct(msg, f); err != nil {
		return nil, err
	}
	return f, nil
}
