// Package transport is the client's gRPC connection to the sync server.
//
// Client wraps a single grpc.ClientConn. Every call, unary or streaming,
// carries the current access token in the "access_token" metadata key, and
// every gRPC status is mapped onto the sentinel errors of internal/common so
// that the job scheduler can tell transient failures from terminal ones:
//
//	Unavailable                          -> common.ErrNetworkUnavailable
//	DeadlineExceeded                     -> common.ErrNetworkTimeout
//	Unauthenticated, PermissionDenied    -> common.ErrUnauthorized
//	FailedPrecondition, InvalidArgument  -> common.ErrServerRejected
//
// Client satisfies syncer.Pusher and connection.Dialer.
package transport
