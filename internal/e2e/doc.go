// Package e2e runs client devices against an in-process server over an
// in-memory gRPC connection.
package e2e
