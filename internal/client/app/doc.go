// Package app assembles the nodesync client: the local SQLite store, the
// transaction log, the mutation pipeline, the job scheduler with the sync
// handlers, and the connection manager over the gRPC transport.
//
// A process that only mutates local data (one-shot CLI commands) never calls
// Run; its pending transactions are pushed by the next process that does.
// Run drives replication until its context is cancelled.
package app
