// Package cli is the nodesync command-line client.
//
// Every command works against the local store, so create, update, delete,
// tree and pending succeed offline. Replication happens while "run" or
// "shell" is active: pending transactions are pushed and remote changes are
// pulled whenever the server is reachable.
//
// Flags consumed by the config package (-a, -d, -l, -c) are stripped before
// the arguments reach cobra.
package cli
