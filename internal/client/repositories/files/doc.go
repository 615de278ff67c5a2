// Package files tracks the binary payloads of file nodes on the device.
//
// A file node's attributes (name, size, mimeType) replicate through the
// transaction log like any other node. The bytes do not: they go straight to
// object storage through a presigned URL, and this package remembers which
// local path belongs to which node and whether the upload finished.
package files
