package files

import (
	"context"
	"time"
)

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadCompleted UploadStatus = "completed"
)

// File is the local record of a file node's payload.
type File struct {
	NodeID       string
	WorkspaceID  string
	LocalPath    string
	Size         int64
	MimeType     string
	UploadStatus UploadStatus
	UpdatedAt    time.Time
}

type Repository interface {
	CreateOrUpdate(ctx context.Context, f *File) error
	// GetByNodeID returns common.ErrNotFound when nothing is tracked.
	GetByNodeID(ctx context.Context, nodeID string) (*File, error)
	ListPendingUpload(ctx context.Context, workspaceID string) ([]*File, error)
	MarkUploaded(ctx context.Context, nodeID string) error
	DeleteByWorkspace(ctx context.Context, workspaceID string) error
}
