package app

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/jobs"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/files"
	"github.com/dmitrijs2005/nodesync/internal/client/syncer"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/filex"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/netx"
)

const JobUpload = "files.upload"

// UploadJob uploads the workspace's pending file payloads.
func UploadJob(accountID, workspaceID string) jobs.Job {
	return jobs.Job{
		Type:  JobUpload,
		Key:   models.WorkspaceScope(accountID, workspaceID) + "/upload",
		Input: syncer.Input{AccountID: accountID, WorkspaceID: workspaceID},
	}
}

// AttachFile creates a file node under parentID describing the file at path
// and queues its payload for upload.
func (a *App) AttachFile(ctx context.Context, parentID, path string) (*models.Node, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	size, err := filex.Size(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrValidation, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(abs))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	node, err := a.Create(ctx, CreateInput{
		Type:     models.NodeTypeFile,
		ParentID: parentID,
		Attributes: models.Attributes{
			"name":     filepath.Base(abs),
			"mimeType": mimeType,
			"size":     size,
		},
	})
	if err != nil {
		return nil, err
	}

	err = a.repos.Files(a.db).CreateOrUpdate(ctx, &files.File{
		NodeID:       node.ID,
		WorkspaceID:  node.WorkspaceID,
		LocalPath:    abs,
		Size:         size,
		MimeType:     mimeType,
		UploadStatus: files.UploadPending,
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("track file payload: %w", err)
	}

	if accountID, err := a.accountID(); err == nil {
		a.enqueue(ctx, UploadJob(accountID, node.WorkspaceID))
	}
	return node, nil
}

// uploadFiles sends every pending payload whose node the server already
// knows. Payloads of nodes still waiting for acknowledgement are retried later.
func (a *App) uploadFiles(ctx context.Context, job jobs.Job) jobs.Outcome {
	in, ok := job.Input.(syncer.Input)
	if !ok || in.WorkspaceID == "" {
		return jobs.Cancel(fmt.Errorf("%w: bad upload input", common.ErrValidation))
	}
	if !a.conn.Connected() {
		return jobs.RetryAfter(a.cfg.OfflineRetryDelay)
	}

	repo := a.repos.Files(a.db)
	pending, err := repo.ListPendingUpload(ctx, in.WorkspaceID)
	if err != nil {
		return jobs.RetryBackoff(err)
	}

	waiting := false
	for _, f := range pending {
		node, err := a.repos.Nodes(a.db).Get(ctx, f.NodeID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			continue
		case err != nil:
			return jobs.RetryBackoff(err)
		case node.Deleted:
			continue
		case node.ServerVersion == 0:
			waiting = true
			continue
		}

		if err := a.upload(ctx, f); err != nil {
			if ctx.Err() != nil {
				return jobs.Cancel(ctx.Err())
			}
			if errors.Is(err, common.ErrUnauthorized) {
				return jobs.Cancel(err)
			}
			a.logger.Warn(ctx, "upload failed", "node", f.NodeID, "error", err)
			return jobs.RetryBackoff(err)
		}
		if err := repo.MarkUploaded(ctx, f.NodeID); err != nil {
			return jobs.RetryBackoff(err)
		}
		a.logger.Info(ctx, "file uploaded", "node", f.NodeID, "size", f.Size)
	}

	if waiting {
		return jobs.RetryAfter(a.cfg.OfflineRetryDelay)
	}
	return jobs.Success()
}

func (a *App) upload(ctx context.Context, f *files.File) error {
	presign, err := a.remote.PresignFileUpload(ctx, f.WorkspaceID, f.NodeID)
	if err != nil {
		return err
	}
	body, err := os.Open(f.LocalPath)
	if err != nil {
		return err
	}
	defer body.Close()

	return netx.Upload(ctx, a.http, presign.Method, presign.URL, body, f.Size, f.MimeType)
}
