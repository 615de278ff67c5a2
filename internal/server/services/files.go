package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmitrijs2005/nodesync/internal/common"
	shared "github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/server/config"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/repomanager"
)

var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
)

// PresignedUpload is a time-limited URL the client sends the file body to.
type PresignedUpload struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// FileService hands out presigned S3 URLs for file node payloads. Bodies
// never pass through the server.
type FileService struct {
	store repomanager.Store
	cfg   *config.Config
	now   func() time.Time
}

func NewFileService(store repomanager.Store, cfg *config.Config) *FileService {
	return &FileService{store: store, cfg: cfg, now: time.Now}
}

// StorageKey is the object key of a file node's payload.
func StorageKey(workspaceID, nodeID string) string {
	return fmt.Sprintf("workspaces/%s/files/%s", workspaceID, nodeID)
}

func (s *FileService) getPresignClient(ctx context.Context) (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(ctx,
		awsconfig.WithRegion(s.cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.cfg.S3User,
			s.cfg.S3Password,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.cfg.S3Endpoint)
		o.UsePathStyle = true
	})

	return newS3PresignClient(client), nil
}

// PresignUpload authorizes accountID to upload the payload of a live file
// node the server already knows and returns the URL to PUT it to.
func (s *FileService) PresignUpload(ctx context.Context, accountID, workspaceID, nodeID string) (*PresignedUpload, error) {
	repos := s.store.Repos()

	m, err := repos.Workspaces.GetMembership(ctx, accountID, workspaceID)
	if errors.Is(err, common.ErrNotFound) || (err == nil && m.Removed) {
		return nil, fmt.Errorf("%w: not a member of workspace %s", common.ErrUnauthorized, workspaceID)
	}
	if err != nil {
		return nil, err
	}
	if !m.Role.CanWrite() {
		return nil, fmt.Errorf("%w: role %s cannot upload", common.ErrUnauthorized, m.Role)
	}

	head, err := repos.Nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", nodeID, err)
	}
	switch {
	case head.WorkspaceID != workspaceID:
		return nil, fmt.Errorf("node %s: %w", nodeID, common.ErrNotFound)
	case head.Deleted:
		return nil, fmt.Errorf("node %s: %w", nodeID, common.ErrNodeDeleted)
	case head.Type != shared.NodeTypeFile:
		return nil, fmt.Errorf("%w: node %s is a %s", common.ErrValidation, nodeID, head.Type)
	}

	pc, err := s.getPresignClient(ctx)
	if err != nil {
		return nil, err
	}

	bucket := s.cfg.S3Bucket
	key := StorageKey(workspaceID, nodeID)
	expiresAt := s.now().Add(s.cfg.PresignTTL)

	req, err := presignPutObject(pc, ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, s3.WithPresignExpires(s.cfg.PresignTTL))
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == "" {
		method = http.MethodPut
	}
	return &PresignedUpload{URL: req.URL, Method: method, ExpiresAt: expiresAt}, nil
}
