package nodes

import (
	"context"

	"github.com/dmitrijs2005/nodesync/internal/server/models"
)

type Repository interface {
	Get(ctx context.Context, id string) (*models.NodeHead, error)
	Upsert(ctx context.Context, head *models.NodeHead) error
}
