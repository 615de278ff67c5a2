package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/nodes"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/transactions"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/workspaces"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Accounts(db dbx.DBTX) accounts.Repository
	Workspaces(db dbx.DBTX) workspaces.Repository
	Transactions(db dbx.DBTX) transactions.Repository
	Nodes(db dbx.DBTX) nodes.Repository
}

// Repos is one consistent set of repositories, either bound to the database
// or to an open transaction.
type Repos struct {
	Accounts     accounts.Repository
	Workspaces   workspaces.Repository
	Transactions transactions.Repository
	Nodes        nodes.Repository
}

// Store is what services depend on: repositories outside a transaction and
// a way to run a unit of work atomically.
type Store interface {
	Repos() Repos
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error
	Close() error
}
