// Package repomanager vends the client's SQLite repositories bound to a DBTX,
// so the same code runs against the pool or inside a transaction.
package repomanager

import (
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/cursors"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/files"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/nodes"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/transactions"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/workspaces"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
)

type RepositoryManager interface {
	Nodes(db dbx.DBTX) nodes.Repository
	Transactions(db dbx.DBTX) transactions.Repository
	Cursors(db dbx.DBTX) cursors.Repository
	Workspaces(db dbx.DBTX) workspaces.Repository
	Metadata(db dbx.DBTX) metadata.Repository
	Files(db dbx.DBTX) files.Repository
}

// SQLiteRepositoryManager implements RepositoryManager with the SQLite repositories.
type SQLiteRepositoryManager struct{}

func NewSQLiteRepositoryManager() *SQLiteRepositoryManager {
	return &SQLiteRepositoryManager{}
}

func (m *SQLiteRepositoryManager) Nodes(db dbx.DBTX) nodes.Repository {
	return nodes.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Transactions(db dbx.DBTX) transactions.Repository {
	return transactions.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Cursors(db dbx.DBTX) cursors.Repository {
	return cursors.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Workspaces(db dbx.DBTX) workspaces.Repository {
	return workspaces.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Metadata(db dbx.DBTX) metadata.Repository {
	return metadata.NewSQLiteRepository(db)
}

func (m *SQLiteRepositoryManager) Files(db dbx.DBTX) files.Repository {
	return files.NewSQLiteRepository(db)
}
