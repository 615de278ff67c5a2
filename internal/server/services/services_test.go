package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/logging"
	shared "github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/server/config"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	frames map[string][]*wire.Frame
}

func (n *recordingNotifier) Notify(accountID string, f *wire.Frame) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.frames == nil {
		n.frames = map[string][]*wire.Frame{}
	}
	n.frames[accountID] = append(n.frames[accountID], f)
}

func (n *recordingNotifier) count(accountID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.frames[accountID])
}

type fixture struct {
	store     *memory.Store
	cfg       *config.Config
	accounts  *AccountService
	sync      *SyncService
	files     *FileService
	notifier  *recordingNotifier
	account   string
	workspace string
}

func testConfig() *config.Config {
	return &config.Config{
		SecretKey:      "test-secret",
		AccessTokenTTL: time.Hour,
		PullPageSize:   3,
		S3User:         "minioadmin",
		S3Password:     "minioadmin",
		S3Bucket:       "nodesync",
		S3Region:       "us-east-1",
		S3Endpoint:     "http://127.0.0.1:9000",
		PresignTTL:     15 * time.Minute,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	cfg := testConfig()
	n := &recordingNotifier{}
	f := &fixture{
		store:    store,
		cfg:      cfg,
		accounts: NewAccountService(store, cfg),
		sync:     NewSyncService(store, n, cfg, logging.Nop{}),
		files:    NewFileService(store, cfg),
		notifier: n,
	}

	var err error
	f.account, f.workspace, err = f.accounts.Register(context.Background(), "alice@example.com", "correct horse")
	require.NoError(t, err)
	return f
}

var clock = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func (f *fixture) tx(id, node string, op shared.Operation, version int64, data shared.Attributes) *shared.Transaction {
	return &shared.Transaction{
		ID:          id,
		Operation:   op,
		NodeID:      node,
		NodeType:    shared.NodeTypePage,
		RootID:      node,
		WorkspaceID: f.workspace,
		Data:        data,
		CreatedBy:   f.account,
		CreatedAt:   clock,
		Version:     version,
	}
}
