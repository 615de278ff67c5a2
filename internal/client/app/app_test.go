package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/config"
	"github.com/dmitrijs2005/nodesync/internal/client/jobs"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/files"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/sqlitedb"
	"github.com/dmitrijs2005/nodesync/internal/client/syncer"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 3 * time.Second

// fakeRemote acknowledges every push and answers every pull with an empty
// batch.
type fakeRemote struct {
	mu      sync.Mutex
	token   string
	pushed  []*models.Transaction
	seq     int64
	uploads string
	offline atomic.Bool
}

func (r *fakeRemote) Register(_ context.Context, email, _ string) (*wire.RegisterResponse, error) {
	return &wire.RegisterResponse{AccountID: "acc-" + email, WorkspaceID: "w-" + email}, nil
}

func (r *fakeRemote) Login(_ context.Context, email, password, _ string) (*wire.LoginResponse, error) {
	if password != "secret" {
		return nil, common.ErrUnauthorized
	}
	account := "acc-" + email
	return &wire.LoginResponse{
		AccountID:   account,
		AccessToken: "tok-" + email,
		Workspaces:  []*models.Workspace{{ID: "w-" + email, Name: "Personal", Role: models.RoleOwner}},
	}, nil
}

func (r *fakeRemote) SetAccessToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.token = token
}

func (r *fakeRemote) currentToken() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.token
}

func (r *fakeRemote) PushTransactions(_ context.Context, req *wire.PushRequest) (*wire.PushResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp := &wire.PushResponse{}
	for _, tx := range req.Transactions {
		r.seq++
		at := time.Now().UTC()
		r.pushed = append(r.pushed, tx)
		resp.Results = append(resp.Results, wire.PushResult{
			TransactionID: tx.ID, Status: wire.PushAcknowledged, ServerCreatedAt: &at, Version: tx.Version, Seq: r.seq,
		})
	}
	return resp, nil
}

func (r *fakeRemote) PresignFileUpload(_ context.Context, _, nodeID string) (*wire.PresignResponse, error) {
	return &wire.PresignResponse{URL: r.uploads + "/" + nodeID, Method: http.MethodPut}, nil
}

func (r *fakeRemote) Dial(ctx context.Context) (wire.ChannelClient, error) {
	if r.offline.Load() {
		return nil, common.ErrNetworkUnavailable
	}
	return newEchoStream(ctx), nil
}

// echoStream answers synchronizer inputs with empty outputs at the same cursor.
type echoStream struct {
	ctx context.Context
	out chan *wire.Frame
}

func newEchoStream(ctx context.Context) *echoStream {
	return &echoStream{ctx: ctx, out: make(chan *wire.Frame, 16)}
}

func (s *echoStream) Send(f *wire.Frame) error {
	var reply *wire.Frame
	switch f.Type {
	case wire.FrameSyncInput:
		var in wire.SyncInput
		if err := f.Decode(&in); err != nil {
			return err
		}
		reply, _ = wire.NewFrame(wire.FrameSyncOutput, wire.SyncOutput{ID: in.ID, Cursor: in.Cursor})
	case wire.FramePing:
		reply, _ = wire.NewFrame(wire.FramePong, nil)
	default:
		return nil
	}
	select {
	case s.out <- reply:
		return nil
	case <-s.ctx.Done():
		return io.EOF
	}
}

func (s *echoStream) Recv() (*wire.Frame, error) {
	select {
	case f := <-s.out:
		return f, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

func (s *echoStream) CloseSend() error         { return nil }
func (s *echoStream) Context() context.Context { return s.ctx }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.OfflineRetryDelay = 10 * time.Millisecond
	cfg.ReconnectMin = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond
	return cfg
}

func newApp(t *testing.T, remote *fakeRemote) *App {
	t.Helper()
	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, sqlitedb.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := New(ctx, db, remote, testConfig(), nil)
	require.NoError(t, err)
	return a
}

func run(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("client did not stop")
		}
	})
	require.Eventually(t, func() bool { return a.running.Load() }, waitFor, time.Millisecond)
}

func TestApp_SessionLifecycle(t *testing.T) {
	remote := &fakeRemote{}
	a := newApp(t, remote)
	ctx := context.Background()

	require.NotEmpty(t, a.DeviceID())
	assert.Nil(t, a.Session())
	_, err := a.Workspaces(ctx)
	require.ErrorIs(t, err, common.ErrUnauthorized)
	require.ErrorIs(t, a.Run(ctx), common.ErrUnauthorized)

	_, err = a.Login(ctx, "ann", "wrong")
	require.ErrorIs(t, err, common.ErrUnauthorized)

	s, err := a.Login(ctx, "ann", "secret")
	require.NoError(t, err)
	assert.Equal(t, "acc-ann", s.AccountID)
	assert.Equal(t, "tok-ann", remote.currentToken())

	list, err := a.Workspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "acc-ann", list[0].AccountID)

	space, err := a.Create(ctx, CreateInput{Type: models.NodeTypeSpace, WorkspaceID: "w-ann", Attributes: models.Attributes{"name": "Home"}})
	require.NoError(t, err)

	// another account replaces the first one's data
	_, err = a.Login(ctx, "bob", "secret")
	require.NoError(t, err)
	_, err = a.Node(ctx, space.ID)
	require.ErrorIs(t, err, common.ErrNotFound)
	list, err = a.Workspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "w-bob", list[0].ID)

	require.NoError(t, a.Logout(ctx))
	assert.Nil(t, a.Session())
	assert.Empty(t, remote.currentToken())
	require.NoError(t, a.Logout(ctx), "logout is idempotent")
}

func TestApp_SessionSurvivesRestart(t *testing.T) {
	remote := &fakeRemote{}
	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, sqlitedb.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	first, err := New(ctx, db, remote, testConfig(), nil)
	require.NoError(t, err)
	_, err = first.Login(ctx, "ann", "secret")
	require.NoError(t, err)

	remote.SetAccessToken("")
	second, err := New(ctx, db, remote, testConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, first.DeviceID(), second.DeviceID())
	require.NotNil(t, second.Session())
	assert.Equal(t, "acc-ann", second.Session().AccountID)
	assert.Equal(t, "tok-ann", remote.currentToken())
}

func TestApp_OfflineEditsTreeAndPending(t *testing.T) {
	a := newApp(t, &fakeRemote{})
	ctx := context.Background()
	_, err := a.Login(ctx, "ann", "secret")
	require.NoError(t, err)

	space, err := a.Create(ctx, CreateInput{Type: models.NodeTypeSpace, WorkspaceID: "w-ann", Attributes: models.Attributes{"name": "Home"}})
	require.NoError(t, err)
	page, err := a.Create(ctx, CreateInput{Type: models.NodeTypePage, ParentID: space.ID, Attributes: models.Attributes{"title": "Notes"}})
	require.NoError(t, err)
	gone, err := a.Create(ctx, CreateInput{Type: models.NodeTypePage, ParentID: space.ID, Attributes: models.Attributes{"title": "Scratch"}})
	require.NoError(t, err)

	page, err = a.Update(ctx, page.ID, models.Attributes{"title": "Journal", "icon": "book"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Version)
	page, err = a.Update(ctx, page.ID, models.Attributes{"icon": nil})
	require.NoError(t, err)
	assert.NotContains(t, page.Attributes, "icon")

	_, err = a.Delete(ctx, gone.ID)
	require.NoError(t, err)

	tree, err := a.Tree(ctx, "w-ann")
	require.NoError(t, err)
	require.Len(t, tree, 1)
	assert.Equal(t, space.ID, tree[0].Node.ID)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "Journal", tree[0].Children[0].Node.Attributes["title"])

	pending, err := a.Pending(ctx, "w-ann")
	require.NoError(t, err)
	require.Len(t, pending, 6)
	assert.Equal(t, models.OperationCreate, pending[0].Operation)
	assert.Equal(t, models.OperationDelete, pending[5].Operation)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Paused())
	assert.False(t, st.Running)
	assert.Equal(t, 6, st.PendingTotal())
	assert.Nil(t, st.Jobs)

	_, err = a.Tree(ctx, "w-elsewhere")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestApp_RunPushesPendingAndUploadsFiles(t *testing.T) {
	var (
		mu       sync.Mutex
		uploaded = map[string]string{}
	)
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		uploaded[r.URL.Path] = string(b)
		mu.Unlock()
	}))
	defer storage.Close()

	remote := &fakeRemote{uploads: storage.URL}
	a := newApp(t, remote)
	ctx := context.Background()
	_, err := a.Login(ctx, "ann", "secret")
	require.NoError(t, err)

	space, err := a.Create(ctx, CreateInput{Type: models.NodeTypeSpace, WorkspaceID: "w-ann", Attributes: models.Attributes{"name": "Home"}})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))
	file, err := a.AttachFile(ctx, space.ID, path)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", file.Attributes["name"])
	assert.Equal(t, float64(5), file.Attributes["size"])

	events, cancelEvents := a.Events(64)
	defer cancelEvents()

	run(t, a)

	require.Eventually(t, func() bool {
		st, err := a.Status(ctx)
		return err == nil && !st.Paused() && st.PendingTotal() == 0
	}, waitFor, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		f, err := a.repos.Files(a.db).GetByNodeID(ctx, file.ID)
		return err == nil && f.UploadStatus == files.UploadCompleted
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, "hello", uploaded["/"+file.ID])
	mu.Unlock()

	// a mutation while running is pushed without waiting for a reconnect
	page, err := a.Create(ctx, CreateInput{Type: models.NodeTypePage, ParentID: space.ID, Attributes: models.Attributes{"title": "Live"}})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		n, err := a.Node(ctx, page.ID)
		return err == nil && n.Synced()
	}, waitFor, 5*time.Millisecond)

	sawConnected := false
	for len(events) > 0 {
		e := <-events
		if e.Type == "connection.changed" && e.Data["state"] == "connected" {
			sawConnected = true
		}
	}
	assert.True(t, sawConnected)

	st, err := a.Status(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, st.Jobs)

	require.ErrorContains(t, a.Run(ctx), "already running")
}

func TestApp_ReconnectWakesDelayedPush(t *testing.T) {
	remote := &fakeRemote{}
	remote.offline.Store(true)

	ctx := context.Background()
	db, err := sqlitedb.Open(ctx, sqlitedb.MemoryDSN(t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cfg := testConfig()
	cfg.OfflineRetryDelay = time.Minute
	a, err := New(ctx, db, remote, cfg, nil)
	require.NoError(t, err)

	_, err = a.Login(ctx, "ann", "secret")
	require.NoError(t, err)
	run(t, a)

	space, err := a.Create(ctx, CreateInput{Type: models.NodeTypeSpace, WorkspaceID: "w-ann", Attributes: models.Attributes{"name": "Home"}})
	require.NoError(t, err)

	key := syncer.OutboundJob("acc-ann", "w-ann").Key
	require.Eventually(t, func() bool {
		for _, st := range a.sched.Snapshot() {
			if st.Key == key && st.State == jobs.StateRetrying {
				return true
			}
		}
		return false
	}, waitFor, 5*time.Millisecond)

	remote.offline.Store(false)
	require.Eventually(t, func() bool {
		n, err := a.Node(ctx, space.ID)
		return err == nil && n.Synced()
	}, waitFor, 5*time.Millisecond)
}
