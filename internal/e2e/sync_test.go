package e2e

import (
	"context"
	"database/sql"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/app"
	clientconfig "github.com/dmitrijs2005/nodesync/internal/client/config"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/sqlitedb"
	"github.com/dmitrijs2005/nodesync/internal/client/transport"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/models"
	serverconfig "github.com/dmitrijs2005/nodesync/internal/server/config"
	gs "github.com/dmitrijs2005/nodesync/internal/server/grpc"
	"github.com/dmitrijs2005/nodesync/internal/server/hub"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/nodesync/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

const waitFor = 5 * time.Second

func startServer(t *testing.T) *bufconn.Listener {
	t.Helper()
	cfg := &serverconfig.Config{}
	cfg.LoadDefaults()
	cfg.Memory = true

	store := memory.New()
	h := hub.New(hub.DefaultBuffer, logging.Nop{})
	s := gs.NewGRPCServer("bufnet", logging.Nop{},
		services.NewAccountService(store, cfg),
		services.NewSyncService(store, h, cfg, logging.Nop{}),
		services.NewFileService(store, cfg),
		h, cfg.SecretKey)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, lis) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("server did not stop")
		}
	})
	return lis
}

type device struct {
	t      *testing.T
	name   string
	cfg    *clientconfig.Config
	db     *sql.DB
	remote *transport.Client
	app    *app.App
	stop   func()
}

func newDevice(t *testing.T, lis *bufconn.Listener, name string) *device {
	t.Helper()
	ctx := context.Background()

	cfg := &clientconfig.Config{}
	cfg.LoadDefaults()
	cfg.OfflineRetryDelay = 10 * time.Millisecond
	cfg.ReconnectMin = 5 * time.Millisecond
	cfg.ReconnectMax = 20 * time.Millisecond

	db, err := sqlitedb.Open(ctx, sqlitedb.MemoryDSN(t.Name()+"-"+name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	remote, err := transport.New("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = remote.Close() })

	a, err := app.New(ctx, db, remote, cfg, nil)
	require.NoError(t, err)
	return track(t, &device{t: t, name: name, cfg: cfg, db: db, remote: remote, app: a})
}

func track(t *testing.T, d *device) *device {
	t.Cleanup(func() {
		if d.stop != nil {
			d.stop()
		}
	})
	return d
}

// start runs the device's replication until stop is called.
func (d *device) start() {
	d.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.app.Run(ctx) }()
	d.stop = func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(d.t, err, d.name)
		case <-time.After(waitFor):
			d.t.Errorf("%s did not stop", d.name)
		}
		d.stop = nil
	}
}

// waitNode blocks until the device holds a synced copy of the node that
// satisfies ok.
func (d *device) waitNode(nodeID string, ok func(n *models.Node) bool) *models.Node {
	d.t.Helper()
	var last *models.Node
	require.Eventually(d.t, func() bool {
		n, err := d.app.Node(context.Background(), nodeID)
		if err != nil {
			return false
		}
		last = n
		return n.Synced() && ok(n)
	}, waitFor, 5*time.Millisecond, "%s never reached the expected state of %s (last %+v)", d.name, nodeID, last)
	return last
}

func TestTwoDevicesConverge(t *testing.T) {
	lis := startServer(t)
	ctx := context.Background()

	laptop := newDevice(t, lis, "laptop")
	phone := newDevice(t, lis, "phone")

	reg, err := laptop.app.Register(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)
	_, err = laptop.app.Login(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)
	_, err = phone.app.Login(ctx, "alice@example.com", "correct horse")
	require.NoError(t, err)

	// Offline edits are kept and pushed once the device runs.
	space, err := laptop.app.Create(ctx, app.CreateInput{Type: models.NodeTypeSpace, WorkspaceID: reg.WorkspaceID, Attributes: models.Attributes{"name": "Home"}})
	require.NoError(t, err)
	page, err := laptop.app.Create(ctx, app.CreateInput{Type: models.NodeTypePage, ParentID: space.ID, Attributes: models.Attributes{"title": "Notes"}})
	require.NoError(t, err)
	assert.False(t, page.Synced())

	laptop.start()
	phone.start()

	laptop.waitNode(page.ID, func(n *models.Node) bool { return n.Version == 1 })
	got := phone.waitNode(page.ID, func(n *models.Node) bool { return n.Attributes["title"] == "Notes" })
	assert.Equal(t, space.ID, got.ParentID)

	// Disjoint edits made while one device is offline merge.
	phone.stop()
	_, err = phone.app.Update(ctx, page.ID, models.Attributes{"icon": "book"})
	require.NoError(t, err)

	_, err = laptop.app.Update(ctx, page.ID, models.Attributes{"title": "Journal"})
	require.NoError(t, err)
	laptop.waitNode(page.ID, func(n *models.Node) bool { return n.Version == 2 })

	phone = reopen(t, phone)
	phone.start()

	merged := func(n *models.Node) bool {
		return n.Version == 3 && n.Attributes["title"] == "Journal" && n.Attributes["icon"] == "book"
	}
	phone.waitNode(page.ID, merged)
	laptop.waitNode(page.ID, merged)

	// A delete wins over a concurrent update.
	phone.stop()
	_, err = phone.app.Update(ctx, page.ID, models.Attributes{"title": "Draft"})
	require.NoError(t, err)

	_, err = laptop.app.Delete(ctx, page.ID)
	require.NoError(t, err)
	laptop.waitNode(page.ID, func(n *models.Node) bool { return n.Deleted })

	phone = reopen(t, phone)
	phone.start()

	n := phone.waitNode(page.ID, func(n *models.Node) bool { return n.Deleted })
	assert.Equal(t, int64(4), n.Version)

	pending, err := phone.app.Pending(ctx, reg.WorkspaceID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// reopen builds a fresh client over a stopped device's store, as a restart
// of the process would.
func reopen(t *testing.T, d *device) *device {
	t.Helper()
	a, err := app.New(context.Background(), d.db, d.remote, d.cfg, nil)
	require.NoError(t, err)
	return track(t, &device{t: t, name: d.name, cfg: d.cfg, db: d.db, remote: d.remote, app: a})
}
