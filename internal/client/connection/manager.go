// Package connection owns the account's duplex channel to the server. It
// keeps the channel alive, correlates synchronizer requests with their
// answers and turns server notifications into sync triggers.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/wire"
	"github.com/sethvargo/go-retry"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Dialer opens a channel. The channel ends when ctx is done.
type Dialer interface {
	Dial(ctx context.Context) (wire.ChannelClient, error)
}

// Listener receives the triggers derived from the channel.
type Listener interface {
	// OnConnected runs on every transition into Connected.
	OnConnected(ctx context.Context)
	OnAccountChanged(ctx context.Context)
	OnWorkspaceChanged(ctx context.Context, workspaceID string)
}

type Config struct {
	PingInterval   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
}

// session is one live channel.
type session struct {
	stream wire.ChannelClient
	sendMu sync.Mutex
	closed chan struct{}
}

func (s *session) send(f *wire.Frame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.Send(f)
}

type Manager struct {
	dialer   Dialer
	listener Listener
	logger   logging.Logger
	cfg      Config

	mu      sync.Mutex
	state   State
	current *session
	pending map[string]chan *wire.SyncOutput
	subs    map[int]chan State
	nextSub int
}

func New(d Dialer, l Listener, logger logging.Logger, cfg Config) *Manager {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 3 * cfg.PingInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = time.Minute
	}
	cfg.ReconnectMax = max(cfg.ReconnectMax, cfg.ReconnectMin)
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Manager{
		dialer:   d,
		listener: l,
		logger:   logger.With("module", "connection"),
		cfg:      cfg,
		pending:  make(map[string]chan *wire.SyncOutput),
		subs:     make(map[int]chan State),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Connected() bool {
	return m.State() == Connected
}

// Subscribe returns a channel of state changes and a cancel function. Slow
// subscribers miss intermediate states.
func (m *Manager) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 8)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (m *Manager) setState(ctx context.Context, s State, sess *session) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.current = sess
	for _, ch := range m.subs {
		select {
		case ch <- s:
		default:
		}
	}
	m.mu.Unlock()
	m.logger.Info(ctx, "connection state changed", "state", s.String())
}

func (m *Manager) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(m.cfg.ReconnectMax, retry.NewExponential(m.cfg.ReconnectMin))
}

// Run keeps a channel open until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	backoff := m.newBackoff()
	for {
		m.setState(ctx, Connecting, nil)
		exchanged, err := m.connect(ctx)
		m.setState(ctx, Disconnected, nil)

		if ctx.Err() != nil {
			return nil
		}
		if exchanged {
			backoff = m.newBackoff()
		}
		delay, _ := backoff.Next()
		m.logger.Info(ctx, "channel closed", "error", err, "reconnect_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// connect dials and serves one channel. It reports whether any frame was
// received before the channel ended.
func (m *Manager) connect(ctx context.Context) (bool, error) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := m.dialer.Dial(connCtx)
	if err != nil {
		return false, err
	}
	sess := &session{stream: stream, closed: make(chan struct{})}
	defer func() {
		close(sess.closed)
		_ = stream.CloseSend()
	}()

	frames := make(chan *wire.Frame)
	recvErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			f, err := stream.Recv()
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case frames <- f:
			case <-connCtx.Done():
				return
			}
		}
	}()
	defer wg.Wait()
	defer cancel()

	m.setState(ctx, Connected, sess)
	m.listener.OnConnected(ctx)

	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	exchanged := false
	for {
		select {
		case <-ctx.Done():
			return exchanged, ctx.Err()
		case err := <-recvErr:
			return exchanged, err
		case <-idle.C:
			return exchanged, fmt.Errorf("%w: no frame for %s", common.ErrNetworkTimeout, m.cfg.IdleTimeout)
		case <-ping.C:
			f, _ := wire.NewFrame(wire.FramePing, nil)
			if err := sess.send(f); err != nil {
				return exchanged, err
			}
		case f := <-frames:
			exchanged = true
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.IdleTimeout)
			if err := m.handle(ctx, sess, f); err != nil {
				m.logger.Warn(ctx, "bad frame", "type", string(f.Type), "error", err)
			}
		}
	}
}

func (m *Manager) handle(ctx context.Context, sess *session, f *wire.Frame) error {
	switch f.Type {
	case wire.FramePong:
	case wire.FramePing:
		pong, _ := wire.NewFrame(wire.FramePong, nil)
		return sess.send(pong)
	case wire.FrameSyncOutput:
		var out wire.SyncOutput
		if err := f.Decode(&out); err != nil {
			return err
		}
		m.mu.Lock()
		ch, ok := m.pending[out.ID]
		delete(m.pending, out.ID)
		m.mu.Unlock()
		if !ok {
			return fmt.Errorf("no request waits for %q", out.ID)
		}
		ch <- &out
	case wire.FrameAccountUpdated, wire.FrameWorkspaceDeleted, wire.FrameUserCreated, wire.FrameUserUpdated:
		m.listener.OnAccountChanged(ctx)
	case wire.FrameWorkspaceUpdated:
		var p wire.WorkspaceUpdated
		if err := f.Decode(&p); err != nil {
			return err
		}
		m.listener.OnWorkspaceChanged(ctx, p.WorkspaceID)
	case wire.FrameError:
		var p wire.ErrorPayload
		if err := f.Decode(&p); err != nil {
			return err
		}
		m.logger.Warn(ctx, "server error frame", "message", p.Message)
	default:
		return errors.New("unknown frame type")
	}
	return nil
}

// Request sends a synchronizer input and waits for the matching output.
func (m *Manager) Request(ctx context.Context, in *wire.SyncInput) (*wire.SyncOutput, error) {
	m.mu.Lock()
	sess := m.current
	if m.state != Connected || sess == nil {
		m.mu.Unlock()
		return nil, common.ErrNetworkUnavailable
	}
	reply := make(chan *wire.SyncOutput, 1)
	m.pending[in.ID] = reply
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, in.ID)
		m.mu.Unlock()
	}()

	f, err := wire.NewFrame(wire.FrameSyncInput, in)
	if err != nil {
		return nil, err
	}
	if err := sess.send(f); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetworkUnavailable, err)
	}

	t := time.NewTimer(m.cfg.RequestTimeout)
	defer t.Stop()
	select {
	case out := <-reply:
		return out, nil
	case <-t.C:
		return nil, common.ErrNetworkTimeout
	case <-sess.closed:
		return nil, common.ErrNetworkUnavailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
