// Package jobs runs deferred work serialized per concurrency key.
//
// All scheduler state belongs to one dispatch goroutine; the public methods
// only send it messages. Handlers run on their own goroutines, at most one per
// key and at most MaxConcurrent overall.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/sethvargo/go-retry"
)

// GlobalKey is the concurrency key of jobs that do not name one.
const GlobalKey = "global"

var (
	ErrStopped        = errors.New("scheduler stopped")
	ErrUnknownJobType = errors.New("unknown job type")
)

type Job struct {
	Type  string
	Key   string
	Input any
}

type Handler func(ctx context.Context, job Job) Outcome

type State string

const (
	StateIdle        State = "idle"
	StateScheduled   State = "scheduled"
	StateRunning     State = "running"
	StateRetrying    State = "retry-delayed"
	StateDeactivated State = "deactivated"
)

// KeyStatus is a point-in-time view of one key.
type KeyStatus struct {
	Key      string
	State    State
	JobType  string
	Queued   bool
	Attempts int
	RetryAt  time.Time
}

type Config struct {
	MaxConcurrent int
	BackoffMin    time.Duration
	BackoffMax    time.Duration
}

type keyState struct {
	state    State
	current  *Job
	next     *Job
	backoff  retry.Backoff
	attempts int
	gen      uint64
	timer    *time.Timer
	retryAt  time.Time
	cancel   context.CancelFunc
}

type completion struct {
	key     string
	gen     uint64
	outcome Outcome
}

type timerFired struct {
	key string
	gen uint64
}

type deactivation struct {
	scope string
	done  chan struct{}
}

type Scheduler struct {
	cfg    Config
	logger logging.Logger
	now    func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	enqueueCh    chan Job
	doneCh       chan completion
	timerCh      chan timerFired
	deactivateCh chan *deactivation
	activateCh   chan string
	kickCh       chan string
	snapshotCh   chan chan []KeyStatus
	stopped      chan struct{}
	startOnce    sync.Once

	// owned by the dispatch goroutine
	keys     map[string]*keyState
	inactive map[string]bool
	ready    []string
	running  int
	waiting  []*deactivation
	wg       sync.WaitGroup
}

func New(cfg Config, logger logging.Logger) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 500 * time.Millisecond
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop{}
	}
	return &Scheduler{
		cfg:          cfg,
		logger:       logger.With("module", "jobs"),
		now:          time.Now,
		handlers:     make(map[string]Handler),
		enqueueCh:    make(chan Job, 256),
		doneCh:       make(chan completion),
		timerCh:      make(chan timerFired),
		deactivateCh: make(chan *deactivation),
		activateCh:   make(chan string),
		kickCh:       make(chan string),
		snapshotCh:   make(chan chan []KeyStatus),
		stopped:      make(chan struct{}),
		keys:         make(map[string]*keyState),
		inactive:     make(map[string]bool),
	}
}

func (s *Scheduler) Register(jobType string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[jobType] = h
}

func (s *Scheduler) handler(jobType string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handlers[jobType]
	return h, ok
}

// Enqueue accepts a job. It is coalesced with work already waiting for its key.
func (s *Scheduler) Enqueue(job Job) error {
	if _, ok := s.handler(job.Type); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
	if job.Key == "" {
		job.Key = GlobalKey
	}
	select {
	case <-s.stopped:
		return ErrStopped
	default:
	}
	select {
	case s.enqueueCh <- job:
		return nil
	case <-s.stopped:
		return ErrStopped
	}
}

// Deactivate drops every queued or delayed job whose key lies in scope and
// refuses new ones until Activate. Running handlers in scope have their
// context cancelled; Deactivate returns once they have all finished, and
// their outcomes are discarded.
func (s *Scheduler) Deactivate(ctx context.Context, scope string) error {
	d := &deactivation{scope: scope, done: make(chan struct{})}
	select {
	case s.deactivateCh <- d:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-d.done:
		return nil
	case <-s.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Activate lets keys in scope accept jobs again.
func (s *Scheduler) Activate(scope string) {
	select {
	case s.activateCh <- scope:
	case <-s.stopped:
	}
}

// Kick ends the retry delay of key, if it has one, and reschedules its job
// at once with a fresh backoff. Keys in any other state are left alone.
func (s *Scheduler) Kick(key string) {
	if key == "" {
		key = GlobalKey
	}
	select {
	case s.kickCh <- key:
	case <-s.stopped:
	}
}

// Snapshot lists the known keys sorted by key. It returns nil once the
// scheduler has stopped.
func (s *Scheduler) Snapshot() []KeyStatus {
	reply := make(chan []KeyStatus, 1)
	select {
	case s.snapshotCh <- reply:
	case <-s.stopped:
		return nil
	}
	select {
	case out := <-reply:
		return out
	case <-s.stopped:
		return nil
	}
}

// Run dispatches jobs until ctx is done, then cancels and waits for the
// running handlers.
func (s *Scheduler) Run(ctx context.Context) error {
	first := false
	s.startOnce.Do(func() { first = true })
	if !first {
		return errors.New("scheduler already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		close(s.stopped)
		s.wg.Wait()
	}()

	for {
		s.dispatch(runCtx)

		select {
		case <-ctx.Done():
			for _, ks := range s.keys {
				if ks.timer != nil {
					ks.timer.Stop()
				}
			}
			return nil
		case job := <-s.enqueueCh:
			s.onEnqueue(ctx, job)
		case c := <-s.doneCh:
			s.onDone(ctx, c)
		case f := <-s.timerCh:
			s.onTimer(f)
		case d := <-s.deactivateCh:
			s.onDeactivate(ctx, d)
		case scope := <-s.activateCh:
			s.onActivate(scope)
		case k := <-s.kickCh:
			s.onKick(ctx, k)
		case reply := <-s.snapshotCh:
			reply <- s.snapshot()
		}
	}
}

func (s *Scheduler) key(k string) *keyState {
	ks, ok := s.keys[k]
	if !ok {
		ks = &keyState{state: StateIdle, backoff: s.newBackoff()}
		for scope := range s.inactive {
			if models.InScope(k, scope) {
				ks.state = StateDeactivated
				break
			}
		}
		s.keys[k] = ks
	}
	return ks
}

func (s *Scheduler) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(s.cfg.BackoffMax, retry.NewExponential(s.cfg.BackoffMin))
}

func (s *Scheduler) onEnqueue(ctx context.Context, job Job) {
	ks := s.key(job.Key)
	j := job

	switch ks.state {
	case StateDeactivated:
		s.logger.Debug(ctx, "job dropped, key deactivated", "key", job.Key, "type", job.Type)
	case StateIdle:
		ks.current = &j
		ks.state = StateScheduled
		s.ready = append(s.ready, job.Key)
	case StateRunning:
		if ks.next == nil {
			ks.next = &j
		}
	case StateScheduled, StateRetrying:
		if ks.current.Type != job.Type && ks.next == nil {
			ks.next = &j
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	var blocked []string
	defer func() { s.ready = append(s.ready, blocked...) }()

	for s.running < s.cfg.MaxConcurrent && len(s.ready) > 0 {
		k := s.ready[0]
		s.ready = s.ready[1:]

		ks := s.keys[k]
		if ks == nil || ks.state != StateScheduled {
			continue
		}
		if ks.cancel != nil {
			// A handler cut off by Deactivate has not returned yet.
			blocked = append(blocked, k)
			continue
		}
		h, ok := s.handler(ks.current.Type)
		if !ok {
			s.logger.Error(ctx, "job dropped, no handler", "key", k, "type", ks.current.Type)
			s.finish(k, ks)
			continue
		}

		ks.gen++
		ks.state = StateRunning
		ks.attempts++
		jobCtx, cancel := context.WithCancel(ctx)
		ks.cancel = cancel
		s.running++
		s.wg.Add(1)
		go s.execute(jobCtx, cancel, h, *ks.current, k, ks.gen)
	}
}

func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc, h Handler, job Job, key string, gen uint64) {
	defer s.wg.Done()
	defer cancel()

	out := func() (out Outcome) {
		defer func() {
			if r := recover(); r != nil {
				out = RetryBackoff(fmt.Errorf("handler panic: %v", r))
			}
		}()
		return h(ctx, job)
	}()

	select {
	case s.doneCh <- completion{key: key, gen: gen, outcome: out}:
	case <-s.stopped:
	}
}

func (s *Scheduler) onDone(ctx context.Context, c completion) {
	s.running--
	ks := s.keys[c.key]
	defer s.releaseWaiters()

	if ks != nil && ks.gen == c.gen {
		ks.cancel = nil
	}
	if ks == nil || ks.gen != c.gen || ks.state != StateRunning {
		s.logger.Debug(ctx, "job outcome discarded", "key", c.key, "outcome", c.outcome.String())
		return
	}
	job := ks.current

	switch c.outcome.kind {
	case outcomeSuccess:
		ks.backoff = s.newBackoff()
		ks.attempts = 0
		s.finish(c.key, ks)

	case outcomeCancel:
		s.logger.Warn(ctx, "job cancelled", "key", c.key, "type", job.Type, "error", c.outcome.err)
		ks.backoff = s.newBackoff()
		ks.attempts = 0
		s.finish(c.key, ks)

	case outcomeRetryAfter:
		s.delay(c.key, ks, c.outcome.delay)

	case outcomeRetryBackoff:
		d, stop := ks.backoff.Next()
		if stop {
			s.logger.Warn(ctx, "job retries exhausted", "key", c.key, "type", job.Type, "error", c.outcome.err)
			s.finish(c.key, ks)
			return
		}
		if c.outcome.err != nil {
			s.logger.Info(ctx, "job will retry", "key", c.key, "type", job.Type, "in", d, "error", c.outcome.err)
		}
		s.delay(c.key, ks, d)
	}
}

// finish ends the current job and promotes the queued one, if any.
func (s *Scheduler) finish(k string, ks *keyState) {
	ks.current = nil
	if ks.next != nil {
		ks.current, ks.next = ks.next, nil
		ks.state = StateScheduled
		s.ready = append(s.ready, k)
		return
	}
	ks.state = StateIdle
}

func (s *Scheduler) delay(k string, ks *keyState, d time.Duration) {
	ks.state = StateRetrying
	ks.retryAt = s.now().Add(d)
	gen := ks.gen
	ks.timer = time.AfterFunc(d, func() {
		select {
		case s.timerCh <- timerFired{key: k, gen: gen}:
		case <-s.stopped:
		}
	})
}

func (s *Scheduler) onTimer(f timerFired) {
	ks := s.keys[f.key]
	if ks == nil || ks.gen != f.gen || ks.state != StateRetrying {
		return
	}
	ks.timer = nil
	ks.retryAt = time.Time{}
	ks.state = StateScheduled
	s.ready = append(s.ready, f.key)
}

func (s *Scheduler) onKick(ctx context.Context, k string) {
	ks := s.keys[k]
	if ks == nil || ks.state != StateRetrying {
		return
	}
	if ks.timer != nil {
		ks.timer.Stop()
		ks.timer = nil
	}
	// a timer that already fired carries the old gen and is ignored
	ks.gen++
	ks.retryAt = time.Time{}
	ks.attempts = 0
	ks.backoff = s.newBackoff()
	ks.state = StateScheduled
	s.ready = append(s.ready, k)
	s.logger.Debug(ctx, "retry delay cut short", "key", k, "type", ks.current.Type)
}

func (s *Scheduler) onDeactivate(ctx context.Context, d *deactivation) {
	s.inactive[d.scope] = true
	for k, ks := range s.keys {
		if !models.InScope(k, d.scope) {
			continue
		}
		if ks.timer != nil {
			ks.timer.Stop()
			ks.timer = nil
		}
		if ks.cancel != nil {
			ks.cancel()
		}
		ks.state = StateDeactivated
		ks.current, ks.next = nil, nil
		ks.retryAt = time.Time{}
	}
	s.logger.Info(ctx, "scope deactivated", "scope", d.scope)
	s.waiting = append(s.waiting, d)
	s.releaseWaiters()
}

// releaseWaiters completes deactivations whose scope has no handler left running.
func (s *Scheduler) releaseWaiters() {
	kept := s.waiting[:0]
	for _, d := range s.waiting {
		busy := false
		for k, ks := range s.keys {
			if ks.cancel != nil && models.InScope(k, d.scope) {
				busy = true
				break
			}
		}
		if busy {
			kept = append(kept, d)
			continue
		}
		close(d.done)
	}
	s.waiting = kept
}

func (s *Scheduler) onActivate(scope string) {
	delete(s.inactive, scope)
	for k, ks := range s.keys {
		if ks.state != StateDeactivated || !models.InScope(k, scope) {
			continue
		}
		still := false
		for other := range s.inactive {
			if models.InScope(k, other) {
				still = true
				break
			}
		}
		if !still {
			ks.state = StateIdle
			ks.attempts = 0
			ks.backoff = s.newBackoff()
		}
	}
}

func (s *Scheduler) snapshot() []KeyStatus {
	out := make([]KeyStatus, 0, len(s.keys))
	for k, ks := range s.keys {
		st := KeyStatus{Key: k, State: ks.state, Queued: ks.next != nil, Attempts: ks.attempts, RetryAt: ks.retryAt}
		if ks.current != nil {
			st.JobType = ks.current.Type
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
