// Package memory is an in-process implementation of the server repositories.
// It honors the same contracts as the Postgres ones and backs tests and the
// -memory server mode. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/common"
	shared "github.com/dmitrijs2005/nodesync/internal/models"
	"github.com/dmitrijs2005/nodesync/internal/server/models"
	"github.com/dmitrijs2005/nodesync/internal/server/repositories/repomanager"
)

type memberKey struct {
	accountID   string
	workspaceID string
}

type state struct {
	accounts    map[string]models.Account
	emails      map[string]string
	workspaces  map[string]models.Workspace
	memberships map[memberKey]shared.Membership
	nodes       map[string]models.NodeHead
	txs         []*shared.Transaction
	txIndex     map[string]int
	txSeq       int64
	memberSeq   int64
}

func newState() *state {
	return &state{
		accounts:    map[string]models.Account{},
		emails:      map[string]string{},
		workspaces:  map[string]models.Workspace{},
		memberships: map[memberKey]shared.Membership{},
		nodes:       map[string]models.NodeHead{},
		txIndex:     map[string]int{},
	}
}

func (s *state) clone() *state {
	c := newState()
	maps.Copy(c.accounts, s.accounts)
	maps.Copy(c.emails, s.emails)
	maps.Copy(c.workspaces, s.workspaces)
	maps.Copy(c.memberships, s.memberships)
	maps.Copy(c.nodes, s.nodes)
	maps.Copy(c.txIndex, s.txIndex)
	// Stored transactions are never mutated.
	c.txs = append([]*shared.Transaction(nil), s.txs...)
	c.txSeq, c.memberSeq = s.txSeq, s.memberSeq
	return c
}

// Store implements repomanager.Store. WithTx serializes units of work and
// restores a snapshot when fn fails.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

var _ repomanager.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

func (s *Store) Repos() repomanager.Repos {
	return s.bind(false)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, r repomanager.Repos) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
		if err != nil {
			s.data = snapshot
		}
	}()
	return fn(ctx, s.bind(true))
}

func (s *Store) Close() error { return nil }

func (s *Store) bind(inTx bool) repomanager.Repos {
	v := &view{store: s, inTx: inTx}
	return repomanager.Repos{
		Accounts:     &accountRepo{v},
		Workspaces:   &workspaceRepo{v},
		Transactions: &transactionRepo{v},
		Nodes:        &nodeRepo{v},
	}
}

// view runs repository calls against the current state, taking the store
// lock unless it is already held by WithTx.
type view struct {
	store *Store
	inTx  bool
}

func (v *view) do(fn func(st *state) error) error {
	if !v.inTx {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
	}
	return fn(v.store.data)
}

type accountRepo struct{ *view }

func (r *accountRepo) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	err := r.do(func(st *state) error {
		if _, ok := st.emails[a.Email]; ok {
			return fmt.Errorf("account %s: %w", a.Email, common.ErrAlreadyExists)
		}
		if _, ok := st.accounts[a.ID]; ok {
			return fmt.Errorf("account %s: %w", a.ID, common.ErrAlreadyExists)
		}
		a.CreatedAt = r.store.now().UTC()
		st.accounts[a.ID] = *a
		st.emails[a.Email] = a.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var out *models.Account
	err := r.do(func(st *state) error {
		id, ok := st.emails[email]
		if !ok {
			return common.ErrNotFound
		}
		a := st.accounts[id]
		out = &a
		return nil
	})
	return out, err
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var out *models.Account
	err := r.do(func(st *state) error {
		a, ok := st.accounts[id]
		if !ok {
			return common.ErrNotFound
		}
		out = &a
		return nil
	})
	return out, err
}

type workspaceRepo struct{ *view }

func (r *workspaceRepo) Create(ctx context.Context, ws *models.Workspace) (*models.Workspace, error) {
	err := r.do(func(st *state) error {
		if _, ok := st.workspaces[ws.ID]; ok {
			return fmt.Errorf("workspace %s: %w", ws.ID, common.ErrAlreadyExists)
		}
		ws.CreatedAt = r.store.now().UTC()
		st.workspaces[ws.ID] = *ws
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (r *workspaceRepo) Get(ctx context.Context, id string) (*models.Workspace, error) {
	var out *models.Workspace
	err := r.do(func(st *state) error {
		ws, ok := st.workspaces[id]
		if !ok {
			return common.ErrNotFound
		}
		out = &ws
		return nil
	})
	return out, err
}

func (r *workspaceRepo) PutMembership(ctx context.Context, m *shared.Membership) (*shared.Membership, error) {
	err := r.do(func(st *state) error {
		ws, ok := st.workspaces[m.WorkspaceID]
		if !ok {
			return fmt.Errorf("workspace %s: %w", m.WorkspaceID, common.ErrNotFound)
		}
		st.memberSeq++
		m.Seq = st.memberSeq
		m.UpdatedAt = r.store.now().UTC()
		m.WorkspaceName = ws.Name
		st.memberships[memberKey{m.AccountID, m.WorkspaceID}] = *m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *workspaceRepo) GetMembership(ctx context.Context, accountID, workspaceID string) (*shared.Membership, error) {
	var out *shared.Membership
	err := r.do(func(st *state) error {
		m, ok := st.memberships[memberKey{accountID, workspaceID}]
		if !ok {
			return common.ErrNotFound
		}
		out = &m
		return nil
	})
	return out, err
}

func (r *workspaceRepo) ListMemberships(ctx context.Context, accountID string) ([]*shared.Membership, error) {
	return r.memberships(accountID, func(m shared.Membership) bool { return !m.Removed }, 0)
}

func (r *workspaceRepo) MembershipsAfter(ctx context.Context, accountID string, cursor int64, limit int) ([]*shared.Membership, error) {
	return r.memberships(accountID, func(m shared.Membership) bool { return m.Seq > cursor }, limit)
}

func (r *workspaceRepo) memberships(accountID string, keep func(shared.Membership) bool, limit int) ([]*shared.Membership, error) {
	var out []*shared.Membership
	err := r.do(func(st *state) error {
		for k, m := range st.memberships {
			if k.accountID == accountID && keep(m) {
				out = append(out, &m)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *workspaceRepo) Members(ctx context.Context, workspaceID string) ([]string, error) {
	var ids []string
	err := r.do(func(st *state) error {
		for k, m := range st.memberships {
			if k.workspaceID == workspaceID && !m.Removed {
				ids = append(ids, k.accountID)
			}
		}
		sort.Strings(ids)
		return nil
	})
	return ids, err
}

type transactionRepo struct{ *view }

func copyTx(tx *shared.Transaction) *shared.Transaction {
	c := *tx
	if tx.Data != nil {
		c.Data = tx.Data.Clone()
	}
	if tx.ServerCreatedAt != nil {
		at := *tx.ServerCreatedAt
		c.ServerCreatedAt = &at
	}
	return &c
}

func (r *transactionRepo) Get(ctx context.Context, id string) (*shared.Transaction, error) {
	var out *shared.Transaction
	err := r.do(func(st *state) error {
		i, ok := st.txIndex[id]
		if !ok {
			return common.ErrNotFound
		}
		out = copyTx(st.txs[i])
		return nil
	})
	return out, err
}

func (r *transactionRepo) Insert(ctx context.Context, tx *shared.Transaction) (*shared.Transaction, error) {
	if tx.ServerCreatedAt == nil {
		return nil, fmt.Errorf("transaction %s has no server time", tx.ID)
	}
	err := r.do(func(st *state) error {
		if _, ok := st.txIndex[tx.ID]; ok {
			return fmt.Errorf("transaction %s: %w", tx.ID, common.ErrAlreadyExists)
		}
		for _, other := range st.txs {
			if other.NodeID == tx.NodeID && other.Version == tx.Version {
				return fmt.Errorf("node %s version %d: %w", tx.NodeID, tx.Version, common.ErrAlreadyExists)
			}
		}
		st.txSeq++
		tx.Seq = st.txSeq
		st.txIndex[tx.ID] = len(st.txs)
		st.txs = append(st.txs, copyTx(tx))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *transactionRepo) ListForNode(ctx context.Context, nodeID string, fromVersion int64) ([]*shared.Transaction, error) {
	var out []*shared.Transaction
	err := r.do(func(st *state) error {
		for _, tx := range st.txs {
			if tx.NodeID == nodeID && tx.Version >= fromVersion {
				out = append(out, copyTx(tx))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
		return nil
	})
	return out, err
}

func (r *transactionRepo) ListAfter(ctx context.Context, workspaceID string, cursor int64, limit int) ([]*shared.Transaction, error) {
	var out []*shared.Transaction
	err := r.do(func(st *state) error {
		// st.txs is in seq order.
		for _, tx := range st.txs {
			if tx.WorkspaceID != workspaceID || tx.Seq <= cursor {
				continue
			}
			out = append(out, copyTx(tx))
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

type nodeRepo struct{ *view }

func (r *nodeRepo) Get(ctx context.Context, id string) (*models.NodeHead, error) {
	var out *models.NodeHead
	err := r.do(func(st *state) error {
		h, ok := st.nodes[id]
		if !ok {
			return common.ErrNotFound
		}
		out = &h
		return nil
	})
	return out, err
}

func (r *nodeRepo) Upsert(ctx context.Context, h *models.NodeHead) error {
	return r.do(func(st *state) error {
		st.nodes[h.ID] = *h
		return nil
	})
}
