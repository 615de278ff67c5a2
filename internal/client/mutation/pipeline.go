// Package mutation turns user intents into durable local transactions.
package mutation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/nodesync/internal/client/events"
	"github.com/dmitrijs2005/nodesync/internal/client/nodetypes"
	"github.com/dmitrijs2005/nodesync/internal/client/repositories/repomanager"
	"github.com/dmitrijs2005/nodesync/internal/client/txlog"
	"github.com/dmitrijs2005/nodesync/internal/common"
	"github.com/dmitrijs2005/nodesync/internal/dbx"
	"github.com/dmitrijs2005/nodesync/internal/logging"
	"github.com/dmitrijs2005/nodesync/internal/models"
)

type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Input describes one mutation. Create uses Type, ParentID and Attributes
// (WorkspaceID only for spaces, which have no parent). Update uses NodeID and
// Attributes as a patch where nil removes a key. Delete uses NodeID.
type Input struct {
	Kind        Kind
	Actor       string
	NodeID      string
	Type        models.NodeType
	ParentID    string
	WorkspaceID string
	Attributes  models.Attributes
}

// Result is the node after the mutation and the transaction that produced it.
// Transaction is nil when an update changed nothing.
type Result struct {
	Node        *models.Node
	Transaction *models.Transaction
}

type Pipeline struct {
	db          *sql.DB
	repos       repomanager.RepositoryManager
	log         *txlog.Log
	auth        Authorizer
	events      events.Publisher
	logger      logging.Logger
	now         func() time.Time
	newID       func() string
	afterCommit []func(ctx context.Context, r *Result)
}

type Option func(*Pipeline)

func WithLogger(l logging.Logger) Option { return func(p *Pipeline) { p.logger = l } }

func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

func WithIDGenerator(f func() string) Option { return func(p *Pipeline) { p.newID = f } }

// WithAfterCommit registers a hook run after every committed mutation, after
// its event was published.
func WithAfterCommit(f func(ctx context.Context, r *Result)) Option {
	return func(p *Pipeline) { p.afterCommit = append(p.afterCommit, f) }
}

func New(db *sql.DB, repos repomanager.RepositoryManager, log *txlog.Log, auth Authorizer, pub events.Publisher, opts ...Option) *Pipeline {
	p := &Pipeline{
		db:     db,
		repos:  repos,
		log:    log,
		auth:   auth,
		events: pub,
		logger: logging.Nop{},
		now:    time.Now,
		newID:  txlog.NewID,
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("module", "mutation")
	return p
}

// Execute validates and records a mutation. Nothing is written when it fails,
// and the event is published only after the write is durable.
func (p *Pipeline) Execute(ctx context.Context, in Input) (*Result, error) {
	if in.Actor == "" {
		return nil, fmt.Errorf("%w: no actor", common.ErrUnauthorized)
	}

	res, err := dbx.WithTxValue(ctx, p.db, nil, func(ctx context.Context, q dbx.DBTX) (*Result, error) {
		switch in.Kind {
		case KindCreate:
			return p.create(ctx, q, in)
		case KindUpdate:
			return p.update(ctx, q, in)
		case KindDelete:
			return p.delete(ctx, q, in)
		}
		return nil, fmt.Errorf("%w: unknown mutation %q", common.ErrValidation, in.Kind)
	})
	if err != nil {
		return nil, err
	}
	if res.Transaction == nil {
		return res, nil
	}

	p.publish(res)
	for _, f := range p.afterCommit {
		f(ctx, res)
	}
	return res, nil
}

func (p *Pipeline) create(ctx context.Context, q dbx.DBTX, in Input) (*Result, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown node type %q", common.ErrValidation, in.Type)
	}

	var parent *models.Node
	if in.ParentID != "" {
		n, err := p.repos.Nodes(q).Get(ctx, in.ParentID)
		if err != nil {
			return nil, fmt.Errorf("%w: parent %s: %w", common.ErrValidation, in.ParentID, err)
		}
		parent = n
	}

	id := in.NodeID
	if id == "" {
		id = p.newID()
	}
	workspaceID, rootID := in.WorkspaceID, id
	if parent != nil {
		workspaceID, rootID = parent.WorkspaceID, parent.RootID
	}
	if workspaceID == "" {
		return nil, fmt.Errorf("%w: workspace is required", common.ErrValidation)
	}

	ok, err := p.auth.CanCreate(ctx, in.Actor, workspaceID, parent, in.Attributes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot create in %s", common.ErrUnauthorized, in.Actor, workspaceID)
	}

	attrs, err := nodetypes.Create(in.Type, parent, in.Attributes)
	if err != nil {
		return nil, err
	}

	tx := p.transaction(in.Actor, models.OperationCreate, &models.Node{
		ID: id, Type: in.Type, ParentID: in.ParentID, RootID: rootID, WorkspaceID: workspaceID,
	}, 1, attrs)
	return p.append(ctx, q, tx)
}

func (p *Pipeline) load(ctx context.Context, q dbx.DBTX, id string) (*models.Node, error) {
	node, err := p.repos.Nodes(q).Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("node %s: %w", id, err)
	}
	if node.Deleted {
		return nil, fmt.Errorf("%w: node %s: %w", common.ErrValidation, id, common.ErrNodeDeleted)
	}
	return node, nil
}

func (p *Pipeline) update(ctx context.Context, q dbx.DBTX, in Input) (*Result, error) {
	node, err := p.load(ctx, q, in.NodeID)
	if err != nil {
		return nil, err
	}

	ok, err := p.auth.CanUpdate(ctx, in.Actor, node, in.Attributes)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot update %s", common.ErrUnauthorized, in.Actor, node.ID)
	}

	attrs, err := nodetypes.Update(node.Type, node.Attributes, in.Attributes)
	if err != nil {
		return nil, err
	}
	diff := models.Diff(node.Attributes, attrs)
	if len(diff) == 0 {
		return &Result{Node: node}, nil
	}

	return p.append(ctx, q, p.transaction(in.Actor, models.OperationUpdate, node, node.Version+1, diff))
}

func (p *Pipeline) delete(ctx context.Context, q dbx.DBTX, in Input) (*Result, error) {
	node, err := p.load(ctx, q, in.NodeID)
	if err != nil {
		return nil, err
	}

	ok, err := p.auth.CanDelete(ctx, in.Actor, node)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot delete %s", common.ErrUnauthorized, in.Actor, node.ID)
	}

	return p.append(ctx, q, p.transaction(in.Actor, models.OperationDelete, node, node.Version+1, nil))
}

func (p *Pipeline) transaction(actor string, op models.Operation, node *models.Node, version int64, data models.Attributes) *models.Transaction {
	return &models.Transaction{
		ID:          p.newID(),
		Operation:   op,
		NodeID:      node.ID,
		NodeType:    node.Type,
		ParentID:    node.ParentID,
		RootID:      node.RootID,
		WorkspaceID: node.WorkspaceID,
		Data:        data,
		CreatedBy:   actor,
		CreatedAt:   p.now().UTC(),
		Version:     version,
	}
}

func (p *Pipeline) append(ctx context.Context, q dbx.DBTX, tx *models.Transaction) (*Result, error) {
	if err := p.log.AppendTx(ctx, q, tx); err != nil {
		return nil, err
	}
	node, err := p.repos.Nodes(q).Get(ctx, tx.NodeID)
	if err != nil {
		return nil, err
	}
	return &Result{Node: node, Transaction: tx}, nil
}

func (p *Pipeline) publish(r *Result) {
	t := events.NodeUpdated
	switch r.Transaction.Operation {
	case models.OperationCreate:
		t = events.NodeCreated
	case models.OperationDelete:
		t = events.NodeDeleted
	}
	p.events.Publish(events.Event{
		Type:        t,
		AccountID:   r.Transaction.CreatedBy,
		WorkspaceID: r.Node.WorkspaceID,
		NodeID:      r.Node.ID,
		Data: map[string]any{
			"type":    string(r.Node.Type),
			"version": r.Node.Version,
		},
	})
}
