// Package history is the entry point for callers: a Repository accumulates
// create, delete and modify commands against the entity tree and commits them
// as one revision.
//
// A Repository is single-writer. Concurrent calls on one instance are not
// supported, and two repositories committing against the same parent are only
// separated by the store: the second one fails with a stale parent error.
package history

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rohankatakam/revgraph/internal/batch"
	"github.com/rohankatakam/revgraph/internal/compiler"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/ids"
	"github.com/rohankatakam/revgraph/internal/revision"
)

// Repository composes the pending batch, the compiler and the revision chain
// over one store.
type Repository struct {
	store   graph.Store
	chain   *revision.Manager
	pending *batch.Batch
	logger  *slog.Logger
}

// Open attaches to the chain in store, bootstrapping it when the store is
// empty.
func Open(ctx context.Context, store graph.Store) (*Repository, error) {
	chain := revision.NewManager(store)
	if err := chain.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return &Repository{
		store:   store,
		chain:   chain,
		pending: batch.New(),
		logger:  slog.Default().With("component", "history"),
	}, nil
}

// Head returns the revision this repository last saw at HEAD.
func (r *Repository) Head() int64 { return r.chain.Head() }

// RootEntity returns the permanent id of the tree root.
func (r *Repository) RootEntity() ids.ID { return ids.Permanent(r.chain.Root()) }

// Refresh re-reads HEAD from the store.
func (r *Repository) Refresh(ctx context.Context) error { return r.chain.Refresh(ctx) }

// Pending lists the commands waiting for the next commit.
func (r *Repository) Pending() []batch.Entry { return r.pending.Entries() }

// Discard drops every pending command and provisional id.
func (r *Repository) Discard() {
	if n := r.pending.Len(); n > 0 {
		r.logger.Info("pending batch discarded", "commands", n)
	}
	r.pending = batch.New()
}

// CreateEntity records a new entity below parent and returns its provisional
// id. Use the zero ID for an entity outside the tree.
func (r *Repository) CreateEntity(kind string, parent ids.ID, payload batch.Document) (ids.ID, error) {
	return r.pending.Create(kind, parent, payload)
}

// DeleteEntity records the removal of an entity and its subtree. The root
// cannot be deleted.
func (r *Repository) DeleteEntity(id ids.ID) error {
	if id == r.RootEntity() {
		return errors.ValidationErrorf("cannot delete the root entity %s", id)
	}
	return r.pending.Delete(id)
}

// ModifyEntity records in-place changes to an entity. The root cannot be
// moved. Cycles through permanent entities are not detected here; the batch
// only sees links it created itself, and the store rejects the rest.
func (r *Repository) ModifyEntity(id ids.ID, ops ...batch.Op) error {
	if id == r.RootEntity() {
		for _, op := range ops {
			if op.IsMove() {
				return errors.ValidationErrorf("cannot move the root entity %s", id)
			}
		}
	}
	return r.pending.Modify(id, ops...)
}

// Commit submits the pending batch on top of parent and returns the new
// revision with the permanent id of every entity the batch created.
//
// Errors: EmptyBatch when nothing is pending (the store is not contacted),
// StaleParent when parent does not hold HEAD, TransactionRejected for any
// other store failure. On error the batch is kept for inspection; rebuild it
// before retrying.
func (r *Repository) Commit(ctx context.Context, parent int64) (int64, ids.Mapping, error) {
	primary, advance, err := compiler.Compile(r.pending, parent)
	if err != nil {
		return 0, ids.Mapping{}, err
	}

	commitID := uuid.NewString()
	ctx = graph.WithCorrelationID(ctx, commitID)
	logger := r.logger.With("commit_id", commitID, "parent", parent)

	row, next, err := r.chain.Submit(ctx, parent, primary, advance)
	if err != nil {
		logger.Warn("commit failed", "commands", r.pending.Len(), "error", err)
		return 0, ids.Mapping{}, err
	}

	mapping, err := r.pending.Resolver().Resolve(row)
	r.pending = batch.New()
	if err != nil {
		logger.Error("commit stored but ids could not be resolved", "revision", next, "error", err)
		return next, ids.Mapping{}, err
	}

	logger.Info("commit applied", "revision", next, "created", mapping.Len())
	return next, mapping, nil
}
