// Package revision owns the HEAD pointer of the revision chain: it bootstraps
// an empty store and submits commits so that HEAD only moves when the whole
// transaction succeeds.
package revision

import (
	"context"
	stderrors "errors"
	"log/slog"

	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

// State of the chain as seen by a Manager.
type State int

const (
	Uninitialized State = iota
	Bootstrapped
)

func (s State) String() string {
	if s == Bootstrapped {
		return "bootstrapped"
	}
	return "uninitialized"
}

// RootProperties marks the root entity created at bootstrap.
func RootProperties() map[string]any {
	return map[string]any{"is_root": true, "type": "root"}
}

// Manager tracks the chain tip for one repository. It is not safe for
// concurrent use.
type Manager struct {
	store  graph.Store
	state  State
	head   int64
	root   int64
	logger *slog.Logger
}

// NewManager returns an uninitialized manager over store.
func NewManager(store graph.Store) *Manager {
	return &Manager{
		store:  store,
		logger: slog.Default().With("component", "revision"),
	}
}

func (m *Manager) State() State { return m.state }

// Head returns the revision the manager last saw holding HEAD.
func (m *Manager) Head() int64 { return m.head }

// Root returns the permanent id of the root entity.
func (m *Manager) Root() int64 { return m.root }

// Bootstrap attaches to an existing chain or creates the first revision,
// HEAD and the root entity in one transaction.
func (m *Manager) Bootstrap(ctx context.Context) error {
	if m.state == Bootstrapped {
		return nil
	}

	roots, err := m.store.FindNodes(ctx, stmt.LabelEntity, map[string]any{"is_root": true})
	if err != nil {
		return errors.DatabaseError(err, "look up root entity")
	}

	switch len(roots) {
	case 0:
		res, err := m.store.Execute(ctx, []stmt.Statement{
			stmt.Single(graph.OpBootstrap, stmt.Bootstrap{Root: RootProperties(), RootData: map[string]any{}}, true),
		})
		if err != nil {
			return errors.DatabaseError(err, "bootstrap revision chain")
		}
		row := res[0].First()
		m.head, _ = row[stmt.ColRevision].(int64)
		m.root, _ = row[stmt.ColRoot].(int64)
		m.logger.Info("revision chain bootstrapped", "head", m.head, "root", m.root)
	case 1:
		m.root = roots[0].ID
		if err := m.Refresh(ctx); err != nil {
			return err
		}
		m.logger.Debug("revision chain found", "head", m.head, "root", m.root)
	default:
		return errors.InternalErrorf("store holds %d root entities", len(roots)).WithContext("roots", len(roots))
	}

	m.state = Bootstrapped
	return nil
}

// Refresh re-reads the revision holding HEAD.
func (m *Manager) Refresh(ctx context.Context) error {
	res, err := m.store.Query(ctx, stmt.Single("inspect.head", stmt.HeadRevision{}, false))
	if err != nil {
		return errors.DatabaseError(err, "read head revision")
	}
	if len(res.Rows) != 1 {
		return errors.InternalErrorf("expected one revision at HEAD, found %d", len(res.Rows))
	}
	head, ok := res.Rows[0][stmt.ColRevision].(int64)
	if !ok {
		return errors.InternalErrorf("unexpected head revision value %v", res.Rows[0][stmt.ColRevision])
	}
	m.head = head
	return nil
}

// Submit executes the primary and advance statements of one commit as a
// single transaction. It returns the primary statement's projection row and
// the new revision. HEAD moves only on success.
//
// An advance that matched nothing means parent does not hold HEAD and yields
// a StaleParent error. Any other failure is TransactionRejected.
func (m *Manager) Submit(ctx context.Context, parent int64, primary, advance stmt.Statement) (map[string]any, int64, error) {
	if m.state != Bootstrapped {
		return nil, 0, errors.InternalErrorf("revision chain is not bootstrapped")
	}

	res, err := m.store.Execute(ctx, []stmt.Statement{primary, advance})
	if err != nil {
		var empty *graph.EmptyResultError
		if stderrors.As(err, &empty) && (empty.Index == 1 || m.parentIsStale(ctx, parent)) {
			return nil, 0, errors.StaleParent(parent).WithContext("head", m.head)
		}
		return nil, 0, errors.TransactionRejected(err).WithContext("parent", parent)
	}
	if len(res) != 2 {
		return nil, 0, errors.TransactionRejected(errors.InternalErrorf("store returned %d results for 2 statements", len(res)))
	}

	// A store that ignores RequireRow can still hand back an empty advance.
	next, ok := res[1].First()[stmt.ColRevision].(int64)
	if !ok {
		return nil, 0, errors.StaleParent(parent)
	}
	row := res[0].First()
	if row == nil {
		return nil, 0, errors.TransactionRejected(errors.InternalErrorf("primary statement returned no row"))
	}

	m.logger.Info("head advanced", "from", parent, "to", next)
	m.head = next
	return row, next, nil
}

// parentIsStale tells an unknown parent apart from a missing lookup when the
// primary statement matched nothing.
func (m *Manager) parentIsStale(ctx context.Context, parent int64) bool {
	if err := m.Refresh(ctx); err != nil {
		m.logger.Warn("could not re-read head after rejected commit", "error", err)
		return false
	}
	return m.head != parent
}
