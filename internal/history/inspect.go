package history

import (
	"context"

	"github.com/rohankatakam/revgraph/internal/batch"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

// Revision is one link of the chain.
type Revision struct {
	ID             int64
	Predecessor    int64
	HasPredecessor bool
	IsHead         bool
}

// Command is a committed command as stored.
type Command struct {
	Seq     int
	Type    string
	Kind    string
	Entity  int64
	Payload string
}

// Document decodes the payload.
func (c Command) Document() (batch.Document, error) {
	return batch.DecodeDocument(c.Payload)
}

// Revisions returns the chain oldest first.
func (r *Repository) Revisions(ctx context.Context) ([]Revision, error) {
	var first *Revision
	var rows int
	var chainErr error
	next := make(map[int64]Revision)
	err := graph.EachRow(ctx, r.store, stmt.Single("inspect.chain", stmt.RevisionChain{}, false), func(row map[string]any) error {
		rows++
		id, ok := row[stmt.ColRevision].(int64)
		if !ok {
			chainErr = errors.InternalErrorf("unexpected revision value %v", row[stmt.ColRevision])
			return chainErr
		}
		rev := Revision{ID: id}
		if p, ok := row[stmt.ColPredecessor].(int64); ok {
			rev.Predecessor, rev.HasPredecessor = p, true
			if _, dup := next[p]; dup {
				chainErr = errors.InternalErrorf("revision %d has more than one successor", p)
				return chainErr
			}
			next[p] = rev
			return nil
		}
		if first != nil {
			chainErr = errors.InternalErrorf("revisions %d and %d both lack a predecessor", first.ID, rev.ID)
			return chainErr
		}
		first = &rev
		return nil
	})
	if chainErr != nil {
		return nil, chainErr
	}
	if err != nil {
		return nil, errors.DatabaseError(err, "read revision chain")
	}
	if first == nil {
		return nil, nil
	}

	chain := make([]Revision, 0, rows)
	for cur, ok := *first, true; ok; cur, ok = next[cur.ID] {
		cur.IsHead = cur.ID == r.chain.Head()
		chain = append(chain, cur)
	}
	if len(chain) != rows {
		return nil, errors.InternalErrorf("revision chain is broken: %d of %d revisions reachable", len(chain), rows)
	}
	return chain, nil
}

// Commands returns the commands recorded against revision, in the order they
// were issued. These are the commands whose commit produced the revision's
// successor.
func (r *Repository) Commands(ctx context.Context, revision int64) ([]Command, error) {
	out := []Command{}
	err := graph.EachRow(ctx, r.store, stmt.Single("inspect.commands", stmt.CommandsAt{Revision: revision}, false), func(row map[string]any) error {
		seq, _ := row[stmt.ColSeq].(int64)
		c := Command{Seq: int(seq)}
		c.Type, _ = row[stmt.ColType].(string)
		c.Kind, _ = row[stmt.ColKind].(string)
		c.Payload, _ = row[stmt.ColPayload].(string)
		c.Entity, _ = row[stmt.ColEntity].(int64)
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, errors.DatabaseError(err, "read commands").WithContext("revision", revision)
	}
	return out, nil
}
