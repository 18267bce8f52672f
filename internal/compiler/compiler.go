// Package compiler turns a pending batch into the two statements of one
// commit: the primary statement carrying every command, and the statement
// that advances HEAD past the parent revision.
package compiler

import (
	"github.com/rohankatakam/revgraph/internal/batch"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/ids"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

// Statement names, used in logs and transaction metadata.
const (
	PrimaryName = "commit.primary"
	AdvanceName = "commit.advance"
)

// Compile builds the primary and advance statements for b on top of parent.
//
// The primary statement binds the parent revision and every looked-up entity,
// replays the command fragments in append order and projects the store id of
// each created entity. Both statements require a row: an empty result means a
// bound node is gone and the whole submission must roll back.
func Compile(b *batch.Batch, parent int64) (primary, advance stmt.Statement, err error) {
	if b == nil || b.IsEmpty() {
		return stmt.Statement{}, stmt.Statement{}, errors.EmptyBatch()
	}

	res := b.Resolver()
	lookups := res.Lookups()
	commands := b.Fragments()
	if err := verify(res, lookups, commands); err != nil {
		return stmt.Statement{}, stmt.Statement{}, err
	}

	frags := make([]stmt.Fragment, 0, 2+len(lookups)+len(commands))
	frags = append(frags, stmt.MatchRevision{ID: parent})
	for _, id := range lookups {
		frags = append(frags, stmt.LookupEntity{ID: id})
	}
	frags = append(frags, commands...)
	frags = append(frags, stmt.ReturnCreated{Created: res.Allocated()})

	primary = stmt.Statement{Name: PrimaryName, Fragments: frags, RequireRow: true}
	advance = Advance(parent)
	return primary, advance, nil
}

// Advance builds the statement that moves HEAD from parent to a new
// successor revision.
func Advance(parent int64) stmt.Statement {
	return stmt.Single(AdvanceName, stmt.AdvanceHead{Parent: parent}, true)
}

// verify checks that every reference in the command stream is bound: each
// provisional id is created exactly once and before use, each permanent id is
// in the lookup set and every lookup is used.
func verify(res *ids.Resolver, lookups []int64, commands []stmt.Fragment) error {
	created := make(map[ids.ID]struct{})
	used := make(map[int64]struct{}, len(lookups))

	ref := func(id ids.ID, optional bool) error {
		switch {
		case id.IsZero():
			if optional {
				return nil
			}
			return errors.CompileErrorf("command references no entity")
		case id.IsPermanent():
			if !res.IsLookup(id.StoreID()) {
				return errors.CompileErrorf("entity %s is referenced but not looked up", id)
			}
			used[id.StoreID()] = struct{}{}
		default:
			if _, ok := created[id]; !ok {
				return errors.CompileErrorf("%s is referenced before it is created", id)
			}
		}
		return nil
	}

	for i, f := range commands {
		switch c := f.(type) {
		case stmt.CreateEntity:
			if err := ref(c.Parent, true); err != nil {
				return err
			}
			if !c.Target.IsProvisional() {
				return errors.CompileErrorf("command %d creates non-provisional id %s", i+1, c.Target)
			}
			if _, dup := created[c.Target]; dup {
				return errors.CompileErrorf("%s is created twice", c.Target)
			}
			created[c.Target] = struct{}{}
		case stmt.DeleteEntity:
			if err := ref(c.Target, false); err != nil {
				return err
			}
		case stmt.ModifyEntity:
			if err := ref(c.Target, false); err != nil {
				return err
			}
			if err := ref(c.Move, true); err != nil {
				return err
			}
		default:
			return errors.CompileErrorf("command %d has unexpected fragment %T", i+1, f)
		}
	}

	for _, id := range lookups {
		if _, ok := used[id]; !ok {
			return errors.CompileErrorf("lookup %d is never referenced", id)
		}
	}
	if allocated := res.Allocated(); len(allocated) != len(created) {
		return errors.CompileErrorf("%d provisional ids allocated but %d created", len(allocated), len(created))
	}
	return nil
}
