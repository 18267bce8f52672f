// Package batch is the in-memory journal of a not yet committed revision.
//
// Every builder call validates its references first and only then appends a
// command, so a failed call leaves the batch exactly as it was. Nothing here
// talks to the store.
package batch

import (
	"encoding/json"

	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/ids"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

// Entry describes one pending command.
type Entry struct {
	Seq     int
	Type    string
	Kind    string
	Target  ids.ID
	Payload string
}

// Batch accumulates commands for one commit. It is owned by a single
// repository and replaced with a fresh value after each successful commit.
type Batch struct {
	resolver  *ids.Resolver
	entries   []Entry
	fragments []stmt.Fragment
	deleted   map[ids.ID]struct{}
	// parents holds structural links known inside this batch.
	parents map[ids.ID]ids.ID
}

// New returns an empty batch.
func New() *Batch {
	return &Batch{
		resolver: ids.NewResolver(),
		deleted:  make(map[ids.ID]struct{}),
		parents:  make(map[ids.ID]ids.ID),
	}
}

// Len returns the number of pending commands.
func (b *Batch) Len() int { return len(b.entries) }

// IsEmpty reports whether there is nothing to commit.
func (b *Batch) IsEmpty() bool { return len(b.entries) == 0 }

// Entries returns the pending commands in append order.
func (b *Batch) Entries() []Entry { return append([]Entry(nil), b.entries...) }

// Fragments returns the command fragments in append order.
func (b *Batch) Fragments() []stmt.Fragment { return append([]stmt.Fragment(nil), b.fragments...) }

// Resolver exposes the identifier state of the batch.
func (b *Batch) Resolver() *ids.Resolver { return b.resolver }

// Create records a new entity of the given kind and returns its provisional
// id. parent may be the zero ID for a detached entity.
func (b *Batch) Create(kind string, parent ids.ID, doc Document) (ids.ID, error) {
	if kind == "" {
		return ids.ID{}, errors.ValidationErrorf("entity kind is required")
	}
	if !parent.IsZero() {
		if err := b.check(parent); err != nil {
			return ids.ID{}, err
		}
	}
	props, err := doc.Properties()
	if err != nil {
		return ids.ID{}, err
	}
	payload, err := doc.Canonical()
	if err != nil {
		return ids.ID{}, err
	}

	target := b.resolver.Allocate()
	b.resolver.Track(parent)
	if !parent.IsZero() {
		b.parents[target] = parent
	}
	rec := b.record(stmt.CommandCreate, kind, target, payload)
	b.fragments = append(b.fragments, stmt.CreateEntity{
		Command:    rec,
		Target:     target,
		Parent:     parent,
		Entity:     map[string]any{"type": kind},
		Properties: props,
	})
	return target, nil
}

// Delete records the removal of an entity and everything below it.
func (b *Batch) Delete(target ids.ID) error {
	if err := b.check(target); err != nil {
		return err
	}
	b.resolver.Track(target)
	b.deleted[target] = struct{}{}
	rec := b.record(stmt.CommandDelete, "", target, "{}")
	b.fragments = append(b.fragments, stmt.DeleteEntity{Command: rec, Target: target})
	return nil
}

// Modify records in-place changes to an entity.
func (b *Batch) Modify(target ids.ID, ops ...Op) error {
	if len(ops) == 0 {
		return errors.ValidationErrorf("modify %s: no operations", target)
	}
	if err := b.check(target); err != nil {
		return err
	}

	set := Document{}
	var unset []string
	var move ids.ID
	for _, op := range ops {
		switch op.kind {
		case opSet:
			set[op.field] = op.value
			unset = without(unset, op.field)
		case opUnset:
			if !fieldPattern.MatchString(op.field) {
				return errors.ValidationErrorf("invalid field name %q", op.field)
			}
			delete(set, op.field)
			unset = append(without(unset, op.field), op.field)
		case opMove:
			if err := b.check(op.parent); err != nil {
				return err
			}
			if b.isAncestor(target, op.parent) {
				return errors.ValidationErrorf("cannot move %s below itself", target)
			}
			move = op.parent
		}
	}
	props, err := set.Properties()
	if err != nil {
		return err
	}
	payload, err := modifyPayload(set, unset, move)
	if err != nil {
		return err
	}

	b.resolver.Track(target)
	b.resolver.Track(move)
	if !move.IsZero() {
		b.parents[target] = move
	}
	rec := b.record(stmt.CommandModify, "", target, payload)
	b.fragments = append(b.fragments, stmt.ModifyEntity{
		Command: rec,
		Target:  target,
		Set:     props,
		Unset:   unset,
		Move:    move,
	})
	return nil
}

func (b *Batch) record(typ, kind string, target ids.ID, payload string) stmt.CommandRecord {
	rec := stmt.CommandRecord{Seq: len(b.entries) + 1, Type: typ, Kind: kind, Payload: payload}
	b.entries = append(b.entries, Entry{Seq: rec.Seq, Type: typ, Kind: kind, Target: target, Payload: payload})
	return rec
}

// check rejects ids the batch never issued and entities already deleted in
// this batch, directly or through an ancestor.
func (b *Batch) check(id ids.ID) error {
	if err := b.resolver.Check(id); err != nil {
		return err
	}
	if b.isDeleted(id) {
		return errors.UnknownReference(id.String()).WithContext("reason", "deleted in this batch")
	}
	return nil
}

func (b *Batch) isDeleted(id ids.ID) bool {
	seen := make(map[ids.ID]struct{})
	for cur, ok := id, true; ok; cur, ok = b.parents[cur] {
		if _, dead := b.deleted[cur]; dead {
			return true
		}
		if _, loop := seen[cur]; loop {
			return false
		}
		seen[cur] = struct{}{}
	}
	return false
}

// isAncestor reports whether node is candidate or one of its known ancestors.
func (b *Batch) isAncestor(node, candidate ids.ID) bool {
	seen := make(map[ids.ID]struct{})
	for cur, ok := candidate, true; ok; cur, ok = b.parents[cur] {
		if cur == node {
			return true
		}
		if _, loop := seen[cur]; loop {
			return false
		}
		seen[cur] = struct{}{}
	}
	return false
}

func without(fields []string, field string) []string {
	out := fields[:0:0]
	for _, f := range fields {
		if f != field {
			out = append(out, f)
		}
	}
	return out
}

func modifyPayload(set Document, unset []string, move ids.ID) (string, error) {
	body := map[string]any{}
	if len(set) > 0 {
		body["set"] = map[string]any(set)
	}
	if len(unset) > 0 {
		body["unset"] = unset
	}
	if !move.IsZero() {
		body["move"] = move.String()
	}
	out, err := json.Marshal(body)
	if err != nil {
		return "", errors.ValidationErrorf("encode modify payload: %v", err)
	}
	return string(out), nil
}
