package ids

import (
	"fmt"
	"strconv"

	"github.com/rohankatakam/revgraph/internal/errors"
)

// Token is the short form of an id used to name statement variables and
// projection columns: t<n> for provisional ids, n<id> for permanent ones.
// Negative store ids are written with an m prefix.
func (id ID) Token() string {
	switch id.kind {
	case KindProvisional:
		return "t" + strconv.FormatInt(id.value, 10)
	case KindPermanent:
		if id.value < 0 {
			return "nm" + strconv.FormatInt(-id.value, 10)
		}
		return "n" + strconv.FormatInt(id.value, 10)
	default:
		return ""
	}
}

// Resolver issues provisional ids for one batch and records which permanent
// ids that batch depends on. It is not safe for concurrent use.
type Resolver struct {
	next    uint64
	lookups []int64
	seen    map[int64]struct{}
}

// NewResolver returns a resolver whose first provisional id is temp_1.
func NewResolver() *Resolver {
	return &Resolver{next: 1, seen: make(map[int64]struct{})}
}

// Allocate issues the next provisional id.
func (r *Resolver) Allocate() ID {
	id := Provisional(r.next)
	r.next++
	return id
}

// Check reports whether id may be referenced in this batch. Permanent ids are
// trusted; the store rejects the commit if they do not exist.
func (r *Resolver) Check(id ID) error {
	switch id.kind {
	case KindPermanent:
		return nil
	case KindProvisional:
		if id.value >= 1 && uint64(id.value) < r.next {
			return nil
		}
		return errors.UnknownReference(id.String())
	default:
		return errors.UnknownReference(id.String())
	}
}

// Track adds a permanent id to the lookup set. Provisional ids need no lookup
// and are ignored.
func (r *Resolver) Track(id ID) {
	if !id.IsPermanent() {
		return
	}
	if _, ok := r.seen[id.value]; ok {
		return
	}
	r.seen[id.value] = struct{}{}
	r.lookups = append(r.lookups, id.value)
}

// Lookups returns the lookup set in first-reference order.
func (r *Resolver) Lookups() []int64 {
	return append([]int64(nil), r.lookups...)
}

// IsLookup reports whether storeID is in the lookup set.
func (r *Resolver) IsLookup(storeID int64) bool {
	_, ok := r.seen[storeID]
	return ok
}

// Allocated lists every provisional id issued so far in allocation order.
func (r *Resolver) Allocated() []ID {
	out := make([]ID, 0, r.next-1)
	for n := uint64(1); n < r.next; n++ {
		out = append(out, Provisional(n))
	}
	return out
}

// Resolve reads the store-assigned id of every allocated provisional id from
// the primary statement's projection row.
func (r *Resolver) Resolve(row map[string]any) (Mapping, error) {
	allocated := r.Allocated()
	m := Mapping{assignments: make([]Assignment, 0, len(allocated))}
	used := make(map[int64]ID, len(allocated))

	for _, id := range allocated {
		raw, ok := row[id.Token()]
		if !ok {
			return Mapping{}, errors.InternalErrorf("store returned no id for %s", id)
		}
		storeID, err := asInt64(raw)
		if err != nil {
			return Mapping{}, errors.InternalErrorf("store id for %s: %v", id, err)
		}
		if prev, dup := used[storeID]; dup {
			return Mapping{}, errors.InternalErrorf("store assigned %d to both %s and %s", storeID, prev, id)
		}
		used[storeID] = id
		m.assignments = append(m.assignments, Assignment{Provisional: id, Permanent: Permanent(storeID)})
	}
	return m, nil
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected id type %T", v)
	}
}

// Assignment pairs a provisional id with the permanent id the store gave it.
type Assignment struct {
	Provisional ID
	Permanent   ID
}

// Mapping is the ordered provisional -> permanent translation produced by a
// successful commit.
type Mapping struct {
	assignments []Assignment
}

func (m Mapping) Len() int { return len(m.assignments) }

// Assignments returns the pairs in allocation order.
func (m Mapping) Assignments() []Assignment {
	return append([]Assignment(nil), m.assignments...)
}

// Lookup returns the permanent id of a provisional one.
func (m Mapping) Lookup(provisional ID) (ID, bool) {
	for _, a := range m.assignments {
		if a.Provisional == provisional {
			return a.Permanent, true
		}
	}
	return ID{}, false
}

// Translate returns id unchanged when it is already permanent.
func (m Mapping) Translate(id ID) (ID, bool) {
	if id.IsPermanent() {
		return id, true
	}
	return m.Lookup(id)
}

// AsMap renders the mapping keyed by temp_N.
func (m Mapping) AsMap() map[string]int64 {
	out := make(map[string]int64, len(m.assignments))
	for _, a := range m.assignments {
		out[a.Provisional.String()] = a.Permanent.StoreID()
	}
	return out
}
