// Package ids models entity identifiers inside a pending batch.
//
// An ID is either provisional (issued by the batch for an entity that only
// exists in memory) or permanent (assigned by the store). The Resolver owns the
// provisional counter and the lookup set of permanent ids the next commit must
// bind to.
package ids

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the two identifier spaces.
type Kind uint8

const (
	KindNone Kind = iota
	KindProvisional
	KindPermanent
)

const provisionalPrefix = "temp_"

// ID is a tagged union: Provisional(n) | Permanent(storeID).
// The zero value is not a valid reference.
type ID struct {
	kind  Kind
	value int64
}

// Provisional returns the batch-local identifier temp_n.
func Provisional(n uint64) ID {
	return ID{kind: KindProvisional, value: int64(n)}
}

// Permanent returns an identifier assigned by the store.
func Permanent(storeID int64) ID {
	return ID{kind: KindPermanent, value: storeID}
}

func (id ID) Kind() Kind          { return id.kind }
func (id ID) IsZero() bool        { return id.kind == KindNone }
func (id ID) IsProvisional() bool { return id.kind == KindProvisional }
func (id ID) IsPermanent() bool   { return id.kind == KindPermanent }

// Seq returns the provisional sequence number. It panics for other kinds.
func (id ID) Seq() uint64 {
	if id.kind != KindProvisional {
		panic(fmt.Sprintf("ids: Seq called on %s", id))
	}
	return uint64(id.value)
}

// StoreID returns the permanent store identifier. It panics for other kinds.
func (id ID) StoreID() int64 {
	if id.kind != KindPermanent {
		panic(fmt.Sprintf("ids: StoreID called on %s", id))
	}
	return id.value
}

// String renders temp_N for provisional ids and the bare number otherwise.
func (id ID) String() string {
	switch id.kind {
	case KindProvisional:
		return provisionalPrefix + strconv.FormatInt(id.value, 10)
	case KindPermanent:
		return strconv.FormatInt(id.value, 10)
	default:
		return "<none>"
	}
}

// Parse accepts the textual forms produced by String. It is used by the
// CLI and plan files, never by the batch engine itself.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, provisionalPrefix); ok {
		n, err := strconv.ParseUint(rest, 10, 63)
		if err != nil || n == 0 {
			return ID{}, fmt.Errorf("invalid provisional id %q", s)
		}
		return Provisional(n), nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("invalid entity id %q", s)
	}
	return Permanent(v), nil
}

// MarshalText lets ids travel inside YAML and JSON documents.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, fmt.Errorf("ids: cannot marshal zero id")
	}
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
