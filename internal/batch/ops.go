package batch

import "github.com/rohankatakam/revgraph/internal/ids"

type opKind uint8

const (
	opSet opKind = iota + 1
	opUnset
	opMove
)

// Op is one change applied by Modify. Later ops on the same field win.
type Op struct {
	kind   opKind
	field  string
	value  any
	parent ids.ID
}

// Set assigns a field on the entity's data.
func Set(field string, value any) Op { return Op{kind: opSet, field: field, value: value} }

// Unset removes a field from the entity's data.
func Unset(field string) Op { return Op{kind: opUnset, field: field} }

// Move reattaches the entity below parent.
func Move(parent ids.ID) Op { return Op{kind: opMove, parent: parent} }

// IsMove reports whether the op reattaches the entity.
func (o Op) IsMove() bool { return o.kind == opMove }
