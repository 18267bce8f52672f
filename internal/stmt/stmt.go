// Package stmt is the store-neutral statement representation produced by the
// compiler. A Statement is an ordered list of typed fragments; renderers turn
// it into native query text (graph.CypherBuilder) or interpret it directly
// (localgraph).
package stmt

import (
	"github.com/rohankatakam/revgraph/internal/ids"
)

// Labels and relationship types of the revision graph.
const (
	LabelHead     = "HEAD"
	LabelRevision = "REVISION"
	LabelCommand  = "COMMAND"
	LabelEntity   = "FILE_ENTITY"
	LabelData     = "FILE_DATA"

	RelAt         = "AT"
	RelNext       = "NEXT"
	RelOccurred   = "OCCURRED"
	RelAppliedTo  = "APPLIED_TO"
	RelInstanceOf = "INSTANCE_OF"
	RelContained  = "CONTAINED"
)

// Result columns.
const (
	ColRevision    = "revision"
	ColPredecessor = "predecessor"
	ColRoot        = "root"
	ColID          = "id"
	ColProps       = "props"
	ColSeq         = "seq"
	ColType        = "type"
	ColKind        = "kind"
	ColPayload     = "payload"
	ColEntity      = "entity"
)

// Command types recorded on COMMAND nodes.
const (
	CommandCreate = "create"
	CommandDelete = "delete"
	CommandModify = "modify"
)

// Fragment is one clause group of a statement. The set of fragments is closed.
type Fragment interface {
	fragment()
}

// Statement is one unit of an atomic submission.
type Statement struct {
	Name      string
	Fragments []Fragment
	// RequireRow makes the store fail the whole transaction when the
	// statement yields no rows.
	RequireRow bool
}

// Result holds the rows of one statement in store order.
type Result struct {
	Columns []string
	Rows    []map[string]any
}

// First returns the first row, or nil when there are none.
func (r Result) First() map[string]any {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// CommandRecord is the COMMAND node written for every mutation.
type CommandRecord struct {
	Seq     int
	Type    string
	Kind    string
	Payload string
}

// Properties returns the node properties of the record.
func (c CommandRecord) Properties() map[string]any {
	return map[string]any{
		"seq":     int64(c.Seq),
		"type":    c.Type,
		"kind":    c.Kind,
		"payload": c.Payload,
	}
}

// MatchRevision binds the parent revision as "revision".
type MatchRevision struct {
	ID int64
}

// LookupEntity binds a persisted entity and its current data node.
type LookupEntity struct {
	ID int64
}

// CreateEntity creates an entity, its data node and the command that records
// it. Parent is optional.
type CreateEntity struct {
	Command    CommandRecord
	Target     ids.ID
	Parent     ids.ID
	Entity     map[string]any
	Properties map[string]any
}

// DeleteEntity removes the data node of Target and every data node below it.
// The entity node stays so the command log keeps its target.
type DeleteEntity struct {
	Command CommandRecord
	Target  ids.ID
}

// ModifyEntity updates the data node of Target in place and optionally moves
// it under a new parent.
type ModifyEntity struct {
	Command CommandRecord
	Target  ids.ID
	Set     map[string]any
	Unset   []string
	Move    ids.ID
}

// ReturnCreated projects the parent revision and every created entity, one
// column per provisional id.
type ReturnCreated struct {
	Created []ids.ID
}

// AdvanceHead creates the successor of Parent and moves HEAD onto it. It
// yields no row when Parent does not hold HEAD.
type AdvanceHead struct {
	Parent int64
}

// Bootstrap creates the first revision, HEAD and the root entity.
type Bootstrap struct {
	Root     map[string]any
	RootData map[string]any
}

// FindNodes returns id and properties of nodes whose properties equal Filter.
type FindNodes struct {
	Label  string
	Filter map[string]any
}

// HeadRevision returns the revision holding HEAD.
type HeadRevision struct{}

// RevisionChain returns every revision with its predecessor.
type RevisionChain struct{}

// CommandsAt returns the commands recorded against a revision ordered by seq.
type CommandsAt struct {
	Revision int64
}

// ClearAll deletes every node.
type ClearAll struct{}

func (MatchRevision) fragment() {}
func (LookupEntity) fragment()  {}
func (CreateEntity) fragment()  {}
func (DeleteEntity) fragment()  {}
func (ModifyEntity) fragment()  {}
func (ReturnCreated) fragment() {}
func (AdvanceHead) fragment()   {}
func (Bootstrap) fragment()     {}
func (FindNodes) fragment()     {}
func (HeadRevision) fragment()  {}
func (RevisionChain) fragment() {}
func (CommandsAt) fragment()    {}
func (ClearAll) fragment()      {}

// Single wraps one fragment as a statement.
func Single(name string, f Fragment, requireRow bool) Statement {
	return Statement{Name: name, Fragments: []Fragment{f}, RequireRow: requireRow}
}
