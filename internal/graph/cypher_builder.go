package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rohankatakam/revgraph/internal/ids"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// CypherBuilder renders statements into parameterized Cypher.
// Security: every value travels as a parameter. Labels, property keys and
// variable names are validated identifiers.
type CypherBuilder struct {
	params  map[string]any
	counter int
	clauses []string
}

// NewCypherBuilder creates a query builder
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params: make(map[string]any),
	}
}

// AddParam adds a parameter and returns its placeholder
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters for the query
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

func (b *CypherBuilder) line(format string, args ...any) {
	b.clauses = append(b.clauses, fmt.Sprintf(format, args...))
}

// RenderStatement renders s with a fresh builder.
func RenderStatement(s stmt.Statement) (QueryWithParams, error) {
	b := NewCypherBuilder()
	q, err := b.Render(s)
	if err != nil {
		return QueryWithParams{}, fmt.Errorf("render %s: %w", s.Name, err)
	}
	return QueryWithParams{Query: q, Params: b.Params()}, nil
}

// Render appends every fragment of s and returns the query text. Clauses are
// newline separated.
func (b *CypherBuilder) Render(s stmt.Statement) (string, error) {
	for i, f := range s.Fragments {
		var err error
		switch frag := f.(type) {
		case stmt.MatchRevision:
			b.line("MATCH (revision:%s) WHERE id(revision) = %s", stmt.LabelRevision, b.AddParam(frag.ID))
		case stmt.LookupEntity:
			id := ids.Permanent(frag.ID)
			b.line("MATCH (%s:%s)<-[:%s]-(%s:%s) WHERE id(%s) = %s",
				entityVar(id), stmt.LabelEntity, stmt.RelInstanceOf, dataVar(id), stmt.LabelData,
				entityVar(id), b.AddParam(frag.ID))
		case stmt.CreateEntity:
			b.line("WITH *")
			b.renderCreate(frag)
		case stmt.DeleteEntity:
			b.line("WITH *")
			b.renderDelete(frag)
		case stmt.ModifyEntity:
			b.line("WITH *")
			err = b.renderModify(frag)
		case stmt.ReturnCreated:
			cols := []string{"id(revision) AS " + stmt.ColRevision}
			for _, id := range frag.Created {
				cols = append(cols, fmt.Sprintf("id(%s) AS %s", entityVar(id), id.Token()))
			}
			b.line("RETURN %s", strings.Join(cols, ", "))
		case stmt.AdvanceHead:
			b.line("MATCH (old_rev:%s) WHERE id(old_rev) = %s", stmt.LabelRevision, b.AddParam(frag.Parent))
			b.line("OPTIONAL MATCH (old_rev)-[at:%s]->(head:%s)", stmt.RelAt, stmt.LabelHead)
			b.line("WITH old_rev, at, head WHERE head IS NOT NULL")
			b.line("CREATE (head)<-[:%s]-(rev:%s)<-[:%s]-(old_rev)", stmt.RelAt, stmt.LabelRevision, stmt.RelNext)
			b.line("DELETE at")
			b.line("RETURN id(rev) AS %s", stmt.ColRevision)
		case stmt.Bootstrap:
			b.line("CREATE (head:%s)<-[:%s]-(revision:%s)", stmt.LabelHead, stmt.RelAt, stmt.LabelRevision)
			b.line("CREATE (root:%s %s)<-[:%s]-(root_data:%s %s)",
				stmt.LabelEntity, b.AddParam(orEmpty(frag.Root)), stmt.RelInstanceOf, stmt.LabelData, b.AddParam(orEmpty(frag.RootData)))
			b.line("RETURN id(revision) AS %s, id(root) AS %s", stmt.ColRevision, stmt.ColRoot)
		case stmt.FindNodes:
			err = b.renderFind(frag)
		case stmt.HeadRevision:
			b.line("MATCH (revision:%s)-[:%s]->(:%s)", stmt.LabelRevision, stmt.RelAt, stmt.LabelHead)
			b.line("RETURN id(revision) AS %s", stmt.ColRevision)
		case stmt.RevisionChain:
			b.line("MATCH (revision:%s)", stmt.LabelRevision)
			b.line("OPTIONAL MATCH (prev:%s)-[:%s]->(revision)", stmt.LabelRevision, stmt.RelNext)
			b.line("RETURN id(revision) AS %s, id(prev) AS %s ORDER BY %s", stmt.ColRevision, stmt.ColPredecessor, stmt.ColRevision)
		case stmt.CommandsAt:
			b.line("MATCH (revision:%s)<-[:%s]-(c:%s)-[:%s]->(e:%s) WHERE id(revision) = %s",
				stmt.LabelRevision, stmt.RelOccurred, stmt.LabelCommand, stmt.RelAppliedTo, stmt.LabelEntity, b.AddParam(frag.Revision))
			b.line("RETURN c.seq AS %s, c.type AS %s, c.kind AS %s, c.payload AS %s, id(e) AS %s ORDER BY %s",
				stmt.ColSeq, stmt.ColType, stmt.ColKind, stmt.ColPayload, stmt.ColEntity, stmt.ColSeq)
		case stmt.ClearAll:
			b.line("MATCH (n) DETACH DELETE n")
		default:
			err = fmt.Errorf("unsupported fragment %T", f)
		}
		if err != nil {
			return "", fmt.Errorf("fragment %d: %w", i, err)
		}
	}
	return strings.Join(b.clauses, "\n"), nil
}

func (b *CypherBuilder) renderCreate(c stmt.CreateEntity) {
	b.line("CREATE (revision)<-[:%s]-(%s:%s %s)-[:%s]->(%s:%s %s)<-[:%s]-(%s:%s %s)",
		stmt.RelOccurred, commandVar(c.Command), stmt.LabelCommand, b.AddParam(c.Command.Properties()),
		stmt.RelAppliedTo, entityVar(c.Target), stmt.LabelEntity, b.AddParam(orEmpty(c.Entity)),
		stmt.RelInstanceOf, dataVar(c.Target), stmt.LabelData, b.AddParam(orEmpty(c.Properties)))
	if !c.Parent.IsZero() {
		b.line("CREATE (%s)-[:%s]->(%s)", dataVar(c.Parent), stmt.RelContained, dataVar(c.Target))
	}
}

// renderDelete drops the row when an earlier delete in the same statement
// already removed the target's data, so the statement matches nothing.
func (b *CypherBuilder) renderDelete(c stmt.DeleteEntity) {
	d := dataVar(c.Target)
	b.line("WHERE EXISTS { (%s)-[:%s]->(%s) }", d, stmt.RelInstanceOf, entityVar(c.Target))
	b.line("CREATE (revision)<-[:%s]-(%s:%s %s)-[:%s]->(%s)",
		stmt.RelOccurred, commandVar(c.Command), stmt.LabelCommand, b.AddParam(c.Command.Properties()),
		stmt.RelAppliedTo, entityVar(c.Target))
	b.line("WITH *")
	b.line("CALL { WITH %s OPTIONAL MATCH (%s)-[:%s*]->(sub:%s) DETACH DELETE sub }", d, d, stmt.RelContained, stmt.LabelData)
	b.line("DETACH DELETE %s", d)
}

func (b *CypherBuilder) renderModify(c stmt.ModifyEntity) error {
	d := dataVar(c.Target)
	b.line("CREATE (revision)<-[:%s]-(%s:%s %s)-[:%s]->(%s)",
		stmt.RelOccurred, commandVar(c.Command), stmt.LabelCommand, b.AddParam(c.Command.Properties()),
		stmt.RelAppliedTo, entityVar(c.Target))
	if len(c.Set) > 0 {
		b.line("SET %s += %s", d, b.AddParam(c.Set))
	}
	if len(c.Unset) > 0 {
		fields := make([]string, 0, len(c.Unset))
		for _, f := range c.Unset {
			if !isValidIdentifier(f) {
				return fmt.Errorf("invalid property key: %s (must be alphanumeric + underscore)", f)
			}
			fields = append(fields, d+"."+f)
		}
		b.line("REMOVE %s", strings.Join(fields, ", "))
	}
	if !c.Move.IsZero() {
		old := fmt.Sprintf("old%d", c.Command.Seq)
		b.line("WITH *")
		b.line("OPTIONAL MATCH ()-[%s:%s]->(%s)", old, stmt.RelContained, d)
		b.line("DELETE %s", old)
		b.line("CREATE (%s)-[:%s]->(%s)", dataVar(c.Move), stmt.RelContained, d)
	}
	return nil
}

func (b *CypherBuilder) renderFind(f stmt.FindNodes) error {
	if !isValidIdentifier(f.Label) {
		return fmt.Errorf("invalid node label: %s (must be alphanumeric + underscore)", f.Label)
	}
	keys := make([]string, 0, len(f.Filter))
	for k := range f.Filter {
		if !isValidIdentifier(k) {
			return fmt.Errorf("invalid property key: %s (must be alphanumeric + underscore)", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.line("MATCH (n:%s)", f.Label)
	if len(keys) > 0 {
		conds := make([]string, 0, len(keys))
		for _, k := range keys {
			conds = append(conds, fmt.Sprintf("n.%s = %s", k, b.AddParam(f.Filter[k])))
		}
		b.line("WHERE %s", strings.Join(conds, " AND "))
	}
	b.line("RETURN id(n) AS %s, properties(n) AS %s ORDER BY %s", stmt.ColID, stmt.ColProps, stmt.ColID)
	return nil
}

func entityVar(id ids.ID) string { return "e_" + id.Token() }

func dataVar(id ids.ID) string { return "d_" + id.Token() }

func commandVar(c stmt.CommandRecord) string { return fmt.Sprintf("c%d", c.Seq) }

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// isValidIdentifier validates that a string can be safely used as a Cypher identifier
// Only allows alphanumeric characters and underscores (prevents injection)
func isValidIdentifier(s string) bool {
	return s != "" && identifierPattern.MatchString(s)
}
