package localgraph

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/rohankatakam/revgraph/internal/ids"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

// run interprets one statement against s. Write statements carry a single
// row of bound variables; a failed match clears the row and the remaining
// fragments are skipped, as a Cypher MATCH with no result would.
type run struct {
	s     *state
	vars  map[string]int64
	alive bool
	res   stmt.Result
}

func execute(s *state, st stmt.Statement) (stmt.Result, error) {
	r := &run{s: s, vars: make(map[string]int64), alive: true}
	for i, f := range st.Fragments {
		if err := r.apply(f); err != nil {
			return stmt.Result{}, fmt.Errorf("fragment %d: %w", i, err)
		}
	}
	if r.res.Rows == nil {
		r.res.Rows = []map[string]any{}
	}
	return r.res, nil
}

func (r *run) apply(f stmt.Fragment) error {
	switch frag := f.(type) {
	case stmt.MatchRevision:
		if !r.alive {
			return nil
		}
		if n, ok := r.s.Nodes[frag.ID]; ok && n.has(stmt.LabelRevision) {
			r.vars["revision"] = frag.ID
			return nil
		}
		r.alive = false
	case stmt.LookupEntity:
		if !r.alive {
			return nil
		}
		id := ids.Permanent(frag.ID)
		e, ok := r.s.Nodes[frag.ID]
		if !ok || !e.has(stmt.LabelEntity) {
			r.alive = false
			return nil
		}
		for _, inst := range r.s.incoming(frag.ID, stmt.RelInstanceOf) {
			if d, ok := r.s.Nodes[inst.From]; ok && d.has(stmt.LabelData) {
				r.vars[entityVar(id)] = frag.ID
				r.vars[dataVar(id)] = d.ID
				return nil
			}
		}
		r.alive = false
	case stmt.CreateEntity:
		if !r.alive {
			return nil
		}
		return r.create(frag)
	case stmt.DeleteEntity:
		if !r.alive {
			return nil
		}
		return r.delete(frag)
	case stmt.ModifyEntity:
		if !r.alive {
			return nil
		}
		return r.modify(frag)
	case stmt.ReturnCreated:
		r.res.Columns = []string{stmt.ColRevision}
		for _, id := range frag.Created {
			r.res.Columns = append(r.res.Columns, id.Token())
		}
		if !r.alive {
			return nil
		}
		row := map[string]any{stmt.ColRevision: r.vars["revision"]}
		for _, id := range frag.Created {
			e, ok := r.vars[entityVar(id)]
			if !ok {
				return fmt.Errorf("variable %s not defined", entityVar(id))
			}
			row[id.Token()] = e
		}
		r.res.Rows = append(r.res.Rows, row)
	case stmt.AdvanceHead:
		r.res.Columns = []string{stmt.ColRevision}
		old, ok := r.s.Nodes[frag.Parent]
		if !ok || !old.has(stmt.LabelRevision) {
			return nil
		}
		for _, at := range r.s.outgoing(old.ID, stmt.RelAt) {
			head, ok := r.s.Nodes[at.To]
			if !ok || !head.has(stmt.LabelHead) {
				continue
			}
			rev := r.s.addNode(nil, stmt.LabelRevision)
			r.s.addRel(stmt.RelAt, rev, head.ID)
			r.s.addRel(stmt.RelNext, old.ID, rev)
			delete(r.s.Rels, at.ID)
			r.res.Rows = append(r.res.Rows, map[string]any{stmt.ColRevision: rev})
			return nil
		}
	case stmt.Bootstrap:
		head := r.s.addNode(nil, stmt.LabelHead)
		rev := r.s.addNode(nil, stmt.LabelRevision)
		r.s.addRel(stmt.RelAt, rev, head)
		root := r.s.addNode(frag.Root, stmt.LabelEntity)
		data := r.s.addNode(frag.RootData, stmt.LabelData)
		r.s.addRel(stmt.RelInstanceOf, data, root)
		r.res.Columns = []string{stmt.ColRevision, stmt.ColRoot}
		r.res.Rows = append(r.res.Rows, map[string]any{stmt.ColRevision: rev, stmt.ColRoot: root})
	case stmt.FindNodes:
		r.res.Columns = []string{stmt.ColID, stmt.ColProps}
		for _, n := range r.s.nodesWith(frag.Label) {
			if matches(n.Props, frag.Filter) {
				r.res.Rows = append(r.res.Rows, map[string]any{stmt.ColID: n.ID, stmt.ColProps: copyProps(n.Props)})
			}
		}
	case stmt.HeadRevision:
		r.res.Columns = []string{stmt.ColRevision}
		for _, n := range r.s.nodesWith(stmt.LabelRevision) {
			for _, at := range r.s.outgoing(n.ID, stmt.RelAt) {
				if h, ok := r.s.Nodes[at.To]; ok && h.has(stmt.LabelHead) {
					r.res.Rows = append(r.res.Rows, map[string]any{stmt.ColRevision: n.ID})
				}
			}
		}
	case stmt.RevisionChain:
		r.res.Columns = []string{stmt.ColRevision, stmt.ColPredecessor}
		for _, n := range r.s.nodesWith(stmt.LabelRevision) {
			prevs := r.s.incoming(n.ID, stmt.RelNext)
			if len(prevs) == 0 {
				r.res.Rows = append(r.res.Rows, map[string]any{stmt.ColRevision: n.ID, stmt.ColPredecessor: nil})
				continue
			}
			for _, p := range prevs {
				r.res.Rows = append(r.res.Rows, map[string]any{stmt.ColRevision: n.ID, stmt.ColPredecessor: p.From})
			}
		}
	case stmt.CommandsAt:
		r.res.Columns = []string{stmt.ColSeq, stmt.ColType, stmt.ColKind, stmt.ColPayload, stmt.ColEntity}
		for _, occ := range r.s.incoming(frag.Revision, stmt.RelOccurred) {
			c, ok := r.s.Nodes[occ.From]
			if !ok || !c.has(stmt.LabelCommand) {
				continue
			}
			for _, app := range r.s.outgoing(c.ID, stmt.RelAppliedTo) {
				r.res.Rows = append(r.res.Rows, map[string]any{
					stmt.ColSeq:     c.Props["seq"],
					stmt.ColType:    c.Props["type"],
					stmt.ColKind:    c.Props["kind"],
					stmt.ColPayload: c.Props["payload"],
					stmt.ColEntity:  app.To,
				})
			}
		}
		sort.SliceStable(r.res.Rows, func(i, j int) bool {
			a, _ := r.res.Rows[i][stmt.ColSeq].(int64)
			b, _ := r.res.Rows[j][stmt.ColSeq].(int64)
			return a < b
		})
	case stmt.ClearAll:
		next := r.s.NextID
		*r.s = *newState()
		r.s.NextID = next
	default:
		return fmt.Errorf("unsupported fragment %T", f)
	}
	return nil
}

func (r *run) create(c stmt.CreateEntity) error {
	var parentData int64
	if !c.Parent.IsZero() {
		var err error
		if parentData, err = r.live(dataVar(c.Parent)); err != nil {
			return err
		}
	}
	cmd := r.command(c.Command)
	entity := r.s.addNode(c.Entity, stmt.LabelEntity)
	data := r.s.addNode(c.Properties, stmt.LabelData)
	r.s.addRel(stmt.RelOccurred, cmd, r.vars["revision"])
	r.s.addRel(stmt.RelAppliedTo, cmd, entity)
	r.s.addRel(stmt.RelInstanceOf, data, entity)
	if !c.Parent.IsZero() {
		r.s.addRel(stmt.RelContained, parentData, data)
	}
	r.vars[entityVar(c.Target)] = entity
	r.vars[dataVar(c.Target)] = data
	return nil
}

func (r *run) delete(c stmt.DeleteEntity) error {
	entity, err := r.live(entityVar(c.Target))
	if err != nil {
		return err
	}
	data, err := r.live(dataVar(c.Target))
	if err != nil {
		return err
	}
	cmd := r.command(c.Command)
	r.s.addRel(stmt.RelOccurred, cmd, r.vars["revision"])
	r.s.addRel(stmt.RelAppliedTo, cmd, entity)

	for _, sub := range r.descendants(data) {
		r.s.detachDelete(sub)
	}
	r.s.detachDelete(data)
	return nil
}

func (r *run) modify(c stmt.ModifyEntity) error {
	entity, err := r.live(entityVar(c.Target))
	if err != nil {
		return err
	}
	data, err := r.live(dataVar(c.Target))
	if err != nil {
		return err
	}
	var parent int64
	if !c.Move.IsZero() {
		if parent, err = r.live(dataVar(c.Move)); err != nil {
			return err
		}
	}

	cmd := r.command(c.Command)
	r.s.addRel(stmt.RelOccurred, cmd, r.vars["revision"])
	r.s.addRel(stmt.RelAppliedTo, cmd, entity)

	props := r.s.Nodes[data].Props
	for k, v := range c.Set {
		props[k] = v
	}
	for _, k := range c.Unset {
		delete(props, k)
	}
	if !c.Move.IsZero() {
		for _, old := range r.s.incoming(data, stmt.RelContained) {
			delete(r.s.Rels, old.ID)
		}
		r.s.addRel(stmt.RelContained, parent, data)
	}
	return nil
}

func (r *run) command(rec stmt.CommandRecord) int64 {
	return r.s.addNode(rec.Properties(), stmt.LabelCommand)
}

// live resolves a bound variable and fails when its node was deleted earlier
// in the transaction.
func (r *run) live(name string) (int64, error) {
	id, ok := r.vars[name]
	if !ok {
		return 0, fmt.Errorf("variable %s not defined", name)
	}
	if _, alive := r.s.Nodes[id]; !alive {
		return 0, fmt.Errorf("node %d (%s) has been deleted in this transaction", id, name)
	}
	return id, nil
}

func (r *run) descendants(root int64) []int64 {
	var out []int64
	queue := []int64{root}
	seen := map[int64]bool{root: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range r.s.outgoing(cur, stmt.RelContained) {
			if seen[c.To] {
				continue
			}
			seen[c.To] = true
			out = append(out, c.To)
			queue = append(queue, c.To)
		}
	}
	return out
}

func matches(props, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := props[k]
		if !ok || !reflect.DeepEqual(normalizeInt(got), normalizeInt(want)) {
			return false
		}
	}
	return true
}

func normalizeInt(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}

func copyProps(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func entityVar(id ids.ID) string { return "e_" + id.Token() }

func dataVar(id ids.ID) string { return "d_" + id.Token() }
