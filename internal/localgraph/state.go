package localgraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type node struct {
	ID     int64          `json:"id"`
	Labels []string       `json:"labels"`
	Props  map[string]any `json:"props"`
}

func (n *node) has(label string) bool {
	for _, l := range n.Labels {
		if l == label {
			return true
		}
	}
	return false
}

type rel struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	From int64  `json:"from"`
	To   int64  `json:"to"`
}

// state is the whole property graph. Node and relationship ids share one
// counter and are never reused.
type state struct {
	NextID int64
	Nodes  map[int64]*node
	Rels   map[int64]*rel
}

func newState() *state {
	return &state{Nodes: make(map[int64]*node), Rels: make(map[int64]*rel)}
}

func (s *state) clone() *state {
	c := &state{
		NextID: s.NextID,
		Nodes:  make(map[int64]*node, len(s.Nodes)),
		Rels:   make(map[int64]*rel, len(s.Rels)),
	}
	for id, n := range s.Nodes {
		props := make(map[string]any, len(n.Props))
		for k, v := range n.Props {
			props[k] = v
		}
		c.Nodes[id] = &node{ID: n.ID, Labels: append([]string(nil), n.Labels...), Props: props}
	}
	for id, r := range s.Rels {
		cp := *r
		c.Rels[id] = &cp
	}
	return c
}

func (s *state) addNode(props map[string]any, labels ...string) int64 {
	id := s.NextID
	s.NextID++
	cp := make(map[string]any, len(props))
	for k, v := range props {
		cp[k] = v
	}
	s.Nodes[id] = &node{ID: id, Labels: labels, Props: cp}
	return id
}

func (s *state) addRel(typ string, from, to int64) {
	id := s.NextID
	s.NextID++
	s.Rels[id] = &rel{ID: id, Type: typ, From: from, To: to}
}

// detachDelete removes a node and every relationship touching it.
func (s *state) detachDelete(id int64) {
	for rid, r := range s.Rels {
		if r.From == id || r.To == id {
			delete(s.Rels, rid)
		}
	}
	delete(s.Nodes, id)
}

// outgoing returns relationships of typ leaving from, ordered by id.
func (s *state) outgoing(from int64, typ string) []*rel {
	return s.rels(func(r *rel) bool { return r.From == from && r.Type == typ })
}

// incoming returns relationships of typ arriving at to, ordered by id.
func (s *state) incoming(to int64, typ string) []*rel {
	return s.rels(func(r *rel) bool { return r.To == to && r.Type == typ })
}

func (s *state) rels(keep func(*rel) bool) []*rel {
	var out []*rel
	for _, r := range s.Rels {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) nodesWith(label string) []*node {
	var out []*node
	for _, n := range s.Nodes {
		if n.has(label) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type snapshot struct {
	NextID int64      `json:"next_id"`
	Nodes  []snapNode `json:"nodes"`
	Rels   []*rel     `json:"rels"`
}

// snapNode records which props are floats; JSON alone cannot tell 2.0 from 2.
type snapNode struct {
	*node
	Floats []string `json:"floats,omitempty"`
}

func (s *state) marshal() ([]byte, error) {
	snap := snapshot{NextID: s.NextID}
	for _, n := range s.Nodes {
		sn := snapNode{node: n}
		for k, v := range n.Props {
			switch v.(type) {
			case float64, float32:
				sn.Floats = append(sn.Floats, k)
			}
		}
		sort.Strings(sn.Floats)
		snap.Nodes = append(snap.Nodes, sn)
	}
	for _, r := range s.Rels {
		snap.Rels = append(snap.Rels, r)
	}
	sort.Slice(snap.Nodes, func(i, j int) bool { return snap.Nodes[i].ID < snap.Nodes[j].ID })
	sort.Slice(snap.Rels, func(i, j int) bool { return snap.Rels[i].ID < snap.Rels[j].ID })
	return json.Marshal(snap)
}

func unmarshalState(data []byte) (*state, error) {
	var snap snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode graph snapshot: %w", err)
	}

	s := newState()
	s.NextID = snap.NextID
	for _, sn := range snap.Nodes {
		n := sn.node
		if n == nil {
			continue
		}
		if n.Props == nil {
			n.Props = map[string]any{}
		}
		floats := make(map[string]bool, len(sn.Floats))
		for _, k := range sn.Floats {
			floats[k] = true
		}
		for k, v := range n.Props {
			n.Props[k] = normalize(v, floats[k])
		}
		s.Nodes[n.ID] = n
	}
	for _, r := range snap.Rels {
		s.Rels[r.ID] = r
	}
	return s, nil
}

// normalize maps decoded JSON numbers back to the int64/float64 values the
// store hands out.
func normalize(v any, isFloat bool) any {
	num, ok := v.(json.Number)
	if !ok {
		return v
	}
	if !isFloat {
		if i, err := num.Int64(); err == nil {
			return i
		}
	}
	f, _ := num.Float64()
	return f
}
