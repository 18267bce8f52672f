// Package plan reads declarative batches from YAML files. A plan lists
// create, delete and modify operations; entities created earlier in the plan
// are referenced by alias.
//
//	parent: head
//	ops:
//	  - create: {as: docs, kind: folder, parent: root, data: {name: docs}}
//	  - create: {as: readme, kind: file, parent: docs, data: {name: README.md}}
//	  - modify: {target: "42", set: {name: renamed}, move: docs}
//	  - delete: {target: "17"}
package plan

import (
	"bytes"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/revgraph/internal/batch"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/ids"
)

// RootRef names the tree root in references.
const RootRef = "root"

// HeadRef as a plan parent commits on top of the current HEAD.
const HeadRef = "head"

var aliasPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_.-]*$`)

type Plan struct {
	Parent string `yaml:"parent,omitempty"`
	Ops    []Op   `yaml:"ops"`
}

// Op holds exactly one of its fields.
type Op struct {
	Create *CreateOp `yaml:"create,omitempty"`
	Delete *DeleteOp `yaml:"delete,omitempty"`
	Modify *ModifyOp `yaml:"modify,omitempty"`
}

type CreateOp struct {
	As     string         `yaml:"as,omitempty"`
	Kind   string         `yaml:"kind"`
	Parent string         `yaml:"parent,omitempty"`
	Data   map[string]any `yaml:"data,omitempty"`
}

type DeleteOp struct {
	Target string `yaml:"target"`
}

type ModifyOp struct {
	Target string         `yaml:"target"`
	Set    map[string]any `yaml:"set,omitempty"`
	Unset  []string       `yaml:"unset,omitempty"`
	Move   string         `yaml:"move,omitempty"`
}

// Builder receives the operations of a plan. *history.Repository satisfies it.
type Builder interface {
	RootEntity() ids.ID
	CreateEntity(kind string, parent ids.ID, payload batch.Document) (ids.ID, error)
	DeleteEntity(id ids.ID) error
	ModifyEntity(id ids.ID, ops ...batch.Op) error
}

// Load reads a plan file.
func Load(path string) (*Plan, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.FileSystemError(err, "read plan").WithContext("path", path)
	}
	p, err := Parse(raw)
	if err != nil {
		return nil, nil, err
	}
	return p, raw, nil
}

// Parse decodes and checks a plan. Unknown keys are rejected.
func Parse(raw []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, errors.ValidationErrorf("parse plan: %v", err)
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Plan) check() error {
	if len(p.Ops) == 0 {
		return errors.ValidationErrorf("plan has no ops")
	}
	seen := map[string]int{}
	for i, op := range p.Ops {
		n := 0
		for _, set := range []bool{op.Create != nil, op.Delete != nil, op.Modify != nil} {
			if set {
				n++
			}
		}
		if n != 1 {
			return errors.ValidationErrorf("op %d: exactly one of create, delete or modify is required", i+1)
		}
		if op.Create == nil || op.Create.As == "" {
			continue
		}
		as := op.Create.As
		if !aliasPattern.MatchString(as) || strings.EqualFold(as, RootRef) {
			return errors.ValidationErrorf("op %d: invalid alias %q", i+1, as)
		}
		if prev, dup := seen[as]; dup {
			return errors.ValidationErrorf("op %d: alias %q already defined by op %d", i+1, as, prev)
		}
		seen[as] = i + 1
	}
	return nil
}

// ResolveParent returns the revision the plan commits on.
func (p *Plan) ResolveParent(head int64) (int64, error) {
	switch s := strings.TrimSpace(p.Parent); strings.ToLower(s) {
	case "", HeadRef:
		return head, nil
	default:
		rev, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, errors.ValidationErrorf("invalid parent revision %q", p.Parent)
		}
		return rev, nil
	}
}

// Build feeds every op to b in order and returns the provisional id of each
// alias. The first failing op aborts the build; b keeps the ops already
// added, so callers discard the batch on error.
func (p *Plan) Build(b Builder) (map[string]ids.ID, error) {
	aliases := make(map[string]ids.ID)
	ref := func(s string) (ids.ID, error) {
		return resolveRef(s, aliases, b.RootEntity())
	}

	for i, op := range p.Ops {
		var err error
		switch {
		case op.Create != nil:
			var parent, created ids.ID
			if op.Create.Parent != "" {
				if parent, err = ref(op.Create.Parent); err != nil {
					break
				}
			}
			created, err = b.CreateEntity(op.Create.Kind, parent, batch.Document(op.Create.Data))
			if err == nil && op.Create.As != "" {
				aliases[op.Create.As] = created
			}
		case op.Delete != nil:
			var target ids.ID
			if target, err = ref(op.Delete.Target); err == nil {
				err = b.DeleteEntity(target)
			}
		case op.Modify != nil:
			err = applyModify(b, op.Modify, ref)
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.GetType(err), errors.SeverityMedium, "plan op failed").WithContext("op", i+1)
		}
	}
	return aliases, nil
}

func applyModify(b Builder, m *ModifyOp, ref func(string) (ids.ID, error)) error {
	target, err := ref(m.Target)
	if err != nil {
		return err
	}

	fields := make([]string, 0, len(m.Set))
	for f := range m.Set {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	ops := make([]batch.Op, 0, len(fields)+len(m.Unset)+1)
	for _, f := range fields {
		ops = append(ops, batch.Set(f, m.Set[f]))
	}
	for _, f := range m.Unset {
		ops = append(ops, batch.Unset(f))
	}
	if m.Move != "" {
		dest, err := ref(m.Move)
		if err != nil {
			return err
		}
		ops = append(ops, batch.Move(dest))
	}
	return b.ModifyEntity(target, ops...)
}

// resolveRef maps a plan reference to an id: "root", an alias defined by an
// earlier create, or a permanent id.
func resolveRef(s string, aliases map[string]ids.ID, root ids.ID) (ids.ID, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, RootRef) {
		return root, nil
	}
	if id, ok := aliases[s]; ok {
		return id, nil
	}
	if aliasPattern.MatchString(s) {
		return ids.ID{}, errors.UnknownReference(s).WithContext("reason", "alias not defined earlier in the plan")
	}
	id, err := ids.Parse(s)
	if err != nil {
		return ids.ID{}, errors.ValidationErrorf("%v", err)
	}
	return id, nil
}

// Resolved pairs each alias with the permanent id its entity received.
func Resolved(aliases map[string]ids.ID, m ids.Mapping) map[string]int64 {
	out := make(map[string]int64, len(aliases))
	for alias, prov := range aliases {
		if perm, ok := m.Lookup(prov); ok {
			out[alias] = perm.StoreID()
		}
	}
	return out
}
