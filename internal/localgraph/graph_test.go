package localgraph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/revgraph/internal/batch"
	"github.com/rohankatakam/revgraph/internal/compiler"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/ids"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

func bootstrap(t *testing.T, g *Graph) (rev, root int64) {
	t.Helper()
	res, err := g.Execute(context.Background(), []stmt.Statement{
		stmt.Single("bootstrap", stmt.Bootstrap{Root: map[string]any{"is_root": true, "type": "root"}}, true),
	})
	require.NoError(t, err)
	row := res[0].First()
	return row[stmt.ColRevision].(int64), row[stmt.ColRoot].(int64)
}

func commit(t *testing.T, g *Graph, b *batch.Batch, parent int64) (int64, ids.Mapping) {
	t.Helper()
	primary, advance, err := compiler.Compile(b, parent)
	require.NoError(t, err)
	res, err := g.Execute(context.Background(), []stmt.Statement{primary, advance})
	require.NoError(t, err)
	m, err := b.Resolver().Resolve(res[0].First())
	require.NoError(t, err)
	return res[1].First()[stmt.ColRevision].(int64), m
}

func head(t *testing.T, g *Graph) []map[string]any {
	t.Helper()
	res, err := g.Query(context.Background(), stmt.Single("head", stmt.HeadRevision{}, false))
	require.NoError(t, err)
	return res.Rows
}

func TestCommitCreatesAndAdvances(t *testing.T) {
	g := OpenMemory()
	rev0, root := bootstrap(t, g)

	b := batch.New()
	a, err := b.Create("folder", ids.Permanent(root), batch.Document{"name": "A"})
	require.NoError(t, err)
	_, err = b.Create("file", a, batch.Document{"name": "B"})
	require.NoError(t, err)

	rev1, m := commit(t, g, b, rev0)
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, []map[string]any{{stmt.ColRevision: rev1}}, head(t, g))

	chain, err := g.Query(context.Background(), stmt.Single("chain", stmt.RevisionChain{}, false))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{stmt.ColRevision: rev0, stmt.ColPredecessor: nil},
		{stmt.ColRevision: rev1, stmt.ColPredecessor: rev0},
	}, chain.Rows)

	cmds, err := g.Query(context.Background(), stmt.Single("cmds", stmt.CommandsAt{Revision: rev0}, false))
	require.NoError(t, err)
	require.Len(t, cmds.Rows, 2)
	pa, _ := m.Lookup(a)
	assert.Equal(t, int64(1), cmds.Rows[0][stmt.ColSeq])
	assert.Equal(t, pa.StoreID(), cmds.Rows[0][stmt.ColEntity])
	assert.Equal(t, `{"name":"B"}`, cmds.Rows[1][stmt.ColPayload])
}

func TestStaleParentRollsBack(t *testing.T) {
	g := OpenMemory()
	rev0, root := bootstrap(t, g)

	b := batch.New()
	_, err := b.Create("file", ids.Permanent(root), nil)
	require.NoError(t, err)
	rev1, _ := commit(t, g, b, rev0)

	before := len(g.state.Nodes)
	stale := batch.New()
	_, err = stale.Create("file", ids.Permanent(root), nil)
	require.NoError(t, err)
	primary, advance, err := compiler.Compile(stale, rev0)
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), []stmt.Statement{primary, advance})
	var empty *graph.EmptyResultError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, 1, empty.Index)
	assert.Equal(t, before, len(g.state.Nodes))
	assert.Equal(t, []map[string]any{{stmt.ColRevision: rev1}}, head(t, g))
}

func TestMissingLookupYieldsNoRow(t *testing.T) {
	g := OpenMemory()
	rev0, _ := bootstrap(t, g)

	b := batch.New()
	require.NoError(t, b.Delete(ids.Permanent(999)))
	primary, advance, err := compiler.Compile(b, rev0)
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), []stmt.Statement{primary, advance})
	var empty *graph.EmptyResultError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, 0, empty.Index)
}

func TestRecursiveDeleteAndModify(t *testing.T) {
	g := OpenMemory()
	rev, root := bootstrap(t, g)

	b := batch.New()
	dir, _ := b.Create("folder", ids.Permanent(root), batch.Document{"name": "dir"})
	sub, _ := b.Create("folder", dir, batch.Document{"name": "sub"})
	leaf, _ := b.Create("file", sub, batch.Document{"name": "leaf", "size": 3})
	other, _ := b.Create("folder", ids.Permanent(root), batch.Document{"name": "other"})
	rev, m := commit(t, g, b, rev)

	perm := func(id ids.ID) ids.ID { p, _ := m.Lookup(id); return p }

	// Move leaf out, rename it, then delete dir with sub inside.
	b = batch.New()
	require.NoError(t, b.Modify(perm(leaf), batch.Set("name", "moved"), batch.Unset("size"), batch.Move(perm(other))))
	require.NoError(t, b.Delete(perm(dir)))
	rev, _ = commit(t, g, b, rev)

	nodes, err := g.FindNodes(context.Background(), stmt.LabelData, map[string]any{"name": "moved"})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.NotContains(t, nodes[0].Properties, "size")

	gone, err := g.FindNodes(context.Background(), stmt.LabelData, map[string]any{"name": "sub"})
	require.NoError(t, err)
	assert.Empty(t, gone)

	entities, err := g.FindNodes(context.Background(), stmt.LabelEntity, map[string]any{"type": "folder"})
	require.NoError(t, err)
	assert.Len(t, entities, 3, "entities outlive their data")

	// sub was removed with dir, so it can no longer be looked up
	b = batch.New()
	require.NoError(t, b.Modify(perm(sub), batch.Set("name", "x")))
	primary, advance, err := compiler.Compile(b, rev)
	require.NoError(t, err)
	_, err = g.Execute(context.Background(), []stmt.Statement{primary, advance})
	var empty *graph.EmptyResultError
	assert.True(t, errors.As(err, &empty))
}

func TestWriteToDeletedNodeFails(t *testing.T) {
	g := OpenMemory()
	rev, root := bootstrap(t, g)

	b := batch.New()
	dir, _ := b.Create("folder", ids.Permanent(root), nil)
	file, _ := b.Create("file", dir, nil)
	rev, m := commit(t, g, b, rev)
	pd, _ := m.Lookup(dir)
	pf, _ := m.Lookup(file)

	b = batch.New()
	require.NoError(t, b.Delete(pd))
	require.NoError(t, b.Modify(pf, batch.Set("a", 1)))
	primary, advance, err := compiler.Compile(b, rev)
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), []stmt.Statement{primary, advance})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleted in this transaction")
	assert.Equal(t, []map[string]any{{stmt.ColRevision: rev}}, head(t, g))
}

func TestDeleteInsideDeletedFolderFails(t *testing.T) {
	g := OpenMemory()
	rev, root := bootstrap(t, g)

	b := batch.New()
	dir, _ := b.Create("folder", ids.Permanent(root), batch.Document{"name": "dir"})
	file, _ := b.Create("file", dir, batch.Document{"name": "inner"})
	rev, m := commit(t, g, b, rev)
	pd, _ := m.Lookup(dir)
	pf, _ := m.Lookup(file)

	b = batch.New()
	require.NoError(t, b.Delete(pd))
	require.NoError(t, b.Delete(pf))
	primary, advance, err := compiler.Compile(b, rev)
	require.NoError(t, err)

	_, err = g.Execute(context.Background(), []stmt.Statement{primary, advance})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deleted in this transaction")
	assert.Equal(t, []map[string]any{{stmt.ColRevision: rev}}, head(t, g))

	kept, err := g.FindNodes(context.Background(), stmt.LabelData, map[string]any{"name": "inner"})
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")

	g, err := Open(path)
	require.NoError(t, err)
	rev0, root := bootstrap(t, g)
	b := batch.New()
	_, err = b.Create("file", ids.Permanent(root), batch.Document{"name": "x", "ratio": 0.5})
	require.NoError(t, err)
	rev, _ := commit(t, g, b, rev0)
	require.NoError(t, g.Close(context.Background()))

	g, err = Open(path)
	require.NoError(t, err)
	defer g.Close(context.Background())

	assert.Equal(t, []map[string]any{{stmt.ColRevision: rev}}, head(t, g))
	roots, err := g.FindNodes(context.Background(), stmt.LabelEntity, map[string]any{"is_root": true})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, root, roots[0].ID)

	data, err := g.FindNodes(context.Background(), stmt.LabelData, map[string]any{"name": "x"})
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, 0.5, data[0].Properties["ratio"])

	chain, err := g.Query(context.Background(), stmt.Single("cmds", stmt.CommandsAt{Revision: rev0}, false))
	require.NoError(t, err)
	require.Len(t, chain.Rows, 1)
	assert.Equal(t, int64(1), chain.Rows[0][stmt.ColSeq])
}

func TestPersistenceKeepsNumberTypes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "graph.db")

	g, err := Open(path)
	require.NoError(t, err)
	rev0, root := bootstrap(t, g)
	b := batch.New()
	_, err = b.Create("file", ids.Permanent(root), batch.Document{"name": "x", "ratio": float64(2), "count": 2})
	require.NoError(t, err)
	commit(t, g, b, rev0)

	before, err := g.FindNodes(ctx, stmt.LabelData, map[string]any{"ratio": 2.0})
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.NoError(t, g.Close(ctx))

	g, err = Open(path)
	require.NoError(t, err)
	defer g.Close(ctx)

	after, err := g.FindNodes(ctx, stmt.LabelData, map[string]any{"ratio": 2.0})
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.IsType(t, float64(0), after[0].Properties["ratio"])
	assert.Equal(t, int64(2), after[0].Properties["count"])

	byCount, err := g.FindNodes(ctx, stmt.LabelData, map[string]any{"count": 2})
	require.NoError(t, err)
	assert.Len(t, byCount, 1)
}

func TestClear(t *testing.T) {
	g := OpenMemory()
	bootstrap(t, g)
	require.NoError(t, g.Clear(context.Background()))
	assert.Empty(t, head(t, g))
	assert.Empty(t, g.state.Nodes)
}

func TestCanceledContext(t *testing.T) {
	g := OpenMemory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Execute(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
