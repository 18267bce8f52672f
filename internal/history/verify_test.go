package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/revgraph/internal/batch"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

func checksByName(checks []Check) map[string]Check {
	out := make(map[string]Check, len(checks))
	for _, c := range checks {
		out[c.Name] = c
	}
	return out
}

func TestVerifyConsistentGraph(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()

	a, err := repo.CreateEntity("folder", repo.RootEntity(), batch.Document{"name": "a"})
	require.NoError(t, err)
	_, err = repo.CreateEntity("file", a, batch.Document{"name": "b"})
	require.NoError(t, err)
	_, mapping, err := repo.Commit(ctx, repo.Head())
	require.NoError(t, err)

	pa, ok := mapping.Lookup(a)
	require.True(t, ok)
	require.NoError(t, repo.DeleteEntity(pa))
	_, _, err = repo.Commit(ctx, repo.Head())
	require.NoError(t, err)

	checks, err := repo.Verify(ctx, 2)
	require.NoError(t, err)
	byName := checksByName(checks)
	require.Len(t, byName, 4)
	for _, c := range checks {
		assert.True(t, c.Passed, c.Name)
	}
	assert.Equal(t, 3, byName["revisions"].Actual)
	assert.Equal(t, 3, byName["commands"].Expected)
	assert.Equal(t, Check{Name: "data", Expected: 3, Actual: 1, Passed: true, Detail: "2 deleted"}, byName["data"])
}

// orphanStore reports one extra COMMAND node.
type orphanStore struct {
	graph.Store
}

func (s orphanStore) FindNodes(ctx context.Context, label string, filter map[string]any) ([]graph.Node, error) {
	nodes, err := s.Store.FindNodes(ctx, label, filter)
	if label == stmt.LabelCommand {
		nodes = append(nodes, graph.Node{ID: 99999})
	}
	return nodes, err
}

func TestVerifyReportsOrphanCommands(t *testing.T) {
	repo, store := openRepo(t)
	ctx := context.Background()

	_, err := repo.CreateEntity("file", repo.RootEntity(), nil)
	require.NoError(t, err)
	_, _, err = repo.Commit(ctx, repo.Head())
	require.NoError(t, err)

	repo.store = orphanStore{store}
	checks, err := repo.Verify(ctx, 1)
	require.NoError(t, err)

	cmds := checksByName(checks)["commands"]
	assert.False(t, cmds.Passed)
	assert.Equal(t, 1, cmds.Expected)
	assert.Equal(t, 2, cmds.Actual)
	assert.True(t, checksByName(checks)["head"].Passed)
}
