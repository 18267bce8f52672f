package history

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/revgraph/internal/batch"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/ids"
	"github.com/rohankatakam/revgraph/internal/localgraph"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

func openRepo(t *testing.T) (*Repository, graph.Store) {
	t.Helper()
	store := localgraph.OpenMemory()
	repo, err := Open(context.Background(), store)
	require.NoError(t, err)
	return repo, store
}

func TestCommitMapsEveryCreate(t *testing.T) {
	for _, n := range []int{1, 2, 5, 20} {
		t.Run(fmt.Sprintf("%d creates", n), func(t *testing.T) {
			repo, _ := openRepo(t)

			issued := make([]ids.ID, 0, n)
			for i := 0; i < n; i++ {
				id, err := repo.CreateEntity("file", repo.RootEntity(), batch.Document{"name": fmt.Sprintf("f%d", i)})
				require.NoError(t, err)
				issued = append(issued, id)
			}

			_, mapping, err := repo.Commit(context.Background(), repo.Head())
			require.NoError(t, err)
			require.Equal(t, n, mapping.Len())

			seen := map[ids.ID]bool{}
			for i, a := range mapping.Assignments() {
				assert.Equal(t, issued[i], a.Provisional)
				assert.True(t, a.Permanent.IsPermanent())
				assert.False(t, seen[a.Permanent], "permanent ids must be distinct")
				seen[a.Permanent] = true
			}
		})
	}
}

func TestSequentialCommitsFormChain(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()
	boot := repo.Head()

	_, err := repo.CreateEntity("file", repo.RootEntity(), batch.Document{"name": "one"})
	require.NoError(t, err)
	first, _, err := repo.Commit(ctx, boot)
	require.NoError(t, err)

	_, err = repo.CreateEntity("file", repo.RootEntity(), batch.Document{"name": "two"})
	require.NoError(t, err)
	second, _, err := repo.Commit(ctx, first)
	require.NoError(t, err)

	chain, err := repo.Revisions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Revision{
		{ID: boot},
		{ID: first, Predecessor: boot, HasPredecessor: true},
		{ID: second, Predecessor: first, HasPredecessor: true, IsHead: true},
	}, chain)

	require.NoError(t, repo.Refresh(ctx))
	assert.Equal(t, second, repo.Head())
}

func TestBatchResetAfterCommit(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()

	_, err := repo.CreateEntity("file", repo.RootEntity(), nil)
	require.NoError(t, err)
	rev, _, err := repo.Commit(ctx, repo.Head())
	require.NoError(t, err)
	assert.Empty(t, repo.Pending())

	_, _, err = repo.Commit(ctx, rev)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrEmptyBatch))

	// Provisional numbering starts over in the next batch
	id, err := repo.CreateEntity("file", repo.RootEntity(), nil)
	require.NoError(t, err)
	assert.Equal(t, ids.Provisional(1), id)

	// and the previous batch's ids are no longer valid
	require.NoError(t, repo.DeleteEntity(id))
	err = repo.DeleteEntity(ids.Provisional(2))
	assert.True(t, stderrors.Is(err, errors.ErrUnknownReference))
}

func TestUnknownReferenceKeepsCommandCount(t *testing.T) {
	repo, _ := openRepo(t)

	_, err := repo.CreateEntity("folder", repo.RootEntity(), nil)
	require.NoError(t, err)

	_, err = repo.CreateEntity("file", ids.Provisional(2), nil)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnknownReference))
	assert.Len(t, repo.Pending(), 1)

	err = repo.ModifyEntity(ids.Provisional(7), batch.Set("name", "x"))
	assert.True(t, stderrors.Is(err, errors.ErrUnknownReference))
	assert.Len(t, repo.Pending(), 1)
}

func TestRootCannotBeDeletedOrMoved(t *testing.T) {
	repo, _ := openRepo(t)

	dir, err := repo.CreateEntity("folder", repo.RootEntity(), nil)
	require.NoError(t, err)

	err = repo.DeleteEntity(repo.RootEntity())
	assert.True(t, stderrors.Is(err, errors.ErrValidation))

	err = repo.ModifyEntity(repo.RootEntity(), batch.Set("name", "top"), batch.Move(dir))
	assert.True(t, stderrors.Is(err, errors.ErrValidation))
	assert.Len(t, repo.Pending(), 1)

	require.NoError(t, repo.ModifyEntity(repo.RootEntity(), batch.Set("name", "top")))
	assert.Len(t, repo.Pending(), 2)
}

func TestDeleteBelowDeletedFolderRejected(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()

	dir, err := repo.CreateEntity("folder", repo.RootEntity(), nil)
	require.NoError(t, err)
	file, err := repo.CreateEntity("file", dir, nil)
	require.NoError(t, err)
	rev, m, err := repo.Commit(ctx, repo.Head())
	require.NoError(t, err)
	pd, _ := m.Lookup(dir)
	pf, _ := m.Lookup(file)

	require.NoError(t, repo.DeleteEntity(pd))
	require.NoError(t, repo.DeleteEntity(pf))
	_, _, err = repo.Commit(ctx, rev)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTransactionRejected))
	assert.Equal(t, rev, repo.Head())
}

func TestBootstrapAndParentReference(t *testing.T) {
	store := localgraph.OpenMemory()
	ctx := context.Background()
	repo, err := Open(ctx, store)
	require.NoError(t, err)
	boot := repo.Head()

	a, err := repo.CreateEntity("folder", ids.ID{}, batch.Document{"name": "A"})
	require.NoError(t, err)
	b, err := repo.CreateEntity("file", a, batch.Document{"name": "B"})
	require.NoError(t, err)

	rev, mapping, err := repo.Commit(ctx, boot)
	require.NoError(t, err)
	assert.Equal(t, 2, mapping.Len())

	chain, err := repo.Revisions(ctx)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, boot, chain[1].Predecessor)
	assert.Equal(t, rev, chain[1].ID)
	assert.True(t, chain[1].IsHead)

	head, err := store.Query(ctx, stmt.Single("head", stmt.HeadRevision{}, false))
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{stmt.ColRevision: rev}}, head.Rows)

	// Commands hang off the revision they were built on
	pb, _ := mapping.Lookup(b)
	cmds, err := repo.Commands(ctx, boot)
	require.NoError(t, err)
	require.Len(t, cmds, 2)
	assert.Equal(t, pb.StoreID(), cmds[1].Entity)

	// Reopening attaches to the same chain instead of bootstrapping again
	again, err := Open(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, rev, again.Head())
	assert.Equal(t, repo.RootEntity(), again.RootEntity())
}

func TestDeleteByPermanentID(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()

	x, err := repo.CreateEntity("file", repo.RootEntity(), batch.Document{"name": "X"})
	require.NoError(t, err)
	rev, mapping, err := repo.Commit(ctx, repo.Head())
	require.NoError(t, err)
	px, ok := mapping.Lookup(x)
	require.True(t, ok)

	require.NoError(t, repo.DeleteEntity(px))
	pending := repo.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, px, pending[0].Target)

	_, delMapping, err := repo.Commit(ctx, rev)
	require.NoError(t, err)
	assert.Equal(t, 0, delMapping.Len())

	cmds, err := repo.Commands(ctx, rev)
	require.NoError(t, err)
	require.Len(t, cmds, 1)
	assert.Equal(t, stmt.CommandDelete, cmds[0].Type)
	assert.Equal(t, px.StoreID(), cmds[0].Entity)
}

func TestPayloadRoundTrip(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()
	parent := repo.Head()

	docs := []batch.Document{
		{"name": "readme.md", "content": []byte("# hello\n\x00\xff")},
		{"name": "empty"},
		{"name": "unicode ✓", "size": 12, "ratio": 0.25, "exec": true},
	}
	for _, d := range docs {
		_, err := repo.CreateEntity("file", repo.RootEntity(), d)
		require.NoError(t, err)
	}
	_, _, err := repo.Commit(ctx, parent)
	require.NoError(t, err)

	cmds, err := repo.Commands(ctx, parent)
	require.NoError(t, err)
	require.Len(t, cmds, len(docs))
	for i, d := range docs {
		want, err := d.Canonical()
		require.NoError(t, err)
		assert.Equal(t, want, cmds[i].Payload)
		assert.Equal(t, "file", cmds[i].Kind)
		assert.Equal(t, i+1, cmds[i].Seq)
	}

	decoded, err := cmds[0].Document()
	require.NoError(t, err)
	content, err := decoded.Bytes("content")
	require.NoError(t, err)
	assert.Equal(t, []byte("# hello\n\x00\xff"), content)
}

func TestStaleParent(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()
	boot := repo.Head()

	_, err := repo.CreateEntity("file", repo.RootEntity(), nil)
	require.NoError(t, err)
	_, _, err = repo.Commit(ctx, boot)
	require.NoError(t, err)

	_, err = repo.CreateEntity("file", repo.RootEntity(), nil)
	require.NoError(t, err)
	_, _, err = repo.Commit(ctx, boot)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrStaleParent))
	assert.True(t, errors.IsFatal(err))
	assert.Len(t, repo.Pending(), 1, "batch is kept after a failed commit")

	// A parent that is not a revision at all is stale too
	_, _, err = repo.Commit(ctx, 12345)
	assert.True(t, stderrors.Is(err, errors.ErrStaleParent))
}

func TestRejectedCommitKeepsBatch(t *testing.T) {
	repo, _ := openRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.DeleteEntity(ids.Permanent(9999)))
	_, _, err := repo.Commit(ctx, repo.Head())
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTransactionRejected))
	assert.Len(t, repo.Pending(), 1)

	repo.Discard()
	assert.Empty(t, repo.Pending())
}

type failingStore struct {
	graph.Store
	err error
}

func (f *failingStore) Execute(ctx context.Context, s []stmt.Statement) ([]stmt.Result, error) {
	if s[0].Name == graph.OpBootstrap {
		return f.Store.Execute(ctx, s)
	}
	return nil, f.err
}

func TestStoreFailureIsPropagated(t *testing.T) {
	cause := fmt.Errorf("Neo.ClientError.Schema.ConstraintValidationFailed")
	store := &failingStore{Store: localgraph.OpenMemory(), err: cause}
	repo, err := Open(context.Background(), store)
	require.NoError(t, err)

	_, err = repo.CreateEntity("file", repo.RootEntity(), nil)
	require.NoError(t, err)
	_, _, err = repo.Commit(context.Background(), repo.Head())

	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrTransactionRejected))
	assert.ErrorIs(t, err, cause)
	assert.Len(t, repo.Pending(), 1)
}

func TestEmptyBatchDoesNotTouchStore(t *testing.T) {
	store := &failingStore{Store: localgraph.OpenMemory(), err: fmt.Errorf("must not be called")}
	repo, err := Open(context.Background(), store)
	require.NoError(t, err)

	_, _, err = repo.Commit(context.Background(), repo.Head())
	assert.True(t, stderrors.Is(err, errors.ErrEmptyBatch))
}
