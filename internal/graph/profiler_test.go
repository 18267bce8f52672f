package graph

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/revgraph/internal/stmt"
)

// stubStore returns canned results.
type stubStore struct {
	rows    int
	execErr error
}

func (s *stubStore) Execute(_ context.Context, statements []stmt.Statement) ([]stmt.Result, error) {
	if s.execErr != nil {
		return nil, s.execErr
	}
	out := make([]stmt.Result, len(statements))
	for i := range out {
		out[i].Rows = make([]map[string]any, s.rows)
	}
	return out, nil
}

func (s *stubStore) Query(context.Context, stmt.Statement) (stmt.Result, error) {
	return stmt.Result{Rows: make([]map[string]any, s.rows)}, nil
}

func (s *stubStore) FindNodes(context.Context, string, map[string]any) ([]Node, error) {
	return nil, nil
}

func (s *stubStore) Clear(context.Context) error { return nil }
func (s *stubStore) Close(context.Context) error { return nil }

// streamStore records whether rows came through Stream.
type streamStore struct {
	stubStore
	streamed bool
}

func (s *streamStore) Stream(_ context.Context, _ stmt.Statement, fn func(row map[string]any) error) error {
	s.streamed = true
	for i := 0; i < s.rows; i++ {
		if err := fn(map[string]any{"n": int64(i)}); err != nil {
			return err
		}
	}
	return nil
}

// ticker advances by step on every call.
func ticker(step time.Duration) func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(step)
		return t
	}
}

func TestProfiledStoreRecordsCalls(t *testing.T) {
	ctx := context.Background()
	inner := &stubStore{rows: 2}
	p := NewProfiledStore(inner)
	p.now = ticker(100 * time.Millisecond)

	commit := []stmt.Statement{{Name: "commit.primary"}, {Name: "commit.advance"}}
	_, err := p.Execute(ctx, commit)
	require.NoError(t, err)
	_, err = p.Query(ctx, stmt.Statement{Name: "inspect.head"})
	require.NoError(t, err)
	_, err = p.Query(ctx, stmt.Statement{Name: "inspect.chain"})
	require.NoError(t, err)

	inner.execErr = stderrors.New("rolled back")
	_, err = p.Execute(ctx, commit)
	require.Error(t, err)

	profiles := p.Profiles()
	require.Len(t, profiles, 4)
	assert.Equal(t, OpCommit, profiles[0].Operation)
	assert.Equal(t, "commit.primary", profiles[0].Statement)
	assert.Equal(t, 4, profiles[0].Rows)
	assert.Equal(t, 2, profiles[0].Statements)
	assert.Equal(t, 100*time.Millisecond, profiles[0].Duration)

	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, ProfileStats{
		Operation:   OpCommit,
		SampleCount: 2,
		Failures:    1,
		AvgDuration: 100 * time.Millisecond,
		MinDuration: 100 * time.Millisecond,
		MaxDuration: 100 * time.Millisecond,
		TotalRows:   4,
	}, stats[0])
	assert.Equal(t, OpInspect, stats[1].Operation)
	assert.Equal(t, 2, stats[1].SampleCount)

	p.Reset()
	assert.Empty(t, p.Profiles())
}

func TestProfiledStoreRegressions(t *testing.T) {
	ctx := context.Background()
	p := NewProfiledStore(&stubStore{})
	p.now = ticker(time.Second)

	_, err := p.Query(ctx, stmt.Statement{Name: "inspect.chain"})
	require.NoError(t, err)
	_, err = p.Execute(ctx, []stmt.Statement{{Name: "commit.primary"}})
	require.NoError(t, err)

	regressions := p.Regressions()
	require.Len(t, regressions, 1)
	assert.Contains(t, regressions[0], "[inspect] inspect.chain")

	p.SetBaseline(OpCommit, 10*time.Millisecond)
	assert.Len(t, p.Regressions(), 2)
}

func TestEachRow(t *testing.T) {
	ctx := context.Background()
	count := func(n *int) func(map[string]any) error {
		return func(map[string]any) error {
			*n++
			return nil
		}
	}

	var n int
	require.NoError(t, EachRow(ctx, &stubStore{rows: 3}, stmt.Statement{Name: "inspect.chain"}, count(&n)))
	assert.Equal(t, 3, n)

	streamer := &streamStore{stubStore: stubStore{rows: 4}}
	n = 0
	require.NoError(t, EachRow(ctx, streamer, stmt.Statement{Name: "inspect.chain"}, count(&n)))
	assert.True(t, streamer.streamed)
	assert.Equal(t, 4, n)

	stop := stderrors.New("stop")
	n = 0
	err := EachRow(ctx, &stubStore{rows: 5}, stmt.Statement{Name: "inspect.chain"}, func(map[string]any) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func TestProfiledStoreStream(t *testing.T) {
	ctx := context.Background()
	inner := &streamStore{stubStore: stubStore{rows: 3}}
	p := NewProfiledStore(inner)
	p.now = ticker(time.Millisecond)

	var rows int
	require.NoError(t, EachRow(ctx, p, stmt.Statement{Name: "inspect.commands"}, func(map[string]any) error {
		rows++
		return nil
	}))
	assert.True(t, inner.streamed)
	assert.Equal(t, 3, rows)

	profiles := p.Profiles()
	require.Len(t, profiles, 1)
	assert.Equal(t, OpInspect, profiles[0].Operation)
	assert.Equal(t, "inspect.commands", profiles[0].Statement)
	assert.Equal(t, 3, profiles[0].Rows)
}
