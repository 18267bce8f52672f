package ids

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/revgraph/internal/errors"
)

func TestIDForms(t *testing.T) {
	tests := []struct {
		name  string
		id    ID
		str   string
		token string
	}{
		{"provisional", Provisional(3), "temp_3", "t3"},
		{"permanent", Permanent(42), "42", "n42"},
		{"permanent zero", Permanent(0), "0", "n0"},
		{"negative", Permanent(-5), "-5", "nm5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.str, tt.id.String())
			assert.Equal(t, tt.token, tt.id.Token())

			parsed, err := Parse(tt.str)
			require.NoError(t, err)
			assert.Equal(t, tt.id, parsed)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, in := range []string{"", "temp_", "temp_0", "temp_x", "abc"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestZeroID(t *testing.T) {
	var id ID
	assert.True(t, id.IsZero())
	assert.Panics(t, func() { id.StoreID() })
	assert.Panics(t, func() { Permanent(1).Seq() })
}

func TestResolverAllocatesMonotonically(t *testing.T) {
	r := NewResolver()
	a := r.Allocate()
	b := r.Allocate()

	assert.Equal(t, Provisional(1), a)
	assert.Equal(t, Provisional(2), b)
	assert.Equal(t, []ID{a, b}, r.Allocated())
}

func TestResolverCheck(t *testing.T) {
	r := NewResolver()
	r.Allocate()

	assert.NoError(t, r.Check(Provisional(1)))
	assert.NoError(t, r.Check(Permanent(99)))

	err := r.Check(Provisional(2))
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, errors.ErrUnknownReference))
	assert.True(t, stderrors.Is(r.Check(ID{}), errors.ErrUnknownReference))
}

func TestResolverTrackDeduplicates(t *testing.T) {
	r := NewResolver()
	r.Track(Permanent(10))
	r.Track(Provisional(1))
	r.Track(Permanent(4))
	r.Track(Permanent(10))

	assert.Equal(t, []int64{10, 4}, r.Lookups())
	assert.True(t, r.IsLookup(4))
	assert.False(t, r.IsLookup(5))
}

func TestResolve(t *testing.T) {
	r := NewResolver()
	a, b := r.Allocate(), r.Allocate()

	m, err := r.Resolve(map[string]any{"t1": int64(100), "t2": int64(101), "revision": int64(7)})
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	got, ok := m.Lookup(b)
	require.True(t, ok)
	assert.Equal(t, Permanent(101), got)
	assert.Equal(t, []Assignment{
		{Provisional: a, Permanent: Permanent(100)},
		{Provisional: b, Permanent: Permanent(101)},
	}, m.Assignments())
	assert.Equal(t, map[string]int64{"temp_1": 100, "temp_2": 101}, m.AsMap())

	same, ok := m.Translate(Permanent(5))
	assert.True(t, ok)
	assert.Equal(t, Permanent(5), same)
}

func TestResolveRejectsBadRows(t *testing.T) {
	r := NewResolver()
	r.Allocate()
	r.Allocate()

	_, err := r.Resolve(map[string]any{"t1": int64(1)})
	assert.Error(t, err)

	_, err = r.Resolve(map[string]any{"t1": int64(1), "t2": int64(1)})
	assert.Error(t, err)

	_, err = r.Resolve(map[string]any{"t1": "1", "t2": int64(2)})
	assert.Error(t, err)
}
