package knowledge

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenStore(StoreConfig{
		DatabasePath:        filepath.Join(t.TempDir(), "test.db"),
		MaxExecutionEntries: 5,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func entry(cat Category, text string, emb []float32) Entry {
	return Entry{Category: cat, Text: text, Embedding: emb}
}

func TestAddAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, entry(CategoryKnowledge, "close match", []float32{1, 0}))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.Add(ctx, entry(CategoryKnowledge, "orthogonal", []float32{0, 1}))
	require.NoError(t, err)

	hits, err := s.Query(ctx, []float32{1, 0}, []Category{CategoryKnowledge}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "close match", hits[0].Entry.Text)
	assert.InDelta(t, 0, hits[0].Distance, 1e-6)
	assert.Equal(t, "orthogonal", hits[1].Entry.Text)
	assert.InDelta(t, 1, hits[1].Distance, 1e-6)
}

func TestQueryScopeAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := s.Add(ctx, entry(CategoryKnowledge, fmt.Sprintf("rule %d", i), []float32{1, 0}))
		require.NoError(t, err)
	}
	_, err := s.Add(ctx, entry(CategoryEquipment, "equipment fact", []float32{1, 0}))
	require.NoError(t, err)

	t.Run("scope filters categories", func(t *testing.T) {
		hits, err := s.Query(ctx, []float32{1, 0}, []Category{CategoryEquipment}, 10)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "equipment fact", hits[0].Entry.Text)
	})

	t.Run("limit caps results", func(t *testing.T) {
		hits, err := s.Query(ctx, []float32{1, 0}, []Category{CategoryKnowledge}, 2)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})

	t.Run("empty scope means everything", func(t *testing.T) {
		hits, err := s.Query(ctx, []float32{1, 0}, nil, 10)
		require.NoError(t, err)
		assert.Len(t, hits, 5)
	})
}

func TestQueryEqualDistanceKeepsInsertionOrder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		e := entry(CategoryKnowledge, "same vector "+id, []float32{1, 0})
		e.ID = id
		_, err := s.Add(ctx, e)
		require.NoError(t, err)
	}

	hits, err := s.Query(ctx, []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a", hits[0].Entry.ID)
	assert.Equal(t, "b", hits[1].Entry.ID)
	assert.Equal(t, "c", hits[2].Entry.ID)
}

func TestQuerySkipsDimensionMismatch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, entry(CategoryKnowledge, "two dims", []float32{1, 0}))
	require.NoError(t, err)
	_, err = s.Add(ctx, entry(CategoryKnowledge, "three dims", []float32{1, 0, 0}))
	require.NoError(t, err)

	hits, err := s.Query(ctx, []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "two dims", hits[0].Entry.Text)
}

func TestExecutionHistoryEviction(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		e := entry(CategoryExecutions, fmt.Sprintf("run %d", i), []float32{1})
		e.ID = fmt.Sprintf("run_%d", i)
		_, err := s.Add(ctx, e)
		require.NoError(t, err)
	}

	n, err := s.Count(ctx, CategoryExecutions)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// The newest entries survive.
	hits, err := s.Query(ctx, []float32{1}, []Category{CategoryExecutions}, 10)
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, h := range hits {
		ids[h.Entry.ID] = true
	}
	assert.True(t, ids["run_7"])
	assert.False(t, ids["run_0"])
}

func TestReplaceSwapsCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, entry(CategoryEquipment, "old fact", []float32{1}))
	require.NoError(t, err)
	_, err = s.Add(ctx, entry(CategoryKnowledge, "untouched rule", []float32{1}))
	require.NoError(t, err)

	err = s.Replace(ctx, CategoryEquipment, []Entry{
		entry(CategoryEquipment, "new fact one", []float32{1}),
		entry(CategoryEquipment, "new fact two", []float32{1}),
	})
	require.NoError(t, err)

	n, err := s.Count(ctx, CategoryEquipment)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(ctx, CategoryKnowledge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	hits, err := s.Query(ctx, []float32{1}, []Category{CategoryEquipment}, 10)
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, "old fact", h.Entry.Text)
	}
}

func TestUnits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	add := func(unit string) {
		e := entry(CategoryKnowledge, "rule for "+unit, []float32{1})
		e.Metadata = map[string]string{"unit": unit, "type": "deployment_rule"}
		_, err := s.Add(ctx, e)
		require.NoError(t, err)
	}
	add("tank unit")
	add("sniper team")
	add("tank unit")
	_, err := s.Add(ctx, entry(CategoryExecutions, "no unit metadata", []float32{1}))
	require.NoError(t, err)

	units, err := s.Units(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sniper team", "tank unit"}, units)
}

func TestMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	e := entry(CategoryEquipment, "ranged fact", []float32{1})
	e.Metadata = map[string]string{"unit": "tank unit", "type": "equipment_info", "range": "600-700"}
	_, err := s.Add(ctx, e)
	require.NoError(t, err)

	hits, err := s.Query(ctx, []float32{1}, []Category{CategoryEquipment}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	got := hits[0].Entry
	assert.Equal(t, "tank unit", got.Unit())
	assert.Equal(t, "equipment_info", got.Type())
	assert.Equal(t, "600-700", got.Metadata["range"])
}
