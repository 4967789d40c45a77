package docstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPgStore(t *testing.T) *PgStore {
	dsn := os.Getenv("RAG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RAG_TEST_POSTGRES_DSN is not set")
	}

	s, err := NewPgStore(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func Test_PgStore_InsertSearch(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	collection := "test_" + uuid.NewString()

	err := s.Insert(ctx, collection, []Chunk{
		{ID: uuid.NewString(), Text: "Bananas are berries.", SourceRef: "facts.pdf#page=1", Embedding: []float32{1, 0, 0}},
		{ID: uuid.NewString(), Text: "Venus spins backwards.", SourceRef: "facts.pdf#page=2", Embedding: []float32{0, 1, 0}},
		{ID: uuid.NewString(), Text: "Octopuses have three hearts.", SourceRef: "facts.pdf#page=3", Embedding: []float32{0.7, 0.7, 0}},
	})
	require.NoError(t, err)

	res, err := s.Search(ctx, collection, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "Bananas are berries.", res[0].Text)
	assert.Equal(t, "facts.pdf#page=1", res[0].SourceRef)
	assert.InDelta(t, 0, res[0].Score, 1e-6)
	assert.Equal(t, "Octopuses have three hearts.", res[1].Text)
	assert.LessOrEqual(t, res[0].Score, res[1].Score)

	err = s.Insert(ctx, collection, []Chunk{{ID: uuid.NewString(), Text: "short", Embedding: []float32{1, 0}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func Test_PgStore_Search_MissingCollection(t *testing.T) {
	s := newTestPgStore(t)

	res, err := s.Search(context.Background(), "missing_"+uuid.NewString(), []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func Test_PgStore_Search_LargeK(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	collection := "test_" + uuid.NewString()

	require.NoError(t, s.Insert(ctx, collection, []Chunk{
		{ID: uuid.NewString(), Text: "Only passage.", SourceRef: "one.pdf#page=1", Embedding: []float32{1, 0}},
	}))

	res, err := s.Search(ctx, collection, []float32{1, 0}, 1<<40)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func Test_PgStore_IngestedAndForget(t *testing.T) {
	s := newTestPgStore(t)
	ctx := context.Background()
	collection := "test_" + uuid.NewString()

	err := s.Insert(ctx, collection, []Chunk{
		{ID: uuid.NewString(), Text: "a1", Source: "a.pdf", Checksum: 0xfffffff0, SourceRef: "a.pdf#page=1", Embedding: []float32{1, 0}},
		{ID: uuid.NewString(), Text: "a2", Source: "a.pdf", Checksum: 0xfffffff0, SourceRef: "a.pdf#page=2", Embedding: []float32{0, 1}},
		{ID: uuid.NewString(), Text: "b1", Source: "b.txt", Checksum: 7, SourceRef: "b.txt", Embedding: []float32{1, 1}},
	})
	require.NoError(t, err)

	docs, err := s.Ingested(ctx, collection)
	require.NoError(t, err)
	assert.ElementsMatch(t, []IngestedDoc{
		{Source: "a.pdf", Checksum: 0xfffffff0},
		{Source: "b.txt", Checksum: 7},
	}, docs)

	require.NoError(t, s.Forget(ctx, collection, "a.pdf"))

	docs, err = s.Ingested(ctx, collection)
	require.NoError(t, err)
	assert.Equal(t, []IngestedDoc{{Source: "b.txt", Checksum: 7}}, docs)

	res, err := s.Search(ctx, collection, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b1", res[0].Text)

	docs, err = s.Ingested(ctx, "missing_"+uuid.NewString())
	require.NoError(t, err)
	assert.Empty(t, docs)
}
