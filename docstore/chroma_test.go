package docstore

import (
	"context"
	"errors"
	"testing"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChromaClient struct {
	mock.Mock
}

func (c *mockChromaClient) GetOrCreateCollection(ctx context.Context, name string, options ...chroma.CreateCollectionOption) (chroma.Collection, error) {
	args := c.Called(ctx, name)
	col, _ := args.Get(0).(chroma.Collection)
	return col, args.Error(1)
}

func (c *mockChromaClient) GetCollection(ctx context.Context, name string, opts ...chroma.GetCollectionOption) (chroma.Collection, error) {
	args := c.Called(ctx, name)
	col, _ := args.Get(0).(chroma.Collection)
	return col, args.Error(1)
}

type mockCollection struct {
	chroma.Collection
	m mock.Mock
}

func (c *mockCollection) Add(ctx context.Context, opts ...chroma.CollectionUpdateOption) error {
	return c.m.Called(len(opts)).Error(0)
}

func (c *mockCollection) Query(ctx context.Context, opts ...chroma.CollectionQueryOption) (chroma.QueryResult, error) {
	args := c.m.Called(len(opts))
	qr, _ := args.Get(0).(chroma.QueryResult)
	return qr, args.Error(1)
}

func (c *mockCollection) Get(ctx context.Context, opts ...chroma.CollectionGetOption) (chroma.GetResult, error) {
	args := c.m.Called(len(opts))
	gr, _ := args.Get(0).(chroma.GetResult)
	return gr, args.Error(1)
}

func (c *mockCollection) Delete(ctx context.Context, opts ...chroma.CollectionDeleteOption) error {
	return c.m.Called(len(opts)).Error(0)
}

type fakeGetResult struct {
	chroma.GetResult
	metas chroma.DocumentMetadatas
}

func (r *fakeGetResult) GetMetadatas() chroma.DocumentMetadatas { return r.metas }

type fakeQueryResult struct {
	chroma.QueryResult
	docs      []chroma.Documents
	distances []embeddings.Distances
	metas     []chroma.DocumentMetadatas
}

func (r *fakeQueryResult) GetDocumentsGroups() []chroma.Documents         { return r.docs }
func (r *fakeQueryResult) GetDistancesGroups() []embeddings.Distances     { return r.distances }
func (r *fakeQueryResult) GetMetadatasGroups() []chroma.DocumentMetadatas { return r.metas }

type fakeDocument struct {
	chroma.Document
	text string
}

func (d *fakeDocument) ContentString() string { return d.text }

func Test_ChromaStore_Insert(t *testing.T) {
	col := &mockCollection{}
	col.m.On("Add", 4).Return(nil)

	client := new(mockChromaClient)
	client.On("GetOrCreateCollection", mock.Anything, "facts").Return(col, nil)

	store := ChromaStore{client: client}
	err := store.Insert(context.Background(), "facts", []Chunk{
		{ID: "a", Text: "Bananas are berries.", SourceRef: "facts.pdf#page=1", Embedding: []float32{1, 0}},
		{ID: "b", Text: "Strawberries aren't.", SourceRef: "facts.pdf#page=1", Offset: 21, Embedding: []float32{0, 1}},
	})
	require.NoError(t, err)

	client.AssertExpectations(t)
	col.m.AssertExpectations(t)
}

func Test_ChromaStore_Insert_DimensionMismatch(t *testing.T) {
	client := new(mockChromaClient)
	client.On("GetOrCreateCollection", mock.Anything, "facts").Return(&mockCollection{}, nil)

	store := ChromaStore{client: client}
	err := store.Insert(context.Background(), "facts", []Chunk{
		{ID: "a", Text: "one", Embedding: []float32{1, 0}},
		{ID: "b", Text: "two", Embedding: []float32{0, 1, 0}},
	})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func Test_ChromaStore_Insert_Unavailable(t *testing.T) {
	client := new(mockChromaClient)
	client.On("GetOrCreateCollection", mock.Anything, "facts").Return(nil, errors.New("connection refused"))

	store := ChromaStore{client: client}
	err := store.Insert(context.Background(), "facts", []Chunk{{ID: "a", Text: "one", Embedding: []float32{1}}})
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func Test_ChromaStore_Search(t *testing.T) {
	qr := &fakeQueryResult{
		docs: []chroma.Documents{{
			&fakeDocument{text: "A day on Venus is longer than its year."},
			&fakeDocument{text: "Venus spins backwards."},
		}},
		distances: []embeddings.Distances{{embeddings.Distance(0.4), embeddings.Distance(0.1)}},
		metas: []chroma.DocumentMetadatas{{
			chroma.NewDocumentMetadata(chroma.NewStringAttribute(SourceRef, "facts.pdf#page=1")),
			chroma.NewDocumentMetadata(chroma.NewStringAttribute(SourceRef, "facts.pdf#page=2")),
		}},
	}

	col := &mockCollection{}
	col.m.On("Query", 2).Return(qr, nil)

	client := new(mockChromaClient)
	client.On("GetCollection", mock.Anything, "facts").Return(col, nil)

	store := ChromaStore{client: client}
	res, err := store.Search(context.Background(), "facts", []float32{1, 0}, 2)
	require.NoError(t, err)

	assert.Equal(t, []SearchResult{
		{Text: "Venus spins backwards.", SourceRef: "facts.pdf#page=2", Score: 0.1},
		{Text: "A day on Venus is longer than its year.", SourceRef: "facts.pdf#page=1", Score: 0.4},
	}, res)
	col.m.AssertExpectations(t)
}

func Test_ChromaStore_Search_MissingCollection(t *testing.T) {
	client := new(mockChromaClient)
	client.On("GetCollection", mock.Anything, "nothing").Return(nil, errors.New("Collection nothing does not exist."))

	store := ChromaStore{client: client}
	res, err := store.Search(context.Background(), "nothing", []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func Test_ChromaStore_Search_InvalidK(t *testing.T) {
	store := ChromaStore{client: new(mockChromaClient)}
	_, err := store.Search(context.Background(), "facts", []float32{1, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidK)
}

func docMeta(source string, crc int64) chroma.DocumentMetadata {
	return chroma.NewDocumentMetadata(
		chroma.NewStringAttribute(DocSource, source),
		chroma.NewIntAttribute(DocChecksum, crc),
	)
}

func Test_ChromaStore_Ingested(t *testing.T) {
	col := &mockCollection{}
	col.m.On("Get", 1).Return(&fakeGetResult{metas: chroma.DocumentMetadatas{
		docMeta("docs/a.pdf", 11),
		docMeta("docs/a.pdf", 11),
		docMeta("docs/b.txt", 22),
		chroma.NewDocumentMetadata(chroma.NewStringAttribute(SourceRef, "loose#page=1")),
		nil,
	}}, nil)

	client := new(mockChromaClient)
	client.On("GetCollection", mock.Anything, "facts").Return(col, nil)

	store := ChromaStore{client: client}
	docs, err := store.Ingested(context.Background(), "facts")
	require.NoError(t, err)
	assert.Equal(t, []IngestedDoc{
		{Source: "docs/a.pdf", Checksum: 11},
		{Source: "docs/b.txt", Checksum: 22},
	}, docs)
}

func Test_ChromaStore_Forget(t *testing.T) {
	col := &mockCollection{}
	col.m.On("Delete", 1).Return(nil)

	client := new(mockChromaClient)
	client.On("GetCollection", mock.Anything, "facts").Return(col, nil)

	store := ChromaStore{client: client}
	require.NoError(t, store.Forget(context.Background(), "facts", "docs/a.pdf"))
	col.m.AssertExpectations(t)
}

func Test_ChromaStore_MissingCollection(t *testing.T) {
	client := new(mockChromaClient)
	client.On("GetCollection", mock.Anything, "nothing").Return(nil, errors.New("Collection nothing does not exist."))

	store := ChromaStore{client: client}
	docs, err := store.Ingested(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.NoError(t, store.Forget(context.Background(), "nothing", "docs/a.pdf"))
}

func Test_ChromaStore_Forget_Unavailable(t *testing.T) {
	col := &mockCollection{}
	col.m.On("Delete", 1).Return(errors.New("connection reset"))

	client := new(mockChromaClient)
	client.On("GetCollection", mock.Anything, "facts").Return(col, nil)

	store := ChromaStore{client: client}
	err := store.Forget(context.Background(), "facts", "docs/a.pdf")
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}
