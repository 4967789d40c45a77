package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

const (
	SourceRef   = "source_ref"
	ChunkOffset = "offset"
	DocSource   = "source"
	DocChecksum = "checksum"
)

type chromaClient interface {
	GetOrCreateCollection(ctx context.Context, name string, options ...chroma.CreateCollectionOption) (chroma.Collection, error)
	GetCollection(ctx context.Context, name string, opts ...chroma.GetCollectionOption) (chroma.Collection, error)
}

type ChromaStoreConfig struct {
	BaseURL       string
	EmbeddingFunc embeddings.EmbeddingFunction
}

// ChromaStore keeps every collection in a Chroma collection of the same name,
// created with the cosine space so distances match the other backends.
type ChromaStore struct {
	client chromaClient
	ef     embeddings.EmbeddingFunction
}

func NewChromaStore(cfg ChromaStoreConfig) (*ChromaStore, error) {
	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	return &ChromaStore{
		client: client,
		ef:     cfg.EmbeddingFunc,
	}, nil
}

func (ds *ChromaStore) Insert(ctx context.Context, collection string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	col, err := ds.client.GetOrCreateCollection(ctx, collection,
		chroma.WithEmbeddingFunctionCreate(ds.ef),
		chroma.WithHNSWSpaceCreate(embeddings.COSINE),
	)
	if err != nil {
		return fmt.Errorf("failed to open collection %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	dim := len(chunks[0].Embedding)
	ids := make([]chroma.DocumentID, 0, len(chunks))
	texts := make([]string, 0, len(chunks))
	embs := make([]embeddings.Embedding, 0, len(chunks))
	metas := make([]chroma.DocumentMetadata, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) != dim {
			return fmt.Errorf("%w: batch mixes %d and %d", ErrDimensionMismatch, dim, len(c.Embedding))
		}

		ids = append(ids, chroma.DocumentID(c.ID))
		texts = append(texts, c.Text)
		embs = append(embs, embeddings.NewEmbeddingFromFloat32(c.Embedding))
		metas = append(metas, chroma.NewDocumentMetadata(
			chroma.NewStringAttribute(SourceRef, c.SourceRef),
			chroma.NewIntAttribute(ChunkOffset, int64(c.Offset)),
			chroma.NewStringAttribute(DocSource, c.Source),
			chroma.NewIntAttribute(DocChecksum, int64(c.Checksum)),
		))
	}

	err = col.Add(ctx,
		chroma.WithIDs(ids...),
		chroma.WithTexts(texts...),
		chroma.WithEmbeddings(embs...),
		chroma.WithMetadatas(metas...),
	)
	if err != nil {
		return fmt.Errorf("failed to add chunks to %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	return nil
}

func (ds *ChromaStore) Search(ctx context.Context, collection string, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	col, err := ds.openExisting(ctx, collection)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return []SearchResult{}, nil
	}

	r, err := col.Query(ctx,
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(query)),
		chroma.WithNResults(k),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	docGroups := r.GetDocumentsGroups()
	if len(docGroups) == 0 {
		return []SearchResult{}, nil
	}

	docs := docGroups[0]
	scores := r.GetDistancesGroups()[0]
	metadatas := r.GetMetadatasGroups()[0]

	res := make([]SearchResult, 0, len(docs))
	for i := range len(docs) {
		ref := ""
		if i < len(metadatas) && metadatas[i] != nil {
			ref, _ = metadatas[i].GetString(SourceRef)
		}
		res = append(res, SearchResult{
			Text:      docs[i].ContentString(),
			SourceRef: ref,
			Score:     float32(scores[i]),
		})
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Score < res[j].Score
	})
	if len(res) > k {
		res = res[:k]
	}

	return res, nil
}

func (ds *ChromaStore) Ingested(ctx context.Context, collection string) ([]IngestedDoc, error) {
	col, err := ds.openExisting(ctx, collection)
	if err != nil || col == nil {
		return nil, err
	}

	res, err := col.Get(ctx, chroma.WithIncludeGet(chroma.IncludeMetadatas))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	var docs []IngestedDoc
	seen := make(map[IngestedDoc]struct{})
	for _, meta := range res.GetMetadatas() {
		if meta == nil {
			continue
		}

		source, _ := meta.GetString(DocSource)
		crc, _ := meta.GetInt(DocChecksum)
		doc := IngestedDoc{Source: source, Checksum: uint32(crc)}
		if doc.Source == "" {
			continue
		}
		if _, ok := seen[doc]; ok {
			continue
		}

		seen[doc] = struct{}{}
		docs = append(docs, doc)
	}

	return docs, nil
}

func (ds *ChromaStore) Forget(ctx context.Context, collection, source string) error {
	col, err := ds.openExisting(ctx, collection)
	if err != nil || col == nil {
		return err
	}

	err = col.Delete(ctx, chroma.WithWhereDelete(chroma.EqString(DocSource, source)))
	if err != nil {
		return fmt.Errorf("failed to forget %s in %s: %w: %w", source, collection, ErrIndexUnavailable, err)
	}

	return nil
}

// openExisting returns a nil collection when it does not exist yet.
func (ds *ChromaStore) openExisting(ctx context.Context, collection string) (chroma.Collection, error) {
	col, err := ds.client.GetCollection(ctx, collection, chroma.WithEmbeddingFunctionGet(ds.ef))
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open collection %s: %w: %w", collection, ErrIndexUnavailable, err)
	}

	return col, nil
}

// chroma reports a missing collection only through the error text.
func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}
