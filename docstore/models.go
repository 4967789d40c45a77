package docstore

import (
	"context"
	"errors"
)

var (
	ErrIndexUnavailable  = errors.New("vector index unavailable")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrInvalidK          = errors.New("k must be positive")
)

const DefaultCollection = "pdf_collection"

type Chunk struct {
	ID         string
	Collection string
	Text       string
	// Source is the document the chunk was cut from and Checksum the crc32 of
	// its extracted text at ingest time.
	Source    string
	Checksum  uint32
	SourceRef string
	Offset    int
	Embedding []float32
}

// IngestedDoc is one source document as recorded in a collection.
type IngestedDoc struct {
	Source   string
	Checksum uint32
}

type SearchResult struct {
	Text      string
	SourceRef string
	// Score is a cosine distance, lower means closer.
	Score float32
}

// Index stores embedded chunks in named collections and answers nearest
// neighbour queries over them.
type Index interface {
	Insert(ctx context.Context, collection string, chunks []Chunk) error
	Search(ctx context.Context, collection string, query []float32, k int) ([]SearchResult, error)
	// Ingested lists the distinct documents of a collection. A missing
	// collection has none.
	Ingested(ctx context.Context, collection string) ([]IngestedDoc, error)
	// Forget drops every chunk of source from a collection.
	Forget(ctx context.Context, collection, source string) error
}
