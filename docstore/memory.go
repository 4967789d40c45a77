package docstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

type memCollection struct {
	dim    int
	chunks []Chunk
	norms  []float64
}

// MemoryStore keeps collections in process memory and searches them by brute
// force. Nothing survives a restart.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) Insert(ctx context.Context, collection string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collection]
	if !ok {
		col = &memCollection{dim: len(chunks[0].Embedding)}
	}

	for _, c := range chunks {
		if len(c.Embedding) != col.dim {
			return fmt.Errorf("%w: collection %s expects %d, got %d", ErrDimensionMismatch, collection, col.dim, len(c.Embedding))
		}
	}

	for _, c := range chunks {
		c.Collection = collection
		col.chunks = append(col.chunks, c)
		col.norms = append(col.norms, norm(c.Embedding))
	}
	s.collections[collection] = col

	return nil
}

func (s *MemoryStore) Search(ctx context.Context, collection string, query []float32, k int) ([]SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collection]
	if !ok || len(col.chunks) == 0 {
		return []SearchResult{}, nil
	}
	if len(query) != col.dim {
		return nil, fmt.Errorf("%w: collection %s expects %d, got %d", ErrDimensionMismatch, collection, col.dim, len(query))
	}

	qn := norm(query)
	res := make([]SearchResult, 0, len(col.chunks))
	for i, c := range col.chunks {
		res = append(res, SearchResult{
			Text:      c.Text,
			SourceRef: c.SourceRef,
			Score:     cosineDistance(query, qn, c.Embedding, col.norms[i]),
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

func (s *MemoryStore) Ingested(ctx context.Context, collection string) ([]IngestedDoc, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	col, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}

	var docs []IngestedDoc
	seen := make(map[IngestedDoc]struct{})
	for _, c := range col.chunks {
		doc := IngestedDoc{Source: c.Source, Checksum: c.Checksum}
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

func (s *MemoryStore) Forget(ctx context.Context, collection, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	col, ok := s.collections[collection]
	if !ok {
		return nil
	}

	chunks := col.chunks[:0]
	norms := col.norms[:0]
	for i, c := range col.chunks {
		if c.Source == source {
			continue
		}
		chunks = append(chunks, c)
		norms = append(norms, col.norms[i])
	}
	col.chunks = chunks
	col.norms = norms

	return nil
}

func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if col, ok := s.collections[collection]; ok {
		return len(col.chunks)
	}
	return 0
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineDistance treats zero vectors as maximally distant from everything.
func cosineDistance(a []float32, an float64, b []float32, bn float64) float32 {
	if an == 0 || bn == 0 {
		return 1
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	return float32(1 - dot/(an*bn))
}
