package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	BatchSize int
	Workers   int
	Timeout   time.Duration
}

// Embedder turns texts into vectors through one provider. The dimension is
// pinned by the first vector it sees.
type Embedder struct {
	ef  embeddings.EmbeddingFunction
	cfg Config

	mu  sync.Mutex
	dim int
}

func New(ef embeddings.EmbeddingFunction, cfg Config) *Embedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Embedder{ef: ef, cfg: cfg}
}

func (e *Embedder) Dimension() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dim
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	emb, err := e.ef.EmbedQuery(ctx, text)
	if err != nil {
		return nil, &Error{Index: 0, Text: text, Err: err}
	}
	if emb == nil {
		return nil, &Error{Index: 0, Text: text, Err: errors.New("provider returned no vector")}
	}

	vec := emb.ContentAsFloat32()
	if err := e.check(vec); err != nil {
		return nil, &Error{Index: 0, Text: text, Err: err}
	}

	return vec, nil
}

// EmbedBatch embeds texts in batches of BatchSize, at most Workers batches at
// a time. The result keeps input order; any failure fails the whole call.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	if len(texts) == 0 {
		return res, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)

	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(texts))
		g.Go(func() error {
			return e.embedBatch(ctx, texts, start, end, res)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return res, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string, start, end int, res [][]float32) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	embs, err := e.ef.EmbedDocuments(ctx, texts[start:end])
	if err != nil {
		return &Error{Index: start, Text: texts[start], Err: err}
	}
	if len(embs) != end-start {
		return &Error{Index: start, Text: texts[start], Err: fmt.Errorf("provider returned %d vectors for %d texts", len(embs), end-start)}
	}

	for i, emb := range embs {
		idx := start + i
		if emb == nil {
			return &Error{Index: idx, Text: texts[idx], Err: errors.New("provider returned no vector")}
		}

		vec := emb.ContentAsFloat32()
		if err := e.check(vec); err != nil {
			return &Error{Index: idx, Text: texts[idx], Err: err}
		}
		res[idx] = vec
	}

	return nil
}

func (e *Embedder) check(vec []float32) error {
	if len(vec) == 0 {
		return errors.New("empty vector")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dim == 0 {
		e.dim = len(vec)
		return nil
	}
	if len(vec) != e.dim {
		return fmt.Errorf("vector has %d dimensions, expected %d", len(vec), e.dim)
	}

	return nil
}

func (e *Embedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Timeout)
}
