package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockModel struct {
	mock.Mock
}

func (m *mockModel) Complete(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

// vocabEmbedder counts occurrences of a fixed vocabulary, one dimension per
// word. Other words are ignored, so unrelated text embeds to a zero vector.
type vocabEmbedder struct {
	vocab map[string]int

	mu      sync.Mutex
	batches int
	failAt  int
}

func newVocabEmbedder(words ...string) *vocabEmbedder {
	e := &vocabEmbedder{vocab: make(map[string]int)}
	for i, w := range words {
		e.vocab[w] = i
	}
	return e
}

func (e *vocabEmbedder) vector(text string) []float32 {
	v := make([]float32, len(e.vocab))
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if i, ok := e.vocab[w]; ok {
			v[i]++
		}
	}
	return v
}

func (e *vocabEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.batches++
	n := e.batches
	e.mu.Unlock()

	if e.failAt > 0 && n >= e.failAt {
		return nil, errors.New("provider is down")
	}

	res := make([][]float32, 0, len(texts))
	for _, t := range texts {
		res = append(res, e.vector(t))
	}
	return res, nil
}
