package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/gamma-omg/pdf-qa/chunker"
	"github.com/gamma-omg/pdf-qa/docstore"
	"github.com/gamma-omg/pdf-qa/embedding"
	"github.com/gamma-omg/pdf-qa/llm"
	"github.com/gamma-omg/pdf-qa/rag"
	"github.com/gamma-omg/pdf-qa/readers"
)

type app struct {
	cfg      *Config
	log      *slog.Logger
	pipeline *rag.Pipeline
	closers  []func()
}

func newApp(ctx context.Context, cfgPath, collection string) (*app, error) {
	cfg, err := readConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	if collection != "" {
		cfg.Collection = collection
	}

	a := &app{cfg: cfg}
	if err = a.initLogger(); err != nil {
		return nil, err
	}

	ef, err := createEmbeddingFunction(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	model, err := a.initChatModel(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	index, err := a.initDocStore(ctx, ef)
	if err != nil {
		a.Close()
		return nil, err
	}

	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		a.Close()
		return nil, err
	}

	policy, err := rag.ParsePolicy(cfg.QueryPolicy)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline = rag.NewPipeline(rag.Deps{
		Log:      a.log,
		Splitter: splitter,
		Embedder: embedding.New(ef, embedding.Config{
			BatchSize: cfg.BatchSize,
			Workers:   cfg.Workers,
			Timeout:   cfg.RequestTimeout(),
		}),
		Index: index,
		Model: model,
		Readers: []rag.PageReader{
			&readers.TxtFileReader{},
			&readers.PdfFileReader{},
			&readers.UniversalFileReader{},
		},
	}, rag.Config{
		Collection:      cfg.Collection,
		Results:         cfg.Results,
		MaxContextChars: cfg.MaxContextChars,
		HistoryTurns:    cfg.HistoryTurns,
		Policy:          policy,
		Refusal:         cfg.Refusal,
		BatchSize:       cfg.BatchSize,
		Workers:         cfg.Workers,
	})

	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *app) registry() *DocRegistry {
	delay := time.Duration(a.cfg.MergeEventsMs) * time.Millisecond
	return NewDocRegistry(a.log, a.cfg.DocRoot, delay, a.pipeline)
}

func (a *app) initLogger() error {
	if a.cfg.LogFile == "" {
		a.log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		return nil
	}

	logFile, err := os.OpenFile(a.cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	a.closers = append(a.closers, func() { logFile.Close() })
	a.log = slog.New(slog.NewJSONHandler(logFile, nil))
	return nil
}

func createEmbeddingFunction(cfg *Config) (embeddings.EmbeddingFunction, error) {
	pc := embedding.ProviderConfig{Provider: cfg.Provider}
	switch cfg.Provider {
	case embedding.ProviderOpenAI:
		pc.APIKey = cfg.OpenAI.ApiKey
		pc.Model = cfg.OpenAI.EmbeddingModel
		pc.BaseURL = cfg.OpenAI.BaseURL
	case embedding.ProviderGemini:
		pc.APIKey = cfg.Gemini.ApiKey
		pc.Model = cfg.Gemini.EmbeddingModel
	}

	return embedding.NewFunction(pc)
}

func (a *app) initChatModel(ctx context.Context) (rag.ChatModel, error) {
	var model rag.ChatModel

	switch a.cfg.Provider {
	case embedding.ProviderGemini:
		g, err := llm.NewGemini(ctx, llm.GeminiConfig{
			APIKey: a.cfg.Gemini.ApiKey,
			Model:  a.cfg.Gemini.ChatModel,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { g.Close() })
		model = g

	default:
		o, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  a.cfg.OpenAI.ApiKey,
			Model:   a.cfg.OpenAI.ChatModel,
			BaseURL: a.cfg.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		model = o
	}

	return timeoutModel{model: model, timeout: a.cfg.RequestTimeout()}, nil
}

func (a *app) initDocStore(ctx context.Context, ef embeddings.EmbeddingFunction) (docstore.Index, error) {
	switch a.cfg.Store {
	case StoreMemory:
		return docstore.NewMemoryStore(), nil

	case StoreChroma:
		store, err := docstore.NewChromaStore(docstore.ChromaStoreConfig{
			BaseURL:       a.cfg.Chroma.Addr,
			EmbeddingFunc: ef,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Chroma doc store: %w", err)
		}
		return store, nil

	default:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		store, err := docstore.NewPgStore(ctx, a.cfg.PostgresDSN())
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres doc store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
}

// timeoutModel bounds every completion by the configured request timeout.
type timeoutModel struct {
	model   rag.ChatModel
	timeout time.Duration
}

func (m timeoutModel) Complete(ctx context.Context, system, prompt string) (string, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	return m.model.Complete(ctx, system, prompt)
}

func ingestPaths(ctx context.Context, p *rag.Pipeline, out io.Writer, paths []string) (int, error) {
	total := 0
	for _, root := range paths {
		docs, err := collectDocs(root, p.CanRead)
		if err != nil {
			return total, err
		}

		for _, doc := range docs {
			n, err := p.IngestFile(ctx, doc)
			total += n
			if err != nil {
				return total, fmt.Errorf("failed to ingest %s: %w", doc, err)
			}
			fmt.Fprintf(out, "%s: %d chunks\n", doc, n)
		}
	}

	return total, nil
}
