package rag

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/gamma-omg/pdf-qa/chunker"
	"github.com/gamma-omg/pdf-qa/docstore"
	"github.com/gamma-omg/pdf-qa/readers"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type Splitter interface {
	Split(text string) []chunker.Chunk
}

type PageReader interface {
	CanRead(path string) bool
	ReadPages(path string) ([]readers.Page, error)
}

type Config struct {
	Collection      string
	Results         int
	MaxContextChars int
	HistoryTurns    int
	Policy          Policy
	BatchSize       int
	Workers         int
	// Refusal replaces answers the documents do not support. Blank means
	// the built-in English sentence.
	Refusal string
}

type Deps struct {
	Log      *slog.Logger
	Splitter Splitter
	Embedder Embedder
	Index    docstore.Index
	Model    ChatModel
	Readers  []PageReader
}

type Answer struct {
	Text string
	// UsedContext is false when nothing was retrieved and the answer is the
	// refusal given without asking the model.
	UsedContext bool
	Query       string
	Sources     []string
}

type Pipeline struct {
	log       *slog.Logger
	cfg       Config
	splitter  Splitter
	embedder  Embedder
	index     docstore.Index
	readers   []PageReader
	planner   *Planner
	assembler Assembler
	guard     *Guard
}

func NewPipeline(deps Deps, cfg Config) *Pipeline {
	if cfg.Collection == "" {
		cfg.Collection = docstore.DefaultCollection
	}
	if cfg.Results <= 0 {
		cfg.Results = 10
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return &Pipeline{
		log:      deps.Log,
		cfg:      cfg,
		splitter: deps.Splitter,
		embedder: deps.Embedder,
		index:    deps.Index,
		readers:  deps.Readers,
		planner: NewPlanner(deps.Log, deps.Model, PlannerConfig{
			Policy:       cfg.Policy,
			HistoryTurns: cfg.HistoryTurns,
			K:            cfg.Results,
		}),
		assembler: Assembler{MaxChars: cfg.MaxContextChars},
		guard:     NewGuard(deps.Log, deps.Model, cfg.Refusal),
	}
}

func (p *Pipeline) Collection() string {
	return p.cfg.Collection
}

// WithCollection returns a pipeline sharing every collaborator but working on
// another collection.
func (p *Pipeline) WithCollection(name string) *Pipeline {
	cp := *p
	cp.cfg.Collection = name
	return &cp
}

func (p *Pipeline) CanRead(path string) bool {
	_, err := p.findReader(path)
	return err == nil
}

// Checksum is the crc32 of a document file as recorded with its chunks.
func (p *Pipeline) Checksum(path string) (uint32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	return crc32.ChecksumIEEE(buf), nil
}

func (p *Pipeline) IngestFile(ctx context.Context, path string) (int, error) {
	reader, err := p.findReader(path)
	if err != nil {
		return 0, err
	}

	crc, err := p.Checksum(path)
	if err != nil {
		return 0, err
	}

	pages, err := reader.ReadPages(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	return p.ingest(ctx, path, crc, pages)
}

// IngestPages chunks, embeds and stores pages of one source. Batches run
// concurrently; chunks of batches stored before a failure stay in the index
// and are counted in the returned number.
func (p *Pipeline) IngestPages(ctx context.Context, source string, pages []readers.Page) (int, error) {
	h := crc32.NewIEEE()
	for _, page := range pages {
		h.Write([]byte(page.Text))
	}

	return p.ingest(ctx, source, h.Sum32(), pages)
}

// Ingested lists the documents stored in the pipeline's collection.
func (p *Pipeline) Ingested(ctx context.Context) ([]docstore.IngestedDoc, error) {
	docs, err := p.index.Ingested(ctx, p.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents of %s: %w", p.cfg.Collection, err)
	}

	return docs, nil
}

func (p *Pipeline) Forget(ctx context.Context, source string) error {
	if err := p.index.Forget(ctx, p.cfg.Collection, source); err != nil {
		return fmt.Errorf("failed to forget %s: %w", source, err)
	}

	p.log.Info("document forgotten", "source", source, "collection", p.cfg.Collection)
	return nil
}

func (p *Pipeline) ingest(ctx context.Context, source string, crc uint32, pages []readers.Page) (int, error) {
	var chunks []docstore.Chunk
	for _, page := range pages {
		for _, c := range p.splitter.Split(page.Text) {
			if strings.TrimSpace(c.Text) == "" {
				continue
			}

			chunks = append(chunks, docstore.Chunk{
				ID:         uuid.NewString(),
				Collection: p.cfg.Collection,
				Text:       c.Text,
				Source:     source,
				Checksum:   crc,
				SourceRef:  readers.SourceRef(source, page.Number),
				Offset:     c.Offset,
			})
		}
	}

	if len(chunks) == 0 {
		p.log.Warn(fmt.Sprintf("no text found in %s", source))
		return 0, nil
	}

	var stored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		batch := chunks[start:min(start+p.cfg.BatchSize, len(chunks))]
		g.Go(func() error {
			if err := p.storeBatch(gctx, batch); err != nil {
				return err
			}
			stored.Add(int64(len(batch)))
			return nil
		})
	}

	err := g.Wait()
	n := int(stored.Load())
	if err != nil {
		return n, fmt.Errorf("failed to ingest %s: %w", source, err)
	}

	p.log.Info("document ingested", "source", source, "pages", len(pages), "chunks", n, "collection", p.cfg.Collection)
	return n, nil
}

func (p *Pipeline) storeBatch(ctx context.Context, batch []docstore.Chunk) error {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	for i := range batch {
		batch[i].Embedding = vecs[i]
	}

	if err := p.index.Insert(ctx, p.cfg.Collection, batch); err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}

	return nil
}

func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]docstore.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuestion
	}

	vec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	res, err := p.index.Search(ctx, p.cfg.Collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", p.cfg.Collection, err)
	}

	return res, nil
}

// Ask answers question from the indexed documents. On success the turn is
// appended to history, which may be nil for one-shot questions.
func (p *Pipeline) Ask(ctx context.Context, question string, history *History) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	q := p.planner.Plan(ctx, question, history)
	if q.Text != question {
		p.log.Debug("question condensed", "question", question, "query", q.Text)
	}

	results, err := p.Search(ctx, q.Text, q.K)
	if err != nil {
		return Answer{}, err
	}

	passages, used := p.assembler.assemble(results)
	text, err := p.guard.Answer(ctx, q.Text, passages)
	if err != nil {
		return Answer{}, err
	}

	if history != nil {
		history.Append(question, text)
	}

	return Answer{
		Text:        text,
		UsedContext: strings.TrimSpace(passages) != "",
		Query:       q.Text,
		Sources:     sources(results[:used]),
	}, nil
}

func (p *Pipeline) findReader(path string) (PageReader, error) {
	for _, r := range p.readers {
		if r.CanRead(path) {
			return r, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
}

func sources(results []docstore.SearchResult) []string {
	seen := make(map[string]struct{})
	var res []string
	for _, r := range results {
		if r.SourceRef == "" {
			continue
		}
		if _, ok := seen[r.SourceRef]; ok {
			continue
		}
		seen[r.SourceRef] = struct{}{}
		res = append(res, r.SourceRef)
	}
	return res
}
