package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gamma-omg/pdf-qa/docstore"
	"github.com/gamma-omg/pdf-qa/rag"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// maxSearchK bounds the number of passages a client may ask for.
const maxSearchK = 100

type questionAnswerer interface {
	Ask(ctx context.Context, question string, history *rag.History) (rag.Answer, error)
	Search(ctx context.Context, query string, k int) ([]docstore.SearchResult, error)
}

type chatSession struct {
	mu      sync.Mutex
	history *rag.History
}

// ragServer keeps one conversation history per MCP client session.
type ragServer struct {
	log     *slog.Logger
	qa      questionAnswerer
	results int

	mu       sync.Mutex
	sessions map[string]*chatSession
}

func newRagServer(qa questionAnswerer, results int, log *slog.Logger) *ragServer {
	return &ragServer{
		log:      log,
		qa:       qa,
		results:  results,
		sessions: make(map[string]*chatSession),
	}
}

func NewRagServer(qa questionAnswerer, results int, log *slog.Logger) *server.MCPServer {
	rs := newRagServer(qa, results, log)

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, session server.ClientSession) {
		rs.forget(session.SessionID())
	})

	srv := server.NewMCPServer("PDF Q&A", "0.1.0",
		server.WithToolCapabilities(false),
		server.WithHooks(hooks),
	)

	srv.AddTool(mcp.NewTool("search_documents",
		mcp.WithDescription("Searches the ingested documents and returns the closest passages with their cosine distance"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("k",
			mcp.Description("Number of passages to return"),
			mcp.Min(1),
			mcp.Max(maxSearchK),
		),
	), rs.handleSearch)

	srv.AddTool(mcp.NewTool("ask",
		mcp.WithDescription("Answers a question strictly from the ingested documents. Follow-up questions are resolved against earlier questions of the same session"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question about the documents"),
		),
	), rs.handleAsk)

	return srv
}

func (rs *ragServer) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	k := request.GetInt("k", rs.results)
	if k <= 0 {
		return mcp.NewToolResultError(fmt.Sprintf("k must be positive, got %d", k)), nil
	}
	k = min(k, maxSearchK)

	res, err := rs.qa.Search(ctx, q, k)
	if err != nil {
		rs.log.Error("search failed", "query", q, "error", err)
		return mcp.NewToolResultError(err.Error()), nil
	}

	var response strings.Builder
	for _, r := range res {
		raw, err := json.Marshal(struct {
			Score  float32 `json:"score"`
			Source string  `json:"source"`
			Text   string  `json:"text"`
		}{
			Score:  r.Score,
			Source: r.SourceRef,
			Text:   r.Text,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		response.Write(raw)
		response.WriteString("\n")
	}

	return mcp.NewToolResultText(response.String()), nil
}

func (rs *ragServer) handleAsk(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s := rs.session(sessionID(ctx))
	s.mu.Lock()
	defer s.mu.Unlock()

	ans, err := rs.qa.Ask(ctx, q, s.history)
	if err != nil {
		if !errors.Is(err, rag.ErrEmptyQuestion) {
			rs.log.Error("ask failed", "question", q, "error", err)
		}
		return mcp.NewToolResultError(err.Error()), nil
	}

	raw, err := json.Marshal(struct {
		Answer      string   `json:"answer"`
		UsedContext bool     `json:"used_context"`
		Query       string   `json:"query"`
		Sources     []string `json:"sources"`
	}{
		Answer:      ans.Text,
		UsedContext: ans.UsedContext,
		Query:       ans.Query,
		Sources:     ans.Sources,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(string(raw)), nil
}

func (rs *ragServer) session(id string) *chatSession {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	s, ok := rs.sessions[id]
	if !ok {
		s = &chatSession{history: &rag.History{}}
		rs.sessions[id] = s
	}
	return s
}

func (rs *ragServer) forget(id string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.sessions, id)
}

func sessionID(ctx context.Context) string {
	if s := server.ClientSessionFromContext(ctx); s != nil {
		return s.SessionID()
	}
	return ""
}
