package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type ChatModel interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Policy string

const (
	PolicyVerbatim  Policy = "verbatim"
	PolicyCondensed Policy = "condensed"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyVerbatim:
		return PolicyVerbatim, nil
	case PolicyCondensed, "":
		return PolicyCondensed, nil
	}
	return "", fmt.Errorf("unknown query policy %q", s)
}

type RetrievalQuery struct {
	Text string
	K    int
}

const condenseSystem = `Given a conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.
Keep every name, product and number the question refers to through the conversation.
Reply with the standalone question only.`

type PlannerConfig struct {
	Policy       Policy
	HistoryTurns int
	K            int
}

type Planner struct {
	log   *slog.Logger
	model ChatModel
	cfg   PlannerConfig
}

func NewPlanner(log *slog.Logger, model ChatModel, cfg PlannerConfig) *Planner {
	return &Planner{log: log, model: model, cfg: cfg}
}

// Plan turns a question and the conversation so far into the query used for
// retrieval. Condensation failures fall back to the question itself.
func (p *Planner) Plan(ctx context.Context, question string, history *History) RetrievalQuery {
	q := RetrievalQuery{Text: question, K: p.cfg.K}
	if p.cfg.Policy != PolicyCondensed || history.Len() == 0 || p.model == nil {
		return q
	}

	standalone, err := p.model.Complete(ctx, condenseSystem, condensePrompt(question, history.Last(p.cfg.HistoryTurns)))
	if err != nil {
		p.log.Warn("failed to condense question, using it verbatim", "error", err)
		return q
	}

	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		p.log.Warn("empty condensed question, using it verbatim")
		return q
	}

	q.Text = standalone
	return q
}

func condensePrompt(question string, turns []Turn) string {
	var sb strings.Builder
	sb.WriteString("Chat History:\n")
	for _, t := range turns {
		fmt.Fprintf(&sb, "Human: %s\nAssistant: %s\n", t.Question, t.Answer)
	}
	fmt.Fprintf(&sb, "Follow Up Input: %s\nStandalone question:", question)
	return sb.String()
}
