package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Refusal is the default answer given when the context does not hold the
// answer.
const Refusal = "I don't have the information needed to answer your question."

// RefusalPT is the refusal of the Portuguese deployments.
const RefusalPT = "Não tenho informações necessárias para responder sua pergunta."

const guardTemplate = `You answer questions about a set of documents.

RULES:
- Answer only from the CONTEXT.
- If the information is not explicitly in the CONTEXT, answer exactly:
  "{{refusal}}"
- Never make things up or use outside knowledge.
- Never give opinions or interpretations beyond what is written.

EXAMPLES OF QUESTIONS OUTSIDE THE CONTEXT:
Question: "What is the capital of France?"
Answer: "{{refusal}}"

Question: "How many customers did we have in 2024?"
Answer: "{{refusal}}"

Question: "Do you think this is good or bad?"
Answer: "{{refusal}}"`

var guardSystem = guardInstructions(Refusal)

func guardInstructions(refusal string) string {
	return strings.ReplaceAll(guardTemplate, "{{refusal}}", refusal)
}

type Guard struct {
	log     *slog.Logger
	model   ChatModel
	refusal string
	system  string
}

// NewGuard builds a guard answering with refusal when the context lacks the
// answer. An empty refusal means Refusal.
func NewGuard(log *slog.Logger, model ChatModel, refusal string) *Guard {
	refusal = strings.TrimSpace(refusal)
	if refusal == "" {
		refusal = Refusal
	}

	return &Guard{
		log:     log,
		model:   model,
		refusal: refusal,
		system:  guardInstructions(refusal),
	}
}

func (g *Guard) Refusal() string { return g.refusal }

// Answer asks the model to answer question from passages only. Blank passages
// are refused without calling the model.
func (g *Guard) Answer(ctx context.Context, question, passages string) (string, error) {
	if strings.TrimSpace(passages) == "" {
		g.log.Debug("no context retrieved, refusing")
		return g.refusal, nil
	}

	out, err := g.model.Complete(ctx, g.system, guardPrompt(question, passages))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrAnswerGeneration, err)
	}

	return g.normalize(out), nil
}

func guardPrompt(question, passages string) string {
	return fmt.Sprintf("CONTEXT:\n%s\n\nUSER QUESTION:\n%s\n\nANSWER THE \"USER QUESTION\"", passages, question)
}

// normalize maps blank output and quoted refusals to the exact refusal.
func (g *Guard) normalize(out string) string {
	out = strings.TrimSpace(out)
	if out == "" {
		return g.refusal
	}
	if strings.Trim(out, `"'`) == g.refusal {
		return g.refusal
	}
	return out
}
