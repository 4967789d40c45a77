package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func Test_Guard_EmptyContext(t *testing.T) {
	model := new(mockModel)
	g := NewGuard(discardLogger(), model, "")

	for _, passages := range []string{"", "  \n\n "} {
		out, err := g.Answer(context.Background(), "What is the capital of France?", passages)
		require.NoError(t, err)
		assert.Equal(t, Refusal, out)
	}

	model.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func Test_Guard_Answer(t *testing.T) {
	model := new(mockModel)
	model.On("Complete", mock.Anything, guardSystem, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "CONTEXT:\nThe plan lasts 36 months.") &&
			strings.Contains(p, "USER QUESTION:\nHow long is the plan?")
	})).Return("  The plan lasts 36 months.\n", nil)

	g := NewGuard(discardLogger(), model, "")
	out, err := g.Answer(context.Background(), "How long is the plan?", "The plan lasts 36 months.")
	require.NoError(t, err)
	assert.Equal(t, "The plan lasts 36 months.", out)
	model.AssertExpectations(t)
}

func Test_Guard_NormalizesOutput(t *testing.T) {
	var cases = []struct {
		output string
		answer string
	}{
		{output: "", answer: Refusal},
		{output: " \n ", answer: Refusal},
		{output: `"` + Refusal + `"`, answer: Refusal},
		{output: Refusal + "\n", answer: Refusal},
		{output: "Yes.", answer: "Yes."},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			model := new(mockModel)
			model.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(c.output, nil)

			g := NewGuard(discardLogger(), model, "")
			out, err := g.Answer(context.Background(), "question", "some context")
			require.NoError(t, err)
			assert.Equal(t, c.answer, out)
		})
	}
}

func Test_Guard_ModelFailure(t *testing.T) {
	model := new(mockModel)
	model.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("timeout"))

	g := NewGuard(discardLogger(), model, "")
	_, err := g.Answer(context.Background(), "question", "some context")
	assert.ErrorIs(t, err, ErrAnswerGeneration)
}

func Test_guardSystem(t *testing.T) {
	assert.Contains(t, guardSystem, "Answer only from the CONTEXT")
	assert.Equal(t, 4, strings.Count(guardSystem, Refusal))
}

func Test_Guard_CustomRefusal(t *testing.T) {
	model := new(mockModel)
	model.On("Complete", mock.Anything, mock.MatchedBy(func(system string) bool {
		return strings.Count(system, RefusalPT) == 4 && !strings.Contains(system, Refusal)
	}), mock.Anything).Return(`"`+RefusalPT+`"`, nil)

	g := NewGuard(discardLogger(), model, RefusalPT)
	assert.Equal(t, RefusalPT, g.Refusal())

	out, err := g.Answer(context.Background(), "Qual é a capital da França?", "")
	require.NoError(t, err)
	assert.Equal(t, RefusalPT, out)

	out, err = g.Answer(context.Background(), "Qual é a capital da França?", "some context")
	require.NoError(t, err)
	assert.Equal(t, RefusalPT, out)
	model.AssertExpectations(t)
}
