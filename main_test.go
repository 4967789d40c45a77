package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_newRootCmd(t *testing.T) {
	cmd := newRootCmd()
	assert.Equal(t, "pdfqa", cmd.Use)

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"ingest", "search", "ask", "chat", "serve", "watch"}, names)

	cfg := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfg)
	assert.Equal(t, "cfg/config.yaml", cfg.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("collection"))
}

func Test_newRootCmd_Args(t *testing.T) {
	tests := [][]string{
		{"ingest"},
		{"search"},
		{"ask"},
		{"search", "--k", "0", "warranty"},
	}

	for _, args := range tests {
		t.Run(args[0], func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
			cmd.SilenceErrors = true
			assert.Error(t, cmd.Execute())
		})
	}
}

type slowModel struct{}

func (slowModel) Complete(ctx context.Context, system, prompt string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Second):
		return "late", nil
	}
}

func Test_timeoutModel(t *testing.T) {
	m := timeoutModel{model: slowModel{}, timeout: 10 * time.Millisecond}
	_, err := m.Complete(context.Background(), "system", "prompt")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
