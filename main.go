package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/gamma-omg/pdf-qa/tui"
)

type rootOptions struct {
	cfgPath    string
	collection string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pdfqa",
		Short: "Ask questions about your PDF documents",
		Long: `pdfqa ingests PDF and text documents into a vector index and answers
questions strictly from their content. Answers that are not supported by the
retrieved passages are replaced by a fixed refusal.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgPath, "config", "cfg/config.yaml", "Configuration file")
	cmd.PersistentFlags().StringVar(&opts.collection, "collection", "", "Collection to work on, overrides the configuration")

	cmd.AddCommand(
		newIngestCmd(opts),
		newSearchCmd(opts),
		newAskCmd(opts),
		newChatCmd(opts),
		newServeCmd(opts),
		newWatchCmd(opts),
	)

	return cmd
}

func (o *rootOptions) app(ctx context.Context) (*app, error) {
	_ = godotenv.Load()
	return newApp(ctx, o.cfgPath, o.collection)
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Split, embed and store documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			total, err := ingestPaths(cmd.Context(), a.pipeline, cmd.OutOrStdout(), args)
			fmt.Fprintf(cmd.OutOrStdout(), "stored %d chunks in %s\n", total, a.pipeline.Collection())
			return err
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the passages closest to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if k <= 0 {
				return fmt.Errorf("k must be positive, got %d", k)
			}

			a, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.pipeline.Search(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}

			for _, r := range res {
				fmt.Fprintf(cmd.OutOrStdout(), "%.4f  %s\n%s\n\n", r.Score, r.SourceRef, r.Text)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 10, "Number of passages to return")

	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a single question from the ingested documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ans, err := a.pipeline.Ask(cmd.Context(), strings.Join(args, " "), nil)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
			if !ans.UsedContext {
				fmt.Fprintln(cmd.OutOrStdout(), "  (no matching passages in the collection)")
			}
			for _, src := range ans.Sources {
				fmt.Fprintf(cmd.OutOrStdout(), "  source: %s\n", src)
			}
			return nil
		},
	}
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var ingest []string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation about the documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary := fmt.Sprintf("collection %s", a.pipeline.Collection())
			if len(ingest) > 0 {
				total, err := ingestPaths(cmd.Context(), a.pipeline, cmd.OutOrStdout(), ingest)
				if err != nil {
					return err
				}
				summary = fmt.Sprintf("%s, %d chunks ingested from %s", summary, total, strings.Join(ingest, ", "))
			}

			_, err = tea.NewProgram(
				tui.New(cmd.Context(), a.pipeline, summary, 2*a.cfg.RequestTimeout()),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			).Run()
			return err
		},
	}

	cmd.Flags().StringSliceVar(&ingest, "ingest", nil, "Documents or directories to ingest before the conversation starts")

	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var watchDocs bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve search and question answering as MCP tools over SSE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := opts.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if watchDocs {
				reg := a.registry()
				go func() {
					if err := reg.Sync(ctx); err != nil {
						a.log.Error("failed to sync documents", "root", a.cfg.DocRoot, "error", err)
						return
					}
					if err := reg.Watch(ctx); err != nil {
						a.log.Error("failed to watch documents", "root", a.cfg.DocRoot, "error", err)
					}
				}()
			}

			srv := NewRagServer(a.pipeline, a.cfg.Results, a.log)
			sse := server.NewSSEServer(srv, server.WithBaseURL(fmt.Sprintf("http://%s", a.cfg.ServerAddr)))

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := sse.Shutdown(shutdownCtx); err != nil {
					a.log.Error("failed to shut down server", "error", err)
				}
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "serving MCP over SSE on %s\n", a.cfg.ServerAddr)
			if err := sse.Start(a.cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watchDocs, "sync", true, "Ingest the document root and keep watching it")

	return cmd
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Ingest the document root and keep ingesting new or changed files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := opts.app(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			reg := a.registry()
			if err = reg.Sync(ctx); err != nil {
				return err
			}
			if err = reg.Watch(ctx); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "watching %s\n", a.cfg.DocRoot)
			<-ctx.Done()
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
