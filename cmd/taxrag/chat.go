package main

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"taxrag/internal/answer"
	"taxrag/internal/index"
	"taxrag/internal/ingest"
	"taxrag/internal/service"
	"taxrag/internal/tui"
)

func chatCmd(rt *runtime) *cobra.Command {
	var (
		corpus, indexPath string
		plain             bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively; type exit to quit",
		Long: `Load the index file if it exists, otherwise build it from the corpus
(and write it when --index is given), then start the chat loop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if indexPath == "" {
				indexPath = rt.cfg.Index.Path
			}
			dir := rt.corpusDir(corpus)
			orch, ix, err := rt.engine(ctx, indexPath, dir)
			if err != nil {
				return err
			}
			summary, err := service.Summary(ix, 1)
			if err != nil {
				return err
			}
			if plain {
				return tui.RunPlain(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), orch, summary)
			}

			var events <-chan ingest.Event
			if rt.cfg.Corpus.Watch {
				w, err := ingest.NewWatcher(ingest.NewLoader(rt.cfg.Corpus.Extensions, rt.log), rt.log)
				if err != nil {
					return err
				}
				defer w.Close()
				watchCtx, cancel := context.WithCancel(ctx)
				defer cancel()
				if events, err = w.Watch(watchCtx, dir); err != nil {
					rt.log.Warn("corpus watch disabled", "error", err)
				}
			}
			_, err = tea.NewProgram(tui.New(ctx, orch, summary, events), tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().StringVar(&corpus, "corpus", "", "corpus directory (default corpus.dir)")
	cmd.Flags().StringVar(&indexPath, "index", "", "persisted index file (default index.path)")
	cmd.Flags().BoolVar(&plain, "plain", false, "line-based prompt instead of the full-screen UI")
	return cmd
}

// engine opens the index and wires the orchestrator. A missing completion
// key fails here, before any question is asked.
func (rt *runtime) engine(ctx context.Context, indexPath, corpusDir string) (*answer.Orchestrator, *index.Index, error) {
	provider, err := service.NewProvider(rt.cfg)
	if err != nil {
		return nil, nil, err
	}
	ix, err := service.OpenIndex(ctx, rt.cfg, indexPath, corpusDir, rt.log)
	if err != nil {
		return nil, nil, err
	}
	orch, err := service.NewOrchestrator(rt.cfg, ix, provider, rt.log)
	if err != nil {
		return nil, nil, err
	}
	return orch, ix, nil
}
