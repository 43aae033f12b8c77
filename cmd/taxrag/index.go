package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"taxrag/internal/service"
)

func indexCmd(rt *runtime) *cobra.Command {
	var corpus, out string
	cmd := &cobra.Command{
		Use:     "index",
		Short:   "Ingest the corpus, build the embedding index and write it to disk",
		Example: `  taxrag index --corpus data --out taxrag.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				out = rt.cfg.Index.Path
			}
			if out == "" {
				return fmt.Errorf("no output path: pass --out or set index.path")
			}
			ix, err := service.BuildIndex(cmd.Context(), rt.cfg, rt.corpusDir(corpus), rt.log)
			if err != nil {
				return err
			}
			if err := ix.Persist(cmd.Context(), out); err != nil {
				return fmt.Errorf("persist index: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d chunks into %s\n", ix.Len(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&corpus, "corpus", "", "corpus directory (default corpus.dir)")
	cmd.Flags().StringVar(&out, "out", "", "index file to write (default index.path)")
	return cmd
}
