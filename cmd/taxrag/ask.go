package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func askCmd(rt *runtime) *cobra.Command {
	var corpus, indexPath string
	cmd := &cobra.Command{
		Use:     "ask QUESTION",
		Short:   "Answer a single question and exit",
		Example: `  taxrag ask "What is the TDS rate for salary?"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if indexPath == "" {
				indexPath = rt.cfg.Index.Path
			}
			orch, _, err := rt.engine(cmd.Context(), indexPath, rt.corpusDir(corpus))
			if err != nil {
				return err
			}
			ans := orch.Answer(cmd.Context(), strings.Join(args, " "))
			fmt.Fprintf(cmd.ErrOrStderr(), "provenance: %s, completion calls: %d\n", ans.Provenance, ans.CompletionCalls)
			fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&corpus, "corpus", "", "corpus directory (default corpus.dir)")
	cmd.Flags().StringVar(&indexPath, "index", "", "persisted index file (default index.path)")
	return cmd
}
