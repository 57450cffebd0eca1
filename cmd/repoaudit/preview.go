package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"repoaudit/internal/repo"
	"repoaudit/internal/types"
)

func (c *cli) previewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <repo>",
		Short: "Estimate files, tokens and dominant language without fetching sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := repo.Parse(args[0])
			if err != nil {
				return err
			}
			comps, err := c.preflight()
			if err != nil {
				return err
			}
			defer func() { _ = comps.Logger.Sync() }()

			st, err := comps.Stats.Estimate(cmd.Context(), ref)
			if err != nil {
				return err
			}
			printStats(c.out, ref, st)
			return nil
		},
	}
}

func printStats(w io.Writer, ref repo.Reference, st types.AuditStats) {
	fmt.Fprintf(w, "Repository:     %s\n", ref)
	fmt.Fprintf(w, "Files (est.):   %d\n", st.FileCountEstimate)
	fmt.Fprintf(w, "Token volume:   %s\n", st.TokenVolumeLabel)
	fmt.Fprintf(w, "Language:       %s (%d%%)\n", st.DominantLanguage, st.DominantLanguagePercent)
}
