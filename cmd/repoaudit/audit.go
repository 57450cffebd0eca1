package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"repoaudit/internal/llm"
	"repoaudit/internal/pipeline"
	"repoaudit/internal/repo"
	"repoaudit/internal/trace"
	"repoaudit/internal/types"
)

var errDeclined = errors.New("audit cancelled")

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func (c *cli) auditCommand() *cobra.Command {
	var (
		assumeYes bool
		output    string
	)
	cmd := &cobra.Command{
		Use:   "audit <repo>",
		Short: "Run the full audit and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output = strings.ToLower(strings.TrimSpace(output))
			if output != outputJSON && output != outputYAML {
				return fmt.Errorf("unsupported output %q (want json or yaml)", output)
			}
			ref, err := repo.Parse(args[0])
			if err != nil {
				return err
			}
			comps, err := c.components()
			if err != nil {
				return err
			}
			defer func() { _ = comps.Logger.Sync() }()

			ctx := cmd.Context()
			st, err := comps.Stats.Estimate(ctx, ref)
			if err != nil {
				return err
			}
			printStats(c.errOut, ref, st)

			if !assumeYes {
				ok, err := confirm(c.in, c.errOut, "Start audit? [y/N]: ")
				if err != nil {
					return err
				}
				if !ok {
					return errDeclined
				}
			}

			runID := fmt.Sprintf("cli-%d", time.Now().UnixNano())
			emit := pipeline.MultiEmitter{
				pipeline.EmitterFunc(func(ev pipeline.Event) {
					fmt.Fprintf(c.errOut, "[%3d%%] %s\n", ev.Percent, ev.LogLine)
				}),
				trace.RunEmitter{Logger: comps.Traces, RunID: runID},
			}
			ctx = llm.WithHook(ctx, trace.ModelHook{Logger: comps.Traces, RunID: runID})

			rep, runErr := comps.Orchestrator.Run(ctx, ref, st, emit)
			if comps.Archive != nil {
				if err := trace.Flush(ctx, comps.Traces, comps.Archive, runID); err != nil {
					fmt.Fprintf(c.errOut, "warning: trace archive failed: %v\n", err)
				}
			}
			if runErr != nil {
				return runErr
			}
			fmt.Fprintln(c.errOut, findingsLine(rep))
			return writeReport(c.out, rep, output)
		},
	}
	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt.")
	cmd.Flags().StringVarP(&output, "output", "o", outputJSON, "Report format: json or yaml.")
	return cmd
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

// findingsLine renders the per-severity tally, e.g. "Findings: 1 Critical, 3 Warning, 2 Info".
func findingsLine(rep types.RepoReport) string {
	counts := rep.CountBySeverity()
	parts := make([]string, 0, len(types.Severities))
	for _, sev := range types.Severities {
		parts = append(parts, fmt.Sprintf("%d %s", counts[sev], sev))
	}
	return "Findings: " + strings.Join(parts, ", ")
}

func writeReport(w io.Writer, rep types.RepoReport, format string) error {
	if format == outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rep); err != nil {
			return err
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
