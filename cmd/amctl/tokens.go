package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/answer-machine/internal/models"
	"github.com/Kocoro-lab/answer-machine/internal/pricing"
	"github.com/Kocoro-lab/answer-machine/internal/tokens"
)

func newTokensCmd(configPath *string) *cobra.Command {
	var (
		runID  string
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "Show token usage and cost of a run by query type",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return errors.New("--run is required")
			}
			client, cfg, err := openStore(*configPath)
			if err != nil {
				return err
			}
			defer client.Close()

			table, err := pricing.Load(cfg.Pricing.Path)
			if err != nil {
				table = pricing.NewTable()
			}
			acct := tokens.NewAccountant(client, table, nil)
			ctx := cmd.Context()
			totals, err := acct.Aggregate(ctx, runID)
			if err != nil {
				return err
			}
			breakdown, err := acct.BreakdownByType(ctx, runID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, map[string]any{"run_id": runID, "totals": totals, "by_type": breakdown})
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tCALLS\tPROMPT\tCOMPLETION\tREASONING\tTOTAL\tCOST_USD")
			for _, qt := range models.AllQueryTypes {
				s, ok := breakdown[qt]
				if !ok {
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%.6f\n",
					qt, s.Count, s.PromptTokens, s.CompletionTokens, s.ReasoningTokens, s.TotalTokens, s.CostUSD)
			}
			fmt.Fprintf(tw, "total\t\t%d\t%d\t%d\t%d\t%.6f\n",
				totals.PromptTokens, totals.CompletionTokens, totals.ReasoningTokens, totals.TotalTokens, totals.CostUSD)
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
