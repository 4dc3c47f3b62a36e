package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dshills/aidgraph/discovery"
)

var (
	runUser          string
	runRunID         string
	runSensitiveBand bool
	runScheduled     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a discovery run for a user",
	Example: `  aidgraph run --user 42
  aidgraph run --user 42 --sensitive-band
  aidgraph run --user 42 --scheduled`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			out, err := a.workflow.Start(cmd.Context(), runUser, discovery.RunConfig{
				RunID:             runRunID,
				SensitiveBandMode: runSensitiveBand,
				Scheduled:         runScheduled,
			})
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), out, a.costs.RunCost(out.RunID))
		})
	},
}

var continueThread string

var continueCmd = &cobra.Command{
	Use:   "continue",
	Short: "Finish a run that stopped before completing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			out, err := a.workflow.Invoke(cmd.Context(), nil, discovery.RunConfig{ThreadID: continueThread})
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), out, a.costs.RunCost(out.RunID))
		})
	},
}

var retryThread string

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-run a faulted run from the node that failed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			out, err := a.workflow.Retry(cmd.Context(), retryThread)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), out, a.costs.RunCost(out.RunID))
		})
	},
}

func init() {
	runCmd.Flags().StringVar(&runUser, "user", "", "user id (required)")
	runCmd.Flags().StringVar(&runRunID, "run-id", "", "run id (default: generated)")
	runCmd.Flags().BoolVar(&runSensitiveBand, "sensitive-band", false, "ask to include the SAI band in the search")
	runCmd.Flags().BoolVar(&runScheduled, "scheduled", false, "re-prioritize the existing plan without searching")
	_ = runCmd.MarkFlagRequired("user")

	continueCmd.Flags().StringVar(&continueThread, "thread", "", "thread id (required)")
	_ = continueCmd.MarkFlagRequired("thread")
	rootCmd.AddCommand(continueCmd)

	retryCmd.Flags().StringVar(&retryThread, "thread", "", "thread id (required)")
	_ = retryCmd.MarkFlagRequired("thread")
	rootCmd.AddCommand(retryCmd)
}

func printOutcome(w io.Writer, out discovery.Outcome, cost float64) error {
	if out.Suspended() {
		fmt.Fprintf(w, "thread %s is waiting for a decision (%s)\n", out.ThreadID, out.Interrupt.Type)
		fmt.Fprintf(w, "  %s\n", out.Interrupt.Message)
		fmt.Fprintf(w, "answer with: aidgraph resume --thread %s --approve|--deny\n", out.ThreadID)
		return nil
	}

	fmt.Fprintf(w, "thread %s run %s finished at %s\n", out.ThreadID, out.RunID, out.State.LastActiveNode)
	for _, m := range out.State.ActiveMilestones {
		fmt.Fprintf(w, "  %d. %s (score %.2f) %s\n", m.Rank, m.Title, m.Score, m.Action)
	}
	// The error log spans every run on the thread; only a run that ended in
	// Recovery has a fault of its own, and it is the last entry.
	if n := len(out.State.ErrorLog); n > 0 && out.State.LastActiveNode == discovery.NodeRecovery {
		e := out.State.ErrorLog[n-1]
		fmt.Fprintf(w, "  error in %s: %s\n", e.Node, e.Message)
	}
	if n := len(out.State.Messages); n > 0 {
		fmt.Fprintf(w, "  > %s\n", out.State.Messages[n-1].Content)
	}
	if cost > 0 {
		fmt.Fprintf(w, "  search cost: $%.4f\n", cost)
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
