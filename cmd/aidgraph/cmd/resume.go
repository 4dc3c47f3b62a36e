package cmd

import (
	"github.com/spf13/cobra"
)

var (
	resumeThread  string
	resumeApprove bool
	resumeDeny    bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Answer a pending SAI confirmation",
	Example: `  aidgraph resume --thread user_42 --approve
  aidgraph resume --thread user_42 --deny`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			out, err := a.workflow.Resume(cmd.Context(), resumeThread, resumeApprove && !resumeDeny)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), out, a.costs.RunCost(out.RunID))
		})
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeThread, "thread", "", "thread id (required)")
	resumeCmd.Flags().BoolVar(&resumeApprove, "approve", false, "share the SAI band")
	resumeCmd.Flags().BoolVar(&resumeDeny, "deny", false, "search without the SAI band")
	_ = resumeCmd.MarkFlagRequired("thread")
	resumeCmd.MarkFlagsMutuallyExclusive("approve", "deny")
	resumeCmd.MarkFlagsOneRequired("approve", "deny")
}
