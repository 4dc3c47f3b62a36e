package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/aidgraph/discovery"
)

var (
	refreshUsers []string
	refreshAll   bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-prioritize saved plans with scheduled runs",
	Example: `  aidgraph refresh --users 42,7
  aidgraph refresh --all`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			users := refreshUsers
			if refreshAll {
				ids, err := a.profiles.List()
				if err != nil {
					return err
				}
				users = ids
			}
			if len(users) == 0 {
				return errors.New("no users to refresh")
			}

			r := discovery.NewRefresher(a.workflow, discovery.RefreshConfig{
				Concurrency: cfg.Refresh.Concurrency,
				BatchDelay:  cfg.Refresh.BatchDelay,
			}, logger)
			results, err := r.RefreshAll(cmd.Context(), users)

			w := cmd.OutOrStdout()
			for _, res := range results {
				switch {
				case res.Err != nil:
					fmt.Fprintf(w, "%-12s failed: %v\n", res.UserID, res.Err)
				case res.Outcome.Suspended():
					fmt.Fprintf(w, "%-12s waiting for confirmation\n", res.UserID)
				default:
					fmt.Fprintf(w, "%-12s %d milestones\n", res.UserID, len(res.Outcome.State.ActiveMilestones))
				}
			}
			return err
		})
	},
}

func init() {
	refreshCmd.Flags().StringSliceVar(&refreshUsers, "users", nil, "comma-separated user ids")
	refreshCmd.Flags().BoolVar(&refreshAll, "all", false, "refresh every user with a profile file")
	refreshCmd.MarkFlagsMutuallyExclusive("users", "all")
	refreshCmd.MarkFlagsOneRequired("users", "all")
}
