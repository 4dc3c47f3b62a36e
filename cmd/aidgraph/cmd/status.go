package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/aidgraph/discovery"
	"github.com/dshills/aidgraph/graph"
	"github.com/dshills/aidgraph/graph/store"
)

var statusThread string

type threadStatus struct {
	ThreadID  string                  `json:"thread_id"`
	RunID     string                  `json:"run_id"`
	NextNode  string                  `json:"next_node,omitempty"`
	Suspended bool                    `json:"suspended"`
	Interrupt *graph.Interrupt        `json:"interrupt,omitempty"`
	Version   int64                   `json:"version"`
	UpdatedAt time.Time               `json:"updated_at"`
	State     discovery.WorkflowState `json:"state"`
	Steps     []store.StepRecord      `json:"steps"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a thread's latest checkpoint and step history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			cp, err := a.workflow.GetState(cmd.Context(), statusThread)
			if err != nil {
				return err
			}
			steps, err := a.workflow.History(cmd.Context(), statusThread)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), threadStatus{
				ThreadID:  cp.ThreadID,
				RunID:     cp.RunID,
				NextNode:  cp.NextNode,
				Suspended: cp.Suspended,
				Interrupt: cp.Interrupt,
				Version:   cp.Version,
				UpdatedAt: cp.UpdatedAt,
				State:     cp.State,
				Steps:     steps,
			})
		})
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusThread, "thread", "", "thread id (required)")
	_ = statusCmd.MarkFlagRequired("thread")
}
