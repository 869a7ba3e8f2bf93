package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	approvalsTaskID string
	approvalDeny    bool
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Inspect and resolve pending approval requests",
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests",
	RunE:  runApprovalsList,
}

var approvalsResolveCmd = &cobra.Command{
	Use:   "resolve <approval-id>",
	Short: "Approve or deny a pending request",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprovalsResolve,
}

func init() {
	approvalsListCmd.Flags().StringVar(&approvalsTaskID, "task", "", "filter by task id")
	approvalsResolveCmd.Flags().BoolVar(&approvalDeny, "deny", false, "deny instead of approve")
	approvalsCmd.AddCommand(approvalsListCmd, approvalsResolveCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func runApprovalsList(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pending := eng.Orchestrator.ListPendingApprovals(approvalsTaskID)
	if len(pending) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending approvals.")
		return nil
	}
	for _, request := range pending {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s\n",
			request.ID, request.ToolName, request.Scope, request.Reason)
	}
	return nil
}

func runApprovalsResolve(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	request, err := eng.Orchestrator.ResolveApproval(args[0], !approvalDeny)
	if err != nil {
		return err
	}
	verdict := "approved"
	if approvalDeny {
		verdict = "denied"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s (scope: %s)\n", verdict, request.ID, request.Scope)
	return nil
}
