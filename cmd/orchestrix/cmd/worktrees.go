package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var worktreesCmd = &cobra.Command{
	Use:   "worktrees",
	Short: "Inspect and clean up sub-agent worktrees",
}

var worktreesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sub-agent worktrees",
	RunE:  runWorktreesList,
}

var worktreesPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stale orchestrix/* branches with no active worktree",
	RunE:  runWorktreesPrune,
}

func init() {
	worktreesCmd.AddCommand(worktreesListCmd, worktreesPruneCmd)
	rootCmd.AddCommand(worktreesCmd)
}

func runWorktreesList(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	active := eng.Orchestrator.Runtime().Worktrees.ListActive()
	if len(active) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No active worktrees.")
		return nil
	}
	for _, info := range active {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  run=%s  strategy=%s  branch=%s  %s\n",
			info.SubAgentID, info.RunID, info.Strategy, info.Branch, info.Path)
	}
	return nil
}

func runWorktreesPrune(cmd *cobra.Command, _ []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pruned, err := eng.Orchestrator.Runtime().Worktrees.PruneStale(context.Background(), cfg.WorkspaceRoot)
	if err != nil {
		return err
	}
	if len(pruned) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to prune.")
		return nil
	}
	for _, branch := range pruned {
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %s\n", branch)
	}
	return nil
}
