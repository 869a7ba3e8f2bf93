package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runPlanFirst bool

var runCmd = &cobra.Command{
	Use:   "run [prompt...]",
	Short: "Submit a task and execute it against the workspace",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runPlanFirst, "plan", false,
		"run the PLAN phase first and stop for review instead of executing directly")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	prompt := strings.Join(args, " ")
	task, err := eng.Orchestrator.SubmitTask(context.Background(), prompt)
	if err != nil {
		return err
	}

	if runPlanFirst {
		if err := eng.Orchestrator.StartPlanning(task); err != nil {
			return err
		}
		eng.Orchestrator.Wait(task.ID)
		fmt.Fprintf(cmd.OutOrStdout(), "Task %s is awaiting review.\n", task.ID)
		return nil
	}

	if err := eng.Orchestrator.StartTask(task); err != nil {
		return err
	}
	eng.Orchestrator.Wait(task.ID)

	final, err := eng.Store.GetTask(context.Background(), task.ID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Task %s finished with status: %s\n", final.ID, final.Status)
	return nil
}
