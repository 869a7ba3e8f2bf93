package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Resume executing runs and fail runs interrupted mid-planning",
	RunE:  runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(_ *cobra.Command, _ []string) error {
	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	eng.Orchestrator.RecoverActiveRuns(context.Background())
	return nil
}
