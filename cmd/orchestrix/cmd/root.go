// Package cmd implements the orchestrix CLI.
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orchestrix-dev/orchestrix/internal/config"
	"github.com/orchestrix-dev/orchestrix/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	workspace string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	cfg    *config.Config
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "orchestrix",
	Short: "Local LLM-agent orchestrator with worktree-isolated sub-agents",
	Long: `orchestrix drives a language model through a two-phase (PLAN -> BUILD)
cooperative loop. The model issues structured tool calls against a sandboxed
workspace and may delegate focused sub-objectives to parallel child agents
working in isolated git worktrees whose results are merged back under
conflict detection.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		return initConfig()
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion records build metadata for the version command.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .orchestrix/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "",
		"workspace root the task operates on (default: current directory)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("workspace_root", rootCmd.PersistentFlags().Lookup("workspace"))
}

func initConfig() error {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}

	loaded, err := loader.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	logger = logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	return nil
}
