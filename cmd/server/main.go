package main

import (
	"fmt"
	"os"

	"task-lifecycle-api/internal/config"

	"github.com/spf13/cobra"
)

var flagConfig string

func main() {
	rootCmd := &cobra.Command{
		Use:   "task-lifecycle-api",
		Short: "Task board API with WIP limits, backlog ordering and time estimates",
		// bare invocation starts the server
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to a YAML config file (env TASK_API_* overrides it)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(velocityCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	return config.Load(flagConfig)
}
