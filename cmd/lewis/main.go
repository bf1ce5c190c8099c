package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lewis",
	Short: "lewis - multi-agent task orchestration",
	Long:  `lewis plans a goal into agent steps, executes them with checkpointed state, and reuses plans that scored well in the past.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr  string
	apiToken string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8600", "API server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("LEWIS_API_TOKEN"), "API bearer token")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
