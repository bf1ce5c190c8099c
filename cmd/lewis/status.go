package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and queue status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if err != nil {
		if health == nil {
			return err
		}
		fmt.Printf("Daemon:  degraded (%s)\n", health.DB)
	} else {
		fmt.Printf("Daemon:  ok (version %s)\n", health.Version)
	}

	resp, err := apiGet("/queue/status")
	if err != nil {
		return err
	}

	var status map[string]interface{}
	if err := json.Unmarshal(resp, &status); err != nil {
		return err
	}

	fmt.Printf("Queue:   %v queued, %v dead-lettered\n", status["queue_depth"], status["dead_letters"])
	if workers, ok := status["active_workers"]; ok {
		fmt.Printf("Workers: %v of %v active\n", workers, status["global_max"])
	}
	return nil
}
