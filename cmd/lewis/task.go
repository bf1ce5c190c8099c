package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskSubmitCmd = &cobra.Command{
	Use:   "submit [goal]",
	Short: "Submit a goal for execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskSubmit,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskEventsCmd = &cobra.Command{
	Use:   "events [task-id]",
	Short: "Show the task event log",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskEvents,
}

var taskArtifactsCmd = &cobra.Command{
	Use:   "artifacts [task-id]",
	Short: "List task artifacts",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskArtifacts,
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Request task cancellation",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskCancel,
}

var (
	taskName      string
	taskStatus    string
	taskSync      bool
	taskIterLimit int
	taskNoReuse   bool
)

func init() {
	taskCmd.AddCommand(taskSubmitCmd, taskListCmd, taskShowCmd, taskEventsCmd, taskArtifactsCmd, taskCancelCmd)

	taskSubmitCmd.Flags().StringVar(&taskName, "name", "", "Task name (defaults to the goal)")
	taskSubmitCmd.Flags().BoolVar(&taskSync, "sync", false, "Wait for the task to finish instead of queueing it")
	taskSubmitCmd.Flags().IntVar(&taskIterLimit, "recursion-limit", 0, "Iteration ceiling for this task (0 = server default)")
	taskSubmitCmd.Flags().BoolVar(&taskNoReuse, "no-case-reuse", false, "Plan from scratch instead of adapting a stored case")

	taskListCmd.Flags().StringVar(&taskStatus, "status", "", "Filter by status (created, running, suspended, completed, failed)")
}

func runTaskSubmit(cmd *cobra.Command, args []string) error {
	body := map[string]interface{}{
		"goal": args[0],
		"name": taskName,
		"sync": taskSync,
	}
	if taskIterLimit > 0 {
		body["recursion_limit"] = taskIterLimit
	}
	if taskNoReuse {
		body["case_reuse"] = false
	}

	resp, err := apiPost("/tasks", body)
	if err != nil {
		return err
	}

	var task map[string]interface{}
	if err := json.Unmarshal(resp, &task); err != nil {
		return err
	}

	fmt.Printf("Task %s (%s)\n", task["id"], task["status"])
	if taskSync {
		if score, ok := task["score"].(float64); ok {
			fmt.Printf("Score: %.2f\n", score)
		}
	}
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	url := "/tasks"
	if taskStatus != "" {
		url += "?status=" + taskStatus
	}

	resp, err := apiGet(url)
	if err != nil {
		return err
	}

	var tasks []map[string]interface{}
	if err := json.Unmarshal(resp, &tasks); err != nil {
		return err
	}

	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tITERATIONS\tSCORE")
	for _, t := range tasks {
		id := truncateID(t["id"].(string))
		name := truncate(t["name"].(string), 40)
		status := t["status"].(string)
		iterations := 0
		if n, ok := t["iterations"].(float64); ok {
			iterations = int(n)
		}
		score := ""
		if sc, ok := t["score"].(float64); ok {
			score = fmt.Sprintf("%.2f", sc)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", id, name, status, iterations, score)
	}
	w.Flush()
	return nil
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0])
	if err != nil {
		return err
	}

	var detail struct {
		Task   map[string]interface{}   `json:"task"`
		Events []map[string]interface{} `json:"events"`
	}
	if err := json.Unmarshal(resp, &detail); err != nil {
		return err
	}
	task := detail.Task

	fmt.Printf("ID:         %s\n", task["id"])
	fmt.Printf("Name:       %s\n", task["name"])
	fmt.Printf("Goal:       %s\n", task["goal"])
	fmt.Printf("Status:     %s\n", task["status"])
	if n, ok := task["iterations"].(float64); ok {
		fmt.Printf("Iterations: %.0f\n", n)
	}
	if score, ok := task["score"].(float64); ok {
		fmt.Printf("Score:      %.2f\n", score)
	}
	if lastErr, ok := task["last_error"].(map[string]interface{}); ok {
		fmt.Printf("Error:      %s: %s\n", lastErr["kind"], lastErr["message"])
	}
	fmt.Printf("Created:    %s\n", task["created_at"])
	fmt.Printf("Updated:    %s\n", task["updated_at"])
	fmt.Printf("Events:     %d\n", len(detail.Events))

	return nil
}

func runTaskEvents(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/events")
	if err != nil {
		return err
	}

	var events []map[string]interface{}
	if err := json.Unmarshal(resp, &events); err != nil {
		return err
	}

	if len(events) == 0 {
		fmt.Println("No events found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tKIND\tSOURCE\tMESSAGE")
	for _, ev := range events {
		seq := 0
		if n, ok := ev["seq"].(float64); ok {
			seq = int(n)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", seq, ev["kind"], ev["source"], truncate(fmt.Sprintf("%v", ev["message"]), 80))
	}
	w.Flush()
	return nil
}

func runTaskArtifacts(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/tasks/" + args[0] + "/artifacts")
	if err != nil {
		return err
	}

	var artifacts []map[string]interface{}
	if err := json.Unmarshal(resp, &artifacts); err != nil {
		return err
	}

	if len(artifacts) == 0 {
		fmt.Println("No artifacts found")
		return nil
	}

	for _, a := range artifacts {
		fmt.Printf("%s\t%s\n", a["uri"], a["description"])
	}
	return nil
}

func runTaskCancel(cmd *cobra.Command, args []string) error {
	if _, err := apiPost("/tasks/"+args[0]+"/cancel", map[string]string{}); err != nil {
		return err
	}

	fmt.Printf("Cancellation requested for task %s\n", args[0])
	return nil
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
