package agents

import (
	"context"
	"strings"

	"github.com/lewisai/lewis/internal/llm"
)

// Perceptor derives actionable tasks from a high-level goal. Multi-line
// goals are split directly; single statements are decomposed by the LLM.
type Perceptor struct {
	client llm.Client
}

// NewPerceptor creates the Perceptor agent.
func NewPerceptor(client llm.Client) *Perceptor {
	return &Perceptor{client: client}
}

func (p *Perceptor) Name() string { return "Perceptor" }

func (p *Perceptor) Execute(ctx context.Context, ac Context) (*Response, error) {
	goal := ac.Goal
	if goal == "" {
		if prompt, ok := ac.Payload["prompt"].(string); ok {
			goal = prompt
		}
	}

	tasks, fallback := p.deriveTasks(ctx, goal)

	items := make([]interface{}, len(tasks))
	for i, task := range tasks {
		items[i] = task
	}
	output := map[string]interface{}{
		"tasks":      items,
		"task_count": len(tasks),
	}
	message := "Perception completed"
	if fallback {
		// Never block the pipeline: the raw goal passes through unchanged.
		output["fallback"] = true
		message = "Perception degraded, raw goal passed through"
	}
	return &Response{
		Success: true,
		Output:  output,
		Message: message,
	}, nil
}

// deriveTasks normalizes the goal into a task list. The bool return marks
// a fallback: provider failures pass the raw goal through instead of
// blocking the pipeline.
func (p *Perceptor) deriveTasks(ctx context.Context, goal string) ([]string, bool) {
	if goal == "" {
		return []string{"Clarify the user's goal."}, false
	}

	// Multi-line goals are already a task list
	tokens := splitLines(goal)
	if len(tokens) > 1 {
		return tokens, false
	}

	prompt := "You are the Perceptor agent. Given the following goal, produce a concise " +
		"ordered list of 3-5 high-level tasks. Use short imperative phrases.\n\nGoal:\n" + goal
	response, err := p.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.3})
	if err != nil {
		return []string{goal}, true
	}

	cleaned := splitLines(response)
	if len(cleaned) == 0 {
		cleaned = []string{goal}
	}
	if len(cleaned) > 5 {
		cleaned = cleaned[:5]
	}
	return cleaned, false
}

func splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•* "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
