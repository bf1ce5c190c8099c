package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lewisai/lewis/internal/llm"
)

// Critic evaluates produced work. The verdict is read from the requested
// JSON field when the model returns one; free-text responses fall back to
// keyword matching. Each recorded step failure lowers the score.
type Critic struct {
	client llm.Client
}

// NewCritic creates the Critic agent.
func NewCritic(client llm.Client) *Critic {
	return &Critic{client: client}
}

func (c *Critic) Name() string { return "Critic" }

func (c *Critic) Execute(ctx context.Context, ac Context) (*Response, error) {
	summary := stringPayload(ac.Payload, "summary")
	if summary == "" {
		summary = ac.Goal
	}

	prompt := "You are the Critic agent. Evaluate the provided summary for completeness, " +
		"correctness, and adherence to the checklist. Respond with JSON containing " +
		"fields: verdict (approve/request_changes), score (0-1), issues (list of strings), " +
		"and recommendations (list of strings).\n\nSummary:\n" + summary
	response, err := c.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.1})
	if err != nil {
		return nil, err
	}

	verdict := parseVerdict(response, prompt)
	score := 0.3
	if verdict == "approve" {
		score = 0.8
	}

	// Failed-step markers from the execution loop cap the final grade.
	failedSteps := intPayload(ac.Payload, "failed_steps")
	if failedSteps > 0 {
		score -= 0.1 * float64(failedSteps)
		if score < 0 {
			score = 0
		}
	}

	var issues []interface{}
	if verdict != "approve" {
		issues = append(issues, "LLM critique requested changes.")
	}
	if failedSteps > 0 {
		issues = append(issues, fmt.Sprintf("%d plan step(s) failed during execution.", failedSteps))
	}

	return &Response{
		Success: true,
		Output: map[string]interface{}{
			"verdict":      verdict,
			"score":        score,
			"issues":       issues,
			"raw_response": response,
		},
		Message: "Critique completed",
	}, nil
}

var verdictField = regexp.MustCompile(`"verdict"\s*:\s*"(approve|request_changes)"`)

// parseVerdict reads the verdict out of a critique response. A structured
// JSON field wins; free text falls back to keyword matching, skipping
// occurrences that merely quote the prompt's own instructions back.
func parseVerdict(response, prompt string) string {
	if m := verdictField.FindStringSubmatch(response); m != nil {
		return m[1]
	}
	if containsOutsideEcho(response, prompt, "approve") {
		return "approve"
	}
	return "request_changes"
}

// containsOutsideEcho reports whether keyword occurs in response with
// surrounding text that is not a verbatim quote of the prompt.
func containsOutsideEcho(response, prompt, keyword string) bool {
	lowResp := strings.ToLower(response)
	lowPrompt := strings.ToLower(prompt)
	for idx := 0; ; idx++ {
		rel := strings.Index(lowResp[idx:], keyword)
		if rel < 0 {
			return false
		}
		idx += rel
		start := idx - 16
		if start < 0 {
			start = 0
		}
		end := idx + len(keyword) + 16
		if end > len(lowResp) {
			end = len(lowResp)
		}
		if !strings.Contains(lowPrompt, lowResp[start:end]) {
			return true
		}
	}
}

func intPayload(payload map[string]interface{}, key string) int {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}
