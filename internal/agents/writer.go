package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/sandbox"
	"github.com/lewisai/lewis/internal/storage"
)

// Writer generates code or text for a step and validates it in the
// sandbox. It is the default executor for steps no specialist claims.
type Writer struct {
	client  llm.Client
	runner  *sandbox.Runner
	objects storage.ObjectStore
}

// NewWriter creates the Writer agent.
func NewWriter(client llm.Client, runner *sandbox.Runner, objects storage.ObjectStore) *Writer {
	return &Writer{client: client, runner: runner, objects: objects}
}

func (w *Writer) Name() string { return "Writer" }

func (w *Writer) Execute(ctx context.Context, ac Context) (*Response, error) {
	instructions := stringPayload(ac.Payload, "task")
	if instructions == "" {
		instructions = ac.Goal
	}

	code, err := w.generateCode(ctx, instructions, ac)
	if err != nil {
		return nil, err
	}

	var result *sandbox.Result
	if boolPayload(ac.Payload, "run_in_sandbox", true) {
		result, err = w.runner.Run(ctx, code)
		if err != nil && err != sandbox.ErrTimeout {
			return nil, err
		}
	}

	output := map[string]interface{}{"code": code}
	if result != nil {
		output["sandbox"] = result
	}

	var artifacts []Artifact
	if boolPayload(ac.Payload, "persist_code", false) {
		uri, err := w.objects.Put(ac.TaskID+"/writer_step.py", []byte(code))
		if err != nil {
			return nil, fmt.Errorf("persist code: %w", err)
		}
		artifacts = append(artifacts, Artifact{
			URI:         uri,
			Description: "Generated code artifact",
			MediaType:   "text/x-python",
		})
	}

	// Report-style steps succeed once the text is generated even if the
	// sandbox run fails; executable steps require a clean run.
	success := true
	if !isReportTask(instructions) && result != nil && !result.Success {
		success = false
	}

	return &Response{
		Success:   success,
		Output:    output,
		Message:   "Writer execution completed",
		Artifacts: artifacts,
	}, nil
}

func (w *Writer) generateCode(ctx context.Context, instructions string, ac Context) (string, error) {
	if override := stringPayload(ac.Payload, "code_override"); override != "" {
		return override, nil
	}

	// Steps that run code produced earlier reuse it verbatim.
	if prior := priorCode(ac.PriorOutputs); prior != "" {
		lowered := strings.ToLower(instructions)
		if containsAny(lowered, "run", "execute", "compile", "interpret") {
			return prior, nil
		}
	}

	prompt := "You are the Writer agent. Generate Python code to accomplish the task below. " +
		"Ensure the code is self-contained (standard library only unless otherwise noted) and " +
		"return the code inside a markdown code block in the format ```python ... ```.\nTask: " + instructions
	if summary := researchSummary(ac.PriorOutputs); summary != "" {
		prompt += "\n\nResearch Insights (use these findings):\n" + summary
	}

	response, err := w.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.1})
	if err != nil {
		return "", err
	}

	if code := extractCodeBlock(response); code != "" {
		return code, nil
	}
	// Model did not return a block: keep the step executable anyway.
	return fmt.Sprintf("print(%q)", "Task description: "+instructions), nil
}

func isReportTask(instructions string) bool {
	return containsAny(strings.ToLower(instructions), "report", "analysis", "analyze", "summary")
}

func priorCode(priorOutputs map[string]interface{}) string {
	out, ok := priorOutputs["writer"].(map[string]interface{})
	if !ok {
		return ""
	}
	code, _ := out["code"].(string)
	return strings.TrimSpace(code)
}

func researchSummary(priorOutputs map[string]interface{}) string {
	out, ok := priorOutputs["researcher"].(map[string]interface{})
	if !ok {
		return ""
	}
	summary, _ := out["summary"].(string)
	return summary
}

// extractCodeBlock returns the contents of the first fenced code block.
func extractCodeBlock(response string) string {
	var lines []string
	record := false
	for _, line := range strings.Split(response, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			record = !record
			continue
		}
		if record {
			lines = append(lines, line)
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stringPayload(payload map[string]interface{}, key string) string {
	if payload == nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}

func boolPayload(payload map[string]interface{}, key string, fallback bool) bool {
	if payload == nil {
		return fallback
	}
	if v, ok := payload[key].(bool); ok {
		return v
	}
	return fallback
}
