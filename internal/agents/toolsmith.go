package agents

import (
	"context"
	"fmt"

	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/sandbox"
	"github.com/lewisai/lewis/internal/storage"
)

// ToolSmith generates reusable utility code on demand and validates it in
// the sandbox when the step supplies a test snippet.
type ToolSmith struct {
	client  llm.Client
	runner  *sandbox.Runner
	objects storage.ObjectStore
}

// NewToolSmith creates the ToolSmith agent.
func NewToolSmith(client llm.Client, runner *sandbox.Runner, objects storage.ObjectStore) *ToolSmith {
	return &ToolSmith{client: client, runner: runner, objects: objects}
}

func (t *ToolSmith) Name() string { return "ToolSmith" }

func (t *ToolSmith) Execute(ctx context.Context, ac Context) (*Response, error) {
	spec := stringPayload(ac.Payload, "tool_spec")
	if spec == "" {
		spec = stringPayload(ac.Payload, "task")
	}
	if spec == "" {
		spec = ac.Goal
	}

	code, err := t.generateTool(ctx, spec)
	if err != nil {
		return nil, err
	}

	success := true
	output := map[string]interface{}{"code": code}
	if snippet := stringPayload(ac.Payload, "test_snippet"); snippet != "" {
		combined := code + "\n\nif __name__ == '__main__':\n" + snippet
		result, err := t.runner.Run(ctx, combined)
		if err != nil && err != sandbox.ErrTimeout {
			return nil, err
		}
		output["test"] = result
		success = result != nil && result.Success
	}

	var artifacts []Artifact
	if boolPayload(ac.Payload, "persist_tool", false) {
		name := stringPayload(ac.Payload, "tool_name")
		if name == "" {
			name = "tool"
		}
		uri, err := t.objects.Put(fmt.Sprintf("%s/tools/%s.py", ac.TaskID, name), []byte(code))
		if err != nil {
			return nil, fmt.Errorf("persist tool: %w", err)
		}
		artifacts = append(artifacts, Artifact{
			URI:         uri,
			Description: "Generated tool",
			MediaType:   "text/x-python",
		})
	}

	message := "ToolSmith generated tool"
	if !success {
		message = "ToolSmith encountered errors"
	}
	return &Response{
		Success:   success,
		Output:    output,
		Message:   message,
		Artifacts: artifacts,
	}, nil
}

func (t *ToolSmith) generateTool(ctx context.Context, spec string) (string, error) {
	prompt := "Create a reusable Python utility function matching the specification below. " +
		"Ensure it is pure and contains docstrings.\nSpecification: " + spec
	response, err := t.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.2})
	if err != nil {
		return "", err
	}
	if code := extractCodeBlock(response); code != "" {
		return code, nil
	}
	return "def generated_tool(*args, **kwargs):\n    \"\"\"Fallback tool.\"\"\"\n    return None\n", nil
}
