// Package sandbox executes generated code in an isolated subprocess with a
// hard timeout. The ToolSmith agent uses it to validate utilities before
// their output is folded into a task.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Result is the captured outcome of one sandboxed execution.
type Result struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// ErrTimeout indicates the subprocess exceeded the configured deadline and
// was killed.
var ErrTimeout = fmt.Errorf("sandbox execution timed out")

// Runner executes code snippets via a configured interpreter.
type Runner struct {
	interpreter string
	timeout     time.Duration
}

// New creates a Runner. Interpreter defaults to python3, timeout to 30s.
func New(interpreter string, timeout time.Duration) *Runner {
	if interpreter == "" {
		interpreter = "python3"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Runner{interpreter: interpreter, timeout: timeout}
}

// Run writes code to a temp file and executes it under the interpreter.
// A non-zero exit is reported through Result, not an error; the error
// return covers infrastructure faults and ErrTimeout.
func (r *Runner) Run(ctx context.Context, code string) (*Result, error) {
	tmpDir, err := os.MkdirTemp("", "lewis-sandbox-*")
	if err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	codePath := filepath.Join(tmpDir, "sandbox_exec.py")
	if err := os.WriteFile(codePath, []byte(code), 0600); err != nil {
		return nil, fmt.Errorf("write sandbox code: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.interpreter, codePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return &Result{
			Success:  false,
			Stderr:   "Execution timed out",
			ExitCode: -1,
			Error:    "timeout",
		}, ErrTimeout
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("exec error: %w", err)
		}
	}

	result := &Result{
		Success:  exitCode == 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}
	if !result.Success {
		result.Error = strings.TrimSpace(result.Stderr)
	}
	return result, nil
}
