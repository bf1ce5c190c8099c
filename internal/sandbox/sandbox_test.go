package sandbox

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireInterpreter(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available")
	}
}

func TestRunSuccess(t *testing.T) {
	requireInterpreter(t)
	r := New("python3", 10*time.Second)

	result, err := r.Run(context.Background(), `print("hello sandbox")`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success {
		t.Errorf("Expected success, got %+v", result)
	}
	if !strings.Contains(result.Stdout, "hello sandbox") {
		t.Errorf("Unexpected stdout: %q", result.Stdout)
	}
	if result.ExitCode != 0 {
		t.Errorf("Expected exit code 0, got %d", result.ExitCode)
	}
}

func TestRunFailure(t *testing.T) {
	requireInterpreter(t)
	r := New("python3", 10*time.Second)

	result, err := r.Run(context.Background(), `raise SystemExit("boom")`)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Success {
		t.Error("Expected failure")
	}
	if result.ExitCode == 0 {
		t.Error("Expected non-zero exit code")
	}
	if result.Error == "" {
		t.Error("Expected error to carry stderr")
	}
}

func TestRunTimeout(t *testing.T) {
	requireInterpreter(t)
	r := New("python3", 500*time.Millisecond)

	result, err := r.Run(context.Background(), `import time; time.sleep(30)`)
	if err != ErrTimeout {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if result == nil || result.Error != "timeout" {
		t.Errorf("Expected timeout result, got %+v", result)
	}
	if result.ExitCode != -1 {
		t.Errorf("Expected exit code -1, got %d", result.ExitCode)
	}
}
