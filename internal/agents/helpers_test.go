package agents

import (
	"testing"
	"time"

	"github.com/lewisai/lewis/internal/sandbox"
	"github.com/lewisai/lewis/internal/storage"
)

func newTestObjects(t *testing.T) storage.ObjectStore {
	t.Helper()
	s, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create object store: %v", err)
	}
	return s
}

// newNoopRunner returns a runner for tests that never reach the sandbox.
func newNoopRunner() *sandbox.Runner {
	return sandbox.New("python3", time.Second)
}
