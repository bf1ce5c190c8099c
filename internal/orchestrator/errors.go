package orchestrator

import "fmt"

// ErrTaskNotFound indicates the referenced task does not exist.
var ErrTaskNotFound = fmt.Errorf("task not found")

// ErrTaskTerminal indicates an operation on a task that already reached a
// terminal state.
var ErrTaskTerminal = fmt.Errorf("task already in a terminal state")
