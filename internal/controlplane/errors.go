package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskTerminal = errors.New("task already finished")
	ErrEmptyGoal    = errors.New("goal must not be empty")
)
