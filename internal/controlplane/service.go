// Package controlplane provides the HTTP API and service layer for the
// lewis daemon.
package controlplane

import (
	"context"
	"errors"
	"strings"

	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/orchestrator"
	"github.com/lewisai/lewis/internal/store"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

// StatsProvider exposes worker pool statistics. The scheduler implements
// it; a nil provider means the daemon runs without async workers.
type StatsProvider interface {
	GetStats() map[string]interface{}
}

// Service provides the control plane business logic.
type Service struct {
	store *store.Store
	orch  *orchestrator.Orchestrator
	stats StatsProvider
}

// NewService creates a new control plane service.
func NewService(s *store.Store, orch *orchestrator.Orchestrator, stats StatsProvider) *Service {
	return &Service{store: s, orch: orch, stats: stats}
}

// Ping checks store connectivity.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SubmitTask accepts a goal and submits it for execution.
func (s *Service) SubmitTask(ctx context.Context, goal string, opts orchestrator.Options) (*models.TaskState, error) {
	if strings.TrimSpace(goal) == "" {
		return nil, ErrEmptyGoal
	}
	return s.orch.Submit(ctx, goal, opts)
}

// GetTask returns a task with its event log.
func (s *Service) GetTask(taskID string) (*models.TaskState, []models.Event, error) {
	task, events, err := s.orch.GetState(taskID)
	if errors.Is(err, orchestrator.ErrTaskNotFound) {
		return nil, nil, ErrTaskNotFound
	}
	return task, events, err
}

// ListTasks returns tasks, optionally filtered by status.
func (s *Service) ListTasks(status string) ([]models.TaskState, error) {
	return s.orch.List(status)
}

// GetEvents returns the event log for a task.
func (s *Service) GetEvents(taskID string) ([]models.Event, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return s.store.ListEvents(taskID)
}

// GetArtifacts returns the artifacts recorded for a task.
func (s *Service) GetArtifacts(taskID string) ([]models.Artifact, error) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}
	return s.store.ListArtifactsForTask(taskID)
}

// CancelTask requests cooperative cancellation of a task.
func (s *Service) CancelTask(taskID string) error {
	err := s.orch.Cancel(taskID)
	switch {
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		return ErrTaskNotFound
	case errors.Is(err, orchestrator.ErrTaskTerminal):
		return ErrTaskTerminal
	}
	return err
}

// QueueStatus reports queue depth, dead letters, and worker stats.
func (s *Service) QueueStatus() (map[string]interface{}, error) {
	depth, err := s.store.QueueDepth()
	if err != nil {
		return nil, err
	}
	dead, err := s.store.DeadLetters()
	if err != nil {
		return nil, err
	}

	status := map[string]interface{}{
		"queue_depth":  depth,
		"dead_letters": len(dead),
	}
	if s.stats != nil {
		for k, v := range s.stats.GetStats() {
			status[k] = v
		}
	}
	return status, nil
}
