package orchestrator

import (
	"context"
	"log"

	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/store"
)

// Options control a single submission.
type Options struct {
	// Name labels the task; defaults to a truncation of the goal.
	Name string
	// Metadata is opaque caller context carried on the task.
	Metadata map[string]interface{}
	// Sync executes the task inline instead of enqueueing it.
	Sync bool
	// RecursionLimit overrides the configured iteration ceiling when
	// positive.
	RecursionLimit int
	// CaseReuse gates plan adaptation from stored cases; nil means enabled.
	CaseReuse *bool
}

// Orchestrator is the public entry point: it accepts goals, routes them to
// the queue or the inline engine, and answers state queries.
type Orchestrator struct {
	store        *store.Store
	engine       *Engine
	queueEnabled bool
}

// New creates an orchestrator. queueEnabled=false forces synchronous
// execution for every submission.
func New(s *store.Store, engine *Engine, queueEnabled bool) *Orchestrator {
	return &Orchestrator{store: s, engine: engine, queueEnabled: queueEnabled}
}

// Submit creates a task for goal and either enqueues it or runs it inline.
// When enqueueing fails the task falls back to synchronous execution after
// recording a warning event, so accepted work is never silently dropped.
func (o *Orchestrator) Submit(ctx context.Context, goal string, opts Options) (*models.TaskState, error) {
	name := opts.Name
	if name == "" {
		name = truncate(goal, 120)
	}

	task, err := o.store.CreateTask(name, goal, opts.Metadata)
	if err != nil {
		return nil, err
	}
	if opts.RecursionLimit > 0 || (opts.CaseReuse != nil && !*opts.CaseReuse) {
		task.RecursionLimit = opts.RecursionLimit
		if opts.CaseReuse != nil {
			task.CaseReuse = *opts.CaseReuse
		}
		if err := o.store.SaveTask(task); err != nil {
			return nil, err
		}
	}
	o.event(task.ID, "task created", map[string]interface{}{"metadata": opts.Metadata})

	if !opts.Sync && o.queueEnabled {
		if err := o.store.Enqueue(task.ID); err != nil {
			log.Printf("enqueue task %s failed, falling back to synchronous execution: %v", task.ID, err)
			if _, aerr := o.store.AppendEvent(task.ID, "orchestrator", models.EventWarning, "queueing failed, executing synchronously",
				map[string]interface{}{"error": err.Error()}); aerr != nil {
				log.Printf("append event for task %s: %v", task.ID, aerr)
			}
		} else {
			o.event(task.ID, "task queued", nil)
			return task, nil
		}
	}

	if err := o.engine.Run(ctx, task.ID); err != nil {
		return nil, err
	}
	return o.store.GetTask(task.ID)
}

// GetState returns the task and its event log.
func (o *Orchestrator) GetState(taskID string) (*models.TaskState, []models.Event, error) {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, ErrTaskNotFound
	}
	events, err := o.store.ListEvents(taskID)
	if err != nil {
		return nil, nil, err
	}
	return task, events, nil
}

// List returns tasks, optionally filtered by status.
func (o *Orchestrator) List(status string) ([]models.TaskState, error) {
	return o.store.ListTasks(status)
}

// Cancel requests cooperative cancellation. The running driver observes the
// flag at its next checkpoint; a queued task is cancelled before it starts.
func (o *Orchestrator) Cancel(taskID string) error {
	task, err := o.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		return ErrTaskTerminal
	}

	ok, err := o.store.RequestCancel(taskID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTaskTerminal
	}
	o.event(taskID, "cancellation requested", nil)
	return nil
}

func (o *Orchestrator) event(taskID, message string, payload interface{}) {
	if _, err := o.store.AppendEvent(taskID, "orchestrator", models.EventInfo, message, payload); err != nil {
		log.Printf("append event for task %s: %v", taskID, err)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
