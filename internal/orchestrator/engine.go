package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lewisai/lewis/internal/agents"
	"github.com/lewisai/lewis/internal/cbr"
	"github.com/lewisai/lewis/internal/config"
	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/store"
)

// Engine drives one task through the agent pipeline: Perceptor, Planner,
// the step execution loop, the Critic and finalization. All progress is
// checkpointed, so a resumed task continues from its last committed cursor
// rather than restarting.
type Engine struct {
	store     *store.Store
	registry  *agents.Registry
	perceptor *agents.Perceptor
	planner   *agents.Planner
	critic    *agents.Critic
	cases     *cbr.Service
	cfg       config.EngineConfig
	holderID  string
	leaseTTL  time.Duration
}

// NewEngine creates an execution engine. The registry must contain every
// agent the planner can assign.
func NewEngine(
	s *store.Store,
	registry *agents.Registry,
	perceptor *agents.Perceptor,
	planner *agents.Planner,
	critic *agents.Critic,
	cases *cbr.Service,
	cfg config.EngineConfig,
) *Engine {
	return &Engine{
		store:     s,
		registry:  registry,
		perceptor: perceptor,
		planner:   planner,
		critic:    critic,
		cases:     cases,
		cfg:       cfg,
		holderID:  "engine-" + uuid.New().String()[:8],
		leaseTTL:  5 * time.Minute,
	}
}

// Run executes a task until it reaches a terminal state or suspends.
// Task-level failures (planning failure, iteration ceiling, cancellation)
// are recorded in the task state and do not surface as errors; the error
// return covers infrastructure faults and lease contention only.
func (e *Engine) Run(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return ErrTaskNotFound
	}
	if task.Status.Terminal() {
		// Redelivered after completion: nothing to do.
		return nil
	}

	lease, err := e.store.AcquireDriverLease(taskID, e.holderID, e.leaseTTL)
	if err != nil {
		return err
	}
	defer e.store.ReleaseDriverLease(lease.ID)

	if task.Outputs == nil {
		task.Outputs = map[string]interface{}{}
	}
	if task.Status == models.TaskStatusSuspended {
		e.event(taskID, "engine", models.EventInfo, "execution resumed", map[string]interface{}{"cursor": task.Cursor})
	}
	if task.StartedAt == nil {
		now := time.Now().UTC()
		task.StartedAt = &now
	}
	task.Status = models.TaskStatusRunning
	if err := e.checkpoint(task); err != nil {
		return err
	}

	if len(task.Plan) == 0 {
		if done, err := e.plan(ctx, task); err != nil || done {
			return err
		}
	}

	if err := e.executeLoop(ctx, task); err != nil {
		return err
	}
	if task.Status != models.TaskStatusRunning {
		// Suspended, cancelled or failed inside the loop.
		return nil
	}

	return e.finalize(ctx, task)
}

// plan runs the Perceptor and Planner stages. The bool return is true when
// the task reached a terminal state (planning failure).
func (e *Engine) plan(ctx context.Context, task *models.TaskState) (bool, error) {
	perception, err := e.perceptor.Execute(ctx, agents.Context{
		TaskID:  task.ID,
		Goal:    task.Goal,
		Payload: task.Metadata,
	})
	if err != nil || !perception.Success {
		msg := "perceptor failed to derive tasks"
		if err != nil {
			msg = err.Error()
		}
		return true, e.fail(task, models.ErrKindPlanningFailure, msg)
	}
	if fallback, _ := perception.Output["fallback"].(bool); fallback {
		e.event(task.ID, "perceptor", models.EventWarning, "perception fell back to the raw goal", perception.Output)
	} else {
		e.event(task.ID, "perceptor", models.EventInfo, "perception completed", perception.Output)
	}
	task.Outputs["perceptor"] = perception.Output

	tasks := toStringList(perception.Output["tasks"])
	plan, reused, err := e.planner.BuildPlan(ctx, task.Goal, tasks, task.CaseReuse)
	if err != nil {
		return true, e.fail(task, models.ErrKindPlanningFailure, err.Error())
	}
	if len(plan) == 0 {
		return true, e.fail(task, models.ErrKindPlanningFailure, "planner produced an empty plan")
	}

	payload := map[string]interface{}{"step_count": len(plan)}
	if reused != "" {
		payload["reused_case"] = reused
	}
	e.event(task.ID, "planner", models.EventInfo, "planning completed", payload)

	task.Plan = plan
	task.Cursor = 0
	return false, e.checkpoint(task)
}

// executeLoop advances the cursor over the live plan one step per
// iteration, checkpointing after each.
func (e *Engine) executeLoop(ctx context.Context, task *models.TaskState) error {
	limit := e.iterationLimit(task)
	for task.Cursor < len(task.Plan) {
		if ctx.Err() != nil {
			return e.suspend(task)
		}
		if task.CancelRequested {
			return e.cancel(task)
		}
		if task.Iterations >= limit {
			return e.fail(task, models.ErrKindIterationLimitExceeded,
				fmt.Sprintf("iteration limit %d exceeded with %d of %d steps done", limit, task.Cursor, len(task.Plan)))
		}

		step := task.Plan[task.Cursor]
		e.runStep(ctx, task, step)

		task.Iterations++
		task.Cursor++
		if err := e.checkpoint(task); err != nil {
			return err
		}
	}
	return nil
}

// runStep dispatches one step with retries. Exhausted retries record a
// failure marker and let the loop move on; they never kill the task.
func (e *Engine) runStep(ctx context.Context, task *models.TaskState, step models.Step) {
	agent, err := e.registry.Get(step.Agent)
	if err != nil {
		// An adapted case or replanning hint can name an agent nothing
		// registered; that is a step failure, not a silent skip.
		msg := fmt.Sprintf("no agent registered for %q", step.Agent)
		task.FailedSteps = append(task.FailedSteps, task.Cursor)
		task.LastError = &models.TaskError{Kind: models.ErrKindStepFailure, Message: msg}
		e.event(task.ID, "engine", models.EventError,
			fmt.Sprintf("step %d failed permanently", task.Cursor),
			map[string]interface{}{"agent": step.Agent, "description": step.Description, "error": msg})
		return
	}

	payload := map[string]interface{}{
		"task":            step.Description,
		"step_index":      task.Cursor + 1,
		"requires_review": step.RequiresReview,
	}
	for k, v := range step.Payload {
		payload[k] = v
	}
	ac := agents.Context{
		TaskID:       task.ID,
		Goal:         task.Goal,
		Payload:      payload,
		PriorOutputs: task.Outputs,
	}

	var resp *agents.Response
	for attempt := 0; attempt <= e.cfg.StepRetryMax; attempt++ {
		resp, err = agent.Execute(ctx, ac)
		if err == nil && resp.Success {
			break
		}
		if attempt < e.cfg.StepRetryMax {
			reason := "step reported failure"
			if err != nil {
				reason = err.Error()
			}
			e.event(task.ID, strings.ToLower(step.Agent), models.EventWarning,
				fmt.Sprintf("step %d attempt %d failed, retrying", task.Cursor, attempt+1),
				map[string]interface{}{"reason": reason})
		}
	}

	source := strings.ToLower(step.Agent)
	if err != nil || !resp.Success {
		msg := "step failed after retries"
		if err != nil {
			msg = err.Error()
		} else if resp.Message != "" {
			msg = resp.Message
		}
		task.FailedSteps = append(task.FailedSteps, task.Cursor)
		task.LastError = &models.TaskError{Kind: models.ErrKindStepFailure, Message: msg}
		e.event(task.ID, source, models.EventError,
			fmt.Sprintf("step %d failed permanently", task.Cursor),
			map[string]interface{}{"description": step.Description, "error": msg})
		return
	}

	task.Outputs[source] = resp.Output
	task.Outputs[fmt.Sprintf("step_%d", task.Cursor)] = resp.Output
	e.event(task.ID, source, models.EventInfo, fmt.Sprintf("step %d completed", task.Cursor),
		map[string]interface{}{"description": step.Description, "message": resp.Message})

	for _, artifact := range resp.Artifacts {
		if _, err := e.store.AddArtifact(task.ID, artifact.URI, artifact.MediaType, artifact.Description); err != nil {
			log.Printf("record artifact for task %s: %v", task.ID, err)
		}
	}

	// Replanning hints extend the live plan; the ceiling still bounds the
	// total number of iterations.
	if len(resp.NextSteps) > 0 {
		task.Plan = append(task.Plan, resp.NextSteps...)
		e.event(task.ID, source, models.EventInfo,
			fmt.Sprintf("plan extended by %d step(s)", len(resp.NextSteps)),
			map[string]interface{}{"total_steps": len(task.Plan)})
	}
}

// finalize runs the Critic, stores the artifact and score, writes the case
// back when it qualifies, and marks the task completed.
func (e *Engine) finalize(ctx context.Context, task *models.TaskState) error {
	critique, err := e.critic.Execute(ctx, agents.Context{
		TaskID: task.ID,
		Goal:   task.Goal,
		Payload: map[string]interface{}{
			"summary":      e.composeSummary(task),
			"failed_steps": len(task.FailedSteps),
		},
		PriorOutputs: task.Outputs,
	})
	if err != nil {
		return e.fail(task, models.ErrKindStepFailure, "critic failed: "+err.Error())
	}

	score, _ := critique.Output["score"].(float64)
	task.Score = &score
	task.Outputs["critic"] = critique.Output
	e.event(task.ID, "critic", models.EventResult, "critique completed", critique.Output)

	task.Artifact = e.composeSummary(task)
	task.Status = models.TaskStatusCompleted
	now := time.Now().UTC()
	task.FinishedAt = &now

	if score < e.cfg.CriticAccept {
		e.event(task.ID, "engine", models.EventWarning, "artifact accepted with low confidence",
			map[string]interface{}{"score": score, "threshold": e.cfg.CriticAccept})
	}

	if err := e.checkpoint(task); err != nil {
		return err
	}
	e.event(task.ID, "engine", models.EventInfo, "task completed", map[string]interface{}{"score": score})

	// Write-back threshold is independent of acceptance: a completed task
	// may still not be worth remembering.
	if score >= e.cfg.CaseWriteback {
		if err := e.cases.AddCase(ctx, task.ID, task.Name, task.Goal, task.Plan, score); err != nil {
			log.Printf("case write-back for task %s: %v", task.ID, err)
		} else {
			e.event(task.ID, "engine", models.EventInfo, "plan stored as reusable case", nil)
		}
	}
	return nil
}

// iterationLimit resolves the ceiling for one task: a positive per-task
// override wins, otherwise the configured default applies.
func (e *Engine) iterationLimit(task *models.TaskState) int {
	if task.RecursionLimit > 0 {
		return task.RecursionLimit
	}
	return e.cfg.RecursionLimit
}

func (e *Engine) composeSummary(task *models.TaskState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", task.Goal)
	fmt.Fprintf(&b, "Steps completed: %d of %d\n", task.Cursor-len(task.FailedSteps), len(task.Plan))
	if len(task.FailedSteps) > 0 {
		fmt.Fprintf(&b, "Failed steps: %v\n", task.FailedSteps)
	}
	for i, step := range task.Plan {
		if i >= task.Cursor {
			break
		}
		out, ok := task.Outputs[fmt.Sprintf("step_%d", i)].(map[string]interface{})
		if !ok {
			continue
		}
		if summary, ok := out["summary"].(string); ok && summary != "" {
			fmt.Fprintf(&b, "- %s: %s\n", step.Agent, summary)
		} else if desc, ok := out["description"].(string); ok && desc != "" {
			fmt.Fprintf(&b, "- %s: %s\n", step.Agent, desc)
		} else if text, ok := out["formatted_text"].(string); ok && text != "" {
			fmt.Fprintf(&b, "- %s: %s\n", step.Agent, strings.ReplaceAll(text, "\n", "; "))
		}
	}
	return strings.TrimSpace(b.String())
}

func (e *Engine) suspend(task *models.TaskState) error {
	task.Status = models.TaskStatusSuspended
	if err := e.checkpoint(task); err != nil {
		return err
	}
	e.event(task.ID, "engine", models.EventInfo, "execution suspended", map[string]interface{}{"cursor": task.Cursor})
	return nil
}

func (e *Engine) cancel(task *models.TaskState) error {
	task.Status = models.TaskStatusFailed
	task.LastError = &models.TaskError{Kind: models.ErrKindCancelled, Message: "cancelled by request"}
	now := time.Now().UTC()
	task.FinishedAt = &now
	if err := e.checkpoint(task); err != nil {
		return err
	}
	e.event(task.ID, "engine", models.EventInfo, "task cancelled", map[string]interface{}{"cursor": task.Cursor})
	return nil
}

func (e *Engine) fail(task *models.TaskState, kind models.ErrorKind, message string) error {
	task.Status = models.TaskStatusFailed
	task.LastError = &models.TaskError{Kind: kind, Message: message}
	now := time.Now().UTC()
	task.FinishedAt = &now
	if err := e.checkpoint(task); err != nil {
		return err
	}
	e.event(task.ID, "engine", models.EventError, "task failed",
		map[string]interface{}{"kind": string(kind), "error": message})
	return nil
}

// checkpoint persists the task, absorbing version conflicts by reloading
// and reapplying the in-memory delta. The only field mutated externally
// while a driver holds the lease is the cancellation flag.
func (e *Engine) checkpoint(task *models.TaskState) error {
	for attempt := 0; attempt < 3; attempt++ {
		err := e.store.SaveTask(task)
		if err == nil {
			return nil
		}
		if err != store.ErrVersionConflict {
			return err
		}
		fresh, err := e.store.GetTask(task.ID)
		if err != nil {
			return err
		}
		if fresh == nil {
			return ErrTaskNotFound
		}
		task.CancelRequested = task.CancelRequested || fresh.CancelRequested
		task.Version = fresh.Version
	}
	return fmt.Errorf("checkpoint task %s: %w", task.ID, store.ErrVersionConflict)
}

func (e *Engine) event(taskID, source string, kind models.EventKind, message string, payload interface{}) {
	if _, err := e.store.AppendEvent(taskID, source, kind, message, payload); err != nil {
		log.Printf("append event for task %s: %v", taskID, err)
	}
}

func toStringList(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
