package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/lewisai/lewis/internal/agents"
	"github.com/lewisai/lewis/internal/cbr"
	"github.com/lewisai/lewis/internal/config"
	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/orchestrator"
	"github.com/lewisai/lewis/internal/store"
)

type stubAgent struct {
	name string
	fn   func(ac agents.Context) (*agents.Response, error)
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Execute(_ context.Context, ac agents.Context) (*agents.Response, error) {
	if s.fn != nil {
		return s.fn(ac)
	}
	return &agents.Response{Success: true, Output: map[string]interface{}{"done": true}}, nil
}

type approvingClient struct{ llm.Client }

func (approvingClient) Complete(context.Context, llm.Request) (string, error) {
	return `{"verdict": "approve", "score": 0.9}`, nil
}

type harness struct {
	store     *store.Store
	registry  *agents.Registry
	engine    *orchestrator.Engine
	scheduler *Scheduler
}

func newTestScheduler(t *testing.T, cfg config.SchedulerConfig) *harness {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	engineCfg := config.Default().Engine
	cases := cbr.New(s, llm.NewOfflineClient())
	registry := agents.NewRegistry()
	for _, name := range []string{"Weather", "Writer", "Researcher", "ArtDirector", "ToolSmith", "Critic"} {
		registry.Register(&stubAgent{name: name})
	}

	engine := orchestrator.NewEngine(
		s,
		registry,
		agents.NewPerceptor(llm.NewOfflineClient()),
		agents.NewPlanner(llm.NewOfflineClient(), cases, engineCfg.CaseSimilarity, true),
		agents.NewCritic(approvingClient{}),
		cases,
		engineCfg,
	)
	return &harness{store: s, registry: registry, engine: engine, scheduler: New(s, engine, cfg)}
}

func defaultSchedulerConfig() config.SchedulerConfig {
	cfg := config.Default().Scheduler
	cfg.PollIntervalSec = 1
	return cfg
}

func enqueueTask(t *testing.T, h *harness, goal string) *models.TaskState {
	t.Helper()
	task, err := h.store.CreateTask("test task", goal, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if err := h.store.Enqueue(task.ID); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	return task
}

func TestWorkerCompletesQueuedTask(t *testing.T) {
	h := newTestScheduler(t, defaultSchedulerConfig())
	task := enqueueTask(t, h, "fetch the weather in Berlin\nwrite a summary report")

	h.scheduler.pollAndDispatch()
	h.scheduler.wg.Wait()

	got, err := h.store.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("Expected completed, got %s", got.Status)
	}

	depth, _ := h.store.QueueDepth()
	if depth != 0 {
		t.Errorf("Expected acked entry, queue depth %d", depth)
	}
}

func TestWorkerDrainsMultipleTasks(t *testing.T) {
	h := newTestScheduler(t, defaultSchedulerConfig())
	first := enqueueTask(t, h, "fetch the weather in Berlin")
	second := enqueueTask(t, h, "fetch the weather in Paris")

	// One claim per poll, two polls drain the queue.
	h.scheduler.pollAndDispatch()
	h.scheduler.wg.Wait()
	h.scheduler.pollAndDispatch()
	h.scheduler.wg.Wait()

	for _, id := range []string{first.ID, second.ID} {
		got, _ := h.store.GetTask(id)
		if got.Status != models.TaskStatusCompleted {
			t.Errorf("Expected task %s completed, got %s", id, got.Status)
		}
	}
	depth, _ := h.store.QueueDepth()
	if depth != 0 {
		t.Errorf("Expected empty queue, got depth %d", depth)
	}
}

func TestCapacityLimitBlocksDispatch(t *testing.T) {
	cfg := defaultSchedulerConfig()
	cfg.GlobalMax = 0
	h := newTestScheduler(t, cfg)
	task := enqueueTask(t, h, "fetch the weather in Berlin")

	h.scheduler.pollAndDispatch()
	h.scheduler.wg.Wait()

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusCreated {
		t.Errorf("Expected task untouched at capacity, got %s", got.Status)
	}
	depth, _ := h.store.QueueDepth()
	if depth != 1 {
		t.Errorf("Expected entry still queued, got depth %d", depth)
	}
}

func TestWorkerAcksCancelledTask(t *testing.T) {
	h := newTestScheduler(t, defaultSchedulerConfig())
	task := enqueueTask(t, h, "fetch the weather in Berlin")

	if ok, err := h.store.RequestCancel(task.ID); err != nil || !ok {
		t.Fatalf("RequestCancel failed: ok=%v err=%v", ok, err)
	}

	h.scheduler.pollAndDispatch()
	h.scheduler.wg.Wait()

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusFailed || got.LastError == nil || got.LastError.Kind != models.ErrKindCancelled {
		t.Errorf("Expected cancelled failure, got %s %+v", got.Status, got.LastError)
	}
	depth, _ := h.store.QueueDepth()
	if depth != 0 {
		t.Errorf("Expected cancelled task acked, got depth %d", depth)
	}
}

func TestSuspendedTaskReleasedForRedelivery(t *testing.T) {
	h := newTestScheduler(t, defaultSchedulerConfig())

	// Shutdown lands mid-step: the engine suspends and the scheduler must
	// hand the entry back instead of acking it.
	h.registry.Register(&stubAgent{name: "Weather", fn: func(agents.Context) (*agents.Response, error) {
		h.scheduler.cancel()
		return &agents.Response{Success: true, Output: map[string]interface{}{"done": true}}, nil
	}})
	task := enqueueTask(t, h, "fetch the weather in Berlin\nwrite a summary report")

	h.scheduler.pollAndDispatch()
	h.scheduler.wg.Wait()

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusSuspended {
		t.Fatalf("Expected suspended, got %s", got.Status)
	}
	if got.Cursor != 1 {
		t.Errorf("Expected checkpoint after first step, cursor %d", got.Cursor)
	}

	// The released entry is immediately claimable again.
	entry, err := h.store.ClaimNext("worker-check", time.Minute, 3)
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if entry == nil || entry.TaskID != task.ID {
		t.Fatalf("Expected suspended task redelivered, got %+v", entry)
	}
}

func TestStartStop(t *testing.T) {
	cfg := defaultSchedulerConfig()
	h := newTestScheduler(t, cfg)
	task := enqueueTask(t, h, "fetch the weather in Berlin\nwrite a summary report")

	h.scheduler.Start()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := h.store.GetTask(task.ID)
		if got.Status.Terminal() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	h.scheduler.Stop()

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("Expected completed after polling, got %s", got.Status)
	}
}

func TestGetStats(t *testing.T) {
	h := newTestScheduler(t, defaultSchedulerConfig())
	enqueueTask(t, h, "fetch the weather in Berlin")

	stats := h.scheduler.GetStats()
	if stats["active_workers"] != 0 {
		t.Errorf("Expected 0 active workers, got %v", stats["active_workers"])
	}
	if stats["global_max"] != config.Default().Scheduler.GlobalMax {
		t.Errorf("Unexpected global_max: %v", stats["global_max"])
	}
	if stats["queue_depth"] != 1 {
		t.Errorf("Expected queue depth 1, got %v", stats["queue_depth"])
	}
	if stats["dead_letters"] != 0 {
		t.Errorf("Expected 0 dead letters, got %v", stats["dead_letters"])
	}
}
