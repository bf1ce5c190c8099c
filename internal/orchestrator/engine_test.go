package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/lewisai/lewis/internal/agents"
	"github.com/lewisai/lewis/internal/cbr"
	"github.com/lewisai/lewis/internal/config"
	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/models"
	"github.com/lewisai/lewis/internal/store"
)

// stubAgent lets tests script step behavior without touching the network
// or the sandbox.
type stubAgent struct {
	name  string
	calls int
	fn    func(calls int, ac agents.Context) (*agents.Response, error)
}

func (s *stubAgent) Name() string { return s.name }

func (s *stubAgent) Execute(_ context.Context, ac agents.Context) (*agents.Response, error) {
	s.calls++
	return s.fn(s.calls, ac)
}

func okStub(name string) *stubAgent {
	return &stubAgent{name: name, fn: func(int, agents.Context) (*agents.Response, error) {
		return &agents.Response{Success: true, Output: map[string]interface{}{"done": true}, Message: name + " ok"}, nil
	}}
}

// approvingClient makes the Critic approve with its 0.8 base score.
type approvingClient struct{ llm.Client }

func (approvingClient) Complete(context.Context, llm.Request) (string, error) {
	return `{"verdict": "approve", "score": 0.9}`, nil
}

// failingClient simulates a dead LLM provider.
type failingClient struct{ llm.Client }

func (failingClient) Complete(context.Context, llm.Request) (string, error) {
	return "", fmt.Errorf("provider unavailable")
}

func (failingClient) Embed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("provider unavailable")
}

type harness struct {
	store    *store.Store
	registry *agents.Registry
	engine   *Engine
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	perceptorClient llm.Client
	criticClient    llm.Client
	cbrClient       llm.Client
	engineCfg       config.EngineConfig
}

func withPerceptorClient(c llm.Client) harnessOption {
	return func(hc *harnessConfig) { hc.perceptorClient = c }
}

func withCBRClient(c llm.Client) harnessOption {
	return func(hc *harnessConfig) { hc.cbrClient = c }
}

func withCriticClient(c llm.Client) harnessOption {
	return func(hc *harnessConfig) { hc.criticClient = c }
}

func withEngineConfig(cfg config.EngineConfig) harnessOption {
	return func(hc *harnessConfig) { hc.engineCfg = cfg }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	hc := harnessConfig{
		perceptorClient: llm.NewOfflineClient(),
		criticClient:    approvingClient{},
		cbrClient:       llm.NewOfflineClient(),
		engineCfg:       config.Default().Engine,
	}
	for _, opt := range opts {
		opt(&hc)
	}

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	cases := cbr.New(s, hc.cbrClient)
	registry := agents.NewRegistry()
	for _, name := range []string{"Weather", "Writer", "Researcher", "ArtDirector", "ToolSmith", "Critic"} {
		registry.Register(okStub(name))
	}

	engine := NewEngine(
		s,
		registry,
		agents.NewPerceptor(hc.perceptorClient),
		agents.NewPlanner(llm.NewOfflineClient(), cases, hc.engineCfg.CaseSimilarity, true),
		agents.NewCritic(hc.criticClient),
		cases,
		hc.engineCfg,
	)
	return &harness{store: s, registry: registry, engine: engine}
}

func (h *harness) submit(t *testing.T, goal string) *models.TaskState {
	t.Helper()
	task, err := h.store.CreateTask("test task", goal, nil)
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	return task
}

func TestRunWeatherScenario(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")

	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("Expected completed, got %s (%+v)", got.Status, got.LastError)
	}
	// Weather step, Writer step, final Critic review
	if len(got.Plan) != 3 {
		t.Fatalf("Expected 3 plan steps, got %d", len(got.Plan))
	}
	if got.Plan[0].Agent != "Weather" {
		t.Errorf("Expected Weather step first, got %s", got.Plan[0].Agent)
	}
	if got.Cursor != 3 {
		t.Errorf("Expected cursor 3, got %d", got.Cursor)
	}
	if got.Iterations != 3 {
		t.Errorf("Expected 3 iterations, got %d", got.Iterations)
	}
	if got.Score == nil || *got.Score != 0.8 {
		t.Errorf("Expected score 0.8, got %v", got.Score)
	}
	if got.Artifact == "" {
		t.Error("Expected a final artifact")
	}
	if len(got.FailedSteps) != 0 {
		t.Errorf("Expected no failed steps, got %v", got.FailedSteps)
	}
	if got.FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}

	// Events are totally ordered
	events, _ := h.store.ListEvents(task.ID)
	if len(events) == 0 {
		t.Fatal("Expected events")
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Errorf("Event order broken at %d: seq %d", i, ev.Seq)
		}
	}

	// Score 0.8 >= write-back threshold: plan stored as a case
	cases, _ := h.store.ListCases()
	if len(cases) != 1 {
		t.Errorf("Expected 1 case written back, got %d", len(cases))
	}
}

func TestStepFailureRetriesThenAdvances(t *testing.T) {
	h := newHarness(t)

	broken := &stubAgent{name: "Weather", fn: func(int, agents.Context) (*agents.Response, error) {
		return &agents.Response{Success: false, Message: "upstream down"}, nil
	}}
	h.registry.Register(broken)

	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")
	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	// A failed step never kills the task
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("Expected completed despite step failure, got %s", got.Status)
	}
	if len(got.FailedSteps) != 1 || got.FailedSteps[0] != 0 {
		t.Errorf("Expected failure marker for step 0, got %v", got.FailedSteps)
	}
	if got.LastError == nil || got.LastError.Kind != models.ErrKindStepFailure {
		t.Errorf("Expected step_failure last error, got %+v", got.LastError)
	}
	// Default retry budget is 2: initial attempt plus two retries
	if broken.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", broken.calls)
	}
	// Failed step lowers the critic score below the clean 0.8
	if got.Score == nil || *got.Score >= 0.8 {
		t.Errorf("Expected penalized score, got %v", got.Score)
	}
}

func TestPerceptorFallbackNeverBlocks(t *testing.T) {
	h := newHarness(t, withPerceptorClient(failingClient{}))

	// Single-line goal forces the Perceptor through the LLM; the dead
	// provider degrades perception but the raw goal still gets planned.
	task := h.submit(t, "do something ambitious")
	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("Expected completed, got %s (%+v)", got.Status, got.LastError)
	}
	if len(got.Plan) == 0 {
		t.Fatal("Expected a plan built from the raw goal")
	}

	events, _ := h.store.ListEvents(task.ID)
	found := false
	for _, ev := range events {
		if ev.Kind == models.EventWarning && ev.Message == "perception fell back to the raw goal" {
			found = true
		}
	}
	if !found {
		t.Error("Expected perception fallback warning event")
	}
}

func TestPlanningFailureIsFatal(t *testing.T) {
	// Case retrieval errors out before any plan exists: a task with no
	// plan and no way to get one is a planning failure.
	h := newHarness(t, withCBRClient(failingClient{}))

	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")
	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.LastError == nil || got.LastError.Kind != models.ErrKindPlanningFailure {
		t.Errorf("Expected planning_failure, got %+v", got.LastError)
	}
	if len(got.Plan) != 0 {
		t.Errorf("Expected no plan, got %v", got.Plan)
	}
}

func TestIterationCeiling(t *testing.T) {
	cfg := config.Default().Engine
	cfg.RecursionLimit = 5
	h := newHarness(t, withEngineConfig(cfg))

	// Every execution appends another step, so the plan never drains.
	replanner := &stubAgent{name: "Weather", fn: func(int, agents.Context) (*agents.Response, error) {
		return &agents.Response{
			Success:   true,
			Output:    map[string]interface{}{},
			NextSteps: []models.Step{{Agent: "Weather", Description: "fetch the weather again"}},
		}, nil
	}}
	h.registry.Register(replanner)

	task := h.submit(t, "fetch the weather in Berlin\nfetch the weather in Paris")
	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.LastError == nil || got.LastError.Kind != models.ErrKindIterationLimitExceeded {
		t.Errorf("Expected iteration_limit_exceeded, got %+v", got.LastError)
	}
	if got.Iterations != 5 {
		t.Errorf("Expected exactly %d iterations, got %d", 5, got.Iterations)
	}
}

func TestCancelBeforeExecution(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")

	if ok, err := h.store.RequestCancel(task.ID); err != nil || !ok {
		t.Fatalf("RequestCancel failed: ok=%v err=%v", ok, err)
	}

	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusFailed {
		t.Fatalf("Expected failed, got %s", got.Status)
	}
	if got.LastError == nil || got.LastError.Kind != models.ErrKindCancelled {
		t.Errorf("Expected cancelled, got %+v", got.LastError)
	}
	// No plan step ran
	if got.Cursor != 0 {
		t.Errorf("Expected cursor 0, got %d", got.Cursor)
	}
}

func TestSuspendAndResume(t *testing.T) {
	h := newHarness(t)

	runCtx, cancel := context.WithCancel(context.Background())
	weather := &stubAgent{name: "Weather", fn: func(int, agents.Context) (*agents.Response, error) {
		// Shut the worker down mid-task; the next iteration suspends.
		cancel()
		return &agents.Response{Success: true, Output: map[string]interface{}{"temp": 22.5}}, nil
	}}
	h.registry.Register(weather)

	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")
	if err := h.engine.Run(runCtx, task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusSuspended {
		t.Fatalf("Expected suspended, got %s", got.Status)
	}
	if got.Cursor != 1 {
		t.Fatalf("Expected cursor 1 at suspension, got %d", got.Cursor)
	}

	// Resume with a fresh context: execution continues, it does not restart.
	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	got, _ = h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("Expected completed after resume, got %s", got.Status)
	}
	if weather.calls != 1 {
		t.Errorf("Completed step must not re-execute on resume, got %d calls", weather.calls)
	}
	if got.Cursor != 3 {
		t.Errorf("Expected cursor 3, got %d", got.Cursor)
	}
}

func TestTerminalStateIsImmutable(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")

	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	first, _ := h.store.GetTask(task.ID)
	if first.Status != models.TaskStatusCompleted {
		t.Fatalf("Expected completed, got %s", first.Status)
	}

	// Redelivery of a finished task is a no-op
	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Second Run failed: %v", err)
	}
	second, _ := h.store.GetTask(task.ID)
	if second.Version != first.Version {
		t.Errorf("Terminal task mutated: version %d -> %d", first.Version, second.Version)
	}
}

func TestDriverLeaseBlocksSecondDriver(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")

	lease, err := h.store.AcquireDriverLease(task.ID, "other-driver", h.engine.leaseTTL)
	if err != nil {
		t.Fatalf("AcquireDriverLease failed: %v", err)
	}
	defer h.store.ReleaseDriverLease(lease.ID)

	if err := h.engine.Run(context.Background(), task.ID); err != store.ErrTaskBusy {
		t.Errorf("Expected ErrTaskBusy, got %v", err)
	}
}

func TestUnknownAgentStepRecordsFailure(t *testing.T) {
	h := newHarness(t)

	// A preset plan carrying an unregistered agent name, as an adapted
	// case or a replanning hint could produce.
	task := h.submit(t, "run the preset plan")
	task.Plan = []models.Step{
		{Agent: "Oracle", Description: "consult the oracle"},
		{Agent: "Writer", Description: "write the summary"},
	}
	if err := h.store.SaveTask(task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}

	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("Expected completed, got %s (%+v)", got.Status, got.LastError)
	}
	if len(got.FailedSteps) != 1 || got.FailedSteps[0] != 0 {
		t.Errorf("Expected failure marker for step 0, got %v", got.FailedSteps)
	}
	if got.LastError == nil || got.LastError.Kind != models.ErrKindStepFailure {
		t.Errorf("Expected step_failure last error, got %+v", got.LastError)
	}
	// The unresolved step penalizes the critic score like any failure
	if got.Score == nil || *got.Score >= 0.8 {
		t.Errorf("Expected penalized score, got %v", got.Score)
	}
}

func TestCursorNeverExceedsPlanLength(t *testing.T) {
	h := newHarness(t)
	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")

	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got, _ := h.store.GetTask(task.ID)
	if got.Cursor > len(got.Plan) {
		t.Errorf("Cursor %d exceeds plan length %d", got.Cursor, len(got.Plan))
	}
}

func TestLowScoreSkipsWriteback(t *testing.T) {
	// Offline critic never approves: score 0.3 completes the task but is
	// below both acceptance and write-back thresholds.
	h := newHarness(t, withCriticClient(llm.NewOfflineClient()))
	task := h.submit(t, "fetch the weather in Berlin\nwrite a summary report")

	if err := h.engine.Run(context.Background(), task.ID); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got, _ := h.store.GetTask(task.ID)
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("Expected completed, got %s", got.Status)
	}
	if got.Score == nil || *got.Score != 0.3 {
		t.Errorf("Expected score 0.3, got %v", got.Score)
	}

	cases, _ := h.store.ListCases()
	if len(cases) != 0 {
		t.Errorf("Expected no write-back below threshold, got %d cases", len(cases))
	}

	// Low confidence is a warning event, not a failure
	events, _ := h.store.ListEvents(task.ID)
	found := false
	for _, ev := range events {
		if ev.Kind == models.EventWarning && ev.Message == "artifact accepted with low confidence" {
			found = true
		}
	}
	if !found {
		t.Error("Expected low-confidence warning event")
	}
}
