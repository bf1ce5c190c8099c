package agents

import (
	"context"
	"strings"

	"github.com/lewisai/lewis/internal/cbr"
	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/models"
)

// Planner turns the Perceptor's task list into an ordered plan of steps,
// each bound to an agent variant. Before planning from scratch it consults
// the case store; a sufficiently similar past plan is adapted instead.
type Planner struct {
	client    llm.Client
	cases     *cbr.Service
	threshold float64
	reuse     bool
}

// NewPlanner creates the Planner agent. threshold is the minimum cosine
// similarity for case reuse; reuse=false disables retrieval entirely.
func NewPlanner(client llm.Client, cases *cbr.Service, threshold float64, reuse bool) *Planner {
	return &Planner{client: client, cases: cases, threshold: threshold, reuse: reuse}
}

func (p *Planner) Name() string { return "Planner" }

func (p *Planner) Execute(ctx context.Context, ac Context) (*Response, error) {
	tasks := stringSlice(ac.Payload["tasks"])

	plan, reused, err := p.BuildPlan(ctx, ac.Goal, tasks, true)
	if err != nil {
		return nil, err
	}

	output := map[string]interface{}{
		"plan":       plan,
		"step_count": len(plan),
	}
	if reused != "" {
		output["reused_case"] = reused
	}
	return &Response{
		Success: true,
		Output:  output,
		Message: "Planning completed",
	}, nil
}

// BuildPlan produces the plan for a goal. The second return is the id of
// the reused case, empty when the plan was built fresh. reuse narrows the
// configured retrieval setting for one call; it cannot widen it.
func (p *Planner) BuildPlan(ctx context.Context, goal string, tasks []string, reuse bool) ([]models.Step, string, error) {
	if p.reuse && reuse && p.cases != nil {
		matches, err := p.cases.FindSimilar(ctx, goal, p.threshold, 3)
		if err != nil {
			return nil, "", err
		}
		if len(matches) > 0 && len(matches[0].Case.Plan) > 0 {
			// Adaptation copies the retrieved plan into fresh steps; the
			// stored case itself is never mutated.
			adapted := make([]models.Step, len(matches[0].Case.Plan))
			copy(adapted, matches[0].Case.Plan)
			return adapted, matches[0].Case.ID, nil
		}
	}

	if len(tasks) == 0 {
		derived, err := p.breakdown(ctx, goal)
		if err != nil {
			return nil, "", err
		}
		tasks = derived
	}

	var plan []models.Step
	sawVisual := false
	for _, task := range tasks {
		agent := AssignAgent(task)
		if agent == "ArtDirector" {
			sawVisual = true
		}
		plan = append(plan, models.Step{
			Agent:          agent,
			Description:    task,
			RequiresReview: agent == "Writer" || agent == "ToolSmith",
		})
	}

	if sawVisual {
		plan = append(plan, models.Step{
			Agent:          "Critic",
			Description:    "Review visual assets",
			RequiresReview: true,
		})
	}
	plan = append(plan, models.Step{
		Agent:          "Critic",
		Description:    "Final quality review and summary",
		RequiresReview: true,
	})
	return plan, "", nil
}

func (p *Planner) breakdown(ctx context.Context, goal string) ([]string, error) {
	prompt := "Decompose the following goal into 4 concrete steps. " +
		"Return each step on a new line without numbering and using imperative verbs.\nGoal: " + goal
	response, err := p.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.4})
	if err != nil {
		return nil, err
	}
	steps := splitLines(response)
	if len(steps) > 5 {
		steps = steps[:5]
	}
	if len(steps) == 0 {
		steps = []string{goal}
	}
	return steps, nil
}

// AssignAgent picks the agent variant for a task description by keyword.
func AssignAgent(description string) string {
	lowered := strings.ToLower(description)
	switch {
	case containsAny(lowered, "weather", "forecast", "temperature"):
		return "Weather"
	case containsAny(lowered, "research", "search", "investigate"):
		return "Researcher"
	case containsAny(lowered, "diagram", "image", "visual", "plot"):
		return "ArtDirector"
	case containsAny(lowered, "test", "review", "validate"):
		return "Critic"
	case containsAny(lowered, "tool", "utility", "helper"):
		return "ToolSmith"
	default:
		return "Writer"
	}
}

func containsAny(s string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func stringSlice(v interface{}) []string {
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
