package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/lewisai/lewis/internal/llm"
	"github.com/lewisai/lewis/internal/storage"
)

// ArtDirector handles visual steps: it writes a visual brief, and when the
// payload carries chart_data it renders an SVG line chart into object
// storage and reports the artifact.
type ArtDirector struct {
	client  llm.Client
	objects storage.ObjectStore
}

// NewArtDirector creates the ArtDirector agent.
func NewArtDirector(client llm.Client, objects storage.ObjectStore) *ArtDirector {
	return &ArtDirector{client: client, objects: objects}
}

func (a *ArtDirector) Name() string { return "ArtDirector" }

func (a *ArtDirector) Execute(ctx context.Context, ac Context) (*Response, error) {
	instructions := stringPayload(ac.Payload, "task")
	if instructions == "" {
		instructions = ac.Goal
	}

	if chartData, ok := ac.Payload["chart_data"].(map[string]interface{}); ok {
		return a.renderChart(ac.TaskID, chartData)
	}

	prompt := "You are the ArtDirector agent. Provide a concise visual brief describing " +
		"what should be drawn or visualized for the following request:\n" + instructions
	description, err := a.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.5})
	if err != nil {
		return nil, err
	}

	return &Response{
		Success: true,
		Output:  map[string]interface{}{"description": strings.TrimSpace(description)},
		Message: "ArtDirector completed visual task",
	}, nil
}

func (a *ArtDirector) renderChart(taskID string, chartData map[string]interface{}) (*Response, error) {
	title, _ := chartData["title"].(string)
	if title == "" {
		title = "Generated Chart"
	}
	xs := floatSlice(chartData["x"])
	ys := floatSlice(chartData["y"])

	svg := renderLineChart(title, xs, ys)
	uri, err := a.objects.Put(taskID+"/art_director.svg", []byte(svg))
	if err != nil {
		return nil, fmt.Errorf("store chart: %w", err)
	}

	return &Response{
		Success: true,
		Output:  map[string]interface{}{"description": "Chart generated and stored"},
		Message: "ArtDirector completed visual task",
		Artifacts: []Artifact{{
			URI:         uri,
			Description: "Generated chart",
			MediaType:   "image/svg+xml",
		}},
	}, nil
}

// renderLineChart plots y against x as a polyline scaled into a fixed
// 640x400 viewport.
func renderLineChart(title string, xs, ys []float64) string {
	const width, height, margin = 640.0, 400.0, 40.0

	n := len(xs)
	if len(ys) < n {
		n = len(ys)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%.0f" height="%.0f">`, width, height)
	fmt.Fprintf(&b, `<text x="%.0f" y="24" font-size="16" text-anchor="middle">%s</text>`, width/2, title)

	if n > 1 {
		minX, maxX := minMax(xs[:n])
		minY, maxY := minMax(ys[:n])
		spanX := maxX - minX
		spanY := maxY - minY
		if spanX == 0 {
			spanX = 1
		}
		if spanY == 0 {
			spanY = 1
		}

		points := make([]string, n)
		for i := 0; i < n; i++ {
			px := margin + (xs[i]-minX)/spanX*(width-2*margin)
			py := height - margin - (ys[i]-minY)/spanY*(height-2*margin)
			points[i] = fmt.Sprintf("%.1f,%.1f", px, py)
		}
		fmt.Fprintf(&b, `<polyline fill="none" stroke="steelblue" stroke-width="2" points="%s"/>`, strings.Join(points, " "))
	}

	b.WriteString(`</svg>`)
	return b.String()
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func floatSlice(v interface{}) []float64 {
	switch t := v.(type) {
	case []float64:
		return t
	case []interface{}:
		out := make([]float64, 0, len(t))
		for _, item := range t {
			switch n := item.(type) {
			case float64:
				out = append(out, n)
			case int:
				out = append(out, float64(n))
			}
		}
		return out
	default:
		return nil
	}
}
