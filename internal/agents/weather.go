package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/lewisai/lewis/internal/llm"
)

// Weather fetches current conditions for a location mentioned in the step
// and writes a short natural-language description.
type Weather struct {
	tool   WeatherTool
	client llm.Client
}

// NewWeather creates the Weather agent.
func NewWeather(tool WeatherTool, client llm.Client) *Weather {
	return &Weather{tool: tool, client: client}
}

func (w *Weather) Name() string { return "Weather" }

func (w *Weather) Execute(ctx context.Context, ac Context) (*Response, error) {
	task := stringPayload(ac.Payload, "task")
	if task == "" {
		task = ac.Goal
	}
	location := extractLocation(task)

	data, err := w.tool.CurrentWeather(ctx, location)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return &Response{
			Success: false,
			Output:  map[string]interface{}{"location": location},
			Message: "Weather fetch failed",
		}, nil
	}

	description, err := w.describe(ctx, data)
	if err != nil {
		return nil, err
	}

	return &Response{
		Success: true,
		Output: map[string]interface{}{
			"location":       data.Location,
			"temperature":    data.Temperature,
			"condition":      data.Condition,
			"humidity":       data.Humidity,
			"wind_speed":     data.WindSpeed,
			"formatted_text": data.Text(),
			"description":    description,
		},
		Message: fmt.Sprintf("Weather data retrieved for %s", data.Location),
	}, nil
}

func (w *Weather) describe(ctx context.Context, data *WeatherData) (string, error) {
	prompt := fmt.Sprintf(
		"Generate a friendly weather description based on this data:\n%s\n\nProvide a brief, natural description (2-3 sentences).",
		data.Text(),
	)
	description, err := w.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.3})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(description), nil
}

// extractLocation strips instruction words and trailing weather vocabulary,
// leaving the place name. Unparseable input falls back to the cleaned text.
func extractLocation(text string) string {
	cleaned := strings.TrimSpace(text)
	lowered := strings.ToLower(cleaned)
	for _, prefix := range []string{"check", "fetch", "get", "look up", "query"} {
		if strings.HasPrefix(lowered, prefix) {
			cleaned = strings.TrimSpace(cleaned[len(prefix):])
			lowered = strings.ToLower(cleaned)
		}
	}
	for _, marker := range []string{"the weather in", "weather in", "forecast for", "weather for", "temperature in"} {
		if idx := strings.Index(lowered, marker); idx >= 0 {
			candidate := strings.Trim(strings.TrimSpace(cleaned[idx+len(marker):]), ".,!?")
			if candidate != "" {
				return candidate
			}
		}
	}
	for _, suffix := range []string{"weather", "forecast", "temperature"} {
		if strings.HasSuffix(lowered, suffix) {
			candidate := strings.Trim(strings.TrimSpace(cleaned[:len(cleaned)-len(suffix)]), ".,!?")
			if candidate != "" {
				return candidate
			}
		}
	}
	if cleaned == "" {
		return "Beijing"
	}
	return cleaned
}
