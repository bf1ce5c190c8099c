package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/lewisai/lewis/internal/llm"
)

// Researcher runs web searches for a step and summarizes the findings for
// downstream agents.
type Researcher struct {
	search SearchTool
	client llm.Client
}

// NewResearcher creates the Researcher agent.
func NewResearcher(search SearchTool, client llm.Client) *Researcher {
	return &Researcher{search: search, client: client}
}

func (r *Researcher) Name() string { return "Researcher" }

func (r *Researcher) Execute(ctx context.Context, ac Context) (*Response, error) {
	text := stringPayload(ac.Payload, "task")
	if text == "" {
		text = ac.Goal
	}
	query := extractQuery(text)

	results, err := r.search.Search(ctx, query, 3)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &Response{
			Success: false,
			Output:  map[string]interface{}{"query": query},
			Message: "No search results found",
		}, nil
	}

	formatted := formatResults(results)
	summary, err := r.summarize(ctx, query, formatted)
	if err != nil {
		return nil, err
	}

	items := make([]interface{}, len(results))
	for i, res := range results {
		items[i] = map[string]interface{}{
			"title":   res.Title,
			"link":    res.Link,
			"snippet": res.Snippet,
		}
	}
	return &Response{
		Success: true,
		Output: map[string]interface{}{
			"query":             query,
			"results":           items,
			"formatted_results": formatted,
			"summary":           summary,
			"num_results":       len(results),
		},
		Message: fmt.Sprintf("Research completed: found %d results", len(results)),
	}, nil
}

func (r *Researcher) summarize(ctx context.Context, query, resultsText string) (string, error) {
	if len(resultsText) > 2000 {
		resultsText = resultsText[:2000] + "\n... (truncated)"
	}
	prompt := fmt.Sprintf(
		"Summarize these search results for '%s' in 2-3 sentences. Focus on key facts and data.\n\nResults:\n%s\n\nSummary:",
		query, resultsText,
	)
	summary, err := r.client.Complete(ctx, llm.Request{Prompt: prompt, Temperature: 0.3})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(summary), nil
}

// extractQuery strips task-phrasing prefixes so the search engine sees the
// subject, not the instruction.
func extractQuery(text string) string {
	lowered := strings.ToLower(text)
	prefixes := []string{
		"search for", "search about", "find information about",
		"look up", "research about", "research", "investigate",
		"query about", "query for",
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(lowered, prefix) {
			cleaned := strings.TrimSpace(text[len(prefix):])
			if cleaned != "" {
				return cleaned
			}
		}
	}
	return text
}

func formatResults(results []SearchResult) string {
	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "%d. %s\n   URL: %s\n   %s\n", i+1, res.Title, res.Link, res.Snippet)
	}
	return b.String()
}
