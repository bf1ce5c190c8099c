package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SearchResult is one hit from the web search tool.
type SearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// SearchTool performs web searches for the Researcher agent.
type SearchTool interface {
	Search(ctx context.Context, query string, numResults int) ([]SearchResult, error)
}

// GoogleSearchTool queries the Google Custom Search JSON API. Without
// credentials, or when the API fails, it degrades to a simulated result so
// research steps stay executable offline.
type GoogleSearchTool struct {
	apiKey string
	cx     string
	client *http.Client
}

// NewGoogleSearchTool creates a search tool. Empty credentials mean
// permanent offline mode.
func NewGoogleSearchTool(apiKey, engineID string) *GoogleSearchTool {
	return &GoogleSearchTool{
		apiKey: apiKey,
		cx:     engineID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Search returns up to numResults hits for query.
func (t *GoogleSearchTool) Search(ctx context.Context, query string, numResults int) ([]SearchResult, error) {
	if t.apiKey == "" || t.cx == "" {
		return offlineSearch(query), nil
	}
	if numResults <= 0 || numResults > 10 {
		numResults = 3
	}

	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("cx", t.cx)
	params.Set("q", query)
	params.Set("num", fmt.Sprintf("%d", numResults))

	req, err := http.NewRequestWithContext(ctx, "GET", "https://www.googleapis.com/customsearch/v1?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return offlineSearch(query), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return offlineSearch(query), nil
	}

	var data struct {
		Items []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return offlineSearch(query), nil
	}

	results := make([]SearchResult, 0, len(data.Items))
	for _, item := range data.Items {
		results = append(results, SearchResult{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	if len(results) > numResults {
		results = results[:numResults]
	}
	return results, nil
}

func offlineSearch(query string) []SearchResult {
	return []SearchResult{{
		Title:   fmt.Sprintf("Offline result for %q", query),
		Link:    "https://example.com",
		Snippet: fmt.Sprintf("This is a simulated search result. Configure the search API to get real results for: %s", query),
	}}
}

// WeatherData is the normalized current-conditions payload.
type WeatherData struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Condition   string  `json:"condition"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"wind_speed"`
}

// Text renders the data as a short human-readable block.
func (w WeatherData) Text() string {
	return fmt.Sprintf("Location: %s\nTemperature: %.1f°C\nCondition: %s\nHumidity: %d%%\nWind: %.1f km/h",
		w.Location, w.Temperature, w.Condition, w.Humidity, w.WindSpeed)
}

// WeatherTool fetches current conditions for the Weather agent.
type WeatherTool interface {
	CurrentWeather(ctx context.Context, location string) (*WeatherData, error)
}

// WeatherAPITool queries weatherapi.com, falling back to simulated data
// when no key is configured or the API is unreachable.
type WeatherAPITool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewWeatherAPITool creates a weather tool. Empty key means offline mode.
func NewWeatherAPITool(apiKey string) *WeatherAPITool {
	return &WeatherAPITool{
		apiKey:  apiKey,
		baseURL: "http://api.weatherapi.com/v1",
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// CurrentWeather returns conditions for location.
func (t *WeatherAPITool) CurrentWeather(ctx context.Context, location string) (*WeatherData, error) {
	if t.apiKey == "" {
		return offlineWeather(location), nil
	}

	params := url.Values{}
	params.Set("key", t.apiKey)
	params.Set("q", location)
	params.Set("aqi", "no")

	req, err := http.NewRequestWithContext(ctx, "GET", t.baseURL+"/current.json?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create weather request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return offlineWeather(location), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil || resp.StatusCode != http.StatusOK {
		return offlineWeather(location), nil
	}

	var data struct {
		Location struct {
			Name string `json:"name"`
		} `json:"location"`
		Current struct {
			TempC     float64 `json:"temp_c"`
			Condition struct {
				Text string `json:"text"`
			} `json:"condition"`
			Humidity int     `json:"humidity"`
			WindKph  float64 `json:"wind_kph"`
		} `json:"current"`
	}
	if err := json.Unmarshal(body, &data); err != nil {
		return offlineWeather(location), nil
	}

	name := data.Location.Name
	if name == "" {
		name = location
	}
	return &WeatherData{
		Location:    name,
		Temperature: data.Current.TempC,
		Condition:   data.Current.Condition.Text,
		Humidity:    data.Current.Humidity,
		WindSpeed:   data.Current.WindKph,
	}, nil
}

func offlineWeather(location string) *WeatherData {
	return &WeatherData{
		Location:    location,
		Temperature: 22.5,
		Condition:   "Partly Cloudy (Simulated)",
		Humidity:    55,
		WindSpeed:   15.0,
	}
}
