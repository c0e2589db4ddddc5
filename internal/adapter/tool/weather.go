package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

const maxWeatherBodySize = 256 * 1024

// Weather is a current-conditions report for one location.
type Weather struct {
	Location    string  `json:"location"`
	Country     string  `json:"country,omitempty"`
	Temperature float64 `json:"temperature"`
	Unit        string  `json:"unit"`
	WindSpeed   float64 `json:"wind_speed"`
	WindUnit    string  `json:"wind_unit"`
	Conditions  string  `json:"conditions"`
	ObservedAt  string  `json:"observed_at"`
}

// WeatherBackend looks up current weather for a place name.
type WeatherBackend interface {
	Current(ctx context.Context, location, unit string) (*Weather, error)
}

// OpenMeteoBackend queries the Open-Meteo geocoding and forecast APIs.
type OpenMeteoBackend struct {
	client      *http.Client
	geocodeURL  string
	forecastURL string
	logger      *slog.Logger
}

// NewOpenMeteoBackend creates a backend. Empty URLs default to the public
// Open-Meteo endpoints.
func NewOpenMeteoBackend(geocodeURL, forecastURL string, timeout time.Duration, logger *slog.Logger) *OpenMeteoBackend {
	if geocodeURL == "" {
		geocodeURL = "https://geocoding-api.open-meteo.com"
	}
	if forecastURL == "" {
		forecastURL = "https://api.open-meteo.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenMeteoBackend{
		client:      &http.Client{Timeout: timeout},
		geocodeURL:  strings.TrimRight(geocodeURL, "/"),
		forecastURL: strings.TrimRight(forecastURL, "/"),
		logger:      logger,
	}
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Country   string  `json:"country"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Time          string  `json:"time"`
		Temperature2m float64 `json:"temperature_2m"`
		WindSpeed10m  float64 `json:"wind_speed_10m"`
		WeatherCode   int     `json:"weather_code"`
	} `json:"current"`
	CurrentUnits struct {
		Temperature2m string `json:"temperature_2m"`
		WindSpeed10m  string `json:"wind_speed_10m"`
	} `json:"current_units"`
}

func (b *OpenMeteoBackend) Current(ctx context.Context, location, unit string) (*Weather, error) {
	var geo geocodeResponse
	if err := b.getJSON(ctx, b.geocodeURL+"/v1/search", map[string]string{
		"name":     location,
		"count":    "1",
		"language": "en",
		"format":   "json",
	}, &geo); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", location, err)
	}
	if len(geo.Results) == 0 {
		return nil, fmt.Errorf("location %q not found", location)
	}
	place := geo.Results[0]

	var fc forecastResponse
	if err := b.getJSON(ctx, b.forecastURL+"/v1/forecast", map[string]string{
		"latitude":         fmt.Sprintf("%.4f", place.Latitude),
		"longitude":        fmt.Sprintf("%.4f", place.Longitude),
		"current":          "temperature_2m,wind_speed_10m,weather_code",
		"temperature_unit": unit,
	}, &fc); err != nil {
		return nil, fmt.Errorf("forecast %q: %w", place.Name, err)
	}

	b.logger.DebugContext(ctx, "weather lookup completed", "location", place.Name)
	return &Weather{
		Location:    place.Name,
		Country:     place.Country,
		Temperature: fc.Current.Temperature2m,
		Unit:        fc.CurrentUnits.Temperature2m,
		WindSpeed:   fc.Current.WindSpeed10m,
		WindUnit:    fc.CurrentUnits.WindSpeed10m,
		Conditions:  weatherCodeText(fc.Current.WeatherCode),
		ObservedAt:  fc.Current.Time,
	}, nil
}

func (b *OpenMeteoBackend) getJSON(ctx context.Context, endpoint string, params map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxWeatherBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", domain.ErrRateLimit, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrProviderError, resp.StatusCode, string(body))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// weatherCodeText maps WMO weather interpretation codes to short descriptions.
func weatherCodeText(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67, code >= 80 && code <= 82:
		return "rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "snow"
	case code >= 95:
		return "thunderstorm"
	default:
		return "unknown"
	}
}

// WeatherTool reports current weather conditions for a location.
type WeatherTool struct {
	backend   WeatherBackend
	rateLimit *domain.RateLimit
	logger    *slog.Logger
}

// NewWeatherTool creates a weather tool. A nil rateLimit disables limiting.
func NewWeatherTool(backend WeatherBackend, rateLimit *domain.RateLimit, logger *slog.Logger) *WeatherTool {
	return &WeatherTool{backend: backend, rateLimit: rateLimit, logger: logger}
}

func (t *WeatherTool) Name() string { return "weather" }
func (t *WeatherTool) Description() string {
	return "Gets the current weather (temperature, wind, conditions) for a city or place name."
}

func (t *WeatherTool) Metadata() domain.ToolMetadata {
	return domain.ToolMetadata{
		Name:        t.Name(),
		Description: t.Description(),
		Version:     "1.0.0",
		Categories:  []string{"weather", "network"},
		RateLimit:   t.rateLimit,
	}
}

func (t *WeatherTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {"type": "string", "minLength": 1, "description": "City or place name, e.g. \"Paris\""},
				"unit": {"type": "string", "enum": ["celsius", "fahrenheit"], "description": "Temperature unit (default celsius)"}
			},
			"required": ["location"],
			"additionalProperties": false
		}`),
	}
}

type weatherParams struct {
	Location string `json:"location"`
	Unit     string `json:"unit"`
}

func (t *WeatherTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, t.Name(), t.logger, params,
		func(ctx context.Context, span trace.Span, p weatherParams) (any, error) {
			if err := ValidateAll(
				RequireField("location", strings.TrimSpace(p.Location)),
				ValidateMaxLength("location", p.Location, 200),
				ValidateEnum("unit", p.Unit, "celsius", "fahrenheit"),
			); err != nil {
				return nil, domain.NewInvalidParamsError(t.Name(), &domain.ValidationError{
					Tool: t.Name(), Detail: err.Error(), Err: err,
				})
			}
			unit := p.Unit
			if unit == "" {
				unit = "celsius"
			}
			span.SetAttributes(tracer.StringAttr("weather.location", p.Location))
			return t.backend.Current(ctx, p.Location, unit)
		},
	)
}
