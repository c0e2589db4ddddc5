package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLLM(cfg, ve)
	validateAgents(cfg, ve)
	validateClassifier(cfg, ve)
	validateTools(cfg, ve)
	validateHTTP(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

var validProviderTypes = map[string]bool{
	"openai":     true,
	"openrouter": true,
	"bedrock":    true,
}

// KnownTools lists the tool names agents may reference.
var KnownTools = []string{"calculator", "weather"}

func providerNames(cfg *Config) map[string]bool {
	names := make(map[string]bool, len(cfg.LLM.Providers))
	for _, p := range cfg.LLM.Providers {
		names[p.Name] = true
	}
	return names
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}

	if len(cfg.LLM.Providers) == 0 {
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, openrouter, bedrock)", i, p.Type)
		}
		if p.APIKey == "" && p.Type != "bedrock" {
			ve.Add("llm.providers[%d] (%s): api_key is empty (set via %sLLM_PROVIDER_%s_API_KEY)",
				i, p.Name, EnvPrefix, envName(p.Name))
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("llm.providers[%d] (%s): timeouts must not be negative", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}

	if cfg.LLM.Failover.Enabled {
		if len(cfg.LLM.Failover.Fallbacks) == 0 {
			ve.Add("llm.failover.fallbacks must not be empty when failover is enabled")
		}
		for _, name := range cfg.LLM.Failover.Fallbacks {
			if !seen[name] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", name)
			}
		}
	}

	if cb := cfg.LLM.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0 when enabled")
		}
		if cb.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0 when enabled")
		}
	}
}

func validateAgents(cfg *Config, ve *ValidationError) {
	if len(cfg.Agents) == 0 {
		ve.Add("agents must define at least one agent")
		return
	}

	providers := providerNames(cfg)
	known := make(map[string]bool, len(KnownTools))
	for _, t := range KnownTools {
		known[t] = true
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		if strings.TrimSpace(a.Name) == "" {
			ve.Add("agents[%d].name must not be empty", i)
			continue
		}
		if seen[a.Name] {
			ve.Add("agents[%d]: duplicate agent name %q", i, a.Name)
		}
		seen[a.Name] = true

		if strings.TrimSpace(a.Description) == "" {
			ve.Add("agents[%d] (%s): description must not be empty", i, a.Name)
		}
		if a.MaxSteps < 0 {
			ve.Add("agents[%d] (%s): max_steps must be >= 0", i, a.Name)
		}
		if a.MaxTokens < 0 {
			ve.Add("agents[%d] (%s): max_tokens must be >= 0", i, a.Name)
		}
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			ve.Add("agents[%d] (%s): temperature must be within [0, 2]", i, a.Name)
		}
		if a.Provider != "" && len(providers) > 0 && !providers[a.Provider] {
			ve.Add("agents[%d] (%s): unknown provider %q", i, a.Name, a.Provider)
		}
		for _, t := range a.Tools {
			if !known[t] {
				ve.Add("agents[%d] (%s): unknown tool %q (want: %s)", i, a.Name, t, strings.Join(KnownTools, ", "))
			}
		}
	}
}

func validateClassifier(cfg *Config, ve *ValidationError) {
	c := cfg.Classifier
	switch c.Mode {
	case "", ClassifierModeTool, ClassifierModeStructured:
	default:
		ve.Add("classifier.mode %q is invalid (want: tool, structured)", c.Mode)
	}
	if c.Provider != "" && len(cfg.LLM.Providers) > 0 && !providerNames(cfg)[c.Provider] {
		ve.Add("classifier.provider %q does not match any configured provider", c.Provider)
	}
	if c.MaxTokens < 0 {
		ve.Add("classifier.max_tokens must be >= 0")
	}
	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		ve.Add("classifier.temperature must be within [0, 2]")
	}
}

func validateTools(cfg *Config, ve *ValidationError) {
	w := cfg.Tools.Weather
	if w.Enabled {
		if w.GeocodeURL == "" || w.ForecastURL == "" {
			ve.Add("tools.weather: geocode_url and forecast_url are required when enabled")
		}
		if w.Timeout <= 0 {
			ve.Add("tools.weather.timeout must be > 0")
		}
		if w.RateLimit.Requests < 0 {
			ve.Add("tools.weather.rate_limit.requests must be >= 0")
		}
		if w.RateLimit.Requests > 0 && w.RateLimit.Period <= 0 {
			ve.Add("tools.weather.rate_limit.period must be > 0 when requests is set")
		}
	}

	enabled := map[string]bool{
		"calculator": cfg.Tools.Calculator.Enabled,
		"weather":    w.Enabled,
	}
	for i, a := range cfg.Agents {
		for _, t := range a.Tools {
			if on, ok := enabled[t]; ok && !on {
				ve.Add("agents[%d] (%s): tool %q is disabled in tools.%s", i, a.Name, t, t)
			}
		}
	}
}

func validateHTTP(cfg *Config, ve *ValidationError) {
	h := cfg.HTTP
	if !h.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(h.Addr); err != nil {
		ve.Add("http.addr %q is invalid: %v", h.Addr, err)
	}
	if h.ReadTimeout < 0 || h.WriteTimeout < 0 {
		ve.Add("http timeouts must not be negative")
	}
	if h.RateLimit.Enabled {
		if h.RateLimit.RequestsPerSecond <= 0 {
			ve.Add("http.rate_limit.requests_per_second must be > 0 when enabled")
		}
		if h.RateLimit.Burst <= 0 {
			ve.Add("http.rate_limit.burst must be > 0 when enabled")
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "", "json", "text":
	default:
		ve.Add("logger.format %q is invalid (want: json, text)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	switch cfg.Tracer.Exporter {
	case "", "noop", "stdout":
	case "file":
		if cfg.Tracer.Endpoint == "" {
			ve.Add("tracer.endpoint must name a file when tracer.exporter is file")
		}
	default:
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout, file)", cfg.Tracer.Exporter)
	}
}
