package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"switchboard/internal/infra/config"
	"switchboard/internal/usecase"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function. cfg is nil when the config did
// not load.
type Check struct {
	Name string
	Fn   func(ctx context.Context, cfg *config.Config) CheckResult
}

var errNotLoaded = CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}

func newDoctorCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context(), cmd.OutOrStdout(), flags.configPath)
		},
	}
}

// runDoctor executes all health checks and reports results.
func runDoctor(ctx context.Context, out io.Writer, cfgPath string) error {
	cfg, cfgErr := config.Load(cfgPath)
	if cfgErr != nil {
		cfg = nil
	}

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM API key", Fn: checkLLMAPIKey},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Agent tools", Fn: checkAgentTools},
		{Name: "Classifier template", Fn: checkClassifierTemplate},
		{Name: "Weather backend", Fn: checkWeatherBackend},
		{Name: "HTTP address", Fn: checkHTTPAddr},
	}

	fmt.Fprintln(out, "switchboard doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(ctx, cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn == 0 {
		fmt.Fprintln(out, "\nAll checks passed.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func checkConfigFile(cfgPath string, cfgErr error) func(context.Context, *config.Config) CheckResult {
	return func(context.Context, *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     fmt.Sprintf("Check %s syntax and the %s* environment", cfgPath, config.EnvPrefix),
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("%s not found, running on defaults and environment", cfgPath),
			}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

func checkLLMAPIKey(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNotLoaded
	}

	var withKey, withoutKey []string
	for _, p := range cfg.LLM.Providers {
		switch {
		case p.Type == "bedrock":
			withKey = append(withKey, p.Name+" (aws credentials)")
		case p.APIKey != "":
			withKey = append(withKey, p.Name)
		default:
			withoutKey = append(withoutKey, p.Name)
		}
	}

	if len(withKey) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM provider has credentials",
			Fix:     fmt.Sprintf("Set %sOPENAI_API_KEY or add llm.providers to the config", config.EnvPrefix),
		}
	}
	if len(withoutKey) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("keys configured for [%s]; missing for [%s]", strings.Join(withKey, ", "), strings.Join(withoutKey, ", ")),
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("credentials configured for: %s", strings.Join(withKey, ", "))}
}

func checkLLMConnectivity(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNotLoaded
	}

	idx := slices.IndexFunc(cfg.LLM.Providers, func(p config.ProviderConfig) bool {
		return p.Name == cfg.LLM.DefaultProvider
	})
	if idx < 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}
	provider := cfg.LLM.Providers[idx]

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no endpoint to probe for provider type %q", provider.Type),
		}
	}

	latency, err := probe(ctx, endpoint)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check base_url, your network connection and firewall settings",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a URL to probe for the given provider.
func providerEndpoint(p config.ProviderConfig) string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/") + "/models"
	}
	switch p.Type {
	case "openai", "":
		return "https://api.openai.com/v1/models"
	case "openrouter":
		return "https://openrouter.ai/api/v1/models"
	default:
		return ""
	}
}

func checkAgentTools(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNotLoaded
	}

	enabled := map[string]bool{
		"calculator": cfg.Tools.Calculator.Enabled,
		"weather":    cfg.Tools.Weather.Enabled,
	}
	var problems []string
	for _, a := range cfg.Agents {
		for _, t := range a.Tools {
			if !enabled[t] {
				problems = append(problems, fmt.Sprintf("%s needs %s", a.Name, t))
			}
		}
	}
	if len(problems) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "disabled tools referenced: " + strings.Join(problems, "; "),
			Fix:     "Enable the tools under tools: or remove them from the agents",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d agent(s), all tools enabled", len(cfg.Agents))}
}

func checkClassifierTemplate(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNotLoaded
	}

	path := cfg.Classifier.PromptTemplateFile
	if path == "" {
		return CheckResult{Status: StatusPass, Message: "using the built-in template (mode: " + cfg.Classifier.Mode + ")"}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	placeholder := "{{" + usecase.PlaceholderAgentDescriptions + "}}"
	if !strings.Contains(string(data), placeholder) {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s has no %s placeholder; the classifier will not see the agents", path, placeholder),
		}
	}
	return CheckResult{Status: StatusPass, Message: "template loaded from " + path}
}

func checkWeatherBackend(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNotLoaded
	}
	if !cfg.Tools.Weather.Enabled {
		return CheckResult{Status: StatusPass, Message: "weather tool disabled"}
	}

	url := cfg.Tools.Weather.GeocodeURL
	if _, err := probe(ctx, url); err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("geocoding service not reachable at %s: %v", url, err),
			Fix:     "Check tools.weather.geocode_url or disable the weather tool",
		}
	}
	return CheckResult{Status: StatusPass, Message: "geocoding service reachable at " + url}
}

func checkHTTPAddr(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return errNotLoaded
	}

	ln, err := net.Listen("tcp", cfg.HTTP.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.HTTP.Addr, err),
			Fix:     "Change http.addr or pass --addr to serve",
		}
	}
	ln.Close()
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s available for serve", cfg.HTTP.Addr)}
}

// probe issues a GET and reports the latency. Any HTTP status counts as
// reachable.
func probe(ctx context.Context, url string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}
