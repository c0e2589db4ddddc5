package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SWITCHBOARD_"

// encPrefix marks a value encrypted with EncryptValue.
const encPrefix = "enc:"

// Config is the top-level application configuration.
type Config struct {
	LLM          LLMConfig          `yaml:"llm"`
	Agents       []AgentConfig      `yaml:"agents"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Tools        ToolsConfig        `yaml:"tools"`
	HTTP         HTTPConfig         `yaml:"http"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
	Includes     []string           `yaml:"includes,omitempty"`
}

// LLMConfig holds language model provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// FailoverConfig lists the providers tried, in order, when the primary fails.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // openai, openrouter, bedrock
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// AgentConfig describes one specialist agent.
type AgentConfig struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities,omitempty"`
	SystemPrompt string   `yaml:"system_prompt"`
	// Provider names an entry of llm.providers. Empty means llm.default_provider.
	Provider    string   `yaml:"provider,omitempty"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
	MaxSteps    int      `yaml:"max_steps"`
	Tools       []string `yaml:"tools,omitempty"`
}

// Classifier modes.
const (
	ClassifierModeTool       = "tool"
	ClassifierModeStructured = "structured"
)

// ClassifierConfig holds agent classifier settings.
type ClassifierConfig struct {
	Provider           string   `yaml:"provider,omitempty"`
	Mode               string   `yaml:"mode"`
	PromptTemplateFile string   `yaml:"prompt_template_file,omitempty"`
	Temperature        *float64 `yaml:"temperature,omitempty"`
	MaxTokens          int      `yaml:"max_tokens,omitempty"`
}

// OrchestratorConfig holds orchestrator settings.
type OrchestratorConfig struct {
	// ThreadHistory passes the conversation history to the selected agent.
	ThreadHistory bool `yaml:"thread_history"`
}

// ToolsConfig enables and tunes the built-in tools.
type ToolsConfig struct {
	Calculator CalculatorToolConfig `yaml:"calculator"`
	Weather    WeatherToolConfig    `yaml:"weather"`
}

// CalculatorToolConfig holds calculator tool settings.
type CalculatorToolConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WeatherToolConfig holds weather tool settings. The defaults point at
// Open-Meteo, which needs no API key.
type WeatherToolConfig struct {
	Enabled     bool          `yaml:"enabled"`
	GeocodeURL  string        `yaml:"geocode_url"`
	ForecastURL string        `yaml:"forecast_url"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   ToolRateLimit `yaml:"rate_limit"`
}

// ToolRateLimit caps tool invocations per period. Zero requests disables it.
type ToolRateLimit struct {
	Requests int           `yaml:"requests"`
	Period   time.Duration `yaml:"period"`
}

// HTTPConfig holds the HTTP channel settings.
type HTTPConfig struct {
	Enabled      bool                `yaml:"enabled"`
	Addr         string              `yaml:"addr"`
	ReadTimeout  time.Duration       `yaml:"read_timeout"`
	WriteTimeout time.Duration       `yaml:"write_timeout"`
	RateLimit    HTTPRateLimitConfig `yaml:"rate_limit"`
}

// HTTPRateLimitConfig configures the per-IP token bucket.
type HTTPRateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	TrustedProxies    []string `yaml:"trusted_proxies,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a config with two example agents and no providers.
// A provider comes from the file or from SWITCHBOARD_OPENAI_API_KEY.
func Defaults() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultProvider: "openai",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Agents: []AgentConfig{
			{
				Name:         "weather-agent",
				Description:  "Answers questions about current weather conditions in a city.",
				Capabilities: []string{"weather", "forecast", "temperature"},
				SystemPrompt: "You are a weather assistant. Use the weather tool to look up current conditions and answer briefly.",
				MaxSteps:     3,
				Tools:        []string{"weather"},
			},
			{
				Name:         "calculator-agent",
				Description:  "Performs arithmetic: addition, subtraction, multiplication and division.",
				Capabilities: []string{"math", "arithmetic"},
				SystemPrompt: "You are a calculator. Use the calculator tool for every arithmetic step and report the result.",
				MaxSteps:     5,
				Tools:        []string{"calculator"},
			},
		},
		Classifier: ClassifierConfig{
			Mode: ClassifierModeTool,
		},
		Tools: ToolsConfig{
			Calculator: CalculatorToolConfig{Enabled: true},
			Weather: WeatherToolConfig{
				Enabled:     true,
				GeocodeURL:  "https://geocoding-api.open-meteo.com",
				ForecastURL: "https://api.open-meteo.com",
				Timeout:     10 * time.Second,
				RateLimit:   ToolRateLimit{Requests: 30, Period: time.Minute},
			},
		},
		HTTP: HTTPConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 120 * time.Second,
			RateLimit: HTTPRateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 2,
				Burst:             10,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finish(cfg)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// Second pass so the main file takes precedence over its includes.
		if err := overlay(cfg, data); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv(EnvPrefix + "CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SWITCHBOARD_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "OPENAI_API_KEY"); v != "" && len(cfg.LLM.Providers) == 0 {
		cfg.LLM.Providers = append(cfg.LLM.Providers, ProviderConfig{
			Name:    "openai",
			Type:    "openai",
			BaseURL: "https://api.openai.com/v1",
			APIKey:  v,
			Model:   "gpt-4o-mini",
		})
	}
	if v := os.Getenv(EnvPrefix + "LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv(EnvPrefix + "LLM_CIRCUIT_BREAKER_ENABLED"); v != "" {
		cfg.LLM.CircuitBreaker.Enabled = v == "true"
	}
	if v := os.Getenv(EnvPrefix + "LLM_FAILOVER_FALLBACKS"); v != "" {
		cfg.LLM.Failover.Enabled = true
		cfg.LLM.Failover.Fallbacks = splitAndTrim(v, ",")
	}

	// Per-provider overrides: SWITCHBOARD_LLM_PROVIDER_<NAME>_API_KEY / _MODEL
	for i := range cfg.LLM.Providers {
		name := envName(cfg.LLM.Providers[i].Name)
		if v := os.Getenv(fmt.Sprintf("%sLLM_PROVIDER_%s_API_KEY", EnvPrefix, name)); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
		if v := os.Getenv(fmt.Sprintf("%sLLM_PROVIDER_%s_MODEL", EnvPrefix, name)); v != "" {
			cfg.LLM.Providers[i].Model = v
		}
	}

	if v := os.Getenv(EnvPrefix + "CLASSIFIER_PROVIDER"); v != "" {
		cfg.Classifier.Provider = v
	}
	if v := os.Getenv(EnvPrefix + "CLASSIFIER_MODE"); v != "" {
		cfg.Classifier.Mode = v
	}
	if v := os.Getenv(EnvPrefix + "CLASSIFIER_PROMPT_TEMPLATE_FILE"); v != "" {
		cfg.Classifier.PromptTemplateFile = v
	}
	if v := os.Getenv(EnvPrefix + "ORCHESTRATOR_THREAD_HISTORY"); v != "" {
		cfg.Orchestrator.ThreadHistory = v == "true"
	}

	if v := os.Getenv(EnvPrefix + "TOOLS_WEATHER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Tools.Weather.Timeout = d
		}
	}
	if v := os.Getenv(EnvPrefix + "TOOLS_WEATHER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Tools.Weather.RateLimit.Requests = n
		}
	}

	if v := os.Getenv(EnvPrefix + "HTTP_ENABLED"); v == "true" {
		cfg.HTTP.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "HTTP_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.HTTP.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv(EnvPrefix + "HTTP_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HTTP.RateLimit.Burst = n
		}
	}

	if v := os.Getenv(EnvPrefix + "LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv(EnvPrefix + "LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv(EnvPrefix + "TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv(EnvPrefix + "TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// envName upper-cases a provider name and replaces characters that are
// awkward in variable names.
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

// splitAndTrim splits s by sep and trims whitespace from each element.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets finds "enc:..." provider API keys and decrypts them.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.LLM.Providers {
		key := cfg.LLM.Providers[i].APIKey
		if !strings.HasPrefix(key, encPrefix) {
			continue
		}
		decrypted, err := DecryptValue(strings.TrimPrefix(key, encPrefix), passphrase)
		if err != nil {
			return fmt.Errorf("provider %s api_key: %w", cfg.LLM.Providers[i].Name, err)
		}
		cfg.LLM.Providers[i].APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result has the form hex(salt) ":" hex(nonce+ciphertext); prefix it
// with "enc:" in the config file.
func EncryptValue(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("empty passphrase")
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
