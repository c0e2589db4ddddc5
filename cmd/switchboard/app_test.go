package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/adapter/llm"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/usecase"
)

var discard = slog.New(slog.DiscardHandler)

// fakeOpenAI answers chat completions like a model that routes arithmetic to
// calculator-agent, calls the calculator once and then reports the result.
type fakeOpenAI struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Tools []struct {
			Function struct {
				Name string `json:"name"`
			} `json:"function"`
		} `json:"tools"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	tools := make([]string, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = t.Function.Name
	}
	last := req.Messages[len(req.Messages)-1]

	var kind string
	w.Header().Set("Content-Type", "application/json")
	switch {
	case len(tools) == 1 && tools[0] == "select_agent":
		kind = "classify"
		writeToolCall(w, "call_1", "select_agent", `{"selectedAgent":"calculator-agent","confidence":0.9,"reasoning":"arithmetic"}`)
	case last.Role == "tool":
		kind = "answer"
		writeCompletion(w, fmt.Sprintf(`{"role":"assistant","content":"2 + 2 = %s"}`, strings.TrimSpace(last.Content)), "stop")
	default:
		kind = "calculate:" + strings.Join(tools, ",")
		writeToolCall(w, "call_2", "calculator", `{"operation":"add","a":2,"b":2}`)
	}

	f.mu.Lock()
	f.calls = append(f.calls, kind)
	f.mu.Unlock()
}

func (f *fakeOpenAI) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func writeToolCall(w io.Writer, id, name, args string) {
	argsJSON, _ := json.Marshal(args)
	writeCompletion(w, fmt.Sprintf(
		`{"role":"assistant","tool_calls":[{"id":%q,"type":"function","function":{"name":%q,"arguments":%s}}]}`,
		id, name, argsJSON), "tool_calls")
}

func writeCompletion(w io.Writer, message, finish string) {
	fmt.Fprintf(w, `{"id":"cmpl","model":"fake-model","created":1,
		"choices":[{"index":0,"message":%s,"finish_reason":%q}],
		"usage":{"prompt_tokens":5,"completion_tokens":5,"total_tokens":10}}`, message, finish)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func testConfig(baseURL string) string {
	return fmt.Sprintf(`
llm:
  default_provider: fake
  providers:
    - name: fake
      type: openai
      base_url: %s
      api_key: test-key
      model: fake-model
agents:
  - name: calculator-agent
    description: Performs arithmetic.
    system_prompt: Use the calculator.
    max_steps: 3
    tools: [calculator]
  - name: chit-chat
    description: Small talk.
    system_prompt: Be friendly.
    max_steps: 1
tools:
  calculator:
    enabled: true
  weather:
    enabled: false
http:
  rate_limit:
    enabled: false
logger:
  level: error
  output: stderr
`, baseURL)
}

func TestNewApp_RoutesThroughCalculatorAgent(t *testing.T) {
	fake := &fakeOpenAI{}
	server := httptest.NewServer(fake)
	defer server.Close()

	a, err := newApp(context.Background(), writeConfig(t, testConfig(server.URL)), appOptions{requestSessions: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "fake-model", a.modelName)
	require.Len(t, a.orchestrator.Agents(), 2)
	assert.Equal(t, "calculator-agent", a.orchestrator.Agents()[0].Name())

	var updates []string
	res, err := a.orchestrator.Process(context.Background(), "what is 2 + 2?", nil, usecase.ProcessOptions{
		OnUpdate: func(s string) { updates = append(updates, s) },
	})
	require.NoError(t, err)

	assert.Equal(t, domain.ResultText, res.Kind)
	assert.Contains(t, res.Text, "2 + 2 = ")
	assert.Contains(t, res.Text, "4")
	assert.Contains(t, updates, usecase.SelectedAgentStatus+"calculator-agent")
	assert.Equal(t, []string{"classify", "calculate:calculator", "answer"}, fake.seen(),
		"the agent sees only its own tools")
}

func TestNewApp_TerminalDiscardsConsoleLogs(t *testing.T) {
	server := httptest.NewServer(&fakeOpenAI{})
	defer server.Close()

	a, err := newApp(context.Background(), writeConfig(t, testConfig(server.URL)), appOptions{terminal: true})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.closeLog)
	assert.False(t, a.logger.Enabled(context.Background(), slog.LevelError))
}

func TestNewApp_ChatThreadsTerminalHistory(t *testing.T) {
	fake := &fakeOpenAI{}
	server := httptest.NewServer(fake)
	defer server.Close()

	a, err := newApp(context.Background(), writeConfig(t, testConfig(server.URL)), chatAppOptions)
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.orchestrator.HistoryThreading(), "chat threads history even when the config does not")

	history := []domain.Message{
		{Role: domain.RoleUser, Content: "hello"},
		{Role: domain.RoleAssistant, Content: "hi"},
	}
	for range 2 {
		_, err := a.orchestrator.Process(context.Background(), "what is 2 + 2?", history, usecase.ProcessOptions{})
		require.NoError(t, err)
	}
	assert.Empty(t, a.orchestrator.Agents()[0].(*usecase.Agent).History(), "shared agents keep no conversation")
}

func TestNewApp_ConfigErrors(t *testing.T) {
	_, err := newApp(context.Background(), writeConfig(t, "llm: [not, a, map]\n"), appOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config")
}

func TestConsoleOutput(t *testing.T) {
	assert.True(t, consoleOutput(""))
	assert.True(t, consoleOutput("stderr"))
	assert.True(t, consoleOutput("stdout"))
	assert.False(t, consoleOutput("/var/log/switchboard.log"))
}

func baseConfig() *config.Config {
	cfg := config.Defaults()
	cfg.LLM.Providers = []config.ProviderConfig{
		{Name: "primary", Type: "openai", BaseURL: "http://127.0.0.1:1", APIKey: "k", Model: "m1"},
		{Name: "backup", Type: "openrouter", BaseURL: "http://127.0.0.1:1", APIKey: "k", Model: "m2"},
	}
	cfg.LLM.DefaultProvider = "primary"
	return cfg
}

func TestInitLLM_Default(t *testing.T) {
	reg, err := initLLM(context.Background(), baseConfig(), discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"backup", "primary"}, reg.List())
	p, err := reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "primary", p.Name())
}

func TestInitLLM_FailoverBecomesDefault(t *testing.T) {
	cfg := baseConfig()
	cfg.LLM.Failover.Enabled = true
	cfg.LLM.Failover.Fallbacks = []string{"backup"}
	cfg.LLM.CircuitBreaker.Enabled = true

	reg, err := initLLM(context.Background(), cfg, discard)
	require.NoError(t, err)

	p, err := reg.Resolve("")
	require.NoError(t, err)
	assert.IsType(t, &llm.FailoverProvider{}, p)

	direct, err := reg.Resolve("backup")
	require.NoError(t, err)
	assert.IsType(t, &llm.CircuitBreakerProvider{}, direct)
}

func TestInitLLM_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown type", func(c *config.Config) { c.LLM.Providers[0].Type = "carrier-pigeon" }, "unknown provider type"},
		{"missing default", func(c *config.Config) { c.LLM.DefaultProvider = "nope" }, "default llm provider"},
		{"missing fallback", func(c *config.Config) {
			c.LLM.Failover.Enabled = true
			c.LLM.Failover.Fallbacks = []string{"nope"}
		}, "failover provider nope"},
		{"duplicate name", func(c *config.Config) { c.LLM.Providers[1].Name = "primary" }, "llm provider primary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(cfg)
			_, err := initLLM(context.Background(), cfg, discard)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInitTools(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, []string{"calculator", "weather"}, initTools(cfg, discard).Names())

	cfg.Tools.Weather.Enabled = false
	assert.Equal(t, []string{"calculator"}, initTools(cfg, discard).Names())
}

func TestInitAgents(t *testing.T) {
	cfg := baseConfig()
	reg, err := initLLM(context.Background(), cfg, discard)
	require.NoError(t, err)

	agents, err := initAgents(cfg, reg, initTools(cfg, discard), discard)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "weather-agent", agents[0].Name())
	assert.Equal(t, "calculator-agent", agents[1].Name())
}

func TestInitAgents_DisabledTool(t *testing.T) {
	cfg := baseConfig()
	cfg.Tools.Weather.Enabled = false
	reg, err := initLLM(context.Background(), cfg, discard)
	require.NoError(t, err)

	_, err = initAgents(cfg, reg, initTools(cfg, discard), discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `tool "weather" is not enabled`)
}

func TestInitAgents_UnknownProvider(t *testing.T) {
	cfg := baseConfig()
	cfg.Agents[0].Provider = "nope"
	reg, err := initLLM(context.Background(), cfg, discard)
	require.NoError(t, err)

	_, err = initAgents(cfg, reg, initTools(cfg, discard), discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agent weather-agent")
}

func TestInitClassifier_TemplateFile(t *testing.T) {
	cfg := baseConfig()
	reg, err := initLLM(context.Background(), cfg, discard)
	require.NoError(t, err)

	cfg.Classifier.PromptTemplateFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err = initClassifier(cfg, reg, discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classifier template")

	path := filepath.Join(t.TempDir(), "template.txt")
	require.NoError(t, os.WriteFile(path, []byte("Pick one of {{AGENT_DESCRIPTIONS}}"), 0o600))
	cfg.Classifier.PromptTemplateFile = path
	c, err := initClassifier(cfg, reg, discard)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestProviderModel(t *testing.T) {
	cfg := baseConfig()
	assert.Equal(t, "m1", providerModel(cfg, ""))
	assert.Equal(t, "m2", providerModel(cfg, "backup"))
	assert.Empty(t, providerModel(cfg, "nope"))
}
