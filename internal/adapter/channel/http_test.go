package channel

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"switchboard/internal/domain"
	"switchboard/internal/infra/middleware"
	"switchboard/internal/usecase"
)

type agentName string

func (a agentName) Name() string        { return string(a) }
func (a agentName) Description() string { return "handles " + string(a) }

// mockRouter emits the orchestrator's progress updates and returns a fixed
// result.
type mockRouter struct {
	mu      sync.Mutex
	agent   string
	result  domain.Result
	err     error
	input   string
	history []domain.Message
	opts    usecase.ProcessOptions
}

func (m *mockRouter) Process(_ context.Context, input string, history []domain.Message, opts usecase.ProcessOptions) (domain.Result, error) {
	m.mu.Lock()
	m.input, m.history, m.opts = input, history, opts
	m.mu.Unlock()
	opts.OnUpdate.Emit("Analyzing agents")
	if m.agent != "" {
		opts.OnUpdate.Emit(usecase.SelectedAgentStatus + m.agent)
	}
	return m.result, m.err
}

func (m *mockRouter) seen() (string, []domain.Message, usecase.ProcessOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.input, m.history, m.opts
}

func (m *mockRouter) Agents() []domain.AgentDescriptor {
	return []domain.AgentDescriptor{agentName("weather-agent"), agentName("calculator-agent")}
}

// eventHandle is a StreamHandle over a fixed event list.
type eventHandle struct{ events []domain.StreamEvent }

func (h eventHandle) ID() string { return "h1" }
func (h eventHandle) Events() <-chan domain.StreamEvent {
	ch := make(chan domain.StreamEvent, len(h.events))
	for _, ev := range h.events {
		ch <- ev
	}
	close(ch)
	return ch
}
func (h eventHandle) Wait() (*domain.GenerationResponse, error) {
	var text strings.Builder
	for _, ev := range h.events {
		if ev.Type == domain.StreamEventError {
			return nil, ev.Err
		}
		text.WriteString(ev.Text)
	}
	return &domain.GenerationResponse{Text: text.String(), FinishReason: domain.FinishStop}, nil
}

func newTestServer(t *testing.T, router Router, rl *middleware.RateLimitConfig) *httptest.Server {
	t.Helper()
	ch := NewHTTPChannel(HTTPConfig{RateLimit: rl}, router, slog.New(slog.DiscardHandler))
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(ch.Handler(ctx))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func postChat(t *testing.T, srv *httptest.Server, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	resp, err := http.Post(srv.URL+"/api/v1/chat", "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type sseFrame struct {
	event string
	data  string
}

func readSSE(t *testing.T, r io.Reader) []sseFrame {
	t.Helper()
	var frames []sseFrame
	var cur sseFrame
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.event != "" {
				frames = append(frames, cur)
			}
			cur = sseFrame{}
		}
	}
	require.NoError(t, sc.Err())
	return frames
}

func TestChat_Text(t *testing.T) {
	router := &mockRouter{agent: "calculator-agent", result: domain.TextResult("4")}
	srv := newTestServer(t, router, nil)

	history := []domain.Message{{Role: domain.RoleUser, Content: "What's the weather in Paris?"}}
	resp := postChat(t, srv, ChatRequest{Message: "2+2?", History: history})

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	var out ChatResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "calculator-agent", out.Agent)
	require.NotNil(t, out.Text)
	assert.Equal(t, "4", *out.Text)
	assert.Nil(t, out.Response)

	input, hist, opts := router.seen()
	assert.Equal(t, "2+2?", input)
	require.Len(t, hist, 1)
	assert.Equal(t, "What's the weather in Paris?", hist[0].Content)
	assert.False(t, opts.Stream)
}

func TestChat_Structured(t *testing.T) {
	gen := &domain.GenerationResponse{
		FinishReason: domain.FinishToolCalls,
		Steps:        []domain.GenerationStep{{ToolCalls: []domain.ToolCall{{ID: "1", Name: "calculator", Arguments: json.RawMessage(`{}`)}}}},
	}
	srv := newTestServer(t, &mockRouter{agent: "calculator-agent", result: domain.StructuredResult(gen)}, nil)

	resp := postChat(t, srv, ChatRequest{Message: "x"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var raw map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.NotContains(t, raw, "text")
	require.Contains(t, raw, "response")

	var got domain.GenerationResponse
	require.NoError(t, json.Unmarshal(raw["response"], &got))
	assert.Equal(t, domain.FinishToolCalls, got.FinishReason)
	assert.Equal(t, "calculator", got.Steps[0].ToolCalls[0].Name)
}

func TestChat_EmptyTextIsStillReturned(t *testing.T) {
	srv := newTestServer(t, &mockRouter{agent: "a", result: domain.TextResult("")}, nil)

	resp := postChat(t, srv, ChatRequest{Message: "x"})
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"text":""`)
}

func TestChat_BadRequests(t *testing.T) {
	srv := newTestServer(t, &mockRouter{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"message":`},
		{"missing message", `{"history":[]}`},
		{"blank message", `{"message":"   "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/api/v1/chat", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var e ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, domain.CodeInvalidInput, e.Code)
		})
	}
}

func TestChat_BodyTooLarge(t *testing.T) {
	srv := newTestServer(t, &mockRouter{}, nil)

	big := `{"message":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	resp, err := http.Post(srv.URL+"/api/v1/chat", "application/json", strings.NewReader(big))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	assert.Contains(t, e.Error, "too large")
}

func TestChat_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t, &mockRouter{}, nil)

	resp, err := http.Get(srv.URL + "/api/v1/chat")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   domain.ErrorCode
	}{
		{"agent not found", &domain.AgentNotFoundError{Name: "ghost-agent", Available: []string{"a"}}, http.StatusInternalServerError, domain.CodeAgentNotFound},
		{"tool failure", &domain.AgentProcessingError{Agent: "calculator-agent", Err: domain.NewExecutionError("calculator", fmt.Errorf("division by zero"))}, http.StatusInternalServerError, domain.CodeToolFailure},
		{"rate limited upstream", &domain.AgentProcessingError{Agent: "a", Err: domain.ErrRateLimit}, http.StatusTooManyRequests, domain.CodeRateLimit},
		{"content policy", &domain.AgentProcessingError{Agent: "a", Err: &domain.ContentPolicyError{FinishReason: domain.FinishContentFilter}}, http.StatusUnprocessableEntity, domain.CodeContentPolicy},
		{"bad classifier reply", &domain.UnsupportedResponseShapeError{Shape: "text"}, http.StatusBadGateway, domain.CodeUnsupportedResponseShape},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, domain.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &mockRouter{err: tt.err}, nil)

			resp := postChat(t, srv, ChatRequest{Message: "x"})
			assert.Equal(t, tt.status, resp.StatusCode)

			var e ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
			assert.Equal(t, tt.code, e.Code)
			assert.Equal(t, tt.err.Error(), e.Error)
		})
	}
}

func TestChat_Stream(t *testing.T) {
	handle := eventHandle{events: []domain.StreamEvent{
		{Type: domain.StreamEventTextDelta, Text: "Sunny, "},
		{Type: domain.StreamEventTextDelta, Text: "21°C."},
		{Type: domain.StreamEventFinish, FinishReason: domain.FinishStop},
	}}
	router := &mockRouter{agent: "weather-agent", result: domain.StreamResult(handle)}
	srv := newTestServer(t, router, nil)

	resp := postChat(t, srv, ChatRequest{Message: "Weather in Paris?", Stream: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	frames := readSSE(t, resp.Body)
	require.Len(t, frames, 5)

	assert.Equal(t, "progress", frames[0].event)
	assert.JSONEq(t, `{"status":"Analyzing agents"}`, frames[0].data)
	assert.Equal(t, "progress", frames[1].event)
	assert.JSONEq(t, `{"status":"Selected agent: weather-agent","agent":"weather-agent"}`, frames[1].data)

	assert.Equal(t, "text-delta", frames[2].event)
	var ev domain.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(frames[3].data), &ev))
	assert.Equal(t, "21°C.", ev.Text)
	assert.Equal(t, "finish", frames[4].event)

	_, _, opts := router.seen()
	assert.True(t, opts.Stream)
}

func TestChat_StreamErrors(t *testing.T) {
	t.Run("routing error", func(t *testing.T) {
		srv := newTestServer(t, &mockRouter{err: &domain.AgentNotFoundError{Name: "ghost-agent"}}, nil)

		resp := postChat(t, srv, ChatRequest{Message: "x", Stream: true})
		frames := readSSE(t, resp.Body)
		require.NotEmpty(t, frames)

		last := frames[len(frames)-1]
		assert.Equal(t, "error", last.event)
		var e ErrorResponse
		require.NoError(t, json.Unmarshal([]byte(last.data), &e))
		assert.Equal(t, domain.CodeAgentNotFound, e.Code)
	})

	t.Run("mid-stream error", func(t *testing.T) {
		handle := eventHandle{events: []domain.StreamEvent{
			{Type: domain.StreamEventTextDelta, Text: "par"},
			{Type: domain.StreamEventError, Err: domain.ErrProviderError},
		}}
		srv := newTestServer(t, &mockRouter{agent: "a", result: domain.StreamResult(handle)}, nil)

		resp := postChat(t, srv, ChatRequest{Message: "x", Stream: true})
		frames := readSSE(t, resp.Body)
		last := frames[len(frames)-1]
		assert.Equal(t, "error", last.event)
		assert.Contains(t, last.data, string(domain.CodeProviderError))
	})
}

func TestChat_StreamTextResult(t *testing.T) {
	srv := newTestServer(t, &mockRouter{agent: "a", result: domain.TextResult("done")}, nil)

	resp := postChat(t, srv, ChatRequest{Message: "x", Stream: true})
	frames := readSSE(t, resp.Body)
	require.Len(t, frames, 4)
	assert.Equal(t, "text-delta", frames[2].event)
	assert.Contains(t, frames[2].data, `"text":"done"`)
	assert.Equal(t, "finish", frames[3].event)
}

func TestChat_RateLimited(t *testing.T) {
	srv := newTestServer(t, &mockRouter{agent: "a", result: domain.TextResult("ok")}, &middleware.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 1})

	assert.Equal(t, http.StatusOK, postChat(t, srv, ChatRequest{Message: "x"}).StatusCode)
	resp := postChat(t, srv, ChatRequest{Message: "x"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &mockRouter{}, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Status string   `json:"status"`
		Agents []string `json:"agents"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, []string{"weather-agent", "calculator-agent"}, body.Agents)
}

func TestHTTPChannel_StartStop(t *testing.T) {
	ch := NewHTTPChannel(HTTPConfig{Addr: "127.0.0.1:0"}, &mockRouter{}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, ch.Start(ctx))
	addr := ch.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, ch.Stop(ctx))
	assert.Equal(t, "http", ch.Name())
}

func TestHTTPChannel_StopBeforeStart(t *testing.T) {
	ch := NewHTTPChannel(HTTPConfig{}, &mockRouter{}, slog.New(slog.DiscardHandler))
	assert.NoError(t, ch.Stop(context.Background()))
}
