package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"switchboard/internal/domain"
	"switchboard/internal/infra/middleware"
	"switchboard/internal/usecase"
)

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 1 << 20

// Router answers a message. *usecase.Orchestrator implements it.
type Router interface {
	Process(ctx context.Context, input string, history []domain.Message, opts usecase.ProcessOptions) (domain.Result, error)
	Agents() []domain.AgentDescriptor
}

// HTTPConfig configures the HTTP channel.
type HTTPConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// RateLimit is nil when rate limiting is disabled.
	RateLimit *middleware.RateLimitConfig
}

// HTTPChannel serves the chat API.
type HTTPChannel struct {
	cfg    HTTPConfig
	router Router
	logger *slog.Logger

	mu        sync.Mutex
	server    *http.Server
	boundAddr string
	cancel    context.CancelFunc
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	Message string           `json:"message"`
	History []domain.Message `json:"history,omitempty"`
	Stream  bool             `json:"stream,omitempty"`
}

// ChatResponse is the non-streaming reply. Exactly one of Text and
// Response is set.
type ChatResponse struct {
	Agent    string                     `json:"agent,omitempty"`
	Text     *string                    `json:"text,omitempty"`
	Response *domain.GenerationResponse `json:"response,omitempty"`
}

// ErrorResponse is the body of every error reply and SSE error event.
type ErrorResponse struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

// progressEvent is the SSE payload of a status update.
type progressEvent struct {
	Status string `json:"status"`
	Agent  string `json:"agent,omitempty"`
}

// NewHTTPChannel creates the HTTP channel.
func NewHTTPChannel(cfg HTTPConfig, router Router, logger *slog.Logger) *HTTPChannel {
	return &HTTPChannel{cfg: cfg, router: router, logger: logger}
}

// Name returns the channel name.
func (h *HTTPChannel) Name() string { return "http" }

// Handler returns the routed handler with middleware applied. ctx bounds
// the rate limiter's background sweeper.
func (h *HTTPChannel) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat", h.handleChat)
	mux.HandleFunc("GET /healthz", h.handleHealth)

	mws := []middleware.Middleware{
		middleware.Recover(h.logger),
		middleware.RequestLogger(h.logger),
		middleware.SecurityHeaders,
	}
	if h.cfg.RateLimit != nil {
		mws = append(mws, middleware.NewRateLimiter(ctx, *h.cfg.RateLimit).Middleware)
	}
	return middleware.Chain(mux, mws...)
}

// Start listens on the configured address and serves in the background.
func (h *HTTPChannel) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", h.cfg.Addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	srv := &http.Server{
		Handler:           h.Handler(srvCtx),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       h.cfg.ReadTimeout,
		WriteTimeout:      h.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	h.mu.Lock()
	h.server, h.boundAddr, h.cancel = srv, ln.Addr().String(), cancel
	h.mu.Unlock()

	go func() {
		h.logger.Info("http channel started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("http server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start has returned.
func (h *HTTPChannel) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.boundAddr
}

// Stop shuts the server down gracefully.
func (h *HTTPChannel) Stop(ctx context.Context) error {
	h.mu.Lock()
	srv, cancel := h.server, h.cancel
	h.mu.Unlock()

	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	cancel()
	return err
}

func (h *HTTPChannel) handleHealth(w http.ResponseWriter, _ *http.Request) {
	agents := h.router.Agents()
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "agents": names})
}

func (h *HTTPChannel) handleChat(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		detail := "invalid JSON: " + err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			detail = fmt.Sprintf("request body too large (max %d bytes)", maxBodyBytes)
		}
		writeError(w, domain.NewDomainError("chat", domain.ErrInvalidInput, detail))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, domain.NewDomainError("chat", domain.ErrInvalidInput, "message is required"))
		return
	}

	if req.Stream {
		h.streamChat(w, r, req)
		return
	}

	var agent string
	res, err := h.router.Process(r.Context(), req.Message, req.History, usecase.ProcessOptions{
		OnUpdate: func(status string) {
			if name, ok := strings.CutPrefix(status, usecase.SelectedAgentStatus); ok {
				agent = name
			}
		},
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "chat failed", "error", err, "code", domain.ErrorCodeOf(err))
		writeError(w, err)
		return
	}

	out := ChatResponse{Agent: agent}
	switch res.Kind {
	case domain.ResultStructured:
		out.Response = res.Response
	case domain.ResultStream:
		resp, err := res.Stream.Wait()
		if err != nil {
			writeError(w, err)
			return
		}
		out.Text = &resp.Text
	default:
		out.Text = &res.Text
	}
	writeJSON(w, http.StatusOK, out)
}

// streamChat answers with server-sent events: progress updates while the
// message is classified, then the agent's stream events.
func (h *HTTPChannel) streamChat(w http.ResponseWriter, r *http.Request, req ChatRequest) {
	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, domain.NewDomainError("chat", domain.ErrInvalidInput, "streaming unsupported by this connection"))
		return
	}

	res, err := h.router.Process(r.Context(), req.Message, req.History, usecase.ProcessOptions{
		Stream: true,
		OnUpdate: func(status string) {
			ev := progressEvent{Status: status}
			if name, ok := strings.CutPrefix(status, usecase.SelectedAgentStatus); ok {
				ev.Agent = name
			}
			sse.send("progress", ev)
		},
	})
	if err != nil {
		h.logger.WarnContext(r.Context(), "chat stream failed", "error", err, "code", domain.ErrorCodeOf(err))
		sse.send(string(domain.StreamEventError), errorBody(err))
		return
	}

	switch res.Kind {
	case domain.ResultStream:
		for ev := range res.Stream.Events() {
			if ev.Type == domain.StreamEventError {
				sse.send(string(ev.Type), errorBody(ev.Err))
				continue
			}
			sse.send(string(ev.Type), ev)
		}
	case domain.ResultStructured:
		sse.send("response", res.Response)
		sse.send(string(domain.StreamEventFinish), domain.StreamEvent{Type: domain.StreamEventFinish, FinishReason: res.Response.FinishReason})
	default:
		sse.send(string(domain.StreamEventTextDelta), domain.StreamEvent{Type: domain.StreamEventTextDelta, Text: res.Text})
		sse.send(string(domain.StreamEventFinish), domain.StreamEvent{Type: domain.StreamEventFinish, FinishReason: domain.FinishStop})
	}
}

// sseWriter writes text/event-stream frames and flushes each one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, flusher: f}, true
}

func (s *sseWriter) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(ErrorResponse{Error: err.Error(), Code: domain.CodeUnknown})
		event = string(domain.StreamEventError)
	}
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data)
	s.flusher.Flush()
}

func errorBody(err error) ErrorResponse {
	if err == nil {
		err = errors.New("unknown error")
	}
	return ErrorResponse{Error: err.Error(), Code: domain.ErrorCodeOf(err)}
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 499
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch domain.ErrorCodeOf(err) {
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeRateLimit:
		return http.StatusTooManyRequests
	case domain.CodeTimeout:
		return http.StatusGatewayTimeout
	case domain.CodeContentPolicy:
		return http.StatusUnprocessableEntity
	case domain.CodeAuthInvalid, domain.CodeProviderError, domain.CodeContextOverflow,
		domain.CodeGenerationFailed, domain.CodeUnsupportedResponseShape:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
