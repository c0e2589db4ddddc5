package usecase

import (
	"context"
	"time"

	"switchboard/internal/domain"
)

// Session is a request-scoped view of an Agent. It owns its history and
// shares the agent's config, model and tools, so sessions of one agent can
// run concurrently.
type Session struct {
	ID        string
	CreatedAt time.Time

	agent   *Agent
	history *History
}

func newSession(a *Agent, seed []domain.Message) *Session {
	return &Session{
		ID:        newID(),
		CreatedAt: time.Now(),
		agent:     a,
		history:   NewHistory(seed...),
	}
}

func (s *Session) Name() string        { return s.agent.Name() }
func (s *Session) Description() string { return s.agent.Description() }

// Process behaves like Agent.Process against the session's own history.
func (s *Session) Process(ctx context.Context, input string, opts domain.GenerationOptions) (domain.Result, error) {
	ctx = domain.WithSessionID(ctx, s.ID)
	return s.agent.process(ctx, s.history, input, opts)
}

// ProcessMessages behaves like Agent.ProcessMessages.
func (s *Session) ProcessMessages(ctx context.Context, msgs []domain.Message, opts domain.GenerationOptions) (domain.Result, error) {
	ctx = domain.WithSessionID(ctx, s.ID)
	return s.agent.generate(ctx, s.agent.withSystemPrompt(msgs), opts)
}

// History returns a copy of the session's conversation.
func (s *Session) History() []domain.Message { return s.history.Messages() }

// ClearHistory discards the session's conversation.
func (s *Session) ClearHistory() { s.history.Clear() }

var _ Processor = (*Session)(nil)
