package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"switchboard/internal/domain"
	"switchboard/internal/infra/tracer"
)

// SelectedAgentStatus prefixes the progress update naming the chosen agent.
const SelectedAgentStatus = "Selected agent: "

// ProcessOptions are the per-request knobs of Orchestrator.Process.
type ProcessOptions struct {
	Stream   bool
	OnUpdate domain.ProgressFunc
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithHistoryThreading makes the delegate see the caller's history, the
// classifier's rationale and the input, instead of the bare input.
func WithHistoryThreading(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) { o.threadHistory = enabled }
}

// WithRequestSessions runs each delegation in a fresh Session of the
// selected agent, so shared agents do not accumulate history across
// requests.
func WithRequestSessions(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) { o.requestSessions = enabled }
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// Orchestrator classifies a message and delegates it to the selected agent.
// It adds no retry or fallback.
type Orchestrator struct {
	classifier Classifier
	agents     []Processor
	byName     map[string]Processor
	candidates []domain.AgentDescriptor

	threadHistory   bool
	requestSessions bool
	logger          *slog.Logger
}

// NewOrchestrator creates an orchestrator over agents. Agent order only
// affects the order of descriptions shown to the classifier.
func NewOrchestrator(classifier Classifier, agents []Processor, opts ...OrchestratorOption) (*Orchestrator, error) {
	if classifier == nil {
		return nil, domain.NewDomainError("NewOrchestrator", domain.ErrInvalidInput, "classifier is required")
	}
	if len(agents) == 0 {
		return nil, domain.NewDomainError("NewOrchestrator", domain.ErrInvalidInput, "at least one agent is required")
	}

	o := &Orchestrator{
		classifier: classifier,
		agents:     agents,
		byName:     make(map[string]Processor, len(agents)),
		candidates: make([]domain.AgentDescriptor, 0, len(agents)),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, a := range agents {
		if _, dup := o.byName[a.Name()]; dup {
			return nil, domain.NewDomainError("NewOrchestrator", domain.ErrDuplicate, fmt.Sprintf("agent %q", a.Name()))
		}
		o.byName[a.Name()] = a
		o.candidates = append(o.candidates, a)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// HistoryThreading reports whether the delegate receives the threaded
// history.
func (o *Orchestrator) HistoryThreading() bool { return o.threadHistory }

// Agents returns the configured agents in order.
func (o *Orchestrator) Agents() []domain.AgentDescriptor {
	out := make([]domain.AgentDescriptor, len(o.candidates))
	copy(out, o.candidates)
	return out
}

// Process classifies input and returns the selected agent's result
// unmodified.
func (o *Orchestrator) Process(ctx context.Context, input string, history []domain.Message, opts ProcessOptions) (res domain.Result, err error) {
	ctx, span := tracer.StartSpan(ctx, "orchestrator.process",
		trace.WithAttributes(
			tracer.BoolAttr("orchestrator.stream", opts.Stream),
			tracer.BoolAttr("orchestrator.thread_history", o.threadHistory),
		),
	)
	defer func() { tracer.Finish(span, err) }()

	decision, err := o.classifier.Classify(ctx, input, o.candidates, history, opts.OnUpdate)
	if err != nil {
		return domain.Result{}, err
	}

	opts.OnUpdate.Emit(SelectedAgentStatus + decision.SelectedAgent)
	span.SetAttributes(tracer.StringAttr("orchestrator.agent", decision.SelectedAgent))

	agent, ok := o.byName[decision.SelectedAgent]
	if !ok {
		return domain.Result{}, &domain.AgentNotFoundError{Name: decision.SelectedAgent, Available: o.names()}
	}

	ctx = domain.WithAgent(ctx, decision.SelectedAgent)
	o.logger.DebugContext(ctx, "dispatching to agent",
		"confidence", decision.Confidence,
		"thread_history", o.threadHistory,
	)

	if o.requestSessions {
		if a, ok := agent.(*Agent); ok {
			agent = a.Session()
		}
	}

	genOpts := domain.GenerationOptions{Stream: opts.Stream}
	if o.threadHistory {
		return agent.ProcessMessages(ctx, threadedMessages(history, decision, input), genOpts)
	}
	return agent.Process(ctx, input, genOpts)
}

// ClearHistory discards the conversation kept by every agent that has one.
func (o *Orchestrator) ClearHistory() {
	for _, a := range o.agents {
		if c, ok := a.(interface{ ClearHistory() }); ok {
			c.ClearHistory()
		}
	}
}

// threadedMessages returns history followed by the classifier's rationale
// and the user input.
func threadedMessages(history []domain.Message, decision domain.ClassifierResult, input string) []domain.Message {
	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, history...)
	if decision.Reasoning != "" {
		msgs = append(msgs, domain.Message{
			Role:    domain.RoleData,
			Content: fmt.Sprintf("Routed to %s: %s", decision.SelectedAgent, decision.Reasoning),
		})
	}
	return append(msgs, domain.Message{Role: domain.RoleUser, Content: input})
}

func (o *Orchestrator) names() []string {
	names := make([]string, len(o.agents))
	for i, a := range o.agents {
		names[i] = a.Name()
	}
	return names
}
