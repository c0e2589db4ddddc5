package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"switchboard/internal/adapter/llm"
	"switchboard/internal/adapter/tool"
	"switchboard/internal/domain"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/logger"
	"switchboard/internal/infra/tracer"
	"switchboard/internal/usecase"
)

type appOptions struct {
	// requestSessions gives every delegation a fresh agent session, so the
	// caller's history is the only conversation state.
	requestSessions bool
	// threadHistory forces history threading on regardless of config.
	threadHistory bool
	// terminal is set when the TUI owns stdout and stderr.
	terminal bool
}

// app is the wired application shared by the chat and serve commands.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	orchestrator *usecase.Orchestrator
	modelName    string

	closeLog       func() error
	shutdownTracer func(context.Context) error
}

func newApp(ctx context.Context, configPath string, opts appOptions) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &app{cfg: cfg, modelName: providerModel(cfg, "")}

	if opts.terminal && consoleOutput(cfg.Logger.Output) {
		a.logger = logger.Discard()
	} else {
		log, closeLog, err := logger.New(cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("logger: %w", err)
		}
		a.logger, a.closeLog = log, closeLog
	}

	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.shutdownTracer = shutdown

	orch, err := buildOrchestrator(ctx, cfg, a.logger, opts)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orchestrator = orch
	return a, nil
}

// Close flushes traces and closes the log output.
func (a *app) Close() {
	if a.shutdownTracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracer(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}

func consoleOutput(output string) bool {
	return output == "" || output == "stderr" || output == "stdout"
}

func buildOrchestrator(ctx context.Context, cfg *config.Config, log *slog.Logger, opts appOptions) (*usecase.Orchestrator, error) {
	providers, err := initLLM(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	tools := initTools(cfg, log)

	agents, err := initAgents(cfg, providers, tools, log)
	if err != nil {
		return nil, err
	}

	classifier, err := initClassifier(cfg, providers, log)
	if err != nil {
		return nil, err
	}

	orch, err := usecase.NewOrchestrator(classifier, agents,
		usecase.WithHistoryThreading(cfg.Orchestrator.ThreadHistory || opts.threadHistory),
		usecase.WithRequestSessions(opts.requestSessions),
		usecase.WithOrchestratorLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	log.Info("switchboard ready",
		"providers", providers.List(),
		"tools", tools.Names(),
		"agents", len(agents),
		"classifier_mode", cfg.Classifier.Mode,
	)
	return orch, nil
}

func initTools(cfg *config.Config, log *slog.Logger) *tool.Registry {
	registry := tool.NewRegistry(log)

	if cfg.Tools.Calculator.Enabled {
		registry.Register(tool.NewCalculatorTool(log))
	}

	if wc := cfg.Tools.Weather; wc.Enabled {
		var limit *domain.RateLimit
		if wc.RateLimit.Requests > 0 && wc.RateLimit.Period > 0 {
			limit = &domain.RateLimit{Requests: wc.RateLimit.Requests, Period: wc.RateLimit.Period}
		}
		backend := tool.NewOpenMeteoBackend(wc.GeocodeURL, wc.ForecastURL, wc.Timeout, log)
		registry.Register(tool.NewWeatherTool(backend, limit, log))
	}

	return registry
}

// initAgents builds one agent per configured entry. Agents on the same
// provider share a generator.
func initAgents(cfg *config.Config, providers *llm.Registry, tools *tool.Registry, log *slog.Logger) ([]usecase.Processor, error) {
	generators := make(map[string]*usecase.Generator)
	generatorFor := func(name string) (*usecase.Generator, error) {
		if g, ok := generators[name]; ok {
			return g, nil
		}
		p, err := providers.Resolve(name)
		if err != nil {
			return nil, err
		}
		g := usecase.NewGenerator(p, log)
		generators[name] = g
		return g, nil
	}

	agents := make([]usecase.Processor, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		model, err := generatorFor(ac.Provider)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
		}

		deps := usecase.AgentDeps{Model: model, Logger: log.With("agent", ac.Name)}
		if len(ac.Tools) > 0 {
			for _, name := range ac.Tools {
				if _, err := tools.Get(name); err != nil {
					return nil, fmt.Errorf("agent %s: tool %q is not enabled: %w", ac.Name, name, err)
				}
			}
			deps.Tools = tools.Subset(ac.Tools...)
		}

		agent, err := usecase.NewAgent(usecase.AgentConfig{
			Name:         ac.Name,
			Description:  ac.Description,
			Capabilities: ac.Capabilities,
			SystemPrompt: ac.SystemPrompt,
			Temperature:  ac.Temperature,
			MaxTokens:    ac.MaxTokens,
			MaxSteps:     ac.MaxSteps,
		}, deps)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", ac.Name, err)
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

func initClassifier(cfg *config.Config, providers *llm.Registry, log *slog.Logger) (*usecase.AgentClassifier, error) {
	cc := cfg.Classifier

	var template string
	if cc.PromptTemplateFile != "" {
		data, err := os.ReadFile(cc.PromptTemplateFile)
		if err != nil {
			return nil, fmt.Errorf("classifier template: %w", err)
		}
		template = string(data)
	}

	provider, err := providers.Resolve(cc.Provider)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}

	classifyTool, err := tool.NewClassificationTool(log)
	if err != nil {
		return nil, fmt.Errorf("classification tool: %w", err)
	}

	classifier, err := usecase.NewAgentClassifier(usecase.ClassifierConfig{
		Mode:        cc.Mode,
		Template:    template,
		Temperature: cc.Temperature,
		MaxTokens:   cc.MaxTokens,
	}, usecase.ClassifierDeps{
		Model:  usecase.NewGenerator(provider, log),
		Tool:   classifyTool,
		Logger: log.With("component", "classifier"),
	})
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return classifier, nil
}
