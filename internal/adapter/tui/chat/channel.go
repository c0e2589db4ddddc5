package chat

import (
	"context"
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// TUIOptions configures the chat REPL.
type TUIOptions struct {
	Stream bool
	Model  string
	// AltScreen renders in the terminal's alternate screen buffer.
	AltScreen bool
}

// TUIChannel runs the chat REPL as a Bubble Tea program.
type TUIChannel struct {
	router Router
	logger *slog.Logger
	opts   TUIOptions

	mu      sync.Mutex
	program *tea.Program
}

// NewTUIChannel creates the terminal chat channel.
func NewTUIChannel(router Router, logger *slog.Logger, opts TUIOptions) *TUIChannel {
	return &TUIChannel{router: router, logger: logger, opts: opts}
}

// Name returns the channel name.
func (c *TUIChannel) Name() string { return "cli" }

// Start runs the program and blocks until it exits or ctx is cancelled.
func (c *TUIChannel) Start(ctx context.Context, progOpts ...tea.ProgramOption) error {
	model := NewChatModel(ChatModelDeps{
		Router: c.router,
		Logger: c.logger,
		Stream: c.opts.Stream,
		Model:  c.opts.Model,
	})

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithMouseCellMotion()}
	if c.opts.AltScreen {
		opts = append(opts, tea.WithAltScreen())
	}
	program := tea.NewProgram(model, append(opts, progOpts...)...)

	c.mu.Lock()
	c.program = program
	c.mu.Unlock()

	_, err := program.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Stop asks the program to quit.
func (c *TUIChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	program := c.program
	c.mu.Unlock()

	if program != nil {
		program.Send(QuitMsg{})
	}
	return nil
}
