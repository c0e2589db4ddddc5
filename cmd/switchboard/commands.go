package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"switchboard/internal/adapter/channel"
	"switchboard/internal/adapter/tui/chat"
	"switchboard/internal/infra/config"
	"switchboard/internal/infra/middleware"
)

const shutdownTimeout = 10 * time.Second

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "switchboard",
		Short: "Route each message to the agent best suited to answer it",
		Long: `switchboard classifies every message with a language model and hands it
to one of the configured specialist agents.

Configuration is read from config.yaml (see --config). SWITCHBOARD_*
environment variables override file values; SWITCHBOARD_OPENAI_API_KEY
alone is enough to get started.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags, chatOptions{})
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "config.yaml", "config file path")

	root.AddCommand(newChatCmd(flags), newServeCmd(flags), newEncryptCmd(), newDoctorCmd(flags))
	return root
}

type chatOptions struct {
	stream    bool
	altScreen bool
}

func newChatCmd(flags *rootFlags) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), flags, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "stream replies as they are generated")
	cmd.Flags().BoolVar(&opts.altScreen, "alt-screen", true, "use the terminal's alternate screen")
	return cmd
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP chat API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

func newEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [value]",
		Short: "Encrypt a secret for the config file",
		Long: `Encrypt a secret, such as a provider api_key, with the passphrase in
SWITCHBOARD_CONFIG_KEY. The value is read from the argument, or from stdin
when no argument is given. Paste the printed enc: value into config.yaml.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := secretInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			out, err := encryptSecret(value, os.Getenv(config.EnvPrefix+"CONFIG_KEY"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func secretInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read value: %w", err)
	}
	value := strings.TrimRight(line, "\r\n")
	if value == "" {
		return "", errors.New("no value to encrypt")
	}
	return value, nil
}

func encryptSecret(value, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("set %sCONFIG_KEY to the passphrase", config.EnvPrefix)
	}
	enc, err := config.EncryptValue(value, passphrase)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return "enc:" + enc, nil
}

// chatAppOptions makes the TUI conversation the only history: every
// delegation runs in a fresh session and receives it threaded, so /clear and
// streamed turns need no agent-side bookkeeping.
var chatAppOptions = appOptions{terminal: true, requestSessions: true, threadHistory: true}

func runChat(ctx context.Context, flags *rootFlags, opts chatOptions) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, flags.configPath, chatAppOptions)
	if err != nil {
		return err
	}
	defer app.Close()

	tui := chat.NewTUIChannel(app.orchestrator, app.logger, chat.TUIOptions{
		Stream:    opts.stream,
		Model:     app.modelName,
		AltScreen: opts.altScreen,
	})
	return tui.Start(ctx)
}

func runServe(ctx context.Context, flags *rootFlags, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, flags.configPath, appOptions{requestSessions: true})
	if err != nil {
		return err
	}
	defer app.Close()

	hc := app.cfg.HTTP
	if addr == "" {
		addr = hc.Addr
	}
	httpCfg := channel.HTTPConfig{
		Addr:         addr,
		ReadTimeout:  hc.ReadTimeout,
		WriteTimeout: hc.WriteTimeout,
	}
	if hc.RateLimit.Enabled {
		httpCfg.RateLimit = &middleware.RateLimitConfig{
			RequestsPerSecond: hc.RateLimit.RequestsPerSecond,
			Burst:             hc.RateLimit.Burst,
			TrustedProxies:    hc.RateLimit.TrustedProxies,
		}
	}

	ch := channel.NewHTTPChannel(httpCfg, app.orchestrator, app.logger)
	if err := ch.Start(ctx); err != nil {
		return err
	}
	app.logger.Info("switchboard serving", "addr", ch.Addr(), "agents", len(app.orchestrator.Agents()))

	<-ctx.Done()
	app.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return ch.Stop(shutdownCtx)
}
