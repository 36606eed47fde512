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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-widget/backend/internal/config"
	"github.com/zhouzirui/z-widget/backend/internal/observability"
	"github.com/zhouzirui/z-widget/backend/internal/service/chat"
	"github.com/zhouzirui/z-widget/backend/internal/service/exchange"
	"github.com/zhouzirui/z-widget/backend/internal/storage"
	"github.com/zhouzirui/z-widget/backend/pkg/markup"
)

type options struct {
	endpoint   string
	timeout    time.Duration
	store      string
	sqlitePath string
	redisAddr  string
	scope      string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cobra.CheckErr(newRootCommand().ExecuteContext(ctx))
}

func newRootCommand() *cobra.Command {
	opts := &options{}
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "widgetcli",
		Short:         "Talk to a chat webhook the way the widget does",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, opts, loaded)
			observability.SetupWriter(config.LogConfig{Level: loaded.Log.Level, Format: "console"}, cmd.ErrOrStderr())
			cfg = loaded
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.endpoint, "endpoint", "", "webhook URL (defaults to WEBHOOK_URL)")
	flags.DurationVar(&opts.timeout, "timeout", exchange.DefaultTimeout, "per-exchange timeout")
	flags.StringVar(&opts.store, "store", config.StoreMemory, "session store: memory, sqlite or redis")
	flags.StringVar(&opts.sqlitePath, "sqlite-path", "", "sqlite database file for the sqlite store")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "redis address for the redis store")
	flags.StringVar(&opts.scope, "scope", "cli", "storage scope for the session identifier")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level, LOG_LEVEL wins when the flag is unset")

	root.AddCommand(
		newChatCommand(opts, func() *config.Config { return cfg }),
		newSendCommand(opts, func() *config.Config { return cfg }),
		newSanitizeCommand(),
	)
	return root
}

// applyFlags lets explicitly set flags override the environment.
func applyFlags(cmd *cobra.Command, opts *options, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("endpoint") {
		cfg.Webhook.URL = opts.endpoint
	}
	if flags.Changed("timeout") {
		cfg.Webhook.Timeout = opts.timeout
	}
	if flags.Changed("store") {
		cfg.Session.Store = strings.ToLower(strings.TrimSpace(opts.store))
	}
	if flags.Changed("sqlite-path") {
		cfg.Session.SQLitePath = opts.sqlitePath
	}
	if flags.Changed("redis-addr") {
		cfg.Session.RedisAddr = opts.redisAddr
	}
	if flags.Changed("log-level") || os.Getenv("LOG_LEVEL") == "" {
		cfg.Log.Level = opts.logLevel
	}
}

// openWidget builds a single widget backed by the configured store.
func openWidget(ctx context.Context, cfg *config.Config, scope string) (*chat.Widget, func() error, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	store, closeStore, err := storage.Open(ctx, cfg.Session)
	if err != nil {
		return nil, nil, err
	}

	client := exchange.NewClient(cfg.Webhook.URL, exchange.WithTimeout(cfg.Webhook.Timeout))
	svc := chat.NewService(store, client, chat.Options{
		Greeting:   cfg.Widget.Greeting,
		SessionKey: cfg.Session.Key,
	})
	w, err := svc.Create(ctx, scope)
	if err != nil {
		_ = closeStore()
		return nil, nil, err
	}
	return w, closeStore, nil
}

func newChatCommand(opts *options, cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Interactive conversation; /new starts a fresh session, /quit exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, closeStore, err := openWidget(cmd.Context(), cfg(), opts.scope)
			if err != nil {
				return err
			}
			defer closeStore()
			return runChat(cmd.Context(), w, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newSendCommand(opts *options, cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w, closeStore, err := openWidget(cmd.Context(), cfg(), opts.scope)
			if err != nil {
				return err
			}
			defer closeStore()

			w.Open(cmd.Context())
			reply, err := w.Send(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), markup.Strip(reply.Text))
			return err
		},
	}
}

func newSanitizeCommand() *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Read markdown on stdin and print display markup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			out := markup.ToDisplayMarkup(string(raw))
			if plain {
				out = markup.Strip(string(raw))
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "strip markdown without escaping or line-break conversion")
	return cmd
}

// runChat drives the widget from a line-oriented reader until EOF or /quit.
func runChat(ctx context.Context, w *chat.Widget, in io.Reader, out io.Writer) error {
	w.Open(ctx)
	for _, m := range w.Messages() {
		fmt.Fprintf(out, "agent> %s\n", markup.Strip(m.Text))
	}

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := scanner.Text()

		switch strings.TrimSpace(line) {
		case "/quit", "/exit":
			return nil
		case "/new":
			w.Close()
			snap := w.Open(ctx)
			fmt.Fprintf(out, "-- new session %s\n", snap.SessionID)
			continue
		}

		reply, err := w.Send(ctx, line)
		if errors.Is(err, chat.ErrEmptyMessage) {
			continue
		}
		if err != nil {
			return err
		}
		log.Debug().Int("seq", reply.Seq).Msg("reply received")
		fmt.Fprintf(out, "agent> %s\n", markup.Strip(reply.Text))
	}
}
