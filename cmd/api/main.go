package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-widget/backend/internal/config"
	"github.com/zhouzirui/z-widget/backend/internal/handler"
	"github.com/zhouzirui/z-widget/backend/internal/observability"
	"github.com/zhouzirui/z-widget/backend/internal/service/chat"
	"github.com/zhouzirui/z-widget/backend/internal/service/exchange"
	"github.com/zhouzirui/z-widget/backend/internal/storage"
)

const janitorInterval = time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	observability.Setup(cfg.Log)
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, closeStore, err := storage.Open(ctx, cfg.Session)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.Session.Store).Msg("failed to open session store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn().Err(err).Msg("failed to close session store")
		}
	}()
	log.Info().Str("store", cfg.Session.Store).Msg("session store ready")

	client := exchange.NewClient(cfg.Webhook.URL, exchange.WithTimeout(cfg.Webhook.Timeout))
	widgets := chat.NewService(store, client, chat.Options{
		Greeting:   cfg.Widget.Greeting,
		SessionKey: cfg.Session.Key,
		IdleTTL:    cfg.Widget.IdleTTL,
	})
	go widgets.RunJanitor(ctx, janitorInterval)

	router := handler.NewRouter(widgets)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr, err := serverCfg.Addr()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid listen address")
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("widget backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
