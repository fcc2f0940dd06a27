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
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/studypal/backend/internal/config"
	"github.com/zhouzirui/studypal/backend/internal/handler"
	"github.com/zhouzirui/studypal/backend/internal/logging"
	"github.com/zhouzirui/studypal/backend/internal/model/tutor"
	"github.com/zhouzirui/studypal/backend/internal/service/prompt"
	"github.com/zhouzirui/studypal/backend/internal/service/provider"
	"github.com/zhouzirui/studypal/backend/internal/service/session"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := logging.New(cfg.Log)
	if envErr != nil {
		log.WithError(envErr).Warn("failed to load .env file, continuing with system environment variables only")
	}

	system, err := prompt.Load(cfg.Chat.SystemPromptFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load system prompt")
	}

	registry, err := provider.FromConfig(ctx, cfg, system, log)
	if err != nil {
		log.WithError(err).Fatal("至少需要配置一个模型提供方 (ARK_* 或 OPENAI_API_KEY)")
	}

	tutors := tutor.NewMemoryStore(tutor.Seed())
	sessions := session.NewService(registry, log)

	router := handler.NewRouter(tutors, registry, sessions, log)

	startServer(ctx, cfg.Server, router, log)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log logrus.FieldLogger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.WithField("addr", addr).Info("StudyPal backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.WithError(err).Fatal("server error")
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
