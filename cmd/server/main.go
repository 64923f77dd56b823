// chatrelay - web chat front-end for a hosted language model
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/chatrelay/internal/api"
	"github.com/ashureev/chatrelay/internal/chat"
	"github.com/ashureev/chatrelay/internal/config"
	"github.com/ashureev/chatrelay/internal/health"
	"github.com/ashureev/chatrelay/internal/inference"
	"github.com/ashureev/chatrelay/internal/logging"
	"github.com/ashureev/chatrelay/internal/middleware"
	"github.com/ashureev/chatrelay/internal/prompt"
	"github.com/ashureev/chatrelay/internal/render"
	"github.com/ashureev/chatrelay/internal/session"
	"github.com/ashureev/chatrelay/internal/telemetry"
	"github.com/ashureev/chatrelay/web"
)

const (
	shutdownTimeout = 10 * time.Second

	// writeTimeoutMargin covers prompt composition, rendering and the
	// response write on top of the inference budget.
	writeTimeoutMargin = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run() error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}
	slog.Info("Starting server", "port", cfg.Port, "model", cfg.Inference.Model)

	shutdownTelemetry, err := telemetry.Setup(telemetry.Options{Enabled: cfg.TelemetryEnabled})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Error("Failed to flush telemetry", "error", err)
		}
	}()

	// Initialize dependencies.
	templates, err := prompt.LoadTemplates(cfg.Prompt.TemplatesFile)
	if err != nil {
		return err
	}
	resolver, err := prompt.NewResolver(templates, prompt.Defaults{
		TargetLanguage: cfg.Prompt.DefaultTargetLanguage,
		Language:       cfg.Prompt.DefaultCodeLanguage,
	})
	if err != nil {
		return err
	}

	store := session.NewStore(
		session.WithTTL(cfg.Session.TTL),
		session.WithMaxTurns(cfg.Session.MaxTurns),
	)

	client := inference.NewClient(inference.Config{
		APIKey:     cfg.Inference.APIKey,
		BaseURL:    cfg.Inference.BaseURL,
		Model:      cfg.Inference.Model,
		Timeout:    cfg.Inference.Timeout,
		MaxRetries: cfg.Inference.MaxRetries,
	}, logger)
	if !cfg.HasInferenceKey() {
		slog.Warn("HF_API_KEY is not set, chat replies will report the missing credential")
	}

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Path:      cfg.ConversationLog.Path,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	svc := chat.NewService(store, resolver, client, render.NewMarkdown(), chat.Config{
		SystemPrompt:  cfg.Prompt.SystemPrompt,
		HistoryWindow: cfg.Prompt.HistoryWindow,
	}, conversationLogger, logger)

	srv := newHTTPServer(":"+cfg.Port, newRouter(cfg, svc, logger), client.Budget(), writeTimeoutMargin)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var healthSrv *health.Server
	if cfg.GRPCHealthAddr != "" {
		healthSrv = health.NewServer(logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if healthSrv != nil {
		g.Go(func() error {
			return healthSrv.ListenAndServe(cfg.GRPCHealthAddr)
		})
		healthSrv.SetServing(true)
	}

	g.Go(func() error {
		<-session.StartSweeper(gctx, store, cfg.Session.SweepInterval, svc.RecordEvictions)
		return nil
	})

	// Wait for a shutdown signal or a failed server.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		if healthSrv != nil {
			healthSrv.SetServing(false)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if healthSrv != nil {
			healthSrv.Shutdown()
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newRouter(cfg *config.Config, svc api.ChatService, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	api.NewChatHandler(svc, logger).RegisterRoutes(r)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())
	return r
}

// newHTTPServer sizes the write deadline from the inference budget so a
// chat turn that exhausts every retry still gets its error reply written.
func newHTTPServer(addr string, h http.Handler, inferenceBudget, margin time.Duration) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: inferenceBudget + margin,
		IdleTimeout:  120 * time.Second,
	}
}
