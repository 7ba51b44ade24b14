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

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"coach-proxy/handler"
	"coach-proxy/internal/config"
	"coach-proxy/internal/credential"
	"coach-proxy/internal/integrations/openai"
	"coach-proxy/internal/integrations/paramstore"
	"coach-proxy/internal/metrics"
	"coach-proxy/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	cfg, err := config.Load(envFile)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// ---- Credential source ----
	creds, err := newCredentialSource(ctx, cfg)
	if err != nil {
		logger.Error("failed to create credential source", "err", err)
		os.Exit(1)
	}
	// The key is resolved per request; a missing key is reported, not fatal.
	if _, err := creds.APIKey(ctx); err != nil {
		logger.Warn("completion API credential is not available yet", "credential", creds.Name(), "err", err)
	}

	// ---- Clients ----
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}
	openaiClient := openai.NewClient(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithTimeout(cfg.Timeout),
		openai.WithObserver(m.ObserveUpstream),
	)

	// ---- Handler ----
	chatService, err := usecase.NewChatService(creds, openaiClient, cfg.Model, cfg.SystemPrompt, cfg.MaxMessageLength)
	if err != nil {
		logger.Error("failed to create chat service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(chatService,
		handler.WithLogger(logger),
		handler.WithMetrics(m),
		handler.WithAllowedOrigins(cfg.AllowedOrigins),
	)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		lambda.Start(h.Handle)
		return
	}

	if err := serve(cfg, h, logger); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

func newCredentialSource(ctx context.Context, cfg *config.Config) (usecase.CredentialSource, error) {
	if cfg.APIKeyParam == "" {
		return credential.NewEnvSource(cfg.APIKeyEnv)
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, err
	}
	ps, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		return nil, err
	}
	return credential.NewParamStoreSource(ps, cfg.APIKeyParam, cfg.CredentialCacheTTL)
}

func serve(cfg *config.Config, h *handler.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("chat proxy listening", "addr", server.Addr, "model", cfg.Model)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-sigCtx.Done():
	}

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}
