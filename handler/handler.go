package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"coach-proxy/internal/domain"
	"coach-proxy/internal/metrics"
	"coach-proxy/internal/usecase"
)

const (
	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 1 << 20
)

// ChatUseCase is the chat operation served by the handler.
type ChatUseCase interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

type Handler struct {
	chat           ChatUseCase
	logger         *slog.Logger
	metrics        *metrics.Metrics
	allowedOrigins []string
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithMetrics records request metrics and exposes them at GET /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithAllowedOrigins(origins []string) Option {
	return func(h *Handler) {
		if len(origins) > 0 {
			h.allowedOrigins = origins
		}
	}
}

func NewHandler(chat ChatUseCase, opts ...Option) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat use case must not be nil")
	}
	h := &Handler{
		chat:           chat,
		logger:         slog.Default(),
		allowedOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

type validationErrorResponse struct {
	Detail string   `json:"detail"`
	Errors []string `json:"errors"`
}

// result is a transport-neutral response shared by the HTTP and API Gateway
// surfaces.
type result struct {
	status int
	body   any
}

func healthResult() result {
	return result{status: http.StatusOK, body: healthResponse{Status: "ok"}}
}

func (h *Handler) chatResult(ctx context.Context, body []byte) result {
	req, err := decodeChatRequest(body)
	if err != nil {
		return h.errorResult(ctx, err)
	}
	out, err := h.chat.Chat(ctx, usecase.ChatInput{Message: req.Message})
	if err != nil {
		return h.errorResult(ctx, err)
	}
	return result{status: http.StatusOK, body: domain.ChatReply{Reply: out.Reply}}
}

func detailResult(status int, detail string) result {
	return result{status: status, body: errorResponse{Detail: detail}}
}

func (h *Handler) errorResult(ctx context.Context, err error) result {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return result{
			status: http.StatusUnprocessableEntity,
			body:   validationErrorResponse{Detail: "Validation error", Errors: validationErr.Errors},
		}
	}

	var usecaseErr *usecase.Error
	if !errors.As(err, &usecaseErr) {
		h.logger.ErrorContext(ctx, "unexpected chat failure", "err", err, "correlation_id", correlationIDFrom(ctx))
		return detailResult(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}

	switch usecaseErr.Code {
	case usecase.ErrorInvalidInput:
		return detailResult(http.StatusBadRequest, usecaseErr.Message)
	case usecase.ErrorConfiguration:
		h.logger.ErrorContext(ctx, "completion credential unavailable", "reason", usecaseErr.Reason, "err", usecaseErr.Err, "correlation_id", correlationIDFrom(ctx))
		return detailResult(http.StatusInternalServerError, usecaseErr.Message)
	case usecase.ErrorUpstream:
		h.logger.WarnContext(ctx, "completion call failed", "reason", usecaseErr.Reason, "err", usecaseErr.Err, "correlation_id", correlationIDFrom(ctx))
		return detailResult(http.StatusInternalServerError, usecaseErr.Message)
	default:
		return detailResult(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

type ctxKey struct{}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func correlationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func resolveCorrelationID(provided string) string {
	if id := strings.TrimSpace(provided); id != "" {
		return id
	}
	return newUUID()
}

var newUUID = func() string {
	return uuid.NewString()
}
