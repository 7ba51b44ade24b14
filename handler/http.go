package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

var allowedMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
	http.MethodDelete, http.MethodOptions, http.MethodHead,
}

// Routes returns the HTTP surface of the service.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(h.correlationID)
	r.Use(h.requestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: allowedMethods,
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{correlationHeader},
		MaxAge:         600,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, detailResult(http.StatusNotFound, "Not Found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, detailResult(http.StatusMethodNotAllowed, "Method Not Allowed"))
	})

	r.Get("/", h.Health)
	r.Get("/health", h.Health)
	r.Post("/api/chat", h.Chat)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	return r
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, healthResult())
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeResult(w, detailResult(http.StatusRequestEntityTooLarge, "Request body too large"))
			return
		}
		writeResult(w, detailResult(http.StatusBadRequest, "Could not read request body"))
		return
	}
	writeResult(w, h.chatResult(r.Context(), body))
}

func writeResult(w http.ResponseWriter, res result) {
	writeJSON(w, res.status, res.body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// correlationID reuses the caller's X-Correlation-Id or assigns a new one and
// echoes it on the response.
func (h *Handler) correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := resolveCorrelationID(r.Header.Get(correlationHeader))
		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(withCorrelationID(r.Context(), id)))
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		elapsed := time.Since(start)
		h.metrics.ObserveRequest(route, status, elapsed)
		h.logger.InfoContext(r.Context(), "request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"remote_addr", r.RemoteAddr,
			"correlation_id", correlationIDFrom(r.Context()),
		)
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
