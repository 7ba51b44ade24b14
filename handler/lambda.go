package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

// Handle serves the same routes as Routes for API Gateway proxy events.
func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := resolveCorrelationID(headerValue(event.Headers, correlationHeader))
	ctx = withCorrelationID(ctx, correlationID)

	route, res := h.dispatch(ctx, event)
	resp := h.toProxyResponse(res, event.Headers)
	resp.Headers[correlationHeader] = correlationID

	elapsed := time.Since(start)
	h.metrics.ObserveRequest(route, resp.StatusCode, elapsed)
	h.logger.InfoContext(ctx, "request",
		"method", event.HTTPMethod,
		"path", event.Path,
		"route", route,
		"status", resp.StatusCode,
		"duration_ms", elapsed.Milliseconds(),
		"correlation_id", correlationID,
	)
	return resp, nil
}

// dispatch routes the event and returns the matched route pattern together
// with the result. A nil body marks a preflight response.
func (h *Handler) dispatch(ctx context.Context, event events.APIGatewayProxyRequest) (string, result) {
	path := "/" + strings.Trim(event.Path, "/")
	method := strings.ToUpper(event.HTTPMethod)

	if method == http.MethodOptions {
		return "unmatched", result{status: http.StatusNoContent}
	}

	switch path {
	case "/", "/health":
		if method != http.MethodGet && method != http.MethodHead {
			return path, detailResult(http.StatusMethodNotAllowed, "Method Not Allowed")
		}
		return path, healthResult()
	case "/api/chat":
		if method != http.MethodPost {
			return path, detailResult(http.StatusMethodNotAllowed, "Method Not Allowed")
		}
		body := []byte(event.Body)
		if event.IsBase64Encoded {
			decoded, err := base64.StdEncoding.DecodeString(event.Body)
			if err != nil {
				return path, detailResult(http.StatusBadRequest, "Could not read request body")
			}
			body = decoded
		}
		if len(body) > maxBodyBytes {
			return path, detailResult(http.StatusRequestEntityTooLarge, "Request body too large")
		}
		return path, h.chatResult(ctx, body)
	default:
		return "unmatched", detailResult(http.StatusNotFound, "Not Found")
	}
}

func (h *Handler) toProxyResponse(res result, reqHeaders map[string]string) events.APIGatewayProxyResponse {
	headers := h.corsHeaders(headerValue(reqHeaders, "Origin"))
	if res.body == nil {
		headers["Access-Control-Allow-Methods"] = strings.Join(allowedMethods, ", ")
		headers["Access-Control-Allow-Headers"] = "*"
		if requested := headerValue(reqHeaders, "Access-Control-Request-Headers"); requested != "" {
			headers["Access-Control-Allow-Headers"] = requested
		}
		headers["Access-Control-Max-Age"] = "600"
		return events.APIGatewayProxyResponse{StatusCode: res.status, Headers: headers}
	}

	body, err := json.Marshal(res.body)
	if err != nil {
		res = detailResult(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		body, _ = json.Marshal(res.body)
	}
	headers["Content-Type"] = "application/json"
	return events.APIGatewayProxyResponse{StatusCode: res.status, Headers: headers, Body: string(body)}
}

func (h *Handler) corsHeaders(origin string) map[string]string {
	headers := map[string]string{}
	switch {
	case slices.Contains(h.allowedOrigins, "*"):
		headers["Access-Control-Allow-Origin"] = "*"
	case origin != "" && slices.Contains(h.allowedOrigins, origin):
		headers["Access-Control-Allow-Origin"] = origin
		headers["Vary"] = "Origin"
	}
	headers["Access-Control-Expose-Headers"] = correlationHeader
	return headers
}

// headerValue looks a header up case-insensitively; API Gateway forwards
// whatever casing the client used.
func headerValue(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
