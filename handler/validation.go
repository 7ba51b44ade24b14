package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	"coach-proxy/internal/domain"
)

const invalidJSONMessage = "Invalid JSON format. Please check your request body."

// ValidationError lists every schema failure of a request body as a
// human-readable "location: message" string.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return "handler: validation error: " + strings.Join(e.Errors, "; ")
}

func validationError(msgs ...string) *ValidationError {
	return &ValidationError{Errors: msgs}
}

// decodeChatRequest checks the body shape only. Content rules such as a
// blank message belong to the use case.
func decodeChatRequest(body []byte) (domain.ChatRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.ChatRequest{}, validationError("body: Field required")
	}
	if !json.Valid(trimmed) {
		return domain.ChatRequest{}, validationError(invalidJSONMessage)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return domain.ChatRequest{}, validationError("body: Input should be a valid dictionary")
	}

	raw, ok := fields["message"]
	if !ok {
		return domain.ChatRequest{}, validationError("body.message: Field required")
	}
	var req domain.ChatRequest
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return domain.ChatRequest{}, validationError("body.message: Input should be a valid string")
	}
	if err := json.Unmarshal(raw, &req.Message); err != nil {
		return domain.ChatRequest{}, validationError("body.message: Input should be a valid string")
	}
	return req, nil
}
