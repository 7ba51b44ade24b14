// Package credential resolves the completion API key at request time so a
// rotated key is picked up without a restart.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrNotConfigured is returned when no credential is available.
var ErrNotConfigured = errors.New("credential: not configured")

// EnvSource reads the key from a process environment variable on every call.
type EnvSource struct {
	name   string
	lookup func(string) (string, bool)
}

func NewEnvSource(name string) (*EnvSource, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("credential: env variable name must not be empty")
	}
	return &EnvSource{name: name, lookup: os.LookupEnv}, nil
}

func (s *EnvSource) APIKey(_ context.Context) (string, error) {
	v, ok := s.lookup(s.name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("%w: %s is unset", ErrNotConfigured, s.name)
	}
	return strings.TrimSpace(v), nil
}

func (s *EnvSource) Name() string { return s.name }

func (s *EnvSource) Hint() string { return "Please set it in your .env file." }

// Getter is the parameter store read used by ParamStoreSource.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// tokenPayload is the optional JSON shape of a stored key.
type tokenPayload struct {
	Token string `json:"token"`
}

// ParamStoreSource reads the key from an SSM parameter and caches it for ttl.
// Failed lookups are not cached.
type ParamStoreSource struct {
	getter Getter
	param  string
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	value     string
	fetchedAt time.Time
}

func NewParamStoreSource(getter Getter, param string, ttl time.Duration) (*ParamStoreSource, error) {
	if getter == nil {
		return nil, errors.New("credential: paramstore getter must not be nil")
	}
	param = strings.TrimSpace(param)
	if param == "" {
		return nil, errors.New("credential: parameter name must not be empty")
	}
	return &ParamStoreSource{getter: getter, param: param, ttl: ttl, now: time.Now}, nil
}

func (s *ParamStoreSource) APIKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value != "" && (s.ttl <= 0 || s.now().Sub(s.fetchedAt) < s.ttl) {
		return s.value, nil
	}

	raw, err := s.getter.GetParameter(ctx, s.param)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %v", ErrNotConfigured, s.param, err)
	}
	key, err := parseToken(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotConfigured, s.param, err)
	}
	s.value = key
	s.fetchedAt = s.now()
	return key, nil
}

func (s *ParamStoreSource) Name() string { return s.param }

func (s *ParamStoreSource) Hint() string { return "Please create the SSM parameter." }

// parseToken accepts either a bare key or a JSON object {"token": "..."}.
func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("API token is empty")
	}
	return raw, nil
}
