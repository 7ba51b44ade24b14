package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"coach-proxy/internal/credential"
	"coach-proxy/internal/domain"
	"coach-proxy/internal/integrations/openai"
	"coach-proxy/internal/metrics"
	"coach-proxy/internal/usecase"
)

type stubCompleter struct {
	reply    string
	err      error
	calls    int
	captured []domain.ChatMessage
}

func (s *stubCompleter) Complete(_ context.Context, _, _ string, messages []domain.ChatMessage) (string, error) {
	s.calls++
	s.captured = messages
	return s.reply, s.err
}

type stubCreds struct {
	key string
}

func (s stubCreds) APIKey(context.Context) (string, error) {
	if s.key == "" {
		return "", credential.ErrNotConfigured
	}
	return s.key, nil
}

func (s stubCreds) Name() string { return "OPENAI_API_KEY" }
func (s stubCreds) Hint() string { return "Please set it in your .env file." }

func newServer(t *testing.T, creds usecase.CredentialSource, llm usecase.Completer, opts ...Option) *httptest.Server {
	t.Helper()
	svc, err := usecase.NewChatService(creds, llm, "", "", 0)
	require.NoError(t, err)
	h := newTestHandler(t, svc, opts...)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, srv *httptest.Server, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestHTTP_Health(t *testing.T) {
	// no credential, failing upstream: health must not care
	srv := newServer(t, stubCreds{}, &stubCompleter{err: errors.New("down")})

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, string(raw))
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHTTP_Chat_HappyPath(t *testing.T) {
	llm := &stubCompleter{reply: "Let's talk through it."}
	srv := newServer(t, stubCreds{key: "sk-test"}, llm)

	resp, raw := post(t, srv, `{"message": "I feel anxious today"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"reply":"Let's talk through it."}`, string(raw))
	require.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
	require.Equal(t, []domain.ChatMessage{
		{Role: "system", Content: "You are a supportive mental coach."},
		{Role: "user", Content: "I feel anxious today"},
	}, llm.captured)
}

func TestHTTP_Chat_EmptyMessage_RegardlessOfCredential(t *testing.T) {
	for _, creds := range []stubCreds{{key: "sk-test"}, {}} {
		llm := &stubCompleter{reply: "unused"}
		srv := newServer(t, creds, llm)

		for _, body := range []string{`{"message":""}`, `{"message":"   "}`, `{"message":"\n\t"}`} {
			resp, raw := post(t, srv, body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
			require.JSONEq(t, `{"detail":"Message cannot be empty"}`, string(raw))
		}
		require.Zero(t, llm.calls)
	}
}

func TestHTTP_Chat_CredentialMissing(t *testing.T) {
	llm := &stubCompleter{reply: "unused"}
	srv := newServer(t, stubCreds{}, llm)

	resp, raw := post(t, srv, `{"message":"hello"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	var out errorResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Contains(t, out.Detail, "not configured")
	require.Zero(t, llm.calls)
}

func TestHTTP_Chat_UpstreamError(t *testing.T) {
	srv := newServer(t, stubCreds{key: "sk-test"}, &stubCompleter{err: errors.New("quota exceeded")})

	resp, raw := post(t, srv, `{"message":"hello"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.JSONEq(t, `{"detail":"Error calling OpenAI API: quota exceeded"}`, string(raw))
}

func TestHTTP_Chat_ValidationErrors(t *testing.T) {
	srv := newServer(t, stubCreds{key: "sk-test"}, &stubCompleter{reply: "unused"})

	cases := []struct {
		name string
		body string
		want []string
	}{
		{name: "missing field", body: `{}`, want: []string{"body.message: Field required"}},
		{name: "invalid json", body: `{"message": "hi"`, want: []string{invalidJSONMessage}},
		{name: "wrong type", body: `{"message": 42}`, want: []string{"body.message: Input should be a valid string"}},
		{name: "empty body", body: ``, want: []string{"body: Field required"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := post(t, srv, tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

			var out validationErrorResponse
			require.NoError(t, json.Unmarshal(raw, &out))
			require.Equal(t, "Validation error", out.Detail)
			require.Equal(t, tc.want, out.Errors)
		})
	}
}

func TestHTTP_Chat_BodyTooLarge(t *testing.T) {
	svc, err := usecase.NewChatService(stubCreds{key: "sk-test"}, &stubCompleter{reply: "unused"}, "", "", 0)
	require.NoError(t, err)
	h := newTestHandler(t, svc)

	body := `{"message":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rr := httptest.NewRecorder()
	h.Chat(rr, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	require.JSONEq(t, `{"detail":"Request body too large"}`, rr.Body.String())
}

func TestHTTP_RoutingErrors(t *testing.T) {
	srv := newServer(t, stubCreds{key: "sk-test"}, &stubCompleter{})

	resp, err := http.Get(srv.URL + "/api/chat")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/missing")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.JSONEq(t, `{"detail":"Not Found"}`, string(raw))
}

func TestHTTP_CORSPreflight(t *testing.T) {
	srv := newServer(t, stubCreds{key: "sk-test"}, &stubCompleter{})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/chat", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://coach.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.Less(t, resp.StatusCode, 300)
	require.Contains(t, []string{"*", "https://coach.example"}, resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPost)
}

func TestHTTP_CorrelationIDIsEchoed(t *testing.T) {
	srv := newServer(t, stubCreds{key: "sk-test"}, &stubCompleter{reply: "ok"})

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/chat", strings.NewReader(`{"message":"hi"}`))
	require.NoError(t, err)
	req.Header.Set("x-correlation-id", "corr-abc")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "corr-abc", resp.Header.Get("X-Correlation-Id"))
}

func TestHTTP_MetricsEndpoint(t *testing.T) {
	srv := newServer(t, stubCreds{key: "sk-test"}, &stubCompleter{reply: "ok"}, WithMetrics(metrics.New()))

	resp, _ := post(t, srv, `{"message":"hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	raw, err := io.ReadAll(mresp.Body)
	require.NoError(t, err)
	require.Contains(t, string(raw), `coach_proxy_http_requests_total{route="/api/chat",status="200"} 1`)
}

func TestHTTP_MetricsDisabled(t *testing.T) {
	srv := newServer(t, stubCreds{key: "sk-test"}, &stubCompleter{})

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// TestHTTP_EndToEnd wires the real completion client against a fake
// completion API.
func TestHTTP_EndToEnd(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer sk-e2e", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"Let's talk through it."},"finish_reason":"stop"}]}`))
	}))
	defer upstream.Close()

	t.Setenv("COACH_E2E_KEY", "sk-e2e")
	creds, err := credential.NewEnvSource("COACH_E2E_KEY")
	require.NoError(t, err)
	srv := newServer(t, creds, openai.NewClient(openai.WithBaseURL(upstream.URL)))

	resp, raw := post(t, srv, `{"message": "I feel anxious today"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"reply":"Let's talk through it."}`, string(raw))
}
