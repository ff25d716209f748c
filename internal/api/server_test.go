package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/satquery/satquery/internal/access"
	"github.com/satquery/satquery/internal/agent"
	"github.com/satquery/satquery/internal/config"
	"github.com/satquery/satquery/internal/usage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig(upstreamURL string) *config.Config {
	cfg := &config.Config{Port: 8317}
	cfg.Upstream.BaseURL = upstreamURL
	cfg.Upstream.APIKey = "sk-upstream"
	cfg.Upstream.Model = "gpt-4o"
	cfg.Upstream.TimeoutSeconds = 5
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	upstream, err := agent.NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	stats := usage.NewMemoryStats()
	mgr := usage.NewManager()
	mgr.Register(stats)
	t.Cleanup(mgr.Stop)
	return NewServer(cfg, upstream, Options{UsageMgr: mgr, UsageStats: stats})
}

func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "Blocks arrive every ten minutes on average."}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 9, "total_tokens": 21}
		}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, testConfig(fakeUpstream(t).URL))

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}
}

func TestAskWithoutAuthWhenKeysConfigured(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.APIKeys = []string{"sk-client"}
	server := newTestServer(t, cfg)

	body := bytes.NewBufferString(`{"question": "how often do blocks arrive?"}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("Failed to parse error body: %v", err)
	}
	if errResp.Error.Type != "authentication_error" {
		t.Errorf("Unexpected error type %q", errResp.Error.Type)
	}
}

func TestAskAnswersQuestion(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.APIKeys = []string{"sk-client"}
	server := newTestServer(t, cfg)

	body := bytes.NewBufferString(`{"question": "how often do blocks arrive?"}`)
	request := httptest.NewRequest(http.MethodPost, "/v1/ask", body)
	request.Header.Set("Authorization", "Bearer sk-client")

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp AskResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if !strings.HasPrefix(resp.ID, "ask-") {
		t.Errorf("Unexpected answer id %q", resp.ID)
	}
	if !strings.Contains(resp.Answer, "ten minutes") {
		t.Errorf("Unexpected answer %q", resp.Answer)
	}
	if resp.Usage.TotalTokens != 21 {
		t.Errorf("Unexpected usage %+v", resp.Usage)
	}
	if resp.TTS != nil {
		t.Errorf("Expected no tts block when disabled, got %+v", resp.TTS)
	}
}

// captureUsagePlugin hands delivered records to the test goroutine.
type captureUsagePlugin struct {
	records chan usage.Record
}

func (p *captureUsagePlugin) HandleUsage(_ context.Context, record usage.Record) {
	p.records <- record
}

func TestAskAttributesUsageToAPIKeyHash(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.APIKeys = []string{"sk-client"}
	server := newTestServer(t, cfg)

	capture := &captureUsagePlugin{records: make(chan usage.Record, 1)}
	server.usageMgr.Register(capture)

	body := bytes.NewBufferString(`{"question": "q"}`)
	request := httptest.NewRequest(http.MethodPost, "/v1/ask", body)
	request.Header.Set("X-Api-Key", "sk-client")
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Ask failed with %d: %s", recorder.Code, recorder.Body.String())
	}

	select {
	case record := <-capture.records:
		if record.APIKey != access.HashSecret("sk-client") {
			t.Errorf("Expected record to carry the hashed client key, got %q", record.APIKey)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for the usage record")
	}
}

func TestAskRejectsMissingQuestion(t *testing.T) {
	server := newTestServer(t, testConfig(fakeUpstream(t).URL))

	body := bytes.NewBufferString(`{"top_k": 3}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", recorder.Code)
	}
}

func TestAskDropsOutOfRangeVolume(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	defaultVolume := 0.8
	cfg.TTS.Enabled = true
	cfg.TTS.Voice = "en-US-standard"
	cfg.TTS.DefaultVolume = &defaultVolume
	server := newTestServer(t, cfg)

	body := bytes.NewBufferString(`{"question": "q", "tts": {"enabled": true, "volume": 1.5}}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp AskResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.TTS == nil {
		t.Fatal("Expected tts block")
	}
	if resp.TTS.Volume != 0.8 {
		t.Errorf("Expected fallback to default volume 0.8, got %v", resp.TTS.Volume)
	}
}

func TestAskAcceptsValidVolume(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.TTS.Enabled = true
	server := newTestServer(t, cfg)

	body := bytes.NewBufferString(`{"question": "q", "tts": {"enabled": true, "volume": 0.25}}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}

	var resp AskResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.TTS == nil || resp.TTS.Volume != 0.25 {
		t.Errorf("Expected requested volume 0.25, got %+v", resp.TTS)
	}
}

func TestAskTTSInheritsConfiguredDefault(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.TTS.Enabled = true
	cfg.TTS.Voice = "en-US-standard"
	server := newTestServer(t, cfg)

	// A tts block that only sets the volume must not switch speech off.
	body := bytes.NewBufferString(`{"question": "q", "tts": {"volume": 0.5}}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}

	var resp AskResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.TTS == nil {
		t.Fatal("Expected tts block to inherit the configured default")
	}
	if resp.TTS.Volume != 0.5 {
		t.Errorf("Expected requested volume 0.5, got %v", resp.TTS.Volume)
	}

	// An explicit false still overrides the configured default.
	body = bytes.NewBufferString(`{"question": "q", "tts": {"enabled": false}}`)
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}
	resp = AskResponse{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.TTS != nil {
		t.Errorf("Expected explicit false to disable tts, got %+v", resp.TTS)
	}
}

func TestAskStreamsAnswer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Answer.\"}}]}\n\n" +
				"data: {\"choices\":[],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n" +
				"data: [DONE]\n\n"))
	}))
	t.Cleanup(upstream.Close)
	server := newTestServer(t, testConfig(upstream.URL))

	body := bytes.NewBufferString(`{"question": "q", "stream": true}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Unexpected content type %q", got)
	}
	payload := recorder.Body.String()
	if !strings.Contains(payload, "Answer.") {
		t.Errorf("Expected forwarded chunk in stream, got %q", payload)
	}
	if !strings.Contains(payload, "answer.metadata") {
		t.Errorf("Expected metadata event, got %q", payload)
	}
	if !strings.Contains(payload, "data: [DONE]") {
		t.Errorf("Expected DONE marker, got %q", payload)
	}
}

func TestAskPassesThroughUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit_error"}}`))
	}))
	t.Cleanup(upstream.Close)
	server := newTestServer(t, testConfig(upstream.URL))

	body := bytes.NewBufferString(`{"question": "q"}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429 pass-through, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "rate limited") {
		t.Errorf("Expected upstream error payload, got %q", recorder.Body.String())
	}
}

func TestModelsEndpoint(t *testing.T) {
	server := newTestServer(t, testConfig(fakeUpstream(t).URL))

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/models", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "gpt-4o") {
		t.Errorf("Expected configured model in listing, got %q", recorder.Body.String())
	}
}

func TestKnowledgeEndpointsWhenDisabled(t *testing.T) {
	server := newTestServer(t, testConfig(fakeUpstream(t).URL))

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v1/knowledge/documents", nil))
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("Expected 404 when knowledge disabled, got %d", recorder.Code)
	}
}

func TestManagementRequiresSecret(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.RemoteManagement.SecretKey = "s3cret"
	server := newTestServer(t, cfg)

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/v0/management/config", nil))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 without secret, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/v0/management/config", nil)
	request.Header.Set("X-Management-Key", "s3cret")
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200 with secret, got %d", recorder.Code)
	}
	if strings.Contains(recorder.Body.String(), "sk-upstream") {
		t.Error("Expected upstream api key to be masked")
	}
}

func TestManagementAcceptsHashedSecret(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.RemoteManagement.SecretKey = "s3cret"
	server := newTestServer(t, cfg)

	request := httptest.NewRequest(http.MethodGet, "/v0/management/usage", nil)
	request.Header.Set("X-Management-Key", access.HashSecret("s3cret"))
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200 with hashed secret, got %d", recorder.Code)
	}
}

func TestManagementUsageReflectsAnsweredQuestions(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	cfg.RemoteManagement.SecretKey = "s3cret"
	server := newTestServer(t, cfg)

	body := bytes.NewBufferString(`{"question": "q"}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusOK {
		t.Fatalf("Ask failed with %d", recorder.Code)
	}

	// Usage delivery is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if server.stats.Snapshot().Requests > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	request := httptest.NewRequest(http.MethodGet, "/v0/management/usage", nil)
	request.Header.Set("X-Management-Key", "s3cret")
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "\"requests\":1") {
		t.Errorf("Expected one recorded request, got %q", recorder.Body.String())
	}
}

func TestUpdateConfigSwapsKeys(t *testing.T) {
	cfg := testConfig(fakeUpstream(t).URL)
	server := newTestServer(t, cfg)

	newCfg := testConfig(cfg.Upstream.BaseURL)
	newCfg.APIKeys = []string{"sk-rotated"}
	server.UpdateConfig(newCfg)

	body := bytes.NewBufferString(`{"question": "q"}`)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/v1/ask", body))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401 after key rotation, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodPost, "/v1/ask", bytes.NewBufferString(`{"question": "q"}`))
	request.Header.Set("X-Api-Key", "sk-rotated")
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("Expected 200 with rotated key, got %d", recorder.Code)
	}
}
