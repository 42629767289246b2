package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

////////////////////////////////////////////////////////////////////////////////
// INTEGRATION TEST SUITE
//
// These tests validate the service end-to-end:
//
//   Client → HTTP API → Auth → Postgres / Index → Response
//
// The service must already be running (for example via docker compose) with
// Postgres reachable. Calendar credentials and Ollama are NOT required: the
// suite only exercises endpoints that degrade gracefully without them.
//
// Optional environment overrides:
//
//   BASE_URL default http://localhost:8080
//   API_KEY  default local-dev-key (the server's default)
//
////////////////////////////////////////////////////////////////////////////////

func baseURL() string {
	if v := os.Getenv("BASE_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func apiKey() string {
	if v := os.Getenv("API_KEY"); v != "" {
		return v
	}
	return "local-dev-key"
}

////////////////////////////////////////////////////////////////////////////////
// SERVICE READINESS HELPER
//
// waitReady polls /ready until DB + server are ready.
// Prevents flaky failures when containers are still booting.
////////////////////////////////////////////////////////////////////////////////

func waitReady(t *testing.T) {
	t.Helper()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(30 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(baseURL() + "/ready")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(300 * time.Millisecond)
	}

	t.Fatalf("service not ready after 30s")
}

////////////////////////////////////////////////////////////////////////////////
// GENERIC HTTP HELPERS
////////////////////////////////////////////////////////////////////////////////

// httpGet performs a GET request with optional API key.
func httpGet(t *testing.T, key string, path string) (int, []byte) {
	t.Helper()

	req, _ := http.NewRequest("GET", baseURL()+path, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, b
}

// postJSON performs a POST with JSON body and optional API key.
func postJSON(t *testing.T, key, path string, payload any) (int, []byte) {
	t.Helper()

	b, _ := json.Marshal(payload)

	req, _ := http.NewRequest("POST", baseURL()+path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

////////////////////////////////////////////////////////////////////////////////
// HEALTH & READINESS TESTS
////////////////////////////////////////////////////////////////////////////////

// Health endpoint = liveness check (server process running).
func TestHealth_ReturnsOK(t *testing.T) {
	s, _ := httpGet(t, "", "/health")
	if s != http.StatusOK {
		t.Fatalf("health expected 200 got %d", s)
	}
}

// Ready endpoint = dependency readiness (DB reachable).
func TestReady_ReturnsOK(t *testing.T) {
	waitReady(t)
	s, _ := httpGet(t, "", "/ready")
	if s != http.StatusOK {
		t.Fatalf("ready expected 200 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// SEARCH CONTRACT TESTS
////////////////////////////////////////////////////////////////////////////////

// Content types are public and stable.
func TestContentTypes_ListsKnownTypes(t *testing.T) {
	waitReady(t)

	s, b := httpGet(t, "", "/content_types")
	if s != http.StatusOK {
		t.Fatalf("expected 200 got %d", s)
	}

	var r struct {
		ContentTypes []string `json:"content_types"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatalf("invalid content_types JSON: %v", err)
	}

	want := map[string]bool{"event": false, "general_info": false, "guide": false}
	for _, ct := range r.ContentTypes {
		if _, ok := want[ct]; ok {
			want[ct] = true
		}
	}
	for ct, seen := range want {
		if !seen {
			t.Fatalf("content type %q missing from %v", ct, r.ContentTypes)
		}
	}
}

// An unknown content type must be rejected before the embedder is consulted.
func TestSearch_BadRequestOnUnknownContentType(t *testing.T) {
	waitReady(t)

	payload := map[string]any{
		"query":         "jazz night",
		"content_types": []string{"podcast"},
	}

	s, _ := postJSON(t, "", "/search", payload)
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

// A search without a query must be rejected.
func TestSearch_BadRequestOnMissingQuery(t *testing.T) {
	waitReady(t)

	s, _ := postJSON(t, "", "/search", map[string]any{})
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// EVENTS CONTRACT TESTS
////////////////////////////////////////////////////////////////////////////////

// Request without API key must be rejected.
func TestEvents_UnauthorizedWithoutAPIKey(t *testing.T) {
	waitReady(t)

	payload := map[string]any{
		"summary": "Movie Night",
		"start":   time.Now().UTC().Format(time.RFC3339),
		"end":     time.Now().UTC().Add(time.Hour).Format(time.RFC3339),
	}

	s, _ := postJSON(t, "", "/events", payload)
	if s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
}

// Missing start time should return 400. Without calendar credentials the
// write path is disabled and answers 503 instead; both are acceptable here.
func TestEvents_BadRequestOnInvalidPayload(t *testing.T) {
	waitReady(t)

	payload := map[string]any{"summary": "Movie Night"}
	s, _ := postJSON(t, apiKey(), "/events", payload)

	if s != http.StatusBadRequest && s != http.StatusServiceUnavailable {
		t.Fatalf("expected 400 or 503 got %d", s)
	}
}

////////////////////////////////////////////////////////////////////////////////
// QUERY CONTRACT TESTS
////////////////////////////////////////////////////////////////////////////////

// Request without API key must be rejected.
func TestQuery_UnauthorizedWithoutAPIKey(t *testing.T) {
	waitReady(t)

	s, _ := postJSON(t, "", "/query", map[string]any{"keywords": "dance"})
	if s != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", s)
	}
}

// A half-open time range must be rejected.
func TestQuery_BadRequestOnUnpairedTimeRange(t *testing.T) {
	waitReady(t)

	payload := map[string]any{
		"from": time.Now().UTC().Format(time.RFC3339),
	}

	s, _ := postJSON(t, apiKey(), "/query", payload)
	if s != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", s)
	}
}

// A purely relational query must succeed without Ollama running.
func TestQuery_RelationalOnlySucceeds(t *testing.T) {
	waitReady(t)

	s, b := postJSON(t, apiKey(), "/query", map[string]any{"limit": 5})
	if s != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", s, b)
	}

	var r struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		t.Fatalf("invalid query JSON: %v", err)
	}
}
