package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyqbyj/taskmem/internal/memory"
	"github.com/hyqbyj/taskmem/internal/storage"
	"github.com/hyqbyj/taskmem/internal/strategy"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestStoreRequestRoundTrip(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /executions": `{"stored":true,"record_id":"abc123def456","message":"stored"}`,
	})
	client := ts.client()

	req := memory.StoreRequest{
		Question: "find AI trends",
		Steps:    []string{"open search engine", "search"},
		Rating:   5,
		Success:  true,
	}
	resp, err := client.post(ctx, "/executions", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var outcome memory.Outcome
	if err := decodeJSON(resp, &outcome); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !outcome.Stored || outcome.RecordID != "abc123def456" {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	got := ts.requests[0]
	if got.Method != "POST" || got.Path != "/executions" {
		t.Errorf("request = %s %s", got.Method, got.Path)
	}
	if got.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", got.Auth)
	}
	if !strings.Contains(got.Body, `"question":"find AI trends"`) {
		t.Errorf("body missing question: %s", got.Body)
	}
}

func TestSimilarRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /similar": `[{"id":"abc123def456","question":"find AI trends","rating":5,"score":15.0}]`,
	})
	client := ts.client()

	resp, err := client.get(ctx, "/similar?q=AI+trends&limit=5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var records []storage.ExecutionRecord
	if err := decodeJSON(resp, &records); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(records) != 1 || records[0].Score != 15.0 {
		t.Fatalf("unexpected records %+v", records)
	}

	if ts.requests[0].Path != "/similar?q=AI+trends&limit=5" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestSuggestionsRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /suggestions": `{"has_suggestions":true,"message":"built from 1 records","suggested_steps":["open search engine"],"confidence":0.92}`,
	})
	client := ts.client()

	resp, err := client.get(ctx, "/suggestions?q=AI")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var suggestion strategy.Suggestion
	if err := decodeJSON(resp, &suggestion); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !suggestion.HasSuggestions || suggestion.Confidence != 0.92 {
		t.Fatalf("unexpected suggestion %+v", suggestion)
	}
}

func TestDeleteNotFound(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	client := ts.client()

	resp, err := client.delete(ctx, "/executions/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]string
	if err := decodeJSON(resp, &result); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestDecodeJSONErrorBody(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	client := ts.client()

	resp, err := client.get(ctx, "/statistics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v any
	err = decodeJSON(resp, &v)
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestPIDFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := pidFilePath(dir)

	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile: %v", err)
	}
	pid, err := readPIDFile(path)
	if err != nil {
		t.Fatalf("readPIDFile: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("unexpected pid %d", pid)
	}

	removePIDFile(path)
	if _, err := readPIDFile(path); err == nil {
		t.Fatal("expected error after removal")
	}
}
