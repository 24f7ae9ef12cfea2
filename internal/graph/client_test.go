package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Options{BaseURL: srv.URL, RequestsPerSecond: 1000, Burst: 100}, slog.Default())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RejectsRelativeBaseURL(t *testing.T) {
	if _, err := NewClient(Options{BaseURL: "graph.local"}, slog.Default()); err == nil {
		t.Fatal("expected error for relative base URL")
	}
}

func TestGet_SendsBearerAndAccept(t *testing.T) {
	var gotAuth, gotAccept, gotPath, gotCustom string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotCustom = r.Header.Get("ConsistencyLevel")
		gotPath = r.URL.Path
		_, _ = io.WriteString(w, `{"value":[]}`)
	})

	resp, err := c.Get(context.Background(), "/beta/places", "tok-123", map[string]string{"ConsistencyLevel": "eventual"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
	if gotCustom != "eventual" {
		t.Errorf("ConsistencyLevel = %q", gotCustom)
	}
	if gotPath != "/beta/places" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestPost_EncodesJSONPayload(t *testing.T) {
	var gotBody, gotType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusCreated)
	})

	payload := map[string]string{"name": "Room 1"}
	resp, err := c.Post(context.Background(), "/v1.0/things", "tok", payload, nil)
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("status = %d, want 201", resp.StatusCode)
	}
	if gotBody != `{"name":"Room 1"}` {
		t.Errorf("body = %q", gotBody)
	}
	if gotType != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", gotType)
	}
}

func TestPost_NilPayloadSendsNoBody(t *testing.T) {
	var gotLen int64 = -2
	var gotType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotLen = int64(len(b))
		gotType = r.Header.Get("Content-Type")
	})

	if _, err := c.Post(context.Background(), "/x", "tok", nil, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if gotLen != 0 {
		t.Errorf("body length = %d, want 0", gotLen)
	}
	if gotType != "" {
		t.Errorf("Content-Type = %q, want empty", gotType)
	}
}

func TestGet_ErrorEnvelopeParsed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":"Authorization_RequestDenied","message":"Insufficient privileges","innerError":{"request-id":"req-1","date":"2026-01-02T03:04:05Z"}}}`)
	})

	resp, err := c.Get(context.Background(), "/beta/places", "tok", nil)
	if err != nil {
		t.Fatalf("Get returned transport error: %v", err)
	}
	if resp.OK() {
		t.Fatal("expected non-2xx response")
	}

	var apiErr *APIError
	if !errors.As(resp.Err(), &apiErr) {
		t.Fatalf("Err() = %v, want *APIError", resp.Err())
	}
	if apiErr.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.Code != "Authorization_RequestDenied" {
		t.Errorf("Code = %q", apiErr.Code)
	}
	if apiErr.RequestID != "req-1" {
		t.Errorf("RequestID = %q", apiErr.RequestID)
	}
	if apiErr.Date.IsZero() {
		t.Error("Date not parsed")
	}
	if apiErr.Temporary() {
		t.Error("403 should not be temporary")
	}
}

func TestGet_NonEnvelopeErrorBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "upstream gone")
	})

	resp, err := c.Get(context.Background(), "/x", "tok", nil)
	if err != nil {
		t.Fatalf("transient status should still return the response, got %v", err)
	}

	var apiErr *APIError
	if !errors.As(resp.Err(), &apiErr) {
		t.Fatalf("Err() = %v, want *APIError", resp.Err())
	}
	if apiErr.Code != "Bad Gateway" {
		t.Errorf("Code = %q, want status text", apiErr.Code)
	}
	if apiErr.Message != "upstream gone" {
		t.Errorf("Message = %q", apiErr.Message)
	}
	if !apiErr.Temporary() {
		t.Error("502 should be temporary")
	}
}

func TestClient_BreakerOpensOnRepeatedServerErrors(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	ctx := context.Background()
	for i := 0; i < breakerMinRequests; i++ {
		if _, err := c.Get(ctx, "/x", "tok", nil); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := c.BreakerState(); got != "open" {
		t.Fatalf("BreakerState = %q, want open", got)
	}

	if _, err := c.Get(ctx, "/x", "tok", nil); err == nil {
		t.Error("expected error while breaker is open")
	}
	if calls != breakerMinRequests {
		t.Errorf("server calls = %d, want %d", calls, breakerMinRequests)
	}
}

func TestResolve_AbsoluteURLUnchanged(t *testing.T) {
	c, err := NewClient(Options{BaseURL: "https://graph.example.com/"}, slog.Default())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	got, err := c.resolve("https://other.example.com/beta/places?$skiptoken=abc")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://other.example.com/beta/places?$skiptoken=abc" {
		t.Errorf("resolve absolute = %q", got)
	}

	got, err = c.resolve("beta/places")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "https://graph.example.com/beta/places" {
		t.Errorf("resolve relative = %q", got)
	}
}

func TestAPIError_TemporaryStatuses(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusGatewayTimeout, true},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status}
		if got := e.Temporary(); got != tt.want {
			t.Errorf("Temporary(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}
