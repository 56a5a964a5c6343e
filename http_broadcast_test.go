package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPBroadcasterSendsEnvelopeAndHeaders(t *testing.T) {
	var gotPath string
	var gotAPIKey, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("apikey")
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := newHTTPBroadcaster(srv.URL, "anon-key", func() string { return "user-token" })
	if err := b.send(context.Background(), "room:lobby", "chat", map[string]any{"text": "hi"}, true); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotPath != "/api/broadcast" {
		t.Fatalf("expected /api/broadcast, got %s", gotPath)
	}
	if gotAPIKey != "anon-key" {
		t.Fatalf("expected apikey header anon-key, got %q", gotAPIKey)
	}
	if gotAuth != "Bearer user-token" {
		t.Fatalf("expected bearer auth header, got %q", gotAuth)
	}

	messages, ok := gotBody["messages"].([]any)
	if !ok || len(messages) != 1 {
		t.Fatalf("expected one enveloped message, got %v", gotBody)
	}
	msg := messages[0].(map[string]any)
	if msg["topic"] != "room:lobby" || msg["event"] != "chat" {
		t.Fatalf("unexpected message shape: %v", msg)
	}
	if msg["private"] != true {
		t.Fatalf("expected private=true in the envelope, got %v", msg["private"])
	}
}

func TestHTTPBroadcasterErrorsOnNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	b := newHTTPBroadcaster(srv.URL, "", nil)
	if err := b.send(context.Background(), "room:lobby", "chat", map[string]any{}, false); err == nil {
		t.Fatal("expected an error for a 401 response")
	}
}

func TestHTTPBroadcasterOmitsAuthHeaderWhenTokenEmpty(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b := newHTTPBroadcaster(srv.URL, "", func() string { return "" })
	if err := b.send(context.Background(), "room:lobby", "chat", map[string]any{}, false); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAuth != "" {
		t.Fatalf("expected no Authorization header, got %q", gotAuth)
	}
}
