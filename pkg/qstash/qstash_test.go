package qstash

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPublish(t *testing.T) {
	t.Parallel()

	var (
		gotPath  string
		gotAuth  string
		gotDedup string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDedup = r.Header.Get("Upstash-Deduplication-Id")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"messageId":"msg_1"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{URL: srv.URL, Token: "tok"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	client.WithHTTPClient(srv.Client())

	out, err := client.Publish(context.Background(), "https://example.com/hooks/calls", []byte(`{"a":1}`), WithDeduplicationID("rec-1"))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if string(out) != `{"messageId":"msg_1"}` {
		t.Fatalf("Publish() = %s", out)
	}
	if gotPath != "/v2/publish/https://example.com/hooks/calls" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok" || gotDedup != "rec-1" || gotBody != `{"a":1}` {
		t.Fatalf("auth=%q dedup=%q body=%q", gotAuth, gotDedup, gotBody)
	}
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := MustNew(Config{URL: srv.URL, Token: "tok"})
	if _, err := client.Publish(context.Background(), "https://example.com", nil); err == nil {
		t.Fatal("Publish() error = nil on 401")
	}
	if _, err := client.Publish(context.Background(), " ", nil); err == nil {
		t.Fatal("Publish() error = nil for blank destination")
	}
	if _, err := NewClient(Config{URL: srv.URL}); err == nil {
		t.Fatal("NewClient() error = nil without token")
	}
}
