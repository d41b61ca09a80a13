package ntfy

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublish(t *testing.T) {
	var got *http.Request
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), discardLogger())
	err := c.Publish(context.Background(), "seats", "3 open spot(s)", "Seat opening detected", "high")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if got.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", got.Method)
	}
	if got.URL.Path != "/seats" {
		t.Errorf("path = %s, want /seats", got.URL.Path)
	}
	if ct := got.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q, want text/plain", ct)
	}
	if got.Header.Get("Title") != "Seat opening detected" {
		t.Errorf("Title header = %q", got.Header.Get("Title"))
	}
	if got.Header.Get("Priority") != "high" {
		t.Errorf("Priority header = %q", got.Header.Get("Priority"))
	}
	if body != "3 open spot(s)" {
		t.Errorf("body = %q", body)
	}
}

func TestPublishOmitsEmptyHeaders(t *testing.T) {
	var header http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), discardLogger())
	if err := c.Publish(context.Background(), "seats", "hi", "", ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, ok := header["Title"]; ok {
		t.Error("empty title must not produce a Title header")
	}
	if _, ok := header["Priority"]; ok {
		t.Error("empty priority must not produce a Priority header")
	}
}

func TestPublishServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, srv.Client(), discardLogger())
	err := c.Publish(context.Background(), "seats", "hi", "", "")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Errorf("Publish() error = %v, want HTTP 429", err)
	}
}

func TestPublishEmptyTopic(t *testing.T) {
	c := New("", nil, discardLogger())
	if err := c.Publish(context.Background(), "", "hi", "", ""); err == nil {
		t.Error("expected an error for an empty topic")
	}
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
	}))
	defer srv.Close()

	c := New(srv.URL+"/", srv.Client(), discardLogger())
	if err := c.Publish(context.Background(), "seats", "hi", "", ""); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if path != "/seats" {
		t.Errorf("path = %s, want /seats", path)
	}
}
