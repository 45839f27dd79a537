package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	status, err := NewClient(srv.URL).Ping(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.Status != "ok" {
		t.Errorf("status = %q", status.Status)
	}
}

func TestGetUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"services":[
			{"service_id":"github","display_name":"GitHub","primary":{"used_percent":20},"needs_login":false,"updated_at":"2026-08-30T10:00:00Z"},
			{"service_id":"openai","display_name":"OpenAI","needs_login":true,"error":"set OPENAI_API_KEY","updated_at":"2026-08-30T10:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	records, err := NewClient(srv.URL).GetUsage(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records", len(records))
	}
	if records[0].Primary == nil || records[0].Primary.UsedPercent != 20 {
		t.Errorf("github record = %+v", records[0])
	}
	if !records[1].NeedsLogin {
		t.Error("openai NeedsLogin not decoded")
	}
}

func TestGetServiceUsage_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).GetServiceUsage(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRefreshService(t *testing.T) {
	var method, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		w.Write([]byte(`{"status":"refreshed","services":[{"service_id":"github","updated_at":"2026-08-30T10:00:00Z"}]}`))
	}))
	defer srv.Close()

	record, err := NewClient(srv.URL).RefreshService(context.Background(), "github")
	if err != nil {
		t.Fatal(err)
	}
	if method != http.MethodPost || path != "/v1/refresh/github" {
		t.Errorf("request = %s %s", method, path)
	}
	if record.ServiceID != "github" {
		t.Errorf("record = %+v", record)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"services":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.backoff = &ExponentialBackoff{Base: time.Millisecond, Max: time.Millisecond, Factor: 1}

	if _, err := c.GetUsage(context.Background()); err != nil {
		t.Fatalf("expected recovery after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.backoff = &ExponentialBackoff{Base: time.Millisecond, Max: time.Millisecond, Factor: 1}

	if _, err := c.GetUsage(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestBackoffNext(t *testing.T) {
	b := &ExponentialBackoff{Base: 100 * time.Millisecond, Max: time.Second, Factor: 2}
	if got := b.Next(0); got != 100*time.Millisecond {
		t.Errorf("Next(0) = %s", got)
	}
	if got := b.Next(2); got != 400*time.Millisecond {
		t.Errorf("Next(2) = %s", got)
	}
	if got := b.Next(10); got != time.Second {
		t.Errorf("Next(10) = %s, want the cap", got)
	}
	if got := b.Next(-1); got != 100*time.Millisecond {
		t.Errorf("Next(-1) = %s, want Base", got)
	}
}
