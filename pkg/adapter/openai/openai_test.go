package openai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testAdapter(t *testing.T, serverURL string) *Adapter {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "sk-test")
	a := New(Options{BaseURL: serverURL, OrgID: "org-123"})
	a.pipeline.Retry.BaseDelay = time.Millisecond
	a.pipeline.Retry.MaxDelay = 2 * time.Millisecond
	return a
}

func TestFetchUsage_HeadersParsed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if got := r.Header.Get("OpenAI-Organization"); got != "org-123" {
			t.Errorf("unexpected org header %q", got)
		}
		w.Header().Set("x-ratelimit-limit-requests", "5000")
		w.Header().Set("x-ratelimit-remaining-requests", "4000")
		w.Header().Set("x-ratelimit-reset-requests", "6m0s")
		w.Header().Set("x-ratelimit-limit-tokens", "160000")
		w.Header().Set("x-ratelimit-remaining-tokens", "40000")
		w.Header().Set("x-ratelimit-reset-tokens", "2s")
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	record := testAdapter(t, server.URL).FetchUsage(context.Background())
	if record.Error != "" {
		t.Fatalf("unexpected error: %s", record.Error)
	}
	// requests is preferred even though tokens is more consumed.
	if record.Primary == nil || record.Primary.Label != "requests" {
		t.Fatalf("primary = %+v; want requests", record.Primary)
	}
	if record.Primary.UsedPercent != 20 {
		t.Errorf("requests used = %v; want 20", record.Primary.UsedPercent)
	}
	if record.Secondary == nil || record.Secondary.Label != "tokens" {
		t.Fatalf("secondary = %+v; want tokens", record.Secondary)
	}
	if record.Secondary.UsedPercent != 75 {
		t.Errorf("tokens used = %v; want 75", record.Secondary.UsedPercent)
	}
	if record.Primary.ResetsAt == nil {
		t.Error("reset time not derived from header")
	}
}

func TestFetchUsage_RateLimitedStillYieldsData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("x-ratelimit-limit-requests", "100")
		w.Header().Set("x-ratelimit-remaining-requests", "0")
		w.Header().Set("x-ratelimit-reset-requests", "30s")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	record := testAdapter(t, server.URL).FetchUsage(context.Background())
	if record.Error != "" {
		t.Fatalf("a 429 with headers should still produce data, got error %q", record.Error)
	}
	if record.Primary == nil || record.Primary.UsedPercent != 100 {
		t.Errorf("primary = %+v; want 100%% used", record.Primary)
	}
}

func TestFetchUsage_MissingHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	record := testAdapter(t, server.URL).FetchUsage(context.Background())
	if record.Error == "" {
		t.Fatal("expected an error record without rate-limit headers")
	}
	if record.NeedsLogin {
		t.Error("missing headers are ambiguous, not an auth failure")
	}
}

func TestFetchUsage_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	record := testAdapter(t, server.URL).FetchUsage(context.Background())
	if !record.NeedsLogin {
		t.Error("401 must set NeedsLogin")
	}
}
