package openai

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/quotascope/pkg/adapter"
	"github.com/rmax-ai/quotascope/pkg/credential"
	"github.com/rmax-ai/quotascope/pkg/resilience"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Adapter reads OpenAI rate-limit headers off a cheap List Models
// probe. The request and token pools become the candidate windows.
// A 429 still carries the headers we want, so it counts as data.
type Adapter struct {
	pipeline adapter.Pipeline
	orgID    string
}

// Options configure the adapter beyond its defaults.
type Options struct {
	OrgID   string
	BaseURL string
	// TokenEnv replaces OPENAI_API_KEY as the env var checked first.
	TokenEnv string
	Store    credential.Backing
}

// New builds the OpenAI adapter.
func New(opts Options) *Adapter {
	baseURL := defaultBaseURL
	if opts.BaseURL != "" {
		baseURL = opts.BaseURL
	}

	tokenEnv := "OPENAI_API_KEY"
	if opts.TokenEnv != "" {
		tokenEnv = opts.TokenEnv
	}
	sources := []credential.Source{credential.EnvSource{Var: tokenEnv}}
	var invalidate func(ctx context.Context) error
	if opts.Store != nil {
		src := credential.StoreSource{Store: opts.Store, ServiceID: "openai"}
		sources = append(sources, src)
		invalidate = src.Invalidate
	}

	a := &Adapter{orgID: opts.OrgID}
	a.pipeline = adapter.Pipeline{
		Identity:   usage.ServiceIdentity{ID: "openai", DisplayName: "OpenAI"},
		Resolver:   credential.NewChain(sources...),
		Invalidate: invalidate,
		Retry:      resilience.DefaultRetryPolicy(),
		Breaker:    adapter.NewServiceBreaker(),
		Strategies: []adapter.Strategy{&headerProbe{
			baseURL: strings.TrimRight(baseURL, "/"),
			orgID:   opts.OrgID,
			client:  &http.Client{Timeout: 10 * time.Second},
		}},
		LoginHint: "set OPENAI_API_KEY or store a key with `quotascope login openai`",
	}
	return a
}

func (a *Adapter) Identity() usage.ServiceIdentity { return a.pipeline.Identity }

func (a *Adapter) FetchUsage(ctx context.Context) usage.ServiceUsage {
	return a.pipeline.Run(ctx)
}

func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return a.pipeline.CanResolve(ctx)
}

type headerProbe struct {
	baseURL string
	orgID   string
	client  *http.Client
}

func (s *headerProbe) Name() string { return "header_probe" }

func (s *headerProbe) Fetch(ctx context.Context, cred credential.Credential) (usage.ServiceUsage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/models", nil)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	}
	if s.orgID != "" {
		req.Header.Set("OpenAI-Organization", s.orgID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	defer resp.Body.Close()

	// 429 responses still carry the rate-limit headers.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusTooManyRequests {
		return usage.ServiceUsage{}, resilience.FromStatus(resp.StatusCode)
	}

	var windows []usage.RateWindow
	for _, metric := range []string{"requests", "tokens"} {
		w, ok := windowFromHeaders(resp.Header, metric)
		if ok {
			windows = append(windows, w)
		}
	}
	if len(windows) == 0 {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassMalformedResponse,
			fmt.Errorf("no x-ratelimit headers in response"))
	}

	record := usage.ServiceUsage{DashboardURL: "https://platform.openai.com/usage"}
	record.Primary, record.Secondary, record.Tertiary = usage.SelectWindows(windows, "requests")
	return record, nil
}

// windowFromHeaders builds one window from the x-ratelimit header
// triple for a metric. Reset values look like "100ms", "2s" or "6m0s".
func windowFromHeaders(h http.Header, metric string) (usage.RateWindow, bool) {
	limitStr := h.Get("x-ratelimit-limit-" + metric)
	remStr := h.Get("x-ratelimit-remaining-" + metric)
	if limitStr == "" || remStr == "" {
		return usage.RateWindow{}, false
	}

	limit, err := strconv.ParseFloat(limitStr, 64)
	if err != nil {
		return usage.RateWindow{}, false
	}
	rem, err := strconv.ParseFloat(remStr, 64)
	if err != nil {
		return usage.RateWindow{}, false
	}

	w := usage.RateWindow{
		Label:       metric,
		UsedPercent: usage.FromUsedLimit(limit-rem, limit),
		Remaining:   rem,
	}
	if d, err := time.ParseDuration(h.Get("x-ratelimit-reset-" + metric)); err == nil {
		resetAt := time.Now().UTC().Add(d)
		w.ResetsAt = &resetAt
		w.ResetDescription = "resets in " + d.String()
	}
	return w, true
}
