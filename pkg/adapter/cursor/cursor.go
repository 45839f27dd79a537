package cursor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rmax-ai/quotascope/pkg/adapter"
	"github.com/rmax-ai/quotascope/pkg/credential"
	"github.com/rmax-ai/quotascope/pkg/resilience"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

const defaultBaseURL = "https://cursor.com"

// Default loopback range the desktop app's local bridge listens on.
var defaultProbePorts = []int{8888, 8889, 8890, 8891}

// Adapter polls the Cursor web usage API with the stored browser
// session cookies. When the web API is unreachable it falls back to
// probing the desktop app's loopback bridge, which serves the same
// document over a self-signed certificate.
type Adapter struct {
	pipeline adapter.Pipeline
}

// Options configure the adapter beyond its defaults.
type Options struct {
	BaseURL    string
	ProbePorts []int
	// ProbeBaseURL overrides the loopback scheme/host for tests.
	ProbeBaseURL string
	Store        credential.Backing
}

// New builds the Cursor adapter.
func New(opts Options) *Adapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	ports := opts.ProbePorts
	if len(ports) == 0 {
		ports = defaultProbePorts
	}

	var sources []credential.Source
	var invalidate func(ctx context.Context) error
	if opts.Store != nil {
		src := credential.StoreSource{Store: opts.Store, ServiceID: "cursor"}
		sources = append(sources, src)
		invalidate = src.Invalidate
	}

	// The loopback bridge uses a self-signed certificate, so this
	// transport, and only this one, skips verification.
	probeClient := &http.Client{
		Timeout: 3 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	a := &Adapter{}
	a.pipeline = adapter.Pipeline{
		Identity:   usage.ServiceIdentity{ID: "cursor", DisplayName: "Cursor"},
		Resolver:   credential.NewChain(sources...),
		Invalidate: invalidate,
		Retry:      resilience.DefaultRetryPolicy(),
		Breaker:    adapter.NewServiceBreaker(),
		Strategies: []adapter.Strategy{
			&webAPI{baseURL: baseURL, client: &http.Client{Timeout: 10 * time.Second}},
			&loopbackProbe{ports: ports, baseURL: opts.ProbeBaseURL, client: probeClient},
		},
		LoginHint: "sign in at cursor.com, then run `quotascope login cursor` to capture the session",
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

// usageDoc is the shape both the web API and the loopback bridge serve.
type usageDoc struct {
	Premium struct {
		Used  float64 `json:"numRequests"`
		Limit float64 `json:"maxRequestUsage"`
	} `json:"gpt-4"`
	Basic struct {
		Used  float64 `json:"numRequests"`
		Limit float64 `json:"maxRequestUsage"`
	} `json:"gpt-3.5-turbo"`
	StartOfMonth time.Time `json:"startOfMonth"`
}

func recordFromDoc(doc usageDoc) usage.ServiceUsage {
	// Only derive a reset time when the payload dates the cycle;
	// otherwise formatters would render the zero time.
	var resetAt *time.Time
	if !doc.StartOfMonth.IsZero() {
		t := doc.StartOfMonth.AddDate(0, 1, 0)
		resetAt = &t
	}
	windows := []usage.RateWindow{
		{
			Label:       "premium",
			UsedPercent: usage.FromUsedLimit(doc.Premium.Used, doc.Premium.Limit),
			ResetsAt:    resetAt,
			Remaining:   doc.Premium.Limit - doc.Premium.Used,
		},
		{
			Label:       "basic",
			UsedPercent: usage.FromUsedLimit(doc.Basic.Used, doc.Basic.Limit),
			ResetsAt:    resetAt,
			Remaining:   doc.Basic.Limit - doc.Basic.Used,
		},
	}
	record := usage.ServiceUsage{DashboardURL: "https://cursor.com/settings"}
	record.Primary, record.Secondary, record.Tertiary = usage.SelectWindows(windows, "premium")
	return record
}

// webAPI fetches the usage document with the stored session cookies.
type webAPI struct {
	baseURL string
	client  *http.Client
}

func (s *webAPI) Name() string { return "web_api" }

func (s *webAPI) Fetch(ctx context.Context, cred credential.Credential) (usage.ServiceUsage, error) {
	if len(cred.Cookies) == 0 {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassCredentialNotFound,
			fmt.Errorf("no session cookies stored"))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/api/usage", nil)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	req.Header.Set("Cookie", cred.CookieHeader())

	resp, err := s.client.Do(req)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return usage.ServiceUsage{}, resilience.FromStatus(resp.StatusCode)
	}

	var doc usageDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassMalformedResponse, err)
	}
	return recordFromDoc(doc), nil
}

// loopbackProbe walks the local port range until one port serves a
// parseable usage document. The desktop app answers without cookies,
// so this works even when the web session is gone.
type loopbackProbe struct {
	ports   []int
	baseURL string // test override; normally https://127.0.0.1
	client  *http.Client
}

func (s *loopbackProbe) Name() string { return "loopback_probe" }

func (s *loopbackProbe) Fetch(ctx context.Context, cred credential.Credential) (usage.ServiceUsage, error) {
	var lastErr error
	for _, port := range s.ports {
		url := fmt.Sprintf("https://127.0.0.1:%d/usage", port)
		if s.baseURL != "" {
			url = fmt.Sprintf("%s/usage?port=%d", s.baseURL, port)
		}
		doc, err := s.probe(ctx, url)
		if err != nil {
			lastErr = err
			continue
		}
		return recordFromDoc(doc), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no probe ports configured")
	}
	return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassLocalToolMissing,
		fmt.Errorf("no local bridge answered: %w", lastErr))
}

func (s *loopbackProbe) probe(ctx context.Context, url string) (usageDoc, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return usageDoc{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return usageDoc{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return usageDoc{}, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	var doc usageDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return usageDoc{}, err
	}
	return doc, nil
}
