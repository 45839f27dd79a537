package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rmax-ai/quotascope/pkg/adapter"
	"github.com/rmax-ai/quotascope/pkg/credential"
	"github.com/rmax-ai/quotascope/pkg/resilience"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

const defaultBaseURL = "https://api.github.com"

// Adapter polls the GitHub REST rate_limit document. The core,
// search and graphql resources become the candidate windows, ranked
// with core preferred.
type Adapter struct {
	pipeline adapter.Pipeline
}

// Options configure the adapter beyond its defaults.
type Options struct {
	// EnterpriseURL replaces api.github.com for GHE installs.
	EnterpriseURL string
	// TokenEnv replaces GITHUB_TOKEN as the env var checked first.
	TokenEnv string
	// Store backs the persisted-credential source; nil skips it.
	Store credential.Backing
}

// New builds the GitHub adapter.
func New(opts Options) *Adapter {
	baseURL := defaultBaseURL
	if opts.EnterpriseURL != "" {
		baseURL = opts.EnterpriseURL
	}

	tokenEnv := "GITHUB_TOKEN"
	if opts.TokenEnv != "" {
		tokenEnv = opts.TokenEnv
	}
	sources := []credential.Source{credential.EnvSource{Var: tokenEnv}}
	var invalidate func(ctx context.Context) error
	if opts.Store != nil {
		src := credential.StoreSource{Store: opts.Store, ServiceID: "github"}
		sources = append(sources, src)
		invalidate = src.Invalidate
	}

	a := &Adapter{}
	a.pipeline = adapter.Pipeline{
		Identity:   usage.ServiceIdentity{ID: "github", DisplayName: "GitHub"},
		Resolver:   credential.NewChain(sources...),
		Invalidate: invalidate,
		Retry:      resilience.DefaultRetryPolicy(),
		Breaker:    adapter.NewServiceBreaker(),
		Strategies: []adapter.Strategy{&rateLimitAPI{
			baseURL: baseURL,
			client:  &http.Client{Timeout: 10 * time.Second},
		}},
		LoginHint: "set GITHUB_TOKEN or store a token with `quotascope login github`",
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

// rateLimitAPI is the single data source: GET /rate_limit.
type rateLimitAPI struct {
	baseURL string
	client  *http.Client
}

func (s *rateLimitAPI) Name() string { return "rate_limit_api" }

func (s *rateLimitAPI) Fetch(ctx context.Context, cred credential.Credential) (usage.ServiceUsage, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/rate_limit", nil)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	if cred.Token != "" {
		req.Header.Set("Authorization", "token "+cred.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return usage.ServiceUsage{}, resilience.FromStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}

	var doc struct {
		Resources map[string]struct {
			Limit     float64 `json:"limit"`
			Remaining float64 `json:"remaining"`
			Reset     int64   `json:"reset"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassMalformedResponse, err)
	}
	if len(doc.Resources) == 0 {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassMalformedResponse,
			fmt.Errorf("rate_limit document has no resources"))
	}

	var windows []usage.RateWindow
	for name, res := range doc.Resources {
		resetAt := time.Unix(res.Reset, 0).UTC()
		windows = append(windows, usage.RateWindow{
			Label:       name,
			UsedPercent: usage.FromUsedLimit(res.Limit-res.Remaining, res.Limit),
			ResetsAt:    &resetAt,
			Remaining:   res.Remaining,
		})
	}

	record := usage.ServiceUsage{DashboardURL: "https://github.com/settings/billing"}
	record.Primary, record.Secondary, record.Tertiary = usage.SelectWindows(windows, "core", "graphql")
	return record, nil
}
