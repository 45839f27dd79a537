package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rmax-ai/quotascope/pkg/adapter"
	"github.com/rmax-ai/quotascope/pkg/credential"
	"github.com/rmax-ai/quotascope/pkg/resilience"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

const (
	defaultUsageURL = "https://api.anthropic.com/api/oauth/usage"
	betaHeader      = "oauth-2025-04-20"
	cliBinary       = "claude"
)

// Adapter polls the Anthropic OAuth usage endpoint for the five-hour
// and seven-day utilization windows. Credentials come from an env
// override, the quotascope store, or the companion CLI's credential
// file, in that order. When only an unauthenticated CLI install is
// detectable, the adapter reports a login-needed placeholder instead
// of failing.
type Adapter struct {
	pipeline     adapter.Pipeline
	store        CredentialStore
	logins       *credential.LoginManager
	flow         credential.LoginFlow
	loginTimeout time.Duration
}

// Options configure the adapter beyond its defaults.
type Options struct {
	UsageURL string
	// CredentialsPath overrides the CLI credential file location,
	// default ~/.claude/.credentials.json.
	CredentialsPath string
	// TokenEnv replaces CLAUDE_CODE_OAUTH_TOKEN as the env var
	// checked first.
	TokenEnv string
	Store    CredentialStore
	// LoginFlow runs the interactive sign-in when Login is called.
	LoginFlow credential.LoginFlow
	// LoginTimeout bounds the interactive flow; default 5 minutes.
	LoginTimeout time.Duration
}

// CredentialStore is the persistence surface the adapter writes
// freshly established credentials to.
type CredentialStore interface {
	credential.Backing
	PutCredential(ctx context.Context, serviceID string, cred credential.Credential) error
}

// New builds the Anthropic adapter.
func New(opts Options) *Adapter {
	usageURL := opts.UsageURL
	if usageURL == "" {
		usageURL = defaultUsageURL
	}
	credPath := opts.CredentialsPath
	if credPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			credPath = filepath.Join(home, ".claude", ".credentials.json")
		}
	}
	loginTimeout := opts.LoginTimeout
	if loginTimeout == 0 {
		loginTimeout = 5 * time.Minute
	}

	tokenEnv := "CLAUDE_CODE_OAUTH_TOKEN"
	if opts.TokenEnv != "" {
		tokenEnv = opts.TokenEnv
	}
	sources := []credential.Source{
		credential.EnvSource{Var: tokenEnv, Kind: credential.KindOAuth},
	}
	var invalidate func(ctx context.Context) error
	if opts.Store != nil {
		src := credential.StoreSource{Store: opts.Store, ServiceID: "anthropic"}
		sources = append(sources, src)
		invalidate = src.Invalidate
	}
	sources = append(sources, &cliCredentialsFile{path: credPath})

	a := &Adapter{store: opts.Store, logins: credential.NewLoginManager(), flow: opts.LoginFlow}
	a.loginTimeout = loginTimeout
	a.pipeline = adapter.Pipeline{
		Identity:   usage.ServiceIdentity{ID: "anthropic", DisplayName: "Claude"},
		Resolver:   credential.NewChain(sources...),
		Invalidate: invalidate,
		Retry:      resilience.DefaultRetryPolicy(),
		Breaker:    adapter.NewServiceBreaker(),
		Strategies: []adapter.Strategy{
			&usageAPI{url: usageURL, client: &http.Client{Timeout: 10 * time.Second}},
			&cliPresence{},
		},
		LoginHint: "sign in with `claude /login` or run `quotascope login anthropic`",
	}
	return a
}

func (a *Adapter) Identity() usage.ServiceIdentity { return a.pipeline.Identity }

func (a *Adapter) FetchUsage(ctx context.Context) usage.ServiceUsage {
	return a.pipeline.Run(ctx)
}

// IsAvailable reports whether a credential resolves or the companion
// CLI is on PATH.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	if a.pipeline.CanResolve(ctx) {
		return true
	}
	_, err := exec.LookPath(cliBinary)
	return err == nil
}

// Login runs the configured interactive flow and persists its result.
// Re-entry while a flow is pending cancels the pending one.
func (a *Adapter) Login(ctx context.Context) error {
	if a.flow == nil {
		return fmt.Errorf("anthropic: no interactive login flow configured")
	}
	done := a.logins.Begin("anthropic", a.flow, a.loginTimeout)
	select {
	case <-ctx.Done():
		a.logins.Cancel("anthropic")
		return ctx.Err()
	case res := <-done:
		if res.Err != nil {
			return fmt.Errorf("anthropic login failed: %w", res.Err)
		}
		if a.store != nil {
			if err := a.store.PutCredential(ctx, "anthropic", res.Credential); err != nil {
				return fmt.Errorf("failed to persist credential: %w", err)
			}
		}
		return nil
	}
}

// usageAPI is the primary data source: the OAuth usage endpoint.
type usageAPI struct {
	url    string
	client *http.Client
}

func (s *usageAPI) Name() string { return "oauth_usage_api" }

func (s *usageAPI) Fetch(ctx context.Context, cred credential.Credential) (usage.ServiceUsage, error) {
	if cred.Token == "" {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassCredentialNotFound,
			fmt.Errorf("no access token resolved"))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", s.url, nil)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.Token)
	req.Header.Set("anthropic-beta", betaHeader)

	resp, err := s.client.Do(req)
	if err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return usage.ServiceUsage{}, resilience.FromStatus(resp.StatusCode)
	}

	var doc struct {
		FiveHour struct {
			Utilization float64   `json:"utilization"`
			ResetsAt    time.Time `json:"resets_at"`
		} `json:"five_hour"`
		SevenDay struct {
			Utilization float64   `json:"utilization"`
			ResetsAt    time.Time `json:"resets_at"`
		} `json:"seven_day"`
		Account struct {
			Email            string `json:"email"`
			SubscriptionType string `json:"subscription_type"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassMalformedResponse, err)
	}

	windows := []usage.RateWindow{
		{
			Label:         "five_hour",
			UsedPercent:   usage.FromPercent(doc.FiveHour.Utilization),
			WindowMinutes: 5 * 60,
			ResetsAt:      resetTime(doc.FiveHour.ResetsAt),
		},
		{
			Label:         "seven_day",
			UsedPercent:   usage.FromPercent(doc.SevenDay.Utilization),
			WindowMinutes: 7 * 24 * 60,
			ResetsAt:      resetTime(doc.SevenDay.ResetsAt),
		},
	}

	record := usage.ServiceUsage{
		AccountEmail: doc.Account.Email,
		AccountPlan:  doc.Account.SubscriptionType,
		DashboardURL: "https://claude.ai/settings/usage",
	}
	record.Primary, record.Secondary, record.Tertiary = usage.SelectWindows(windows, "five_hour", "seven_day")
	return record, nil
}

// resetTime keeps a missing resets_at out of the record so formatters
// never render the zero time.
func resetTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// cliCredentialsFile reads the companion CLI's stored session. On
// expiry the chain deletes the stale file so the next resolution falls
// straight through (self-healing).
type cliCredentialsFile struct {
	path string
}

func (s *cliCredentialsFile) Name() string { return "cli_credentials_file" }

func (s *cliCredentialsFile) Resolve(ctx context.Context) (credential.Credential, bool, error) {
	if s.path == "" {
		return credential.Credential{}, false, nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return credential.Credential{}, false, nil
	}
	if err != nil {
		return credential.Credential{}, false, err
	}

	var doc struct {
		ClaudeAiOauth struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
			ExpiresAt    int64  `json:"expiresAt"` // unix millis
		} `json:"claudeAiOauth"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return credential.Credential{}, false, fmt.Errorf("unparseable credential file: %w", err)
	}
	if doc.ClaudeAiOauth.AccessToken == "" {
		return credential.Credential{}, false, nil
	}

	cred := credential.Credential{
		Kind:         credential.KindOAuth,
		Token:        doc.ClaudeAiOauth.AccessToken,
		RefreshToken: doc.ClaudeAiOauth.RefreshToken,
	}
	if doc.ClaudeAiOauth.ExpiresAt > 0 {
		exp := time.UnixMilli(doc.ClaudeAiOauth.ExpiresAt)
		cred.ExpiresAt = &exp
	}
	return cred, true, nil
}

func (s *cliCredentialsFile) Invalidate(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// cliPresence is the terminal fallback: the CLI is installed but no
// session works. It reports a zero-usage login-needed placeholder
// rather than an error so consumers can render the service.
type cliPresence struct{}

func (s *cliPresence) Name() string { return "cli_presence" }

func (s *cliPresence) Fetch(ctx context.Context, cred credential.Credential) (usage.ServiceUsage, error) {
	if _, err := exec.LookPath(cliBinary); err != nil {
		return usage.ServiceUsage{}, resilience.NewFailure(resilience.ClassLocalToolMissing,
			fmt.Errorf("%s not found on PATH", cliBinary))
	}
	return usage.ServiceUsage{
		NeedsLogin: true,
		Error:      "claude CLI detected but not signed in; run `claude /login`",
	}, nil
}
