package anthropic

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rmax-ai/quotascope/pkg/credential"
)

type memoryStore struct {
	creds map[string]credential.Credential
}

func newMemoryStore() *memoryStore {
	return &memoryStore{creds: make(map[string]credential.Credential)}
}

func (m *memoryStore) GetCredential(ctx context.Context, id string) (credential.Credential, bool, error) {
	c, ok := m.creds[id]
	return c, ok, nil
}

func (m *memoryStore) PutCredential(ctx context.Context, id string, c credential.Credential) error {
	m.creds[id] = c
	return nil
}

func (m *memoryStore) DeleteCredential(ctx context.Context, id string) error {
	delete(m.creds, id)
	return nil
}

func TestFetchUsage_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer env-token" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		if got := r.Header.Get("anthropic-beta"); got != betaHeader {
			t.Errorf("unexpected beta header %q", got)
		}
		w.Write([]byte(`{
			"five_hour": {"utilization": 27, "resets_at": "2026-09-01T10:00:00Z"},
			"seven_day": {"utilization": 61, "resets_at": "2026-09-05T00:00:00Z"},
			"account": {"email": "dev@example.com", "subscription_type": "max"}
		}`))
	}))
	defer server.Close()

	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "env-token")
	a := New(Options{UsageURL: server.URL, CredentialsPath: filepath.Join(t.TempDir(), "none.json")})
	a.pipeline.Retry.BaseDelay = time.Millisecond

	record := a.FetchUsage(context.Background())
	if record.Error != "" {
		t.Fatalf("unexpected error: %s", record.Error)
	}
	if record.Primary == nil || record.Primary.Label != "five_hour" || record.Primary.UsedPercent != 27 {
		t.Errorf("primary = %+v; want five_hour at 27%%", record.Primary)
	}
	if record.Secondary == nil || record.Secondary.Label != "seven_day" || record.Secondary.UsedPercent != 61 {
		t.Errorf("secondary = %+v; want seven_day at 61%%", record.Secondary)
	}
	if record.AccountEmail != "dev@example.com" || record.AccountPlan != "max" {
		t.Errorf("account fields not mapped: %q/%q", record.AccountEmail, record.AccountPlan)
	}
	if record.Primary.WindowMinutes != 300 {
		t.Errorf("window minutes = %d; want 300", record.Primary.WindowMinutes)
	}
}

func TestFetchUsage_MissingResetTimes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"five_hour": {"utilization": 12},
			"seven_day": {"utilization": 40, "resets_at": "2026-09-05T00:00:00Z"}
		}`))
	}))
	defer server.Close()

	t.Setenv("CLAUDE_CODE_OAUTH_TOKEN", "env-token")
	a := New(Options{UsageURL: server.URL, CredentialsPath: filepath.Join(t.TempDir(), "none.json")})
	a.pipeline.Retry.BaseDelay = time.Millisecond

	record := a.FetchUsage(context.Background())
	if record.Error != "" {
		t.Fatalf("unexpected error: %s", record.Error)
	}
	if record.Primary == nil || record.Primary.ResetsAt != nil {
		t.Errorf("primary = %+v; a window without resets_at must not carry the zero time", record.Primary)
	}
	if record.Secondary == nil || record.Secondary.ResetsAt == nil {
		t.Errorf("secondary = %+v; its resets_at was present", record.Secondary)
	}
}

func TestFetchUsage_TokenEnvOverride(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer from-custom-var" {
			t.Errorf("unexpected Authorization header %q", got)
		}
		w.Write([]byte(`{"five_hour": {"utilization": 5, "resets_at": "2026-09-01T10:00:00Z"}}`))
	}))
	defer server.Close()

	t.Setenv("MY_CLAUDE_TOKEN", "from-custom-var")
	a := New(Options{
		UsageURL:        server.URL,
		TokenEnv:        "MY_CLAUDE_TOKEN",
		CredentialsPath: filepath.Join(t.TempDir(), "none.json"),
	})
	a.pipeline.Retry.BaseDelay = time.Millisecond

	record := a.FetchUsage(context.Background())
	if record.Error != "" {
		t.Fatalf("unexpected error: %s", record.Error)
	}
	if record.Primary == nil || record.Primary.UsedPercent != 5 {
		t.Errorf("primary = %+v; want 5%% via the overridden env var", record.Primary)
	}
}

func TestCLICredentialsFile_ResolveAndExpiry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	future := time.Now().Add(time.Hour).UnixMilli()
	content := `{"claudeAiOauth":{"accessToken":"file-token","refreshToken":"r","expiresAt":` +
		strconv.FormatInt(future, 10) + `}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	src := &cliCredentialsFile{path: path}
	cred, found, err := src.Resolve(context.Background())
	if err != nil || !found {
		t.Fatalf("Resolve = found=%v err=%v", found, err)
	}
	if cred.Kind != credential.KindOAuth || cred.Token != "file-token" {
		t.Errorf("unexpected credential %+v", cred)
	}
	if cred.ExpiresAt == nil {
		t.Fatal("expiry not mapped from unix millis")
	}

	// An expired file is purged by the chain and resolution falls through.
	past := time.Now().Add(-time.Hour).UnixMilli()
	stale := `{"claudeAiOauth":{"accessToken":"old","expiresAt":` + strconv.FormatInt(past, 10) + `}}`
	if err := os.WriteFile(path, []byte(stale), 0o600); err != nil {
		t.Fatal(err)
	}
	_, found, err = credential.NewChain(src).Resolve(context.Background())
	if err != nil {
		t.Fatalf("chain errored: %v", err)
	}
	if found {
		t.Error("expired file credential must resolve as absent")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale credential file was not deleted")
	}
}

func TestCLICredentialsFile_Missing(t *testing.T) {
	src := &cliCredentialsFile{path: filepath.Join(t.TempDir(), "absent.json")}
	_, found, err := src.Resolve(context.Background())
	if found || err != nil {
		t.Errorf("missing file should be not-found, got found=%v err=%v", found, err)
	}
}

func TestLogin_PersistsCredential(t *testing.T) {
	store := newMemoryStore()
	a := New(Options{
		Store: store,
		LoginFlow: func(ctx context.Context) (credential.Credential, error) {
			return credential.Credential{Kind: credential.KindOAuth, Token: "fresh"}, nil
		},
		CredentialsPath: filepath.Join(t.TempDir(), "none.json"),
	})

	if err := a.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	got, ok := store.creds["anthropic"]
	if !ok || got.Token != "fresh" {
		t.Errorf("credential not persisted: %+v", got)
	}
}

func TestLogin_NoFlowConfigured(t *testing.T) {
	a := New(Options{CredentialsPath: filepath.Join(t.TempDir(), "none.json")})
	if err := a.Login(context.Background()); err == nil {
		t.Error("expected an error without a configured flow")
	}
}

func TestLogin_FlowError(t *testing.T) {
	flowErr := errors.New("user closed the browser")
	a := New(Options{
		LoginFlow: func(ctx context.Context) (credential.Credential, error) {
			return credential.Credential{}, flowErr
		},
		CredentialsPath: filepath.Join(t.TempDir(), "none.json"),
	})
	if err := a.Login(context.Background()); !errors.Is(err, flowErr) {
		t.Errorf("expected flow error, got %v", err)
	}
}
