package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rmax-ai/quotascope/pkg/adapter/anthropic"
	"github.com/rmax-ai/quotascope/pkg/client"
	"github.com/rmax-ai/quotascope/pkg/credential"
	"github.com/rmax-ai/quotascope/pkg/mcp"
	"github.com/rmax-ai/quotascope/pkg/store"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

var (
	Version   = "v1.0.0"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usageAndExit()
	}

	endpoint := os.Getenv("QUOTASCOPE_ADDR")
	if endpoint != "" && !strings.HasPrefix(endpoint, "http") {
		endpoint = "http://" + endpoint
	}
	c := client.NewClient(endpoint)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "status", "usage":
		err = cmdUsage(ctx, c, rest(2))
	case "refresh":
		err = cmdRefresh(ctx, c, rest(2))
	case "services":
		err = cmdServices(ctx, c)
	case "login":
		err = cmdLogin(ctx, rest(2))
	case "mcp":
		err = mcp.NewServer(endpoint).Serve()
	case "version":
		fmt.Printf("quotascope %s (%s, built %s)\n", Version, Commit, BuildTime)
	default:
		usageAndExit()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func daemonErr(err error) error {
	if strings.Contains(err.Error(), "daemon unreachable") {
		return fmt.Errorf("%v\nIs quotascope-d running?", err)
	}
	return err
}

func rest(from int) string {
	if len(os.Args) > from {
		return os.Args[from]
	}
	return ""
}

func usageAndExit() {
	fmt.Println(`Usage: quotascope <command>

Commands:
  status [service]    show cached quota usage (alias: usage)
  refresh [service]   poll services for fresh data now
  services            list monitored services
  login <service>     store credentials for a service
  mcp                 serve the Model Context Protocol on stdio
  version             print version`)
	os.Exit(1)
}

func cmdUsage(ctx context.Context, c *client.Client, serviceID string) error {
	if serviceID != "" {
		record, err := c.GetServiceUsage(ctx, usage.ServiceID(serviceID))
		if err != nil {
			return daemonErr(err)
		}
		printRecord(record)
		return nil
	}

	records, err := c.GetUsage(ctx)
	if err != nil {
		return daemonErr(err)
	}
	if len(records) == 0 {
		fmt.Println("No usage data yet. Is the first poll still running?")
		return nil
	}
	for _, record := range records {
		printRecord(record)
	}
	return nil
}

func cmdRefresh(ctx context.Context, c *client.Client, serviceID string) error {
	if serviceID != "" {
		record, err := c.RefreshService(ctx, usage.ServiceID(serviceID))
		if err != nil {
			return daemonErr(err)
		}
		printRecord(record)
		return nil
	}

	records, err := c.Refresh(ctx)
	if err != nil {
		return daemonErr(err)
	}
	for _, record := range records {
		printRecord(record)
	}
	return nil
}

func cmdServices(ctx context.Context, c *client.Client) error {
	infos, err := c.ListServices(ctx)
	if err != nil {
		return daemonErr(err)
	}
	for _, info := range infos {
		state := "no credentials"
		if info.Available {
			state = "ready"
		}
		fmt.Printf("%-12s %-24s %s\n", info.ID, info.DisplayName, state)
	}
	return nil
}

// cmdLogin writes credentials straight into the shared store; the
// daemon picks them up on its next cycle.
func cmdLogin(ctx context.Context, serviceID string) error {
	if serviceID == "" {
		return fmt.Errorf("usage: quotascope login <service>")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	switch serviceID {
	case "anthropic":
		a := anthropic.New(anthropic.Options{
			Store:     st,
			LoginFlow: promptOAuthToken,
		})
		return a.Login(ctx)
	case "cursor":
		return loginCursor(ctx, st)
	case "github":
		return fmt.Errorf("set GITHUB_TOKEN in the daemon's environment instead")
	case "openai":
		return fmt.Errorf("set OPENAI_API_KEY in the daemon's environment instead")
	default:
		return fmt.Errorf("unknown service %q", serviceID)
	}
}

// promptOAuthToken asks the user to paste the token that
// `claude setup-token` prints.
func promptOAuthToken(ctx context.Context) (credential.Credential, error) {
	fmt.Println("Run `claude setup-token` in another terminal and paste the token here:")
	token, err := readLine(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	if token == "" {
		return credential.Credential{}, fmt.Errorf("empty token")
	}
	return credential.Credential{Kind: credential.KindOAuth, Token: token}, nil
}

func loginCursor(ctx context.Context, st *store.Store) error {
	fmt.Println("Paste the Cookie header of a signed-in cursor.com browser session:")
	header, err := readLine(ctx)
	if err != nil {
		return err
	}

	var cookies []credential.Cookie
	for _, part := range strings.Split(header, ";") {
		name, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || name == "" {
			continue
		}
		cookies = append(cookies, credential.Cookie{Name: name, Value: value})
	}
	if len(cookies) == 0 {
		return fmt.Errorf("no cookies found in input")
	}

	cred := credential.Credential{Kind: credential.KindCookies, Cookies: cookies}
	if err := st.PutCredential(ctx, "cursor", cred); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	fmt.Printf("Stored %d cookies for cursor.\n", len(cookies))
	return nil
}

// readLine reads one trimmed line from stdin, honoring ctx.
func readLine(ctx context.Context) (string, error) {
	type lineResult struct {
		text string
		err  error
	}
	ch := make(chan lineResult, 1)
	go func() {
		reader := bufio.NewReader(os.Stdin)
		text, err := reader.ReadString('\n')
		ch <- lineResult{strings.TrimSpace(text), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && res.text == "" {
			return "", res.err
		}
		return res.text, nil
	}
}

func openStore() (*store.Store, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dbPath := os.Getenv("QUOTASCOPE_DB_PATH")
	if dbPath == "" {
		dbPath = filepath.Join(home, ".quotascope", "quotascope.db")
	}
	return store.NewStore(dbPath)
}

func printRecord(record usage.ServiceUsage) {
	fmt.Printf("%-12s", record.ServiceID)
	if record.Error != "" {
		fmt.Printf(" !! %s", record.Error)
		if record.NeedsLogin {
			fmt.Print("  (login required)")
		}
		fmt.Println()
		return
	}

	for _, w := range []*usage.RateWindow{record.Primary, record.Secondary, record.Tertiary} {
		if w == nil {
			continue
		}
		label := w.Label
		if label == "" {
			label = "usage"
		}
		fmt.Printf("  %s %5.1f%%", label, w.UsedPercent)
		if w.ResetsAt != nil {
			fmt.Printf(" (resets %s)", w.ResetsAt.Local().Format("15:04"))
		}
	}
	if record.AccountPlan != "" {
		fmt.Printf("  [%s]", record.AccountPlan)
	}
	fmt.Println()
}
