package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rmax-ai/quotascope/pkg/usage"
)

// ErrNotFound is returned when the daemon does not know a service.
var ErrNotFound = errors.New("service not found")

// Client is the quotascope SDK client.
type Client struct {
	endpoint string
	http     *http.Client
	backoff  *ExponentialBackoff
	retries  int
}

// NewClient creates a new quotascope client.
// endpoint defaults to "http://127.0.0.1:8440" if empty.
func NewClient(endpoint string) *Client {
	if endpoint == "" {
		endpoint = "http://127.0.0.1:8440"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		backoff: DefaultBackoff(),
		retries: 3,
	}
}

// Ping checks the health of the daemon.
func (c *Client) Ping(ctx context.Context) (Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/healthz", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// ListServices fetches the registered services and their availability.
func (c *Client) ListServices(ctx context.Context) ([]ServiceInfo, error) {
	var infos []ServiceInfo
	if err := c.getJSON(ctx, "/v1/services", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// GetUsage fetches the cached usage records for every service.
func (c *Client) GetUsage(ctx context.Context) ([]usage.ServiceUsage, error) {
	var envelope usageEnvelope
	if err := c.getJSON(ctx, "/v1/usage", &envelope); err != nil {
		return nil, err
	}
	return envelope.Services, nil
}

// GetServiceUsage fetches the cached record for one service.
func (c *Client) GetServiceUsage(ctx context.Context, id usage.ServiceID) (usage.ServiceUsage, error) {
	var record usage.ServiceUsage
	if err := c.getJSON(ctx, "/v1/usage/"+string(id), &record); err != nil {
		return usage.ServiceUsage{}, err
	}
	return record, nil
}

// Refresh asks the daemon to poll every enabled service now and
// returns the fresh records.
func (c *Client) Refresh(ctx context.Context) ([]usage.ServiceUsage, error) {
	var envelope usageEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/v1/refresh", &envelope); err != nil {
		return nil, err
	}
	return envelope.Services, nil
}

// RefreshService asks the daemon to poll one service now.
func (c *Client) RefreshService(ctx context.Context, id usage.ServiceID) (usage.ServiceUsage, error) {
	var envelope usageEnvelope
	if err := c.doJSON(ctx, http.MethodPost, "/v1/refresh/"+string(id), &envelope); err != nil {
		return usage.ServiceUsage{}, err
	}
	if len(envelope.Services) == 0 {
		return usage.ServiceUsage{}, fmt.Errorf("empty refresh response")
	}
	return envelope.Services[0], nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, out)
}

// doJSON performs one API call, retrying network errors and 5xx
// responses with backoff. 4xx responses are never retried.
func (c *Client) doJSON(ctx context.Context, method, path string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff.Next(attempt - 1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := c.once(ctx, method, path, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, method, path string, out interface{}) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, fmt.Errorf("daemon unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, ErrNotFound
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("daemon error: status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	if out == nil {
		return false, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return false, nil
}
