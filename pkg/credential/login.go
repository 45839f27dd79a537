package credential

import (
	"context"
	"sync"
	"time"
)

// LoginFlow performs an out-of-band interactive step (opening a
// sign-in surface, device-authorization) and returns the new
// credential. It must honor ctx cancellation.
type LoginFlow func(ctx context.Context) (Credential, error)

// LoginResult is delivered on the channel returned by Begin.
type LoginResult struct {
	Credential Credential
	Err        error
}

type pendingLogin struct {
	cancel context.CancelFunc
	done   chan LoginResult
}

// LoginManager serializes interactive logins per service: starting a
// new flow while one is pending for the same service cancels and
// replaces the pending one. Completion is event-driven (a channel),
// bounded by an explicit timeout.
type LoginManager struct {
	mu      sync.Mutex
	pending map[string]*pendingLogin
}

func NewLoginManager() *LoginManager {
	return &LoginManager{pending: make(map[string]*pendingLogin)}
}

// Begin starts flow for serviceID and returns a channel that receives
// exactly one LoginResult. Any pending flow for the same service is
// cancelled first; its channel receives a context.Canceled result.
func (m *LoginManager) Begin(serviceID string, flow LoginFlow, timeout time.Duration) <-chan LoginResult {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	p := &pendingLogin{cancel: cancel, done: make(chan LoginResult, 1)}

	m.mu.Lock()
	if prev, ok := m.pending[serviceID]; ok {
		prev.cancel()
	}
	m.pending[serviceID] = p
	m.mu.Unlock()

	go func() {
		defer cancel()
		cred, err := flow(ctx)

		m.mu.Lock()
		if m.pending[serviceID] == p {
			delete(m.pending, serviceID)
		}
		m.mu.Unlock()

		p.done <- LoginResult{Credential: cred, Err: err}
	}()

	return p.done
}

// Pending reports whether a login flow is in flight for serviceID.
func (m *LoginManager) Pending(serviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[serviceID]
	return ok
}

// Cancel aborts any pending flow for serviceID.
func (m *LoginManager) Cancel(serviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pending[serviceID]; ok {
		p.cancel()
		delete(m.pending, serviceID)
	}
}
