package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/rmax-ai/quotascope/pkg/usage"
)

// MockAdapter returns scripted records for engine and API tests.
type MockAdapter struct {
	identity usage.ServiceIdentity

	mu        sync.Mutex
	record    usage.ServiceUsage
	available bool
	delay     time.Duration
	panicMsg  string
	fetches   int
}

// NewMockAdapter creates a mock that reports usedPercent on its
// primary window and no error.
func NewMockAdapter(id, displayName string, usedPercent float64) *MockAdapter {
	m := &MockAdapter{
		identity:  usage.ServiceIdentity{ID: usage.ServiceID(id), DisplayName: displayName},
		available: true,
	}
	m.record = usage.ServiceUsage{
		ServiceID:   m.identity.ID,
		DisplayName: displayName,
		Primary:     &usage.RateWindow{UsedPercent: usedPercent},
	}
	return m
}

// SetRecord replaces the scripted record.
func (m *MockAdapter) SetRecord(record usage.ServiceUsage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.ServiceID = m.identity.ID
	m.record = record
}

// SetDelay makes FetchUsage block to simulate a slow upstream.
func (m *MockAdapter) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// SetPanic makes the next FetchUsage panic, for orchestrator
// defensive-layer tests.
func (m *MockAdapter) SetPanic(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panicMsg = msg
}

// SetAvailable overrides the IsAvailable probe.
func (m *MockAdapter) SetAvailable(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = v
}

// Fetches reports how many times FetchUsage ran.
func (m *MockAdapter) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *MockAdapter) Identity() usage.ServiceIdentity { return m.identity }

func (m *MockAdapter) FetchUsage(ctx context.Context) usage.ServiceUsage {
	m.mu.Lock()
	m.fetches++
	record := m.record
	delay := m.delay
	panicMsg := m.panicMsg
	m.mu.Unlock()

	if panicMsg != "" {
		panic(panicMsg)
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
	record.UpdatedAt = time.Now().UTC()
	return record
}

func (m *MockAdapter) IsAvailable(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}
