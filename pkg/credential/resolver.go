package credential

import (
	"context"
	"log"
	"os"
	"time"
)

// Source is one strategy in a service's resolution chain. Resolve
// returns found=false when the source simply has nothing; an error
// means the source itself misbehaved and the chain moves on.
type Source interface {
	Name() string
	Resolve(ctx context.Context) (Credential, bool, error)
}

// Invalidator is implemented by sources whose backing material can be
// deleted when it turns out to be stale.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Chain tries sources in order and returns the first usable
// credential. A source that yields expired material has its backing
// deleted (when it can be) and the chain continues; exhausting every
// source is reported as found=false, not as an error.
type Chain struct {
	sources []Source
	now     func() time.Time
}

// NewChain builds a resolution chain over the given sources.
func NewChain(sources ...Source) *Chain {
	return &Chain{sources: sources, now: time.Now}
}

// Resolve walks the chain.
func (c *Chain) Resolve(ctx context.Context) (Credential, bool, error) {
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return Credential{}, false, err
		}
		cred, found, err := src.Resolve(ctx)
		if err != nil {
			log.Printf("credential source %s failed: %v", src.Name(), err)
			continue
		}
		if !found || cred.IsZero() {
			continue
		}
		if cred.Expired(c.now()) {
			if inv, ok := src.(Invalidator); ok {
				if err := inv.Invalidate(ctx); err != nil {
					log.Printf("failed to purge stale credential from %s: %v", src.Name(), err)
				}
			}
			continue
		}
		return cred, true, nil
	}
	return Credential{}, false, nil
}

// EnvSource resolves a bearer token from an environment variable.
// It sits first in every chain so an explicit override always wins.
type EnvSource struct {
	Var  string
	Kind Kind
}

func (s EnvSource) Name() string { return "env:" + s.Var }

func (s EnvSource) Resolve(ctx context.Context) (Credential, bool, error) {
	v := os.Getenv(s.Var)
	if v == "" {
		return Credential{}, false, nil
	}
	kind := s.Kind
	if kind == "" {
		kind = KindBearer
	}
	return Credential{Kind: kind, Token: v}, true, nil
}

// Backing is the persistence surface StoreSource reads through.
// pkg/store implements it on SQLite.
type Backing interface {
	GetCredential(ctx context.Context, serviceID string) (Credential, bool, error)
	DeleteCredential(ctx context.Context, serviceID string) error
}

// StoreSource resolves the persisted credential record for a service.
type StoreSource struct {
	Store     Backing
	ServiceID string
}

func (s StoreSource) Name() string { return "store:" + s.ServiceID }

func (s StoreSource) Resolve(ctx context.Context) (Credential, bool, error) {
	return s.Store.GetCredential(ctx, s.ServiceID)
}

// Invalidate deletes the stored record. Called by the chain on expiry
// and by adapters on an explicit unauthorized response.
func (s StoreSource) Invalidate(ctx context.Context) error {
	return s.Store.DeleteCredential(ctx, s.ServiceID)
}

// SourceFunc adapts a plain function into a Source.
type SourceFunc struct {
	SourceName string
	Fn         func(ctx context.Context) (Credential, bool, error)
}

func (s SourceFunc) Name() string { return s.SourceName }

func (s SourceFunc) Resolve(ctx context.Context) (Credential, bool, error) {
	return s.Fn(ctx)
}
