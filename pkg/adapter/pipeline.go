package adapter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rmax-ai/quotascope/pkg/credential"
	"github.com/rmax-ai/quotascope/pkg/resilience"
	"github.com/rmax-ai/quotascope/pkg/usage"
)

// Strategy is one data source in a service's ordered fallback chain:
// a primary web API, a secondary endpoint, a local companion process.
// Fetch returns the canonical record on success; failures are
// classified *resilience.Failure values.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, cred credential.Credential) (usage.ServiceUsage, error)
}

// Pipeline runs a service's strategy chain under its retry policy and
// circuit breaker. Every concrete adapter embeds one; the pipeline is
// what makes FetchUsage total.
type Pipeline struct {
	Identity usage.ServiceIdentity

	// Resolver produces the credential handed to every strategy. May
	// be nil for services that need none.
	Resolver *credential.Chain

	// Invalidate wipes the persisted credential. Called only on an
	// explicit unauthorized response, never on ambiguous failures.
	Invalidate func(ctx context.Context) error

	Retry   resilience.RetryPolicy
	Breaker *resilience.CircuitBreaker

	Strategies []Strategy

	// LoginHint is the instruction surfaced when the chain exhausts
	// for authentication reasons.
	LoginHint string
}

// NewServiceBreaker returns the breaker configuration shared by the
// bundled adapters: five consecutive transport failures open the
// circuit for a minute and two probe successes close it again.
// Deterministic failures (auth, missing tools) never trip it.
func NewServiceBreaker() *resilience.CircuitBreaker {
	b := resilience.NewCircuitBreaker(5, 2, time.Minute)
	b.TripOn = resilience.TripsBreaker
	return b
}

// Run walks the strategy chain and always returns a canonical record.
func (p *Pipeline) Run(ctx context.Context) usage.ServiceUsage {
	cred, credFound := p.resolve(ctx)

	var (
		lastErr error
		sawAuth bool
	)

	for _, strat := range p.Strategies {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		var record usage.ServiceUsage
		err := p.Breaker.Execute(ctx, func(ctx context.Context) error {
			return p.Retry.Do(ctx, func(ctx context.Context) error {
				r, err := strat.Fetch(ctx, cred)
				if err == nil {
					record = r
				}
				return err
			})
		})
		if err == nil {
			record.ServiceID = p.Identity.ID
			record.DisplayName = p.Identity.DisplayName
			record.UpdatedAt = time.Now().UTC()
			return record
		}

		switch resilience.ClassOf(err) {
		case resilience.ClassCircuitOpen:
			// The breaker is per service; every remaining strategy
			// would reject the same way.
			return usage.ErrorRecord(p.Identity,
				fmt.Sprintf("%s temporarily unavailable (circuit open)", p.Identity.DisplayName), false)
		case resilience.ClassSessionExpired:
			sawAuth = true
			if p.Invalidate != nil {
				if ierr := p.Invalidate(ctx); ierr != nil {
					log.Printf("%s: failed to invalidate credential: %v", p.Identity.ID, ierr)
				}
			}
		}
		lastErr = err
		log.Printf("%s: strategy %s failed: %v", p.Identity.ID, strat.Name(), err)
	}

	needsLogin := sawAuth || !credFound
	msg := ""
	switch {
	case needsLogin && p.LoginHint != "":
		msg = p.LoginHint
	case lastErr != nil:
		msg = lastErr.Error()
	default:
		msg = "no usage data available"
	}
	return usage.ErrorRecord(p.Identity, msg, needsLogin)
}

// resolve runs the credential chain, absorbing resolution errors into
// a not-found outcome. Strategies that need no credential still run.
func (p *Pipeline) resolve(ctx context.Context) (credential.Credential, bool) {
	if p.Resolver == nil {
		return credential.Credential{}, true
	}
	cred, found, err := p.Resolver.Resolve(ctx)
	if err != nil {
		log.Printf("%s: credential resolution failed: %v", p.Identity.ID, err)
		return credential.Credential{}, false
	}
	return cred, found
}

// CanResolve is the default IsAvailable probe: a credential chain that
// produces material means the service is worth polling.
func (p *Pipeline) CanResolve(ctx context.Context) bool {
	if p.Resolver == nil {
		return true
	}
	_, found := p.resolve(ctx)
	return found
}
