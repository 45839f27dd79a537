package adapter

import (
	"context"

	"github.com/rmax-ai/quotascope/pkg/usage"
)

// Adapter is the uniform capability surface for one external service.
// FetchUsage is total: it never panics and never returns an error;
// every internal failure is folded into the canonical record's Error
// and NeedsLogin fields.
type Adapter interface {
	// Identity returns the stable id and display name for the service.
	Identity() usage.ServiceIdentity

	// FetchUsage resolves a credential, walks the service's data-source
	// strategies and returns the canonical usage record.
	FetchUsage(ctx context.Context) usage.ServiceUsage

	// IsAvailable is a cheap, side-effect-free probe: can a credential
	// be resolved, or is a local companion tool detectable.
	IsAvailable(ctx context.Context) bool
}

// LoginAdapter is implemented by adapters that can establish a new
// credential through an out-of-band interactive flow.
type LoginAdapter interface {
	Adapter

	// Login runs the interactive flow and persists the credential it
	// produces. Re-entry while a flow is pending replaces the pending
	// flow instead of running two concurrently.
	Login(ctx context.Context) error
}
