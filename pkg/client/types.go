package client

import "github.com/rmax-ai/quotascope/pkg/usage"

// Status is the daemon health response.
type Status struct {
	Status string `json:"status"`
}

// ServiceInfo describes one registered service.
type ServiceInfo struct {
	ID          usage.ServiceID `json:"id"`
	DisplayName string          `json:"display_name"`
	Available   bool            `json:"available"`
}

// usageEnvelope matches the daemon's /v1/usage and /v1/refresh bodies.
type usageEnvelope struct {
	Status   string               `json:"status,omitempty"`
	Services []usage.ServiceUsage `json:"services"`
}
