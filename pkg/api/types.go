package api

import "github.com/rmax-ai/quotascope/pkg/usage"

// ServiceInfo describes one registered service in /v1/services
type ServiceInfo struct {
	ID          usage.ServiceID `json:"id"`
	DisplayName string          `json:"display_name"`
	Available   bool            `json:"available"`
}

// UsageResponse wraps the cached records for /v1/usage
type UsageResponse struct {
	Services []usage.ServiceUsage `json:"services"`
}

// RefreshResponse reports the outcome of a refresh request
type RefreshResponse struct {
	Status   string               `json:"status"`
	Services []usage.ServiceUsage `json:"services,omitempty"`
}

// ErrorResponse is the JSON body for error statuses
type ErrorResponse struct {
	Error string `json:"error"`
}
