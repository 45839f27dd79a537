package usage

import "time"

// ServiceID identifies a monitored service (e.g. "github", "openai").
type ServiceID string

// ServiceIdentity is the immutable identity of a monitored service.
type ServiceIdentity struct {
	ID          ServiceID `json:"id"`
	DisplayName string    `json:"display_name"`
}

// RateWindow is one metered allowance window in canonical form.
// UsedPercent is always within [0,100].
type RateWindow struct {
	UsedPercent      float64    `json:"used_percent"`
	WindowMinutes    int        `json:"window_minutes,omitempty"`
	ResetsAt         *time.Time `json:"resets_at,omitempty"`
	ResetDescription string     `json:"reset_description,omitempty"`
	Label            string     `json:"label,omitempty"`
	Remaining        float64    `json:"-"` // raw remaining allowance, used for window ranking only
}

// Credits is an optional prepaid balance reported by a service.
type Credits struct {
	Balance   float64 `json:"balance"`
	Unlimited bool    `json:"unlimited"`
}

// ServiceUsage is the canonical record one fetch cycle produces for a
// service. A fresh value is built on every cycle and fully replaces
// the prior cache entry.
type ServiceUsage struct {
	ServiceID     ServiceID   `json:"service_id"`
	DisplayName   string      `json:"display_name"`
	Primary       *RateWindow `json:"primary,omitempty"`
	Secondary     *RateWindow `json:"secondary,omitempty"`
	Tertiary      *RateWindow `json:"tertiary,omitempty"`
	AccountEmail  string      `json:"account_email,omitempty"`
	AccountPlan   string      `json:"account_plan,omitempty"`
	Version       string      `json:"version,omitempty"`
	Error         string      `json:"error,omitempty"`
	NeedsLogin    bool        `json:"needs_login"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Credits       *Credits    `json:"credits,omitempty"`
	DashboardURL  string      `json:"dashboard_url,omitempty"`
	StatusPageURL string      `json:"status_page_url,omitempty"`
}

// ErrorRecord builds the canonical record for a failed fetch.
func ErrorRecord(identity ServiceIdentity, msg string, needsLogin bool) ServiceUsage {
	return ServiceUsage{
		ServiceID:   identity.ID,
		DisplayName: identity.DisplayName,
		Error:       msg,
		NeedsLogin:  needsLogin,
		UpdatedAt:   time.Now().UTC(),
	}
}
