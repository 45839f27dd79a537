package credential

import (
	"strings"
	"time"
)

// Kind tags the credential variant.
type Kind string

const (
	KindNone    Kind = "none"
	KindBearer  Kind = "bearer"
	KindCookies Kind = "cookies"
	KindOAuth   Kind = "oauth"
)

// Cookie is one entry of a browser-session cookie set.
type Cookie struct {
	Name      string     `json:"name"`
	Value     string     `json:"value"`
	Domain    string     `json:"domain,omitempty"`
	Path      string     `json:"path,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Credential is the tagged variant over the authentication material a
// service adapter can use. A credential whose ExpiresAt is in the past
// is invalid and must be treated as absent by resolvers.
type Credential struct {
	Kind         Kind       `json:"kind"`
	Token        string     `json:"token,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	Cookies      []Cookie   `json:"cookies,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	SavedAt      time.Time  `json:"saved_at,omitempty"`
}

// IsZero reports whether no material is present.
func (c Credential) IsZero() bool {
	return c.Kind == "" || c.Kind == KindNone
}

// Expired reports whether the credential carries a past expiry.
// Credentials without an expiry never expire here; upstream 401s are
// the only signal for those.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// CookieHeader renders the cookie set as a Cookie request header value.
func (c Credential) CookieHeader() string {
	parts := make([]string, 0, len(c.Cookies))
	for _, ck := range c.Cookies {
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}
