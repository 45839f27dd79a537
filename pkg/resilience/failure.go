package resilience

import (
	"errors"
	"fmt"
	"net/http"
)

// FailureClass buckets every error the fetch pipeline can produce.
// Retry policies and strategy chains dispatch on the class, never on
// the concrete error value.
type FailureClass string

const (
	ClassCredentialNotFound  FailureClass = "credential_not_found"
	ClassSessionExpired      FailureClass = "session_expired"
	ClassUpstreamUnavailable FailureClass = "upstream_unavailable"
	ClassUpstreamRejected    FailureClass = "upstream_rejected"
	ClassLocalToolMissing    FailureClass = "local_tool_missing"
	ClassMalformedResponse   FailureClass = "malformed_response"
	ClassCircuitOpen         FailureClass = "circuit_open"
	ClassNetwork             FailureClass = "network"
)

// Failure is the single error type crossing the boundary between a
// strategy attempt and the retry/breaker layer.
type Failure struct {
	Class      FailureClass
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Class, f.Err)
	}
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d", f.Class, f.StatusCode)
	}
	return string(f.Class)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure wraps err with an explicit class.
func NewFailure(class FailureClass, err error) *Failure {
	return &Failure{Class: class, Err: err}
}

// FromStatus classifies an HTTP status code into the taxonomy.
// 401/403 mean the session is gone; 429 and 5xx are transient; any
// other non-2xx is a hard rejection.
func FromStatus(code int) *Failure {
	return &Failure{Class: ClassifyStatus(code), StatusCode: code}
}

// ClassifyStatus maps an HTTP status code to a FailureClass.
func ClassifyStatus(code int) FailureClass {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ClassSessionExpired
	case code == http.StatusTooManyRequests || code >= 500:
		return ClassUpstreamUnavailable
	case code >= 400:
		return ClassUpstreamRejected
	default:
		return ClassUpstreamRejected
	}
}

// TripsBreaker reports whether a failure indicates dependency
// ill-health. Deterministic conditions (missing credentials, expired
// sessions, hard rejections, absent local tools) return false: they
// would otherwise wedge a healthy service's breaker open.
func TripsBreaker(err error) bool {
	switch ClassOf(err) {
	case ClassNetwork, ClassUpstreamUnavailable, ClassMalformedResponse:
		return true
	}
	return false
}

// ClassOf extracts the FailureClass from err. Errors that are not a
// *Failure are treated as plain network errors, the most conservative
// retryable bucket.
func ClassOf(err error) FailureClass {
	var f *Failure
	if errors.As(err, &f) {
		return f.Class
	}
	return ClassNetwork
}
