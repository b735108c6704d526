package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a fetch failure
type ErrorKind string

const (
	// ErrorKindNetwork covers transport errors and timeouts
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindStatus covers non-2xx HTTP responses
	ErrorKindStatus ErrorKind = "status"
	// ErrorKindSuspiciousResponse covers responses below the minimum-size
	// sanity threshold, which usually indicate an anti-bot challenge page
	ErrorKindSuspiciousResponse ErrorKind = "suspicious_response"
)

// FetchError is the typed failure returned by the Fetcher. The Fetcher never
// retries; callers decide based on Retryable.
type FetchError struct {
	Kind       ErrorKind
	Source     string
	StatusCode int
	BodySize   int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case ErrorKindStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.Source, e.StatusCode)
	case ErrorKindSuspiciousResponse:
		return fmt.Sprintf("fetch %s: suspiciously small response (%d bytes)", e.Source, e.BodySize)
	default:
		return fmt.Sprintf("fetch %s: %v", e.Source, e.Err)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient: network errors, 5xx
// responses, rate-limit responses, and suspicious responses qualify.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case ErrorKindNetwork, ErrorKindSuspiciousResponse:
		return true
	case ErrorKindStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// AsFetchError unwraps err to a *FetchError when possible
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
