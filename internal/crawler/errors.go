package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NetworkErrorKind narrows a transport failure.
type NetworkErrorKind string

// Transport failure kinds.
const (
	NetworkDNS     NetworkErrorKind = "dns"
	NetworkRefused NetworkErrorKind = "refused"
	NetworkReset   NetworkErrorKind = "reset"
	NetworkTLS     NetworkErrorKind = "tls"
	NetworkProxy   NetworkErrorKind = "proxy"
	NetworkOther   NetworkErrorKind = "other"
)

// NetworkError is a DNS or connection level failure. No response was received.
type NetworkError struct {
	URL  string
	Kind NetworkErrorKind
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error (%s) fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
	Server     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d from %s", e.StatusCode, e.URL)
}

// InvalidContentError is a 2xx response whose body failed validation.
type InvalidContentError struct {
	URL    string
	Reason string
}

func (e *InvalidContentError) Error() string {
	return fmt.Sprintf("invalid content from %s: %s", e.URL, e.Reason)
}

// BlockedError is a 401/403/405/406/429 response.
type BlockedError struct {
	URL        string
	StatusCode int
	Diagnosis  Diagnosis
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked (%d, %s) at %s", e.StatusCode, e.Diagnosis, e.URL)
}

// ValidationError is a malformed or disallowed URL.
type ValidationError struct {
	URL    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid url %q: %s", e.URL, e.Reason)
}

// TimeoutError reports an exceeded deadline.
type TimeoutError struct {
	URL   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("timeout after %s fetching %s", e.After, e.URL)
	}
	return fmt.Sprintf("timeout fetching %s", e.URL)
}

// IsBlockedStatus reports whether status is one of the bot-defence statuses.
func IsBlockedStatus(status int) bool {
	switch status {
	case 401, 403, 405, 406, 429:
		return true
	default:
		return false
	}
}

// IsFatal reports whether err must not be retried: DNS failures, refused
// connections and URL validation failures.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var validation *ValidationError
	if errors.As(err, &validation) {
		return true
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Kind == NetworkDNS || netErr.Kind == NetworkRefused
	}
	return false
}

// IsRetryable reports whether another attempt may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !IsFatal(err)
}

// StatusOf extracts an HTTP status from err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var blocked *BlockedError
	if errors.As(err, &blocked) {
		return blocked.StatusCode
	}
	return 0
}

// ClassifyNetworkError maps a transport error message onto a kind.
func ClassifyNetworkError(err error) NetworkErrorKind {
	if err == nil {
		return NetworkOther
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "server misbehaving"),
		strings.Contains(msg, "dns"), strings.Contains(msg, "lookup "):
		return NetworkDNS
	case strings.Contains(msg, "connection refused"):
		return NetworkRefused
	case strings.Contains(msg, "proxy"), strings.Contains(msg, "tunnel"):
		return NetworkProxy
	case strings.Contains(msg, "tls"), strings.Contains(msg, "x509"), strings.Contains(msg, "certificate"):
		return NetworkTLS
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"), strings.Contains(msg, "eof"):
		return NetworkReset
	default:
		return NetworkOther
	}
}
