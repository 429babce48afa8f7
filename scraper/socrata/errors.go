package socrata

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies why a page request failed
type Kind string

const (
	KindNetwork Kind = "network"
	KindOffline Kind = "offline"
	KindTimeout Kind = "timeout"
	KindDecode  Kind = "decode"
	KindStatus  Kind = "status"
)

var (
	ErrNetwork = errors.New("network error")
	ErrOffline = errors.New("no network connection")
	ErrTimeout = errors.New("request timed out")
	ErrDecode  = errors.New("invalid response body")
	ErrStatus  = errors.New("unexpected response status")
)

// FetchError describes a failed page request. It matches both its kind
// sentinel and the underlying cause with errors.Is.
type FetchError struct {
	Kind       Kind
	Offset     int
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch page at offset %d: %s", e.Offset, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *FetchError) sentinel() error {
	switch e.Kind {
	case KindOffline:
		return ErrOffline
	case KindTimeout:
		return ErrTimeout
	case KindDecode:
		return ErrDecode
	case KindStatus:
		return ErrStatus
	default:
		return ErrNetwork
	}
}

// Retryable reports whether another attempt at the same offset could succeed
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindOffline, KindTimeout:
		return true
	case KindStatus:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// UserMessage turns a fetch failure into a short message fit for end users
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		return "Network error: " + err.Error()
	}
	cause := ""
	if fe.Err != nil {
		cause = fe.Err.Error()
	}
	switch fe.Kind {
	case KindTimeout:
		return "Request timed out. Please try again."
	case KindOffline:
		return "No internet connection. Please check your network."
	case KindDecode:
		return "Data format error: " + cause
	case KindStatus:
		return strings.TrimSpace(fmt.Sprintf("Server error: HTTP %d %s", fe.StatusCode, http.StatusText(fe.StatusCode)))
	default:
		return "Network error: " + cause
	}
}
