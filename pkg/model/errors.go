package model

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrRateLimited marks provider failures caused by request throttling.
var ErrRateLimited = errors.New("model: rate limited")

// APIError captures a non-2xx provider response.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "status %d", e.StatusCode)
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		b.WriteString(": ")
		b.WriteString(msg)
	}
	return b.String()
}

// Is reports rate-limit responses as ErrRateLimited.
func (e *APIError) Is(target error) bool {
	return target == ErrRateLimited && e != nil && e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is a throttling failure.
func IsRateLimited(err error) bool {
	return err != nil && errors.Is(err, ErrRateLimited)
}
