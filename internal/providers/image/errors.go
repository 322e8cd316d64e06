package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Kind classifies provider failures for retry and HTTP status decisions.
type Kind string

const (
	KindAuth        Kind = "auth"
	KindRateLimited Kind = "rate_limited"
	KindTimeout     Kind = "timeout"
	KindNoOutput    Kind = "no_output"
	KindNetwork     Kind = "network"
	KindUnknown     Kind = "unknown"
)

// Error is the failure type returned by every adapter. Context cancellation
// is never wrapped in an Error.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of err, KindUnknown for foreign errors and the
// empty Kind for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindUnknown
}

// Retryable reports whether repeating the same call could succeed.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return KindOf(err) != KindAuth
}

func newError(provider string, kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: msg, Err: err}
}

// statusError maps a non-2xx response to an Error. Only 401 and 429 get
// their own kinds; every other status is unknown and stays retryable.
func statusError(provider string, status int, msg string) *Error {
	kind := KindUnknown
	switch status {
	case http.StatusUnauthorized:
		kind = KindAuth
		if msg == "" {
			msg = "Invalid API key"
		}
	case http.StatusTooManyRequests:
		kind = KindRateLimited
		if msg == "" {
			msg = "Rate limit exceeded"
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Message: msg}
}

// transportError classifies a failed round trip. Cancellation of ctx is
// returned as the context error so callers can tell it apart from failure.
func transportError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(provider, KindTimeout, "Request timed out", err)
	}
	return newError(provider, KindNetwork, err.Error(), err)
}

// errorMessage pulls a human readable message out of a provider error body.
func errorMessage(raw []byte, status int) string {
	var body struct {
		Message string          `json:"message"`
		Name    string          `json:"name"`
		Errors  []string        `json:"errors"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Errors) > 0 {
			return strings.Join(body.Errors, ", ")
		}
		if len(body.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
			var plain string
			if json.Unmarshal(body.Error, &plain) == nil && plain != "" {
				return plain
			}
		}
		if body.Message != "" {
			return body.Message
		}
		if body.Name != "" {
			return body.Name
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" && !strings.HasPrefix(text, "{") && len(text) < 512 {
		return text
	}
	return fmt.Sprintf("HTTP %d", status)
}
