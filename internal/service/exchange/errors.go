package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why an exchange failed.
type Kind int

const (
	KindUnknown Kind = iota
	KindTimeout
	KindNetwork
	KindHTTPStatus
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindHTTPStatus:
		return "http_status"
	default:
		return "unknown"
	}
}

// Error is returned by Client.Exchange for every failed exchange.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTimeout:
		return "request timeout"
	case KindNetwork:
		if e.Err != nil {
			return "fetch failed: " + e.Err.Error()
		}
		return "fetch failed"
	case KindHTTPStatus:
		return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
	default:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "exchange failed"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// User-facing replies appended when an exchange fails.
const (
	TimeoutReply = "The request timed out. Please check your connection and try again."
	NetworkReply = "Network error. Please check your internet connection."
	GenericReply = "I'm experiencing some technical difficulties. Please try again in a moment."
)

// KindOf reports the category of err. Errors not produced by this package are
// classified by their message, so wrapped transport errors still map sensibly.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var exErr *Error
	if errors.As(err, &exErr) {
		return exErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return KindTimeout
	case strings.Contains(msg, "fetch failed"), strings.Contains(msg, "failed to fetch"):
		return KindNetwork
	case strings.Contains(msg, "http error"):
		return KindHTTPStatus
	default:
		return KindUnknown
	}
}

// UserMessage maps a failed exchange to the single reply shown to the user.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindTimeout:
		return TimeoutReply
	case KindNetwork:
		return NetworkReply
	case KindHTTPStatus:
		detail := err.Error()
		var exErr *Error
		if errors.As(err, &exErr) {
			detail = exErr.Error()
		}
		return fmt.Sprintf("Server error (%s). Please try again later.", detail)
	default:
		return GenericReply
	}
}
