package github

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindAuthentication ErrorKind = iota + 1
	KindPrimaryRateLimit
	KindSecondaryRateLimit
	KindTransient
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindPrimaryRateLimit:
		return "primary_rate_limit"
	case KindSecondaryRateLimit:
		return "secondary_rate_limit"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// APIError is the terminal failure of a logical call, after any retries.
type APIError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Attempts   int
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("github %s error (status %d, %d attempts): %s", e.Kind, e.StatusCode, e.Attempts, msg)
	}
	return fmt.Sprintf("github %s error (%d attempts): %s", e.Kind, e.Attempts, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *APIError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind == kind
	}
	return false
}
