// Package remote classifies failures of calls to external services so callers can pick a
// retry policy instead of inferring one from an empty result.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

type Kind int

const (
	// KindNoData means the call produced nothing usable this cycle (rate limited, empty).
	KindNoData Kind = iota + 1
	// KindTransient failures may succeed on a later cycle.
	KindTransient
	// KindPermanent failures will not succeed without operator action.
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindNoData:
		return "no_data"
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

type Error struct {
	Op     string
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an HTTP status to a failure kind.
func Classify(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindNoData
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTransient
	default:
		return KindPermanent
	}
}

// FromStatus builds an Error for a non-2xx response.
func FromStatus(op string, status int, body string) *Error {
	if len(body) > 300 {
		body = body[:300]
	}
	return &Error{Op: op, Kind: Classify(status), Status: status, Err: errors.New(body)}
}

// Wrap classifies a transport-level error.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	kind := KindPermanent
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr):
		kind = KindTransient
	case errors.Is(err, context.Canceled):
		kind = KindTransient
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind carried by err, or 0 when err is not a remote error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

func IsNoData(err error) bool    { return KindOf(err) == KindNoData }
func IsTransient(err error) bool { return KindOf(err) == KindTransient }
func IsPermanent(err error) bool { return KindOf(err) == KindPermanent }
