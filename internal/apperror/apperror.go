// Package apperror gives every package in Vein a single vocabulary for the
// outcomes spec.md §4.8's HTTP surface has to distinguish (bad request,
// not found, gone, upstream unavailable, upstream timeout, integrity
// failure, inventory failure), so internal/server can map any error
// returned from internal/resolver straight to a status code without each
// caller re-deriving it. Grounded on the status-code-per-outcome shape of
// _examples/rogeecn-any-hub/internal/proxy/handler.go's writeError/
// fiber.NewError call sites, generalized into a typed error instead of
// scattering fiber.Status* constants through business logic.
package apperror

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies an error the way internal/server needs to respond to it.
type Kind int

const (
	Unknown Kind = iota
	BadRequest
	NotFound
	Gone
	UpstreamUnavailable
	UpstreamTimeout
	IntegrityFailure
	InventoryFailure
	CorruptCache
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "bad_request"
	case NotFound:
		return "not_found"
	case Gone:
		return "gone"
	case UpstreamUnavailable:
		return "upstream_unavailable"
	case UpstreamTimeout:
		return "upstream_timeout"
	case IntegrityFailure:
		return "integrity_failure"
	case InventoryFailure:
		return "inventory_failure"
	case CorruptCache:
		return "corrupt_cache"
	default:
		return "unknown"
	}
}

// StatusCode is the §4.8 HTTP status that corresponds to Kind.
func (k Kind) StatusCode() int {
	switch k {
	case BadRequest:
		return 400
	case NotFound:
		return 404
	case Gone:
		return 410
	case UpstreamUnavailable, IntegrityFailure, CorruptCache:
		return 502
	case UpstreamTimeout:
		return 504
	case InventoryFailure:
		return 500
	default:
		return 500
	}
}

// Error wraps an underlying error with the Kind that decides how
// internal/server responds, and a Correlation ID for kinds whose root
// cause is worth an operator following up on (InventoryFailure is never
// the client's fault; the ID ties the 500 response to a specific log line).
type Error struct {
	Kind        Kind
	Correlation string
	Err         error
}

func (e *Error) Error() string {
	if e.Correlation != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Correlation, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err as the given Kind with no correlation ID.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// WithCorrelation wraps err as the given Kind and stamps a fresh
// correlation ID, for kinds an operator needs to be able to find in logs
// from the ID alone (spec §7: InventoryFailure responses).
func WithCorrelation(kind Kind, err error) *Error {
	return &Error{Kind: kind, Correlation: uuid.NewString(), Err: err}
}

// KindOf unwraps err looking for an *Error and returns its Kind, or Unknown
// if err is not (or does not wrap) one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
