// Package bridgeerr defines the error taxonomy used to decide queue retry
// policy. Workers translate every platform/store error into one of these
// kinds before deciding whether to retry, reschedule, or drop a job.
package bridgeerr

import "errors"

// Kind classifies an error for queue retry policy purposes.
type Kind int

const (
	// KindUnknown is the zero value; treated like KindBug.
	KindUnknown Kind = iota
	// KindTransient covers 5xx and network errors: retry with backoff.
	KindTransient
	// KindRateLimited covers 429s and local limiter denials: reschedule,
	// not a failure.
	KindRateLimited
	// KindPermanent covers 404/403/"unknown message": drop mapping, complete job.
	KindPermanent
	// KindValidation covers operator input errors: surface, never retry.
	KindValidation
	// KindStore covers KV/DB outages: fail job, let queue retry.
	KindStore
	// KindBug covers anything unhandled: log with detail, fail job, keep process alive.
	KindBug
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindPermanent:
		return "permanent"
	case KindValidation:
		return "validation"
	case KindStore:
		return "store"
	case KindBug:
		return "bug"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can branch on
// classification with errors.As without string matching.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause with the given Kind. Passing a nil cause is valid for
// sentinel-style errors (e.g. New(KindPermanent, nil)).
func New(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Classify extracts the Kind from err, defaulting to KindBug when err does
// not wrap an *Error.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindBug
}

// Sentinel errors for common drop conditions that are not worth wrapping
// with additional context at every call site.
var (
	// ErrNoMapping means a MSG_UPDATE/MSG_DELETE had no MessageMap entry.
	ErrNoMapping = errors.New("bridgeerr: no message map entry")
	// ErrBridgeMissing means the BridgePair referenced by a job no longer exists.
	ErrBridgeMissing = errors.New("bridgeerr: bridge pair not found")
	// ErrDuplicateBridge means (aChannelId, bChannelId) already exists.
	ErrDuplicateBridge = errors.New("bridgeerr: bridge pair already exists")
)
