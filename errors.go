package collide

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure per the error taxonomy: transport/protocol/
// callback failures are per-Worker, barrier timeouts and configuration
// failures are global (see driver.Process).
type ErrorKind int

const (
	// KindNone means no error.
	KindNone ErrorKind = iota
	// KindResolutionFailure: DNS lookup failed or yielded too few addresses
	// for the requested connect_mode.
	KindResolutionFailure
	// KindTransportFailure: TCP/TLS error.
	KindTransportFailure
	// KindProtocolFailure: malformed or truncated HTTP response.
	KindProtocolFailure
	// KindBarrierTimeout: a barrier did not fill within its deadline.
	KindBarrierTimeout
	// KindCallbackFailure: a user callback returned an error.
	KindCallbackFailure
	// KindConfigurationFailure: invalid race parameters.
	KindConfigurationFailure
)

func (k ErrorKind) String() string {
	switch k {
	case KindResolutionFailure:
		return "ResolutionFailure"
	case KindTransportFailure:
		return "TransportFailure"
	case KindProtocolFailure:
		return "ProtocolFailure"
	case KindBarrierTimeout:
		return "BarrierTimeout"
	case KindCallbackFailure:
		return "CallbackFailure"
	case KindConfigurationFailure:
		return "ConfigurationFailure"
	default:
		return "None"
	}
}

// Error wraps an underlying cause with its ErrorKind, so callers can branch
// with errors.Is against the Err* sentinels below while still seeing the
// original cause in the message.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransportFailure) etc. work by comparing kinds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel markers usable with errors.Is(err, collide.ErrTransportFailure).
var (
	ErrResolutionFailure    = &Error{Kind: KindResolutionFailure}
	ErrTransportFailure     = &Error{Kind: KindTransportFailure}
	ErrProtocolFailure      = &Error{Kind: KindProtocolFailure}
	ErrBarrierTimeout       = &Error{Kind: KindBarrierTimeout}
	ErrCallbackFailure      = &Error{Kind: KindCallbackFailure}
	ErrConfigurationFailure = &Error{Kind: KindConfigurationFailure}
)

// NewError builds a concrete *Error of the given kind wrapping cause.
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// KindOf extracts the ErrorKind from err, if it (or something it wraps) is a
// *Error; otherwise returns KindNone.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNone
}
