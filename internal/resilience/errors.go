package resilience

import "fmt"

// Kind is one of the stable error-kind strings shared by the Error Tracker
// and the Retry classifier.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindRateLimit     Kind = "rate_limit"
	KindExchangeServer Kind = "exchange_server"
	KindExchangeClient Kind = "exchange_client"
	KindValidation    Kind = "validation"
	KindCircuitOpen   Kind = "circuit_open"
	KindStorage       Kind = "storage"
	KindConfig        Kind = "config"
)

// retryable is the set of kinds the Retry Policy absorbs up to budget.
var retryable = map[Kind]bool{
	KindNetwork:        true,
	KindTimeout:        true,
	KindRateLimit:      true,
	KindExchangeServer: true,
	KindStorage:        true,
}

// Retryable reports whether kind is one the Retry Policy should attempt again.
func Retryable(kind Kind) bool {
	return retryable[kind]
}

// ClassifiedError carries a stable Kind alongside the underlying error so
// the Retry Policy, Circuit Breaker and Error Tracker can classify it
// without string-matching messages.
type ClassifiedError struct {
	Kind Kind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classify wraps err with kind, or returns nil if err is nil.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *ClassifiedError, defaulting to KindNetwork for unclassified errors since
// that is the conservative retryable default.
func KindOf(err error) Kind {
	for e := err; e != nil; {
		if _, ok := e.(*ErrCircuitOpen); ok {
			return KindCircuitOpen
		}
		if c, ok := e.(*ClassifiedError); ok {
			return c.Kind
		}
		u, ok := e.(interface{ Unwrap() error })
		if !ok {
			break
		}
		e = u.Unwrap()
	}
	return KindNetwork
}

// ErrCircuitOpen is returned by a Breaker when a call is rejected without
// invoking the wrapped function.
type ErrCircuitOpen struct {
	Breaker string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Breaker)
}
