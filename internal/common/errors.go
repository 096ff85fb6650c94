// Package common holds the error taxonomy shared by the assertion backend and
// the client-side session components.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks missing key material or identifiers. Never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrNetwork marks a transient transport failure. The whole flow may be retried.
	ErrNetwork = errors.New("network error")

	ErrLogin  = errors.New("login failed")
	ErrVerify = errors.New("credential verification failed")
	ErrMfa    = errors.New("mfa enrollment failed")
	ErrIssue  = errors.New("credential issuance failed")

	// ErrInconsistentSuccess is returned when the identity service reports success
	// but the data the caller depends on is missing.
	ErrInconsistentSuccess = errors.New("inconsistent success")

	ErrNotInitialized     = errors.New("identity client not initialized")
	ErrAlreadyInitialized = errors.New("identity client already initialized")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrInvalidInput       = errors.New("invalid input")

	// ErrSuperseded is returned by a flow whose result was discarded because a
	// later transition (e.g. logout) replaced the state it started from.
	ErrSuperseded = errors.New("superseded by a newer session transition")
)

// Error ties an error kind to the operation that produced it and its cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// E builds an *Error. With a nil kind, err is returned unchanged when it
// already carries a known kind and is otherwise classified as ErrNetwork.
func E(kind error, op string, err error) error {
	if kind == nil {
		if err == nil {
			return nil
		}
		if Kind(err) != nil {
			return err
		}
		kind = ErrNetwork
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

var kinds = []error{
	ErrConfiguration,
	ErrNetwork,
	ErrLogin,
	ErrVerify,
	ErrMfa,
	ErrIssue,
	ErrInconsistentSuccess,
	ErrNotInitialized,
	ErrAlreadyInitialized,
	ErrNotAuthenticated,
	ErrInvalidInput,
	ErrSuperseded,
}

// Kind returns the first known kind err matches, or nil.
func Kind(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the failed flow can be restarted from the top.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}
