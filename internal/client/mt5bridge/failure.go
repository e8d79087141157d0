// Package mt5bridge talks to the MT5 Bridge HTTP service.
package mt5bridge

import (
	"errors"
	"fmt"
	"net/http"
)

type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeUnreachable Outcome = "unreachable"
	OutcomeHTTPError   Outcome = "http_error"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeUnavailable Outcome = "unavailable"
)

// Failure is returned for every expected bridge failure. Callers skip the
// account for the cycle and try again on the next one.
type Failure struct {
	Outcome Outcome
	Status  int
	Body    string
	Err     error
}

func (f *Failure) Error() string {
	switch {
	case f.Err != nil:
		return fmt.Sprintf("mt5 bridge %s: %v", f.Outcome, f.Err)
	case f.Status != 0:
		return fmt.Sprintf("mt5 bridge %s: http %d: %s", f.Outcome, f.Status, f.Body)
	}
	return fmt.Sprintf("mt5 bridge %s", f.Outcome)
}

func (f *Failure) Unwrap() error { return f.Err }

func (f *Failure) retryable() bool {
	switch f.Outcome {
	case OutcomeTimeout, OutcomeUnreachable:
		return true
	case OutcomeHTTPError:
		return f.Status >= http.StatusInternalServerError && f.Status != http.StatusNotImplemented
	}
	return false
}

// OutcomeOf classifies err. nil is OutcomeOK; errors that are not a Failure
// count as unreachable.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Outcome
	}
	return OutcomeUnreachable
}
