package seat

import (
	"errors"
	"fmt"
	"time"
)

type TimeoutError struct {
	Seat    ID
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("seat %s timed out after %s", e.Seat, e.Timeout)
}

type UnavailableError struct {
	Seat  ID
	Model string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("seat %s: model %q is not loaded on the host", e.Seat, e.Model)
}

type RequestError struct {
	Seat   ID
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("seat %s request failed: %v", e.Seat, e.Err)
	}
	return fmt.Sprintf("seat %s request failed: status=%d body=%s", e.Seat, e.Status, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// OutcomeKind tags the result of one attempt so the retry loop can branch on
// it without unwinding through errors.
type OutcomeKind int

const (
	OutcomeOK OutcomeKind = iota
	OutcomeTimeout
	OutcomeRequest
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeRequest:
		return "request_error"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type Outcome struct {
	Kind OutcomeKind
	Text string
	Err  error
}
