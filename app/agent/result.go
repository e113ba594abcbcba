package agent

import (
	"errors"
	"fmt"
)

// Result is the outcome of one generation call: either an answer or a
// failure. Text always yields something displayable.
type Result struct {
	answer string
	err    error
}

func Answer(text string) Result { return Result{answer: text} }

func Failure(err error) Result {
	if err == nil {
		err = errors.New("unknown failure")
	}
	return Result{err: err}
}

func (r Result) Failed() bool { return r.err != nil }
func (r Result) Err() error   { return r.err }

// Text renders the result. Remote status failures become
// "Error calling <API> API: <code>", anything else is prefixed with
// "Error generating response: ".
func (r Result) Text() string {
	if r.err == nil {
		return r.answer
	}
	var statusErr *StatusError
	if errors.As(r.err, &statusErr) {
		return statusErr.Error()
	}
	return "Error generating response: " + r.err.Error()
}

// StatusError is a non-2xx answer from a remote generation API.
type StatusError struct {
	API  string
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Error calling %s API: %d", e.API, e.Code)
}

func (e *StatusError) Unwrap() error { return e.Err }
