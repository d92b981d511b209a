// Package provider turns a configured backend into a single classified
// call: every adapter returns an Outcome that is either a JSON payload or a
// Failure of a known Kind.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sells-group/funnel-agent/internal/cost"
)

// Kind classifies a failed provider call.
type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindTransport Kind = "transport"
	KindMalformed Kind = "malformed_response"
	KindTimeout   Kind = "timeout"
)

// Failure is the error half of an Outcome.
type Failure struct {
	Kind    Kind
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// NewFailure builds a Failure. The message defaults to err's text.
func NewFailure(kind Kind, err error) *Failure {
	f := &Failure{Kind: kind, Err: err}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

// Outcome is the result of one adapter call. Exactly one of Payload and
// Failure is set.
type Outcome struct {
	Payload json.RawMessage
	Model   string
	Usage   cost.Usage
	Failure *Failure
}

// OK reports whether the call produced a payload.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Succeeded builds a successful Outcome.
func Succeeded(payload json.RawMessage, model string, usage cost.Usage) Outcome {
	return Outcome{Payload: payload, Model: model, Usage: usage}
}

// Failed builds a failed Outcome.
func Failed(kind Kind, err error) Outcome {
	return Outcome{Failure: NewFailure(kind, err)}
}

// Classify maps a transport error and HTTP status to a failure Kind. A zero
// status means no response was received.
func Classify(err error, status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuth
	case http.StatusTooManyRequests:
		return KindRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return KindTimeout
	}
	if status != 0 {
		return KindTransport
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}
