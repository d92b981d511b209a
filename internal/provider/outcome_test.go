package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   Kind
	}{
		{name: "401", status: http.StatusUnauthorized, want: KindAuth},
		{name: "403", status: http.StatusForbidden, want: KindAuth},
		{name: "429", status: http.StatusTooManyRequests, want: KindRateLimit},
		{name: "504", status: http.StatusGatewayTimeout, want: KindTimeout},
		{name: "500", status: http.StatusInternalServerError, want: KindTransport},
		{name: "400", status: http.StatusBadRequest, want: KindTransport},
		{name: "deadline", err: fmt.Errorf("send: %w", context.DeadlineExceeded), want: KindTimeout},
		{name: "net timeout", err: timeoutErr{}, want: KindTimeout},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), want: KindTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err, tt.status))
		})
	}
}

func TestFailure(t *testing.T) {
	cause := errors.New("boom")
	f := NewFailure(KindTransport, cause)
	assert.Equal(t, "transport: boom", f.Error())
	assert.ErrorIs(t, f, cause)

	out := Failed(KindAuth, cause)
	assert.False(t, out.OK())
	assert.Equal(t, KindAuth, out.Failure.Kind)

	ok := Succeeded([]byte(`{}`), "gpt-4", zeroUsage)
	assert.True(t, ok.OK())
}
