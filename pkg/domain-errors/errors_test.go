package dErrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:             http.StatusBadRequest,
		CodeUnauthorized:           http.StatusUnauthorized,
		CodeUpstreamAuthFailed:     http.StatusUnauthorized,
		CodeUpstreamSessionExpired: http.StatusUnauthorized,
		CodeNotFound:               http.StatusNotFound,
		CodeCircuitOpen:            http.StatusServiceUnavailable,
		CodeStoreUnavailable:       http.StatusServiceUnavailable,
		CodeUpstreamUnreachable:    http.StatusBadGateway,
		CodeInternal:               http.StatusInternalServerError,
		Code("unknown"):            http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(code), "code %s", code)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(CodeUpstreamUnreachable, "upstream unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeUpstreamUnreachable, CodeOf(err))
	assert.Equal(t, cause.Error(), err.Detail)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
}

func TestCodeOfWrappedGatewayError(t *testing.T) {
	inner := New(CodeCircuitOpen, "upstream unavailable")
	outer := fmt.Errorf("forward: %w", inner)
	assert.Equal(t, CodeCircuitOpen, CodeOf(outer))
}
