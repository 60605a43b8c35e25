package binance

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRateLimited(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "120")

	err := classifyResponse(http.StatusTooManyRequests, header, nil)
	require.Equal(t, KindRateLimited, err.Kind)
	assert.Equal(t, 120*time.Second, err.RetryAfter)
	assert.True(t, err.Retryable())
}

func TestClassifyTeapotIsRateLimited(t *testing.T) {
	// 418 is Binance's auto-ban escalation of 429, so it classifies the
	// same way.
	err := classifyResponse(http.StatusTeapot, http.Header{}, nil)
	require.Equal(t, KindRateLimited, err.Kind)
	assert.Zero(t, err.RetryAfter)
}

func TestClassifyRetryAfterMalformed(t *testing.T) {
	header := http.Header{}
	header.Set("Retry-After", "soon")

	err := classifyResponse(http.StatusTooManyRequests, header, nil)
	require.Equal(t, KindRateLimited, err.Kind)
	assert.Zero(t, err.RetryAfter)
}

func TestClassifyServerError(t *testing.T) {
	for _, status := range []int{500, 502, 503, 504} {
		err := classifyResponse(status, http.Header{}, nil)
		assert.Equal(t, KindTransport, err.Kind, "HTTP %d", status)
		assert.True(t, err.Retryable())
	}
}

func TestClassifyExchangeError(t *testing.T) {
	body := []byte(`{"code":-1121,"msg":"Invalid symbol."}`)

	err := classifyResponse(http.StatusBadRequest, http.Header{}, body)
	require.Equal(t, KindExchange, err.Kind)
	assert.Equal(t, int64(-1121), err.Code)
	assert.Equal(t, "Invalid symbol.", err.Message)
	assert.False(t, err.Retryable())
}

func TestClassifyAuthentication(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"invalid signature", http.StatusBadRequest, `{"code":-1022,"msg":"Signature for this request is not valid."}`},
		{"bad key format", http.StatusUnauthorized, `{"code":-2014,"msg":"API-key format invalid."}`},
		{"rejected key", http.StatusUnauthorized, `{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`},
		{"401 with other code", http.StatusUnauthorized, `{"code":-1002,"msg":"You are not authorized to execute this request."}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyResponse(tt.status, http.Header{}, []byte(tt.body))
			assert.Equal(t, KindAuthentication, err.Kind)
		})
	}
}

func TestClassifyUndecodableBody(t *testing.T) {
	err := classifyResponse(http.StatusBadRequest, http.Header{}, []byte("<html>nope</html>"))
	assert.Equal(t, KindProtocol, err.Kind)
}

func TestErrorKindMatching(t *testing.T) {
	closed := &Error{Kind: KindSubscriptionClosed, Message: "stream gone"}
	assert.True(t, errors.Is(closed, ErrSubscriptionClosed))
	assert.True(t, IsKind(closed, KindSubscriptionClosed))
	assert.False(t, IsKind(closed, KindTransport))

	wrapped := NewTransportError(errors.New("connection reset"))
	assert.True(t, IsKind(wrapped, KindTransport))
	assert.EqualError(t, errors.Unwrap(wrapped), "connection reset")
}

func TestErrorMessages(t *testing.T) {
	assert.Contains(t, NewExchangeError(-1121, "Invalid symbol.").Error(), "code=-1121")
	assert.Contains(t, NewRateLimitedError(3*time.Second).Error(), "3s")
	assert.Contains(t, NewFatalError("reconnect attempts exhausted", nil).Error(), "fatal")
}
