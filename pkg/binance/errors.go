package binance

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Kind classifies every failure the connector can surface. REST calls and
// stream subscriptions share this single closed set; no raw transport or
// decoding error crosses the package boundary unclassified.
type Kind int

const (
	// KindTransport covers network-level failures (DNS, TLS, timeouts) and
	// 5xx responses. Transient: callers may retry.
	KindTransport Kind = iota + 1

	// KindProtocol covers malformed or unexpected payloads on either
	// transport.
	KindProtocol

	// KindAuthentication covers rejected signatures, bad API keys and
	// missing permissions.
	KindAuthentication

	// KindRateLimited covers HTTP 429 and 418 (IP auto-ban escalation).
	KindRateLimited

	// KindExchange covers business-level rejections reported by Binance
	// with a code and message.
	KindExchange

	// KindSubscriptionClosed is returned when operating on a subscription
	// whose output has been closed.
	KindSubscriptionClosed

	// KindFatal covers unrecoverable conditions such as an exhausted
	// reconnect budget.
	KindFatal
)

// String returns the string representation of an error kind
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindAuthentication:
		return "authentication"
	case KindRateLimited:
		return "rate_limited"
	case KindExchange:
		return "exchange"
	case KindSubscriptionClosed:
		return "subscription_closed"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the connector's unified error value. Exactly one Kind applies to
// each instance; Code and RetryAfter are populated only for the kinds that
// define them. Credential material is never stored in an Error.
type Error struct {
	Kind       Kind
	Code       int64
	Message    string
	RetryAfter time.Duration

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch e.Kind {
	case KindExchange, KindAuthentication:
		if e.Code != 0 {
			return fmt.Sprintf("binance: %s: code=%d msg=%q", e.Kind, e.Code, e.Message)
		}
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("binance: rate limited, retry after %s", e.RetryAfter)
		}
	}
	if e.Message != "" {
		return fmt.Sprintf("binance: %s: %s", e.Kind, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("binance: %s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("binance: %s", e.Kind)
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports kind equality, so errors.Is(err, ErrSubscriptionClosed) works
// for any error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the failure is transient by taxonomy: transport
// failures and rate limits may be retried by caller policy, everything else
// is terminal.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindRateLimited
}

// Sentinel values for errors.Is comparisons by kind.
var (
	ErrSubscriptionClosed = &Error{Kind: KindSubscriptionClosed, Message: "subscription closed"}
	ErrShutdown           = &Error{Kind: KindSubscriptionClosed, Message: "multiplexer shut down"}
)

// IsKind reports whether err (or anything it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

// NewTransportError wraps a network-level failure.
func NewTransportError(cause error) *Error {
	return &Error{Kind: KindTransport, cause: cause}
}

// NewProtocolError wraps a payload that failed to decode or made no sense.
func NewProtocolError(msg string, cause error) *Error {
	return &Error{Kind: KindProtocol, Message: msg, cause: cause}
}

// NewAuthenticationError reports a rejected signature or API key.
func NewAuthenticationError(code int64, msg string) *Error {
	return &Error{Kind: KindAuthentication, Code: code, Message: msg}
}

// NewRateLimitedError reports throttling with the server-advertised delay.
func NewRateLimitedError(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, RetryAfter: retryAfter}
}

// NewExchangeError preserves a Binance business rejection unchanged.
func NewExchangeError(code int64, msg string) *Error {
	return &Error{Kind: KindExchange, Code: code, Message: msg}
}

// NewFatalError reports an unrecoverable condition.
func NewFatalError(reason string, cause error) *Error {
	return &Error{Kind: KindFatal, Message: reason, cause: cause}
}

// exchange error codes that indicate an authentication problem rather than a
// correctable request. See binance-spot-api-docs/errors.md.
const (
	codeInvalidSignature = -1022
	codeBadAPIKeyFormat  = -2014
	codeRejectedAPIKey   = -2015
)

// apiError is the wire shape of a Binance error body.
type apiError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

// classifyResponse maps a non-2xx HTTP response into the taxonomy. The body
// is the already-read response payload.
func classifyResponse(status int, header http.Header, body []byte) *Error {
	switch {
	case status == http.StatusTooManyRequests || status == http.StatusTeapot:
		return NewRateLimitedError(parseRetryAfter(header))
	case status >= 500:
		return &Error{Kind: KindTransport, Message: fmt.Sprintf("server error: HTTP %d", status)}
	}

	var ae apiError
	if err := json.Unmarshal(body, &ae); err != nil || ae.Code == 0 {
		return NewProtocolError(fmt.Sprintf("undecodable error body for HTTP %d", status), err)
	}

	if status == http.StatusUnauthorized || isAuthCode(ae.Code) {
		return NewAuthenticationError(ae.Code, ae.Msg)
	}
	return NewExchangeError(ae.Code, ae.Msg)
}

func isAuthCode(code int64) bool {
	switch code {
	case codeInvalidSignature, codeBadAPIKeyFormat, codeRejectedAPIKey:
		return true
	}
	return false
}

// parseRetryAfter reads a Retry-After header given in whole seconds. Zero
// means the server gave no guidance.
func parseRetryAfter(header http.Header) time.Duration {
	raw := header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
