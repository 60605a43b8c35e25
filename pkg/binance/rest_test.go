package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts := NewOptions()
	opts.BaseURL = server.URL
	opts.Credentials = NewCredentials("test-key", "test-secret")
	opts.MaxRequestsPerSecond = 1000
	return NewClient(opts)
}

func TestGetServerTime(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/time", r.URL.Path)
		w.Write([]byte(`{"serverTime":1499827319559}`))
	})

	st, err := client.GetServerTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1499827319559), st.ServerTime)
}

func TestSignedRequestShape(t *testing.T) {
	var captured *http.Request
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		w.Write([]byte(`{"makerCommission":15,"balances":[]}`))
	})

	_, err := client.GetAccount(context.Background())
	require.NoError(t, err)
	require.NotNil(t, captured)

	assert.Equal(t, "test-key", captured.Header.Get("X-MBX-APIKEY"))

	q := captured.URL.Query()
	assert.NotEmpty(t, q.Get("timestamp"))
	assert.Equal(t, "5000", q.Get("recvWindow"))
	require.NotEmpty(t, q.Get("signature"))

	// The signature must cover exactly the query bytes that precede it.
	rawQuery := captured.URL.RawQuery
	idx := len(rawQuery) - len("&signature=") - len(q.Get("signature"))
	signedBytes := rawQuery[:idx]

	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(signedBytes))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), q.Get("signature"))
}

func TestSignedRequestWithoutCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not reach the server")
	}))
	t.Cleanup(server.Close)

	opts := NewOptions()
	opts.BaseURL = server.URL
	client := NewClient(opts)

	_, err := client.GetAccount(context.Background())
	assert.True(t, IsKind(err, KindAuthentication))
}

func TestExchangeErrorPassthrough(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	_, err := client.GetPrice(context.Background(), "NOPE")
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindExchange, bErr.Kind)
	assert.Equal(t, int64(-1121), bErr.Code)
	assert.Equal(t, "Invalid symbol.", bErr.Message)
}

func TestRateLimitedResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := client.Ping(context.Background())
	var bErr *Error
	require.ErrorAs(t, err, &bErr)
	assert.Equal(t, KindRateLimited, bErr.Kind)
	assert.Equal(t, 7*time.Second, bErr.RetryAfter)
}

func TestNoInternalRetry(t *testing.T) {
	var calls atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.Ping(context.Background())
	assert.True(t, IsKind(err, KindTransport))
	assert.Equal(t, int64(1), calls.Load(), "a failed call must not be retried internally")
}

func TestTransportFailure(t *testing.T) {
	opts := NewOptions()
	opts.BaseURL = "http://127.0.0.1:1" // nothing listens here
	opts.HTTPTimeout = 500 * time.Millisecond
	opts.MaxRequestsPerSecond = 1000
	client := NewClient(opts)

	err := client.Ping(context.Background())
	assert.True(t, IsKind(err, KindTransport))
}

func TestGetDepthDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		w.Write([]byte(`{
			"lastUpdateId":1027024,
			"bids":[["4.00000000","431.00000000"]],
			"asks":[["4.00000200","12.00000000"]]
		}`))
	})

	book, err := client.GetDepth(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.RequireFromString("4")))
	assert.True(t, book.Bids[0].Quantity.Equal(decimal.RequireFromString("431")))
}

func TestPlaceOrderParams(t *testing.T) {
	var captured url.Values
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		captured = r.URL.Query()
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"NEW"}`))
	})

	tx, err := client.LimitBuy(context.Background(), "BTCUSDT",
		decimal.RequireFromString("0.5"), decimal.RequireFromString("30000"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), tx.OrderID)

	assert.Equal(t, "BTCUSDT", captured.Get("symbol"))
	assert.Equal(t, OrderSideBuy, captured.Get("side"))
	assert.Equal(t, OrderTypeLimit, captured.Get("type"))
	assert.Equal(t, TimeInForceGTC, captured.Get("timeInForce"))
	assert.Equal(t, "0.5", captured.Get("quantity"))
	assert.Equal(t, "30000", captured.Get("price"))
}

func TestRedactQuery(t *testing.T) {
	raw := "symbol=BTCUSDT&timestamp=1&signature=deadbeef"
	assert.Equal(t, "symbol=BTCUSDT&timestamp=1&signature=[REDACTED]", redactQuery(raw))
	assert.Equal(t, "", redactQuery(""))
}
