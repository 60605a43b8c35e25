package stream

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veiloq/binance-connector/pkg/binance"
	"github.com/veiloq/binance-connector/pkg/ratelimit"
)

const (
	waitTimeout  = 5 * time.Second
	pollInterval = 10 * time.Millisecond
)

func newTestMux(t *testing.T, mock *MockExchange, mutate func(*Config)) *Multiplexer {
	t.Helper()
	cfg := NewConfig()
	cfg.URL = mock.URL()
	cfg.DeliveryTimeout = 200 * time.Millisecond
	cfg.HeartbeatInterval = 500 * time.Millisecond
	cfg.ReconnectInitialDelay = 10 * time.Millisecond
	cfg.ReconnectMaxDelay = 100 * time.Millisecond
	cfg.ReconnectJitter = 5 * time.Millisecond
	cfg.ReconnectMaxAttempts = 5
	cfg.ControlRate = ratelimit.Rate{Limit: 1000, Interval: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	mux := NewMultiplexer(cfg)
	t.Cleanup(mux.Shutdown)
	return mux
}

func recvEvent(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		require.True(t, ok, "subscription closed unexpectedly")
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("no event for topic %s within %s", sub.Topic(), waitTimeout)
		return Event{}
	}
}

func waitSubscribed(t *testing.T, mock *MockExchange, topics ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, topic := range topics {
			if mock.SubscriberCount(topic) == 0 {
				return false
			}
		}
		return true
	}, waitTimeout, pollInterval, "server never saw subscribe for %v", topics)
}

func TestSubscribeDeliversData(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, nil)

	topic := binance.TradeStream("BTCUSDT")
	sub, err := mux.Subscribe(topic)
	require.NoError(t, err)
	waitSubscribed(t, mock, topic)

	payload := json.RawMessage(`{"e":"trade","s":"BTCUSDT","p":"42000.01"}`)
	require.Equal(t, 1, mock.PushData(topic, payload))

	ev := recvEvent(t, sub)
	assert.Equal(t, EventData, ev.Kind)
	assert.Equal(t, topic, ev.Topic)
	assert.JSONEq(t, string(payload), string(ev.Data),
		"subscriber receives the inner payload, not the envelope")
}

func TestSubscribeIdempotent(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, nil)

	topic := binance.DepthStream("ETHBTC")
	first, err := mux.Subscribe(topic)
	require.NoError(t, err)
	second, err := mux.Subscribe(topic)
	require.NoError(t, err)
	assert.Same(t, first, second, "same topic must return the same handle")

	waitSubscribed(t, mock, topic)

	// Give a stray duplicate frame time to arrive before counting.
	time.Sleep(100 * time.Millisecond)
	subscribes := 0
	for _, frame := range mock.ControlFrames() {
		if frame.Method != methodSubscribe {
			continue
		}
		for _, p := range frame.Params {
			if p == topic {
				subscribes++
			}
		}
	}
	assert.Equal(t, 1, subscribes, "exactly one subscribe frame for the topic")
}

func TestOrderingWithinEpoch(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, nil)

	topic := binance.AggTradeStream("BTCUSDT")
	sub, err := mux.Subscribe(topic)
	require.NoError(t, err)
	waitSubscribed(t, mock, topic)

	frames := []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`}
	for _, f := range frames {
		require.Equal(t, 1, mock.PushData(topic, json.RawMessage(f)))
	}

	for _, want := range frames {
		ev := recvEvent(t, sub)
		require.Equal(t, EventData, ev.Kind)
		assert.JSONEq(t, want, string(ev.Data))
	}
}

func TestReconnectReestablishesTopics(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, nil)

	topicA := binance.TradeStream("BTCUSDT")
	topicB := binance.DepthStream("BTCUSDT")
	subA, err := mux.Subscribe(topicA)
	require.NoError(t, err)
	_, err = mux.Subscribe(topicB)
	require.NoError(t, err)
	waitSubscribed(t, mock, topicA, topicB)

	mock.DropConnections()
	waitSubscribed(t, mock, topicA, topicB)

	// The resubscribe after reconnect carries the connection's whole topic
	// set in one frame.
	frames := mock.ControlFrames()
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, methodSubscribe, last.Method)
	assert.ElementsMatch(t, []string{topicA, topicB}, last.Params)

	require.Equal(t, 1, mock.PushData(topicA, json.RawMessage(`{"after":"reconnect"}`)))

	ev := recvEvent(t, subA)
	assert.Equal(t, EventReconnected, ev.Kind,
		"boundary marker must precede post-reconnect data")
	ev = recvEvent(t, subA)
	assert.Equal(t, EventData, ev.Kind)
	assert.JSONEq(t, `{"after":"reconnect"}`, string(ev.Data))
}

func TestCapacityDrivenPlacement(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, func(cfg *Config) {
		cfg.TopicsPerConn = 2
	})

	topics := []string{
		binance.TradeStream("BTCUSDT"),
		binance.TradeStream("ETHBTC"),
		binance.TradeStream("LTCBTC"),
	}
	for _, topic := range topics {
		_, err := mux.Subscribe(topic)
		require.NoError(t, err)
	}
	waitSubscribed(t, mock, topics...)

	assert.Equal(t, 2, mux.Connections(),
		"third topic goes to a new connection, not rejected")
	require.Eventually(t, func() bool {
		return mock.ConnectionCount() == 2
	}, waitTimeout, pollInterval)
}

func TestBackpressureIsolation(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, func(cfg *Config) {
		cfg.ChannelBuffer = 1
		cfg.DeliveryTimeout = 100 * time.Millisecond
	})

	slowTopic := binance.TradeStream("BTCUSDT")
	fastTopic := binance.TradeStream("ETHBTC")
	slow, err := mux.Subscribe(slowTopic)
	require.NoError(t, err)
	fast, err := mux.Subscribe(fastTopic)
	require.NoError(t, err)
	waitSubscribed(t, mock, slowTopic, fastTopic)

	// Nobody reads slow; flood it past its buffer.
	for i := 0; i < 5; i++ {
		mock.PushData(slowTopic, json.RawMessage(`{"n":1}`))
	}
	require.Equal(t, 1, mock.PushData(fastTopic, json.RawMessage(`{"fast":true}`)))

	ev := recvEvent(t, fast)
	assert.Equal(t, EventData, ev.Kind)
	assert.JSONEq(t, `{"fast":true}`, string(ev.Data))

	require.Eventually(t, func() bool {
		return slow.Dropped() > 0
	}, waitTimeout, pollInterval, "the stalled topic drops with a diagnostic")
}

func TestUnsubscribeClosesOutput(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, nil)

	topic := binance.TickerStream("BTCUSDT")
	sub, err := mux.Subscribe(topic)
	require.NoError(t, err)
	waitSubscribed(t, mock, topic)

	sub.Close()

	require.Eventually(t, func() bool {
		return mock.SubscriberCount(topic) == 0
	}, waitTimeout, pollInterval, "server should see the unsubscribe frame")

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "events channel closes after unsubscribe")
	case <-time.After(waitTimeout):
		t.Fatal("events channel not closed")
	}

	// Close is idempotent.
	sub.Close()
}

func TestShutdown(t *testing.T) {
	mock := setupMockExchange(t)
	mux := newTestMux(t, mock, nil)

	topic := binance.TradeStream("BTCUSDT")
	sub, err := mux.Subscribe(topic)
	require.NoError(t, err)
	waitSubscribed(t, mock, topic)

	mux.Shutdown()

	_, ok := <-sub.Events()
	assert.False(t, ok, "subscriptions close on shutdown")

	_, err = mux.Subscribe(binance.TradeStream("ETHBTC"))
	require.Error(t, err)
	assert.True(t, binance.IsKind(err, binance.KindSubscriptionClosed))

	require.Eventually(t, func() bool {
		return mock.ConnectionCount() == 0
	}, waitTimeout, pollInterval)
}

func TestReconnectExhaustionIsFatal(t *testing.T) {
	mock := setupMockExchange(t)
	mock.SetRejectUpgrade(true)
	mux := newTestMux(t, mock, func(cfg *Config) {
		cfg.ReconnectMaxAttempts = 3
	})

	sub, err := mux.Subscribe(binance.TradeStream("BTCUSDT"))
	require.NoError(t, err)

	ev := recvEvent(t, sub)
	require.Equal(t, EventError, ev.Kind)
	require.NotNil(t, ev.Err)
	assert.Equal(t, binance.KindFatal, ev.Err.Kind)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "channel closes after the fatal error")
	case <-time.After(waitTimeout):
		t.Fatal("events channel not closed after fatal error")
	}
}

func TestExtractTopic(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		topic   string
		payload string
	}{
		{
			name:    "combined envelope",
			frame:   `{"stream":"btcusdt@trade","data":{"e":"trade","s":"BTCUSDT"}}`,
			topic:   "btcusdt@trade",
			payload: `{"e":"trade","s":"BTCUSDT"}`,
		},
		{
			name:    "raw trade",
			frame:   `{"e":"trade","s":"BTCUSDT","p":"1"}`,
			topic:   "btcusdt@trade",
			payload: `{"e":"trade","s":"BTCUSDT","p":"1"}`,
		},
		{
			name:    "raw kline keeps interval",
			frame:   `{"e":"kline","s":"ETHBTC","k":{"i":"1m"}}`,
			topic:   "ethbtc@kline_1m",
			payload: `{"e":"kline","s":"ETHBTC","k":{"i":"1m"}}`,
		},
		{
			name:    "raw depth update",
			frame:   `{"e":"depthUpdate","s":"LTCBTC"}`,
			topic:   "ltcbtc@depth",
			payload: `{"e":"depthUpdate","s":"LTCBTC"}`,
		},
		{
			name:    "all tickers array",
			frame:   `[{"e":"24hrTicker","s":"BTCUSDT"}]`,
			topic:   "!ticker@arr",
			payload: `[{"e":"24hrTicker","s":"BTCUSDT"}]`,
		},
		{
			name:  "garbage",
			frame: `not json at all`,
		},
		{
			name:  "unknown event type",
			frame: `{"e":"mystery","s":"BTCUSDT"}`,
		},
		{
			name:  "empty",
			frame: ``,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topic, payload := extractTopic([]byte(tt.frame))
			assert.Equal(t, tt.topic, topic)
			if tt.topic != "" {
				assert.JSONEq(t, tt.payload, string(payload))
			}
		})
	}
}
