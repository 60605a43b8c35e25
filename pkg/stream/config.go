// Package stream multiplexes logical Binance market-data subscriptions onto
// a bounded set of physical WebSocket connections.
//
// Callers subscribe by topic (see pkg/binance stream helpers) and read a
// typed event channel. Connection lifecycle is invisible except for
// reconnect boundary markers: connections are created lazily, carry up to a
// configured number of topics, reconnect with backoff, and re-issue their
// topic set after reconnecting. The multiplexer owns the topic-to-connection
// mapping; supervisors query it at reconnect time rather than trusting their
// own state.
package stream

import (
	"time"

	"github.com/veiloq/binance-connector/pkg/logging"
	"github.com/veiloq/binance-connector/pkg/ratelimit"
)

// DefaultStreamURL is the Binance combined-stream endpoint. Combined frames
// carry a stream key, which is what lets many topics share one socket.
const DefaultStreamURL = "wss://stream.binance.com:9443/stream"

// Config controls the multiplexer and every supervisor it creates.
type Config struct {
	// URL is the websocket endpoint. Defaults to DefaultStreamURL.
	URL string

	// TopicsPerConn caps logical subscriptions per physical connection.
	// When every connection is full a new one is created; subscriptions
	// are never rejected for capacity.
	TopicsPerConn int

	// ChannelBuffer is each subscription's output channel capacity and the
	// bound on its internal delivery queue.
	ChannelBuffer int

	// DeliveryTimeout bounds how long delivery may block on one topic's
	// full output before the frame is dropped with a diagnostic. Other
	// topics are never affected.
	DeliveryTimeout time.Duration

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is the ping cadence; the read deadline is three
	// intervals.
	HeartbeatInterval time.Duration

	// Reconnect backoff: exponential from ReconnectInitialDelay, capped at
	// ReconnectMaxDelay, with up to ReconnectJitter of randomness, for at
	// most ReconnectMaxAttempts dials per outage. Exhausting the budget is
	// fatal for every subscription on the connection.
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectJitter       time.Duration
	ReconnectMaxAttempts  uint

	// ControlRate paces SUBSCRIBE/UNSUBSCRIBE frames per connection.
	// Binance allows five control messages per second.
	ControlRate ratelimit.Rate

	// Logger receives structured diagnostics. Defaults to the JSON logger.
	Logger logging.Logger
}

// NewConfig returns a production-ready configuration.
func NewConfig() Config {
	return Config{
		URL:                   DefaultStreamURL,
		TopicsPerConn:         128,
		ChannelBuffer:         64,
		DeliveryTimeout:       5 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		HeartbeatInterval:     20 * time.Second,
		ReconnectInitialDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectJitter:       250 * time.Millisecond,
		ReconnectMaxAttempts:  10,
		ControlRate:           ratelimit.Rate{Limit: 5, Interval: time.Second},
	}
}

func (c Config) withDefaults() Config {
	def := NewConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.TopicsPerConn <= 0 {
		c.TopicsPerConn = def.TopicsPerConn
	}
	if c.ChannelBuffer <= 0 {
		c.ChannelBuffer = def.ChannelBuffer
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ReconnectInitialDelay <= 0 {
		c.ReconnectInitialDelay = def.ReconnectInitialDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.ReconnectJitter <= 0 {
		c.ReconnectJitter = def.ReconnectJitter
	}
	if c.ReconnectMaxAttempts == 0 {
		c.ReconnectMaxAttempts = def.ReconnectMaxAttempts
	}
	if c.ControlRate.Limit <= 0 || c.ControlRate.Interval <= 0 {
		c.ControlRate = def.ControlRate
	}
	if c.Logger == nil {
		c.Logger = logging.NewLogger()
	}
	return c
}
