package stream

import (
	"bytes"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
	"github.com/veiloq/binance-connector/pkg/binance"
	"github.com/veiloq/binance-connector/pkg/logging"
)

// Multiplexer fans many logical topic subscriptions onto few physical
// websocket connections. It is the single owner of the topic-to-connection
// mapping; supervisors consult it at connect time and route every inbound
// frame back through it. All map mutation happens under one mutex, which is
// the serialization point that keeps subscribe, unsubscribe, routing and
// connection failure coherent.
type Multiplexer struct {
	cfg    Config
	logger logging.Logger

	mu         sync.Mutex
	closed     bool
	subs       map[string]*Subscription
	conns      map[string]*supervisor
	connTopics map[string]map[string]struct{}
	topicConn  map[string]string

	wg conc.WaitGroup
}

// NewMultiplexer builds a multiplexer from cfg; zero-valued fields take
// their defaults. No connection is dialed until the first Subscribe.
func NewMultiplexer(cfg Config) *Multiplexer {
	cfg = cfg.withDefaults()
	return &Multiplexer{
		cfg:        cfg,
		logger:     cfg.Logger,
		subs:       make(map[string]*Subscription),
		conns:      make(map[string]*supervisor),
		connTopics: make(map[string]map[string]struct{}),
		topicConn:  make(map[string]string),
	}
}

// Subscribe returns the live subscription for topic, creating it and placing
// it on a connection if needed. Subscribing to an already-active topic
// returns the existing handle and sends no second control frame. Placement
// fills existing connections up to TopicsPerConn before dialing a new one.
func (m *Multiplexer) Subscribe(topic string) (*Subscription, error) {
	if topic == "" {
		return nil, binance.NewProtocolError("empty topic", nil)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, binance.ErrShutdown
	}
	if sub, ok := m.subs[topic]; ok {
		m.mu.Unlock()
		return sub, nil
	}

	sup, fresh := m.placeLocked()
	sub := newSubscription(topic, m, m.cfg.ChannelBuffer)
	m.subs[topic] = sub
	m.topicConn[topic] = sup.id
	m.connTopics[sup.id][topic] = struct{}{}
	m.mu.Unlock()

	if fresh {
		// The run loop subscribes the connection's topic set on connect,
		// which already includes this topic.
		m.wg.Go(sup.run)
		m.logger.Info("connection started",
			logging.String("conn_id", sup.id[:8]),
			logging.String("topic", topic),
		)
		return sub, nil
	}

	if err := sup.sendControl(methodSubscribe, []string{topic}); err != nil {
		// A supervisor mid-reconnect resubscribes its whole topic set once
		// the dial succeeds, so a failed frame here is not a lost topic.
		m.logger.Warn("subscribe frame deferred to reconnect",
			logging.String("topic", topic),
			logging.Error(err),
		)
	}
	return sub, nil
}

// placeLocked picks the connection for a new topic. Requires m.mu held.
func (m *Multiplexer) placeLocked() (*supervisor, bool) {
	for id, sup := range m.conns {
		if !sup.placeable() {
			continue
		}
		if len(m.connTopics[id]) < m.cfg.TopicsPerConn {
			return sup, false
		}
	}
	sup := newSupervisor(m)
	m.conns[sup.id] = sup
	m.connTopics[sup.id] = make(map[string]struct{})
	return sup, true
}

// Unsubscribe removes the topic from routing, sends a best-effort
// UNSUBSCRIBE frame and closes the topic's output channel. Unknown topics
// are a no-op, which makes Subscription.Close idempotent.
func (m *Multiplexer) Unsubscribe(topic string) {
	m.mu.Lock()
	sub, ok := m.subs[topic]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subs, topic)
	connID := m.topicConn[topic]
	delete(m.topicConn, topic)
	var sup *supervisor
	if set, ok := m.connTopics[connID]; ok {
		delete(set, topic)
		sup = m.conns[connID]
	}
	m.mu.Unlock()

	if sup != nil {
		if err := sup.sendControl(methodUnsubscribe, []string{topic}); err != nil {
			m.logger.Debug("unsubscribe frame not sent",
				logging.String("topic", topic),
				logging.Error(err),
			)
		}
	}
	sub.finish()
}

// Shutdown closes every subscription, drains every connection and waits for
// the supervisors to exit. Subsequent Subscribe calls fail with ErrShutdown.
// Safe to call more than once.
func (m *Multiplexer) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	sups := make([]*supervisor, 0, len(m.conns))
	for _, sup := range m.conns {
		sups = append(sups, sup)
	}
	m.subs = make(map[string]*Subscription)
	m.conns = make(map[string]*supervisor)
	m.connTopics = make(map[string]map[string]struct{})
	m.topicConn = make(map[string]string)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.finish()
	}
	for _, sup := range sups {
		sup.stop()
	}
	m.wg.Wait()
	m.logger.Info("multiplexer shut down")
}

// Connections reports the number of live physical connections.
func (m *Multiplexer) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// topicsFor returns the authoritative topic set for one connection, sorted
// for deterministic control frames.
func (m *Multiplexer) topicsFor(connID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.connTopics[connID]
	topics := make([]string, 0, len(set))
	for t := range set {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// markReconnected queues a boundary marker on every topic carried by the
// reconnected connection. Markers take priority over buffered data so the
// consumer always sees the gap before post-reconnect frames.
func (m *Multiplexer) markReconnected(connID string) {
	m.mu.Lock()
	var subs []*Subscription
	for topic := range m.connTopics[connID] {
		if sub := m.subs[topic]; sub != nil {
			subs = append(subs, sub)
		}
	}
	m.mu.Unlock()

	for _, sub := range subs {
		sub.enqueuePriority(Event{Topic: sub.topic, Kind: EventReconnected})
	}
}

// supervisorFailed tears down a connection whose reconnect budget is spent.
// Every subscription it carried receives the fatal error and then closes.
func (m *Multiplexer) supervisorFailed(sup *supervisor, ferr *binance.Error) {
	m.mu.Lock()
	var failed []*Subscription
	for topic := range m.connTopics[sup.id] {
		if sub := m.subs[topic]; sub != nil {
			failed = append(failed, sub)
			delete(m.subs, topic)
		}
		delete(m.topicConn, topic)
	}
	delete(m.connTopics, sup.id)
	delete(m.conns, sup.id)
	m.mu.Unlock()

	m.logger.Error("connection failed permanently",
		logging.String("conn_id", sup.id[:8]),
		logging.Int("topics", len(failed)),
		logging.Error(ferr),
	)
	for _, sub := range failed {
		sub.enqueuePriority(Event{Topic: sub.topic, Kind: EventError, Err: ferr})
		sub.finish()
	}
}

// route delivers one inbound frame to its topic's subscription. Frames for
// topics with no active subscription are dropped with a diagnostic; an
// unsubscribe racing in-flight delivery makes that expected, not an error.
func (m *Multiplexer) route(connID string, frame []byte) {
	topic, payload := extractTopic(frame)
	if topic == "" {
		m.logger.Debug("unroutable frame dropped", logging.Int("bytes", len(frame)))
		return
	}

	m.mu.Lock()
	sub := m.subs[topic]
	owner := m.topicConn[topic]
	m.mu.Unlock()

	if sub == nil || owner != connID {
		m.logger.Debug("frame for inactive topic dropped", logging.String("topic", topic))
		return
	}
	if !sub.enqueue(Event{Topic: topic, Kind: EventData, Data: payload}) {
		m.logger.Debug("subscription queue full, frame dropped",
			logging.String("topic", topic),
		)
	}
}

// streamEnvelope is the combined-stream wrapper: {"stream":key,"data":{...}}.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// rawEvent is the minimal shape shared by raw (non-combined) market events.
type rawEvent struct {
	Event  string `json:"e"`
	Symbol string `json:"s"`
	Kline  struct {
		Interval string `json:"i"`
	} `json:"k"`
}

// extractTopic derives the topic key and payload for a frame. Combined
// envelopes carry their key explicitly; raw frames are recognized by event
// type, covering single-stream endpoints and exchanges that omit the
// envelope. The payload handed to subscribers is always the event object,
// never the envelope.
func extractTopic(frame []byte) (string, []byte) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 {
		return "", nil
	}

	// All-market streams arrive as a JSON array of events.
	if trimmed[0] == '[' {
		var events []rawEvent
		if err := json.Unmarshal(trimmed, &events); err != nil || len(events) == 0 {
			return "", nil
		}
		switch events[0].Event {
		case "24hrTicker":
			return binance.AllTickersStream(), frame
		case "24hrMiniTicker":
			return binance.AllMiniTickersStream(), frame
		}
		return "", nil
	}

	var env streamEnvelope
	if err := json.Unmarshal(trimmed, &env); err == nil && env.Stream != "" {
		payload := frame
		if len(env.Data) > 0 {
			payload = []byte(env.Data)
		}
		return env.Stream, payload
	}

	var ev rawEvent
	if err := json.Unmarshal(trimmed, &ev); err != nil || ev.Event == "" || ev.Symbol == "" {
		return "", nil
	}
	switch ev.Event {
	case "aggTrade":
		return binance.AggTradeStream(ev.Symbol), frame
	case "trade":
		return binance.TradeStream(ev.Symbol), frame
	case "kline":
		return binance.KlineStream(ev.Symbol, ev.Kline.Interval), frame
	case "depthUpdate":
		return binance.DepthStream(ev.Symbol), frame
	case "24hrTicker":
		return binance.TickerStream(ev.Symbol), frame
	case "24hrMiniTicker":
		return binance.MiniTickerStream(ev.Symbol), frame
	}
	// User-data events carry no listen key in the frame, so they are only
	// routable through the combined envelope.
	return "", nil
}
