package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/veiloq/binance-connector/pkg/binance"
	"github.com/veiloq/binance-connector/pkg/logging"
	"github.com/veiloq/binance-connector/pkg/ratelimit"
)

// connState tracks one physical connection's lifecycle.
type connState int32

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
	stateDraining
)

func (s connState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateConnected:
		return "connected"
	case stateDraining:
		return "draining"
	default:
		return "unknown"
	}
}

const (
	methodSubscribe   = "SUBSCRIBE"
	methodUnsubscribe = "UNSUBSCRIBE"

	writeTimeout = 5 * time.Second
)

// controlRequest is the wire form of a subscribe/unsubscribe frame.
type controlRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

// controlAck correlates an exchange acknowledgment to a control request.
type controlAck struct {
	Result json.RawMessage `json:"result"`
	ID     uint64          `json:"id"`
	Error  *controlError   `json:"error,omitempty"`
}

type controlError struct {
	Code int64  `json:"code"`
	Msg  string `json:"msg"`
}

// supervisor owns one physical websocket connection: dialing, the read loop,
// heartbeats, control frames and reconnection. It never decides which topics
// it carries; the multiplexer is the source of truth and is consulted at
// every (re)connect.
type supervisor struct {
	id     string
	mux    *Multiplexer
	cfg    Config
	logger logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	state atomic.Int32

	connMu sync.RWMutex
	conn   *websocket.Conn

	writeMu sync.Mutex
	msgID   atomic.Uint64
	control ratelimit.RateLimiter
}

func newSupervisor(mux *Multiplexer) *supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &supervisor{
		id:      id,
		mux:     mux,
		cfg:     mux.cfg,
		logger:  mux.logger.WithFields(logging.String("conn_id", id[:8])),
		ctx:     ctx,
		cancel:  cancel,
		control: ratelimit.NewTokenBucketLimiter(mux.cfg.ControlRate),
	}
}

func (s *supervisor) currentState() connState {
	return connState(s.state.Load())
}

func (s *supervisor) setState(st connState) {
	s.state.Store(int32(st))
}

// placeable reports whether new topics may be assigned here.
func (s *supervisor) placeable() bool {
	st := s.currentState()
	return st == stateConnecting || st == stateConnected
}

func (s *supervisor) setConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

func (s *supervisor) getConn() *websocket.Conn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

// run owns the connection for its whole life: dial with backoff, subscribe
// the current topic set, read until failure, repeat. It exits when drained
// or when the reconnect budget is exhausted, which is fatal for every topic
// on this connection.
func (s *supervisor) run() {
	firstEpoch := true
	for {
		if s.ctx.Err() != nil {
			s.setState(stateDisconnected)
			return
		}

		s.setState(stateConnecting)
		if err := s.dial(); err != nil {
			s.setState(stateDisconnected)
			if s.ctx.Err() != nil {
				return
			}
			s.mux.supervisorFailed(s, binance.NewFatalError("reconnect attempts exhausted", err))
			return
		}
		s.setState(stateConnected)
		s.logger.Info("websocket connected", logging.String("url", s.cfg.URL))

		// The multiplexer holds the authoritative topic set; a topic added
		// while we were dialing is included here.
		if topics := s.mux.topicsFor(s.id); len(topics) > 0 {
			if err := s.sendControl(methodSubscribe, topics); err != nil {
				s.logger.Warn("subscribe on connect failed", logging.Error(err))
			}
		}
		if !firstEpoch {
			s.mux.markReconnected(s.id)
		}
		firstEpoch = false

		err := s.readLoop()
		s.closeConn()
		if s.ctx.Err() != nil {
			s.setState(stateDisconnected)
			return
		}
		s.setState(stateDisconnected)
		s.logger.Warn("connection lost, reconnecting", logging.Error(err))
	}
}

// dial attempts the websocket handshake with exponential backoff, a delay
// cap, jitter and a bounded attempt budget.
func (s *supervisor) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	return retry.Do(
		func() error {
			conn, _, err := dialer.DialContext(s.ctx, s.cfg.URL, nil)
			if err != nil {
				if s.ctx.Err() != nil {
					return retry.Unrecoverable(err)
				}
				return err
			}
			s.setConn(conn)
			return nil
		},
		retry.Attempts(s.cfg.ReconnectMaxAttempts),
		retry.Delay(s.cfg.ReconnectInitialDelay),
		retry.MaxDelay(s.cfg.ReconnectMaxDelay),
		retry.MaxJitter(s.cfg.ReconnectJitter),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.Context(s.ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("dial attempt failed",
				logging.Int("attempt", int(n)+1),
				logging.Error(err),
			)
		}),
	)
}

// readLoop reads frames until the connection breaks or the supervisor is
// drained. Acknowledgment frames are consumed here; everything else goes to
// the multiplexer's router.
func (s *supervisor) readLoop() error {
	conn := s.getConn()
	if conn == nil {
		return errors.New("no connection")
	}

	readDeadline := 3 * s.cfg.HeartbeatInterval
	_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	stopPing := make(chan struct{})
	go s.heartbeat(conn, stopPing)
	defer close(stopPing)

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		s.handleFrame(frame)
	}
}

// heartbeat pings on the configured cadence so the read deadline keeps
// getting refreshed by pongs.
func (s *supervisor) heartbeat(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			if err != nil {
				return
			}
		case <-stop:
			return
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *supervisor) handleFrame(frame []byte) {
	var ack controlAck
	if err := json.Unmarshal(frame, &ack); err == nil && ack.ID > 0 {
		if ack.Error != nil {
			s.logger.Warn("control request rejected",
				logging.Int64("request_id", int64(ack.ID)),
				logging.Int64("code", ack.Error.Code),
				logging.String("msg", ack.Error.Msg),
			)
		}
		return
	}
	s.mux.route(s.id, frame)
}

// sendControl writes one SUBSCRIBE/UNSUBSCRIBE frame, paced to the exchange
// control-message budget.
func (s *supervisor) sendControl(method string, topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	conn := s.getConn()
	if conn == nil || s.currentState() != stateConnected {
		return binance.NewTransportError(errors.New("websocket not connected"))
	}

	if err := s.control.Wait(s.ctx); err != nil {
		return binance.NewTransportError(err)
	}

	req := controlRequest{Method: method, Params: topics, ID: s.msgID.Add(1)}
	data, err := json.Marshal(req)
	if err != nil {
		return binance.NewProtocolError("encoding control frame", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return binance.NewTransportError(err)
	}
	return nil
}

func (s *supervisor) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// stop drains the supervisor: no new sends, the socket closes cleanly, the
// run loop exits. Terminal.
func (s *supervisor) stop() {
	s.setState(stateDraining)
	s.cancel()
	if conn := s.getConn(); conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
	}
}
