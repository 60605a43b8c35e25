package stream

import (
	"sync"
	"time"

	"github.com/veiloq/binance-connector/pkg/binance"
	"github.com/veiloq/binance-connector/pkg/logging"
)

// EventKind discriminates the three things a subscription can observe.
type EventKind int

const (
	// EventData carries one market-data frame.
	EventData EventKind = iota + 1

	// EventReconnected marks a connection replacement. Frames in flight at
	// the drop may have been lost; per-topic ordering restarts here.
	EventReconnected

	// EventError carries a fatal classified error. It is the last event
	// before the channel closes.
	EventError
)

// Event is one inbound item on a subscription's output. Data holds the raw
// JSON payload for EventData (the inner payload when the exchange wraps it
// in a combined-stream envelope); Err is set only for EventError.
type Event struct {
	Topic string
	Kind  EventKind
	Data  []byte
	Err   *binance.Error
}

// Subscription is a caller's handle on one logical topic. Multiple
// Subscribe calls for the same topic return the same handle; the handle's
// identity is independent of whichever physical connection carries the
// topic right now.
//
// Events are delivered in wire order within one connection epoch. The
// channel closes after Close, Unsubscribe, multiplexer shutdown, or a fatal
// connection error (which is delivered first as EventError).
type Subscription struct {
	topic string
	mux   *Multiplexer

	out    chan Event
	notify chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	queue   []Event
	maxQue  int
	closed  bool
	dropped int64
}

func newSubscription(topic string, mux *Multiplexer, buffer int) *Subscription {
	s := &Subscription{
		topic:  topic,
		mux:    mux,
		out:    make(chan Event, buffer),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		maxQue: buffer,
	}
	go s.deliverLoop()
	return s
}

// Topic returns the canonical topic string.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events returns the output channel. It is closed when the subscription
// ends; a pending EventError, if any, is delivered before the close.
func (s *Subscription) Events() <-chan Event {
	return s.out
}

// Close ends the subscription: routing stops promptly, an UNSUBSCRIBE frame
// is sent best-effort if the carrying connection is still up, and the output
// channel is closed. Close is idempotent and safe from any goroutine.
func (s *Subscription) Close() {
	s.mux.Unsubscribe(s.topic)
}

// enqueue appends a data event. It never blocks: when the queue is full the
// frame is dropped and false is returned so the router can log a diagnostic.
func (s *Subscription) enqueue(ev Event) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if len(s.queue) >= s.maxQue {
		s.dropped++
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
	return true
}

// enqueuePriority appends a marker or error event that must not be lost.
// When the queue is full the oldest queued data event is evicted instead:
// losing one more data frame is harmless under the at-most-once contract,
// losing the marker would hide the loss entirely.
func (s *Subscription) enqueuePriority(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if len(s.queue) >= s.maxQue {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish stops delivery and closes the output. Called by the multiplexer
// with the topic already removed from routing.
func (s *Subscription) finish() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
}

// deliverLoop is the only writer to out. Pulling from the internal queue
// here, rather than in the connection read loop, is what keeps one slow
// consumer from stalling other topics on the same connection.
func (s *Subscription) deliverLoop() {
	defer close(s.out)

	for {
		ev, ok := s.next()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				s.drainFinalError()
				return
			}
		}

		switch ev.Kind {
		case EventReconnected, EventError:
			// Markers and fatal errors wait for the consumer indefinitely.
			select {
			case s.out <- ev:
			case <-s.done:
				if ev.Kind == EventError {
					select {
					case s.out <- ev:
					default:
					}
				} else {
					s.drainFinalError()
				}
				return
			}
		default:
			timer := time.NewTimer(s.mux.cfg.DeliveryTimeout)
			select {
			case s.out <- ev:
				timer.Stop()
			case <-timer.C:
				s.mu.Lock()
				s.dropped++
				dropped := s.dropped
				s.mu.Unlock()
				s.mux.logger.Debug("delivery timeout, frame dropped",
					logging.String("topic", s.topic),
					logging.Int64("dropped_total", dropped),
				)
			case <-s.done:
				timer.Stop()
				return
			}
		}
	}
}

// drainFinalError pushes a queued EventError, if any, so a fatal error is
// observable even when finish races the delivery loop.
func (s *Subscription) drainFinalError() {
	for {
		ev, ok := s.next()
		if !ok {
			return
		}
		if ev.Kind == EventError {
			select {
			case s.out <- ev:
			default:
			}
			return
		}
	}
}

func (s *Subscription) next() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Event{}, false
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Dropped reports how many frames this subscription has discarded due to
// backpressure.
func (s *Subscription) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
