package ticker

import (
	"sync"
	"sync/atomic"
	"time"

	"kitefeed/internal/models"
)

// EventType identifies the kind of event on the stream.
type EventType string

const (
	// EventConnect signals a successful connection.
	EventConnect EventType = "connect"
	// EventTick carries a decoded market tick.
	EventTick EventType = "tick"
	// EventMessage carries a raw inbound frame.
	EventMessage EventType = "message"
	// EventClose signals a close frame from the server.
	EventClose EventType = "close"
	// EventError carries a transient or terminal failure description.
	EventError EventType = "error"
	// EventReconnect signals an upcoming reconnection attempt.
	EventReconnect EventType = "reconnect"
	// EventNoReconnect signals that the retry budget is exhausted.
	EventNoReconnect EventType = "no_reconnect"
	// EventOrderUpdate carries an order snapshot from the postback channel.
	EventOrderUpdate EventType = "order_update"
)

// Event is a tagged union of everything the feed can report. Only the
// fields relevant to the Type are populated.
type Event struct {
	Type EventType

	Tick  *models.Tick
	Order *models.Order
	Raw   []byte

	// Close frame details.
	Code   int
	Reason string

	// Error message.
	Err string

	// Reconnect attempt details.
	Attempt int
	Delay   time.Duration
}

// EventStream is one subscriber's view of the event bus. Events arrive
// in emission order; when the subscriber falls behind its buffer, new
// events are dropped and counted rather than blocking the feed.
type EventStream struct {
	ch      chan Event
	dropped atomic.Uint64
	bus     *eventBus
}

// Events returns the receive channel. It is closed when the stream is
// closed or the ticker shuts down.
func (s *EventStream) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because this
// subscriber's buffer was full.
func (s *EventStream) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the stream from the bus and closes its channel.
func (s *EventStream) Close() {
	s.bus.unsubscribe(s)
}

// eventBus fans events out to any number of independent subscribers.
// Delivery is non-blocking per subscriber so a slow or absent consumer
// never stalls the socket.
type eventBus struct {
	mu      sync.RWMutex
	streams map[*EventStream]struct{}
	buffer  int
	closed  bool
}

func newEventBus(buffer int) *eventBus {
	return &eventBus{
		streams: make(map[*EventStream]struct{}),
		buffer:  buffer,
	}
}

// subscribe registers a new stream observing events from this moment
// onward. Past events are not replayed.
func (b *eventBus) subscribe() *EventStream {
	stream := &EventStream{
		ch:  make(chan Event, b.buffer),
		bus: b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(stream.ch)
		return stream
	}
	b.streams[stream] = struct{}{}
	return stream
}

func (b *eventBus) unsubscribe(stream *EventStream) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.streams[stream]; !ok {
		return
	}
	delete(b.streams, stream)
	close(stream.ch)
}

// publish delivers the event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (b *eventBus) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for stream := range b.streams {
		select {
		case stream.ch <- ev:
		default:
			stream.dropped.Add(1)
		}
	}
}

// close shuts the bus down and closes every subscriber channel.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for stream := range b.streams {
		close(stream.ch)
		delete(b.streams, stream)
	}
}
