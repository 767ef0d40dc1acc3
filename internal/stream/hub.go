// Package stream provides per-instrument distribution of decoded ticks.
package stream

import (
	"context"
	"sync"
	"time"

	"kitefeed/internal/models"
	"kitefeed/internal/ticker"
)

// allTokens subscribes a consumer to every instrument.
const allTokens uint32 = 0

// HubConfig holds configuration for the tick hub.
type HubConfig struct {
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		SubscriberBufferSize: 100,
	}
}

// Hub fans decoded ticks out to per-instrument subscribers. Sends to
// subscribers are non-blocking; a slow consumer loses ticks instead of
// stalling the feed.
type Hub struct {
	config HubConfig

	mu          sync.RWMutex
	subscribers map[uint32][]*Subscriber

	metricsMu      sync.RWMutex
	ticksReceived  uint64
	ticksBroadcast uint64
	ticksDropped   uint64
}

// Subscriber represents a channel subscriber with metadata.
type Subscriber struct {
	Token        uint32
	Channel      chan models.Tick
	DroppedCount int
	CreatedAt    time.Time
}

// NewHub creates a new tick hub with default configuration.
func NewHub() *Hub {
	return NewHubWithConfig(DefaultHubConfig())
}

// NewHubWithConfig creates a new tick hub with custom configuration.
func NewHubWithConfig(config HubConfig) *Hub {
	return &Hub{
		config:      config,
		subscribers: make(map[uint32][]*Subscriber),
	}
}

// Run consumes the event stream and dispatches ticks until the stream
// closes or the context is cancelled. All subscriber channels are
// closed on return.
func (h *Hub) Run(ctx context.Context, events *ticker.EventStream) {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events.Events():
			if !ok {
				return
			}
			if ev.Type != ticker.EventTick || ev.Tick == nil {
				continue
			}
			h.dispatch(*ev.Tick)
		}
	}
}

// Subscribe returns a channel receiving ticks for one instrument.
func (h *Hub) Subscribe(token uint32) <-chan models.Tick {
	return h.subscribe(token)
}

// SubscribeAll returns a channel receiving every tick.
func (h *Hub) SubscribeAll() <-chan models.Tick {
	return h.subscribe(allTokens)
}

func (h *Hub) subscribe(token uint32) <-chan models.Tick {
	sub := &Subscriber{
		Token:     token,
		Channel:   make(chan models.Tick, h.config.SubscriberBufferSize),
		CreatedAt: time.Now(),
	}

	h.mu.Lock()
	h.subscribers[token] = append(h.subscribers[token], sub)
	h.mu.Unlock()

	return sub.Channel
}

// Unsubscribe removes a subscriber channel for an instrument.
func (h *Hub) Unsubscribe(token uint32, ch <-chan models.Tick) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[token]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[token] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[token]) == 0 {
		delete(h.subscribers, token)
	}
}

// dispatch sends a tick to the instrument's subscribers and to the
// subscribe-all group, without blocking on slow consumers.
func (h *Hub) dispatch(tick models.Tick) {
	h.metricsMu.Lock()
	h.ticksReceived++
	h.metricsMu.Unlock()

	h.mu.RLock()
	subs := append([]*Subscriber(nil), h.subscribers[tick.InstrumentToken]...)
	subs = append(subs, h.subscribers[allTokens]...)
	h.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.Channel <- tick:
			h.metricsMu.Lock()
			h.ticksBroadcast++
			h.metricsMu.Unlock()
		default:
			sub.DroppedCount++
			h.metricsMu.Lock()
			h.ticksDropped++
			h.metricsMu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for token, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, token)
	}
}

// SubscriberCount returns the number of subscribers for an instrument.
func (h *Hub) SubscriberCount(token uint32) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[token])
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	TicksReceived  uint64
	TicksBroadcast uint64
	TicksDropped   uint64
}

// Metrics returns hub counters.
func (h *Hub) Metrics() HubMetrics {
	h.metricsMu.RLock()
	defer h.metricsMu.RUnlock()
	return HubMetrics{
		TicksReceived:  h.ticksReceived,
		TicksBroadcast: h.ticksBroadcast,
		TicksDropped:   h.ticksDropped,
	}
}
