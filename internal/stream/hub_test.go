package stream

import (
	"testing"

	"kitefeed/internal/models"
)

func tick(token uint32, price float64) models.Tick {
	return models.Tick{InstrumentToken: token, LastPrice: price}
}

func TestHubDispatchRoutesByToken(t *testing.T) {
	h := NewHub()

	infy := h.Subscribe(408065)
	acc := h.Subscribe(5633)
	all := h.SubscribeAll()

	h.dispatch(tick(408065, 1573.15))

	got := <-infy
	if got.InstrumentToken != 408065 {
		t.Errorf("infy received token %d", got.InstrumentToken)
	}
	got = <-all
	if got.InstrumentToken != 408065 {
		t.Errorf("all received token %d", got.InstrumentToken)
	}
	if len(acc) != 0 {
		t.Errorf("acc received %d ticks, want 0", len(acc))
	}
}

func TestHubSlowConsumerDropsTicks(t *testing.T) {
	h := NewHubWithConfig(HubConfig{SubscriberBufferSize: 2})
	h.Subscribe(1)

	for i := 0; i < 5; i++ {
		h.dispatch(tick(1, float64(i)))
	}

	m := h.Metrics()
	if m.TicksReceived != 5 {
		t.Errorf("TicksReceived = %d, want 5", m.TicksReceived)
	}
	if m.TicksBroadcast != 2 {
		t.Errorf("TicksBroadcast = %d, want 2", m.TicksBroadcast)
	}
	if m.TicksDropped != 3 {
		t.Errorf("TicksDropped = %d, want 3", m.TicksDropped)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(1)

	if got := h.SubscriberCount(1); got != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", got)
	}

	h.Unsubscribe(1, ch)
	if got := h.SubscriberCount(1); got != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribe, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}

	// Dispatching afterwards must not panic.
	h.dispatch(tick(1, 1.0))
}

func TestHubCloseAll(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(1)
	b := h.SubscribeAll()

	h.closeAll()

	if _, ok := <-a; ok {
		t.Error("per-token channel open after closeAll")
	}
	if _, ok := <-b; ok {
		t.Error("all channel open after closeAll")
	}
}
