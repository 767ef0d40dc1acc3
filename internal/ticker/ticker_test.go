package ticker

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	feederrors "kitefeed/internal/errors"
	"kitefeed/internal/models"
)

func testConfig(wsURL string) Config {
	cfg := DefaultConfig("test_key", "test_token")
	cfg.URL = wsURL
	cfg.AutoReconnect = false
	cfg.ConnectTimeout = 2 * time.Second
	return cfg
}

// newTestServer runs an in-process quote server; the handler is invoked
// once per accepted connection.
func newTestServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitEvent(t *testing.T, s *EventStream, typ EventType) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestNewValidation(t *testing.T) {
	logger := zerolog.Nop()

	if _, _, err := New(Config{AccessToken: "t"}, logger); !feederrors.Is(err, feederrors.ErrConfigInvalid) {
		t.Errorf("empty api key: err = %v, want ErrConfigInvalid", err)
	}
	if _, _, err := New(Config{APIKey: "k"}, logger); !feederrors.Is(err, feederrors.ErrConfigInvalid) {
		t.Errorf("empty access token: err = %v, want ErrConfigInvalid", err)
	}

	cfg := DefaultConfig("k", "t")
	cfg.ReconnectMaxDelay = time.Second
	if _, _, err := New(cfg, logger); !feederrors.Is(err, feederrors.ErrConfigInvalid) {
		t.Errorf("sub-floor max delay: err = %v, want ErrConfigInvalid", err)
	}

	if _, _, err := New(DefaultConfig("k", "t"), logger); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	tk, _, err := New(Config{APIKey: "k", AccessToken: "t"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tk.cfg.URL != defaultURL {
		t.Errorf("URL = %q, want %q", tk.cfg.URL, defaultURL)
	}
	if tk.cfg.ReconnectMaxAttempts != defaultReconnectMaxAttempts {
		t.Errorf("ReconnectMaxAttempts = %d, want %d", tk.cfg.ReconnectMaxAttempts, defaultReconnectMaxAttempts)
	}
	if tk.cfg.ReconnectMaxDelay != defaultReconnectMaxDelay {
		t.Errorf("ReconnectMaxDelay = %s, want %s", tk.cfg.ReconnectMaxDelay, defaultReconnectMaxDelay)
	}
	if tk.cfg.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("ConnectTimeout = %s, want %s", tk.cfg.ConnectTimeout, defaultConnectTimeout)
	}
}

func TestSetModeRejectsUnknownMode(t *testing.T) {
	_, handle, err := New(DefaultConfig("k", "t"), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := handle.SetMode(models.Mode("depth"), []uint32{1}); !feederrors.Is(err, feederrors.ErrConfigInvalid) {
		t.Errorf("SetMode(depth) = %v, want ErrConfigInvalid", err)
	}
}

func TestBackoffDelay(t *testing.T) {
	maxDelay := 60 * time.Second

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{10, 60 * time.Second},
		{300, 60 * time.Second},
	}
	for _, tt := range tests {
		got := backoffDelay(time.Second, tt.attempt, maxDelay)
		if got != tt.want {
			t.Errorf("backoffDelay(1s, %d, 60s) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestConnectionURLCarriesCredentials(t *testing.T) {
	tk, _, err := New(DefaultConfig("my_key", "my_token"), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := tk.connectionURL()
	if err != nil {
		t.Fatalf("connectionURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := u.Query().Get("api_key"); got != "my_key" {
		t.Errorf("api_key = %q", got)
	}
	if got := u.Query().Get("access_token"); got != "my_token" {
		t.Errorf("access_token = %q", got)
	}
}

func TestServeDeliversTicksAndClose(t *testing.T) {
	frame := []byte{
		0x00, 0x01, // 1 packet
		0x00, 0x08, // 8 bytes
		0x00, 0x06, 0x3a, 0x01, // token 408065
		0x00, 0x02, 0x66, 0x83, // price 1573.15
	}

	wsURL := newTestServer(t, func(conn *websocket.Conn) {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.ReadMessage() // wait for the peer to go away
	})

	tk, handle, err := New(testConfig(wsURL), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := handle.SubscribeEvents()

	serveErr := make(chan error, 1)
	go func() { serveErr <- tk.Serve(context.Background()) }()

	waitEvent(t, events, EventConnect)

	tickEv := waitEvent(t, events, EventTick)
	if tickEv.Tick == nil {
		t.Fatal("tick event carries no tick")
	}
	if tickEv.Tick.InstrumentToken != 408065 || tickEv.Tick.LastPrice != 1573.15 {
		t.Errorf("tick = token %d price %v", tickEv.Tick.InstrumentToken, tickEv.Tick.LastPrice)
	}

	closeEv := waitEvent(t, events, EventClose)
	if closeEv.Code != websocket.CloseNormalClosure || closeEv.Reason != "bye" {
		t.Errorf("close event = %d %q", closeEv.Code, closeEv.Reason)
	}

	err = <-serveErr
	if _, ok := err.(*closeError); !ok {
		t.Errorf("Serve returned %v (%T), want close error", err, err)
	}
}

func TestServeForwardsTextMessages(t *testing.T) {
	wsURL := newTestServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","data":"session expired"}`))
		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"order","data":{"order_id":"151220000000000","status":"COMPLETE","tradingsymbol":"INFY"}}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.ReadMessage()
	})

	tk, handle, err := New(testConfig(wsURL), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := handle.SubscribeEvents()

	serveErr := make(chan error, 1)
	go func() { serveErr <- tk.Serve(context.Background()) }()

	errEv := waitEvent(t, events, EventError)
	if errEv.Err != "session expired" {
		t.Errorf("error event = %q, want %q", errEv.Err, "session expired")
	}

	orderEv := waitEvent(t, events, EventOrderUpdate)
	if orderEv.Order == nil {
		t.Fatal("order event carries no order")
	}
	if orderEv.Order.OrderID != "151220000000000" || orderEv.Order.Status != "COMPLETE" {
		t.Errorf("order = %+v", orderEv.Order)
	}

	<-serveErr
}

func TestServeSendsSubscribeCommands(t *testing.T) {
	received := make(chan string, 4)

	wsURL := newTestServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- string(data)
		}
	})

	tk, handle, err := New(testConfig(wsURL), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := handle.SubscribeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- tk.Serve(ctx) }()

	waitEvent(t, events, EventConnect)

	if err := handle.Subscribe([]uint32{408065}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := handle.SetMode(models.ModeFull, []uint32{408065}); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	want := []string{
		`{"a":"subscribe","v":[408065]}`,
		`{"a":"mode","v":["full",[408065]]}`,
	}
	for _, w := range want {
		select {
		case got := <-received:
			if got != w {
				t.Errorf("server received %s, want %s", got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("server never received %s", w)
		}
	}

	if got := handle.SubscribedTokens(); len(got) != 1 || got[0] != 408065 {
		t.Errorf("SubscribedTokens = %v, want [408065]", got)
	}

	cancel()
	<-serveErr
}

func TestServeReplaysSubscriptionsOnReconnect(t *testing.T) {
	var conns atomic.Int32
	replayed := make(chan string, 4)

	wsURL := newTestServer(t, func(conn *websocket.Conn) {
		n := conns.Add(1)
		if n == 1 {
			// Swallow the initial commands, then drop the connection.
			conn.ReadMessage()
			conn.ReadMessage()
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			replayed <- string(data)
		}
	})

	cfg := testConfig(wsURL)
	cfg.AutoReconnect = true
	cfg.ReconnectMaxAttempts = 5

	tk, handle, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tk.baseDelay = time.Millisecond
	events := handle.SubscribeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- tk.Serve(ctx) }()

	waitEvent(t, events, EventConnect)
	if err := handle.Subscribe([]uint32{408065}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := handle.SetMode(models.ModeFull, []uint32{5633}); err != nil {
		t.Fatalf("SetMode: %v", err)
	}

	waitEvent(t, events, EventReconnect)
	waitEvent(t, events, EventConnect)

	// Replay restores the whole table: one subscribe over every token,
	// then the explicit modes.
	want := []string{
		`{"a":"subscribe","v":[5633,408065]}`,
		`{"a":"mode","v":["full",[5633]]}`,
	}
	for _, w := range want {
		select {
		case got := <-replayed:
			if got != w {
				t.Errorf("replayed %s, want %s", got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("replay never sent %s", w)
		}
	}

	cancel()
	<-serveErr
}

func TestServeExhaustsRetryBudget(t *testing.T) {
	// A listener that is already closed gives a guaranteed dial failure.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig("ws://" + addr)
	cfg.AutoReconnect = true
	cfg.ReconnectMaxAttempts = 2
	cfg.ConnectTimeout = 500 * time.Millisecond

	tk, handle, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tk.baseDelay = time.Millisecond
	events := handle.SubscribeEvents()

	err = tk.Serve(context.Background())
	if !feederrors.Is(err, feederrors.ErrReconnectExhausted) {
		t.Fatalf("Serve = %v, want ErrReconnectExhausted", err)
	}

	var reconnects, noReconnects int
	for ev := range events.Events() {
		switch ev.Type {
		case EventReconnect:
			reconnects++
		case EventNoReconnect:
			noReconnects++
		}
	}
	if reconnects != 2 {
		t.Errorf("reconnect events = %d, want 2", reconnects)
	}
	if noReconnects != 1 {
		t.Errorf("no_reconnect events = %d, want exactly 1", noReconnects)
	}

	if err := handle.Subscribe([]uint32{1}); !feederrors.Is(err, feederrors.ErrTickerClosed) {
		t.Errorf("Subscribe after shutdown = %v, want ErrTickerClosed", err)
	}
}

func TestServeStopsOnFailureWithoutAutoReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cfg := testConfig("ws://" + addr)
	cfg.ConnectTimeout = 500 * time.Millisecond

	tk, _, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var cerr *feederrors.ConnectionError
	if err := tk.Serve(context.Background()); !feederrors.As(err, &cerr) {
		t.Errorf("Serve = %v (%T), want *ConnectionError", err, err)
	}
}

func TestWatchdogDetectsDataTimeout(t *testing.T) {
	wsURL := newTestServer(t, func(conn *websocket.Conn) {
		// Say nothing; the watchdog has to notice.
		conn.ReadMessage()
	})

	cfg := testConfig(wsURL)
	cfg.AutoReconnect = true
	cfg.ReconnectMaxAttempts = 5

	tk, handle, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tk.baseDelay = time.Millisecond
	tk.checkInterval = 5 * time.Millisecond
	tk.dataTimeout = 25 * time.Millisecond
	events := handle.SubscribeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveErr := make(chan error, 1)
	go func() { serveErr <- tk.Serve(ctx) }()

	waitEvent(t, events, EventConnect)

	errEv := waitEvent(t, events, EventError)
	if !strings.Contains(errEv.Err, "data timeout") {
		t.Errorf("error event = %q, want data timeout", errEv.Err)
	}

	waitEvent(t, events, EventReconnect)

	cancel()
	if err := <-serveErr; err != context.Canceled {
		t.Errorf("Serve = %v, want context.Canceled", err)
	}
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	wsURL := newTestServer(t, func(conn *websocket.Conn) {
		conn.ReadMessage()
	})

	tk, handle, err := New(testConfig(wsURL), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	events := handle.SubscribeEvents()

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- tk.Serve(ctx) }()

	waitEvent(t, events, EventConnect)
	cancel()

	select {
	case err := <-serveErr:
		if err != context.Canceled {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
