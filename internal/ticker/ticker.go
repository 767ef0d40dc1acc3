// Package ticker implements the persistent WebSocket market data feed:
// a reconnecting connection manager, the binary tick decoder, a shared
// subscription table and a fan-out event bus.
package ticker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	feederrors "kitefeed/internal/errors"
	"kitefeed/internal/models"
)

// Defaults mirroring the production feed endpoint behavior.
const (
	defaultURL                  = "wss://ws.kite.trade"
	defaultReconnectMaxAttempts = 300
	defaultReconnectMaxDelay    = 60 * time.Second
	defaultConnectTimeout       = 7 * time.Second

	// reconnectMinDelay is the floor for the configured maximum delay.
	reconnectMinDelay = 5 * time.Second
	// reconnectBaseDelay is doubled per attempt up to the configured max.
	reconnectBaseDelay = time.Second

	connectionCheckInterval = 2 * time.Second
	dataTimeoutInterval     = 5 * time.Second

	eventBufferSize   = 1000
	commandBufferSize = 256
)

// Inbound text message types.
const (
	messageError = "error"
	messageOrder = "order"
)

// Config holds ticker construction options. Zero values for URL,
// ReconnectMaxAttempts, ReconnectMaxDelay and ConnectTimeout fall back
// to the defaults; AutoReconnect is taken literally, so start from
// DefaultConfig when reconnection is wanted.
type Config struct {
	APIKey      string
	AccessToken string

	URL                  string
	AutoReconnect        bool
	ReconnectMaxAttempts int
	ReconnectMaxDelay    time.Duration
	ConnectTimeout       time.Duration
}

// DefaultConfig returns a Config with production defaults and
// auto-reconnect enabled.
func DefaultConfig(apiKey, accessToken string) Config {
	return Config{
		APIKey:               apiKey,
		AccessToken:          accessToken,
		URL:                  defaultURL,
		AutoReconnect:        true,
		ReconnectMaxAttempts: defaultReconnectMaxAttempts,
		ReconnectMaxDelay:    defaultReconnectMaxDelay,
		ConnectTimeout:       defaultConnectTimeout,
	}
}

// Ticker owns the serve loop and everything shared across connection
// attempts: the subscription table, the command queue and the event
// bus. Create one with New, drive it with Serve, control it through
// the returned Handle.
type Ticker struct {
	cfg Config
	log zerolog.Logger

	subs *subscriptions
	bus  *eventBus
	cmds chan command

	// lastData is shared between the read loop and the watchdog.
	lastData atomicTime

	// Watchdog intervals and backoff base, overridable in tests.
	checkInterval time.Duration
	dataTimeout   time.Duration
	baseDelay     time.Duration

	done      chan struct{}
	closeOnce sync.Once
}

// Handle is the shared front door to a running ticker. It is cheap to
// copy and safe for concurrent use; it never touches the socket, it
// only enqueues commands and hands out event streams.
type Handle struct {
	t *Ticker
}

// New validates the configuration and creates a ticker along with its
// control handle. A ReconnectMaxDelay below the 5 second floor is
// rejected here, not at use time.
func New(cfg Config, logger zerolog.Logger) (*Ticker, Handle, error) {
	if cfg.APIKey == "" {
		return nil, Handle{}, feederrors.NewValidationError("APIKey", cfg.APIKey, "must not be empty")
	}
	if cfg.AccessToken == "" {
		return nil, Handle{}, feederrors.NewValidationError("AccessToken", "", "must not be empty")
	}

	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.ReconnectMaxAttempts == 0 {
		cfg.ReconnectMaxAttempts = defaultReconnectMaxAttempts
	}
	if cfg.ReconnectMaxDelay == 0 {
		cfg.ReconnectMaxDelay = defaultReconnectMaxDelay
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	if cfg.ReconnectMaxDelay < reconnectMinDelay {
		return nil, Handle{}, feederrors.NewValidationError(
			"ReconnectMaxDelay", cfg.ReconnectMaxDelay,
			fmt.Sprintf("must be at least %s", reconnectMinDelay))
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, Handle{}, feederrors.NewValidationError("URL", cfg.URL, err.Error())
	}

	t := &Ticker{
		cfg:           cfg,
		log:           logger.With().Str("component", "ticker").Logger(),
		subs:          newSubscriptions(),
		bus:           newEventBus(eventBufferSize),
		cmds:          make(chan command, commandBufferSize),
		checkInterval: connectionCheckInterval,
		dataTimeout:   dataTimeoutInterval,
		baseDelay:     reconnectBaseDelay,
		done:          make(chan struct{}),
	}
	return t, Handle{t: t}, nil
}

// Subscribe requests ticks for the given instrument tokens at the
// server's default level. It returns immediately; the command is
// applied by the active connection in submission order.
func (h Handle) Subscribe(tokens []uint32) error {
	return h.send(command{kind: commandSubscribe, tokens: tokens})
}

// Unsubscribe stops ticks for the given instrument tokens.
func (h Handle) Unsubscribe(tokens []uint32) error {
	return h.send(command{kind: commandUnsubscribe, tokens: tokens})
}

// SetMode changes the detail level for the given instrument tokens,
// subscribing them if they are not subscribed yet.
func (h Handle) SetMode(mode models.Mode, tokens []uint32) error {
	if !mode.Valid() {
		return feederrors.NewValidationError("mode", mode, "unknown mode")
	}
	return h.send(command{kind: commandSetMode, mode: mode, tokens: tokens})
}

// SubscribeEvents returns a fresh stream observing every event emitted
// from this moment onward. Past events are not replayed.
func (h Handle) SubscribeEvents() *EventStream {
	return h.t.bus.subscribe()
}

// SubscribedTokens returns the currently tracked instrument tokens.
func (h Handle) SubscribedTokens() []uint32 {
	return h.t.subs.tokens()
}

func (h Handle) send(cmd command) error {
	if len(cmd.tokens) == 0 {
		return nil
	}
	select {
	case <-h.t.done:
		return feederrors.ErrTickerClosed
	case h.t.cmds <- cmd:
		return nil
	}
}

// Serve runs the connect/run/backoff loop until the context is
// cancelled, the retry budget is exhausted, or a failure occurs with
// auto-reconnect disabled. It must be called at most once.
func (t *Ticker) Serve(ctx context.Context) error {
	defer t.shutdown()

	attempt := 0
	for {
		if attempt > t.cfg.ReconnectMaxAttempts {
			t.log.Error().Int("attempts", attempt).Msg("retry budget exhausted")
			t.bus.publish(Event{Type: EventNoReconnect, Attempt: attempt})
			return feederrors.ErrReconnectExhausted
		}

		if attempt > 0 {
			delay := backoffDelay(t.baseDelay, attempt, t.cfg.ReconnectMaxDelay)
			t.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
			t.bus.publish(Event{Type: EventReconnect, Attempt: attempt, Delay: delay})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := t.runOnce(ctx, attempt > 0)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			// Close frames were already surfaced as a close event.
			if _, closed := err.(*closeError); !closed {
				t.bus.publish(Event{Type: EventError, Err: err.Error()})
			}
			t.log.Warn().Err(err).Msg("connection ended")
			if !t.cfg.AutoReconnect {
				return err
			}
		}

		// A run phase that got past the dial spends no retry budget; only
		// consecutive dial failures count against it.
		var cerr *feederrors.ConnectionError
		if !feederrors.As(err, &cerr) {
			attempt = 0
		}
		attempt++
	}
}

// closeError marks a run phase ended by a close frame from the server.
type closeError struct {
	code   int
	reason string
}

func (e *closeError) Error() string {
	return fmt.Sprintf("connection closed by server: %d %s", e.code, e.reason)
}

// backoffDelay computes min(base * 2^attempt, maxDelay).
func backoffDelay(base time.Duration, attempt int, maxDelay time.Duration) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := base * time.Duration(uint64(1)<<uint(attempt))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// connectionURL builds the dial URL carrying identity and authorization
// as query parameters.
func (t *Ticker) connectionURL() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api_key", t.cfg.APIKey)
	q.Set("access_token", t.cfg.AccessToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runOnce performs one full connection attempt: dial, optional replay
// of the subscription table, then the run phase. It returns when the
// connection ends for any reason.
func (t *Ticker) runOnce(ctx context.Context, isReconnect bool) error {
	dialURL, err := t.connectionURL()
	if err != nil {
		return feederrors.NewConnectionError(t.cfg.URL, err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.ConnectTimeout,
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, t.cfg.ConnectTimeout)
	defer cancelDial()

	conn, resp, err := dialer.DialContext(dialCtx, dialURL, nil)
	if err != nil {
		// The dial URL carries credentials; log the configured one.
		return feederrors.NewConnectionError(t.cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	t.lastData.set(time.Now())
	t.log.Info().Bool("reconnect", isReconnect).Msg("connected")
	t.bus.publish(Event{Type: EventConnect})

	// Replay the subscription table on reconnects. Replay commands run
	// before anything queued while the connection was down.
	var replay []command
	if isReconnect {
		replay = t.subs.replayCommands()
		if len(replay) > 0 {
			t.log.Info().Int("tokens", t.subs.len()).Msg("replaying subscriptions")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Closing the socket unblocks a pending ReadMessage on cancel.
	go func() {
		<-runCtx.Done()
		conn.Close()
	}()

	errc := make(chan error, 3)
	var wg sync.WaitGroup

	wg.Add(2)
	go t.readLoop(runCtx, conn, errc, &wg)
	go t.commandLoop(runCtx, conn, replay, &wg)

	if t.cfg.AutoReconnect {
		wg.Add(1)
		go t.watchdog(runCtx, errc, &wg)
	}

	// The run phase ends when the first activity ends; the siblings are
	// then cancelled.
	err = <-errc
	cancel()
	wg.Wait()
	return err
}

// readLoop receives frames until the socket closes or errors. Binary
// frames are decoded into ticks, text frames into control events. Every
// inbound message refreshes the liveness timestamp.
func (t *Ticker) readLoop(ctx context.Context, conn *websocket.Conn, errc chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				errc <- ctx.Err()
				return
			}
			if ce, ok := err.(*websocket.CloseError); ok {
				t.bus.publish(Event{Type: EventClose, Code: ce.Code, Reason: ce.Text})
				errc <- &closeError{code: ce.Code, reason: ce.Text}
				return
			}
			errc <- feederrors.Wrap(err, "read failed")
			return
		}

		t.lastData.set(time.Now())
		t.bus.publish(Event{Type: EventMessage, Raw: data})

		switch msgType {
		case websocket.BinaryMessage:
			ticks, errs := ParseBinary(data)
			for _, perr := range errs {
				t.log.Debug().Err(perr).Msg("dropping sub-packet")
				t.bus.publish(Event{Type: EventError, Err: perr.Error()})
			}
			for i := range ticks {
				t.bus.publish(Event{Type: EventTick, Tick: &ticks[i]})
			}

		case websocket.TextMessage:
			t.handleTextMessage(data)
		}
	}
}

// incomingMessage is the envelope of inbound text messages.
type incomingMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (t *Ticker) handleTextMessage(data []byte) {
	var msg incomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.log.Debug().Err(err).Msg("unparseable text message")
		return
	}

	switch msg.Type {
	case messageError:
		var errMsg string
		if err := json.Unmarshal(msg.Data, &errMsg); err == nil {
			t.bus.publish(Event{Type: EventError, Err: errMsg})
		}
	case messageOrder:
		var order models.Order
		if err := json.Unmarshal(msg.Data, &order); err != nil {
			t.log.Debug().Err(err).Msg("unparseable order update")
			return
		}
		t.bus.publish(Event{Type: EventOrderUpdate, Order: &order})
	}
}

// commandLoop drains the command queue, updates the subscription table
// and writes the control message to the socket. Write failures become
// error events; the loop keeps processing until the run phase ends.
func (t *Ticker) commandLoop(ctx context.Context, conn *websocket.Conn, replay []command, wg *sync.WaitGroup) {
	defer wg.Done()

	for _, cmd := range replay {
		t.applyCommand(conn, cmd)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-t.cmds:
			t.applyCommand(conn, cmd)
		}
	}
}

// applyCommand updates the table first so state survives even when the
// socket write fails. No lock is held across the write.
func (t *Ticker) applyCommand(conn *websocket.Conn, cmd command) {
	t.subs.apply(cmd)

	if err := conn.WriteJSON(cmd.wireRequest()); err != nil {
		t.log.Warn().Err(err).Msg("command write failed")
		t.bus.publish(Event{Type: EventError, Err: fmt.Sprintf("failed to send message: %v", err)})
	}
}

// watchdog polls the liveness timestamp and ends the run phase when no
// data has arrived within the timeout window.
func (t *Ticker) watchdog(ctx context.Context, errc chan<- error, wg *sync.WaitGroup) {
	defer wg.Done()

	check := time.NewTicker(t.checkInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-check.C:
			elapsed := time.Since(t.lastData.get())
			if elapsed > t.dataTimeout {
				t.log.Warn().Dur("elapsed", elapsed).Msg("data timeout")
				t.bus.publish(Event{
					Type: EventError,
					Err:  fmt.Sprintf("data timeout: no data received for %s", t.dataTimeout),
				})
				errc <- feederrors.ErrDataTimeout
				return
			}
		}
	}
}

// shutdown marks the ticker closed and detaches all event streams.
func (t *Ticker) shutdown() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.bus.close()
	})
}

// atomicTime is a lock-free timestamp shared between the read loop and
// the watchdog.
type atomicTime struct {
	ns atomic.Int64
}

func (a *atomicTime) set(t time.Time) {
	a.ns.Store(t.UnixNano())
}

func (a *atomicTime) get() time.Time {
	v := a.ns.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}
