package parley

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ErrNotConnected is returned when an outbound action requires a live
// connection and none is present. The action is dropped, never retried.
var ErrNotConnected = errors.New("not connected to server")

// ============================================================================
// Connection state
// ============================================================================

// ConnState is the connection's lifecycle state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateErrored      ConnState = "errored"
)

// ============================================================================
// Socket abstraction
// ============================================================================

// Socket is the transport the session speaks through: connect/disconnect
// lifecycle plus named event emit/receive over one bidirectional channel.
// Implementations must invoke OnEvent handlers in arrival order.
type Socket interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Connected() bool
	Emit(event string, payload any) error
	OnEvent(h func(Envelope))
	OnConnect(h func())
	OnConnectError(h func(error))
	OnDisconnect(h func(reason string))
}

// ── Dispatcher ───────────────────────────────────────────

type socketDispatcher struct {
	mu             sync.RWMutex
	onEvent        []func(Envelope)
	onConnect      []func()
	onConnectError []func(error)
	onDisconnect   []func(string)
}

// dispatchEvent runs handlers synchronously on the caller's goroutine:
// arrival order is the transcript order, so events must not be raced
// through separate goroutines.
func (d *socketDispatcher) dispatchEvent(env Envelope) {
	d.mu.RLock()
	handlers := append([]func(Envelope){}, d.onEvent...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (d *socketDispatcher) emitConnect() {
	d.mu.RLock()
	handlers := append([]func(){}, d.onConnect...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h()
	}
}

func (d *socketDispatcher) emitConnectError(err error) {
	d.mu.RLock()
	handlers := append([]func(error){}, d.onConnectError...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(err)
	}
}

func (d *socketDispatcher) emitDisconnect(reason string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onDisconnect...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(reason)
	}
}

// ── Reconnector ──────────────────────────────────────────

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(cfg *SocketConfig) *reconnector {
	return &reconnector{
		baseDelay:   cfg.ReconnectBaseDelay,
		maxDelay:    cfg.ReconnectMaxDelay,
		maxAttempts: cfg.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// WSSocket
// ============================================================================

// SocketConfig configures a websocket transport.
type SocketConfig struct {
	URL                  string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxMessageSize       int64
}

func (c *SocketConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.MaxMessageSize == 0 {
		// Base64 image and voice payloads ride in single frames.
		c.MaxMessageSize = 16 << 20
	}
}

// WSSocket is the websocket implementation of Socket, with library-driven
// reconnect: exponential backoff with jitter, capped attempts, counter
// reset after a minute of stable connection.
type WSSocket struct {
	config           *SocketConfig
	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	cancelFn         context.CancelFunc
	dispatcher       *socketDispatcher
	recon            *reconnector
}

// NewWSSocket creates a websocket transport. Call Connect to dial.
func NewWSSocket(config *SocketConfig) *WSSocket {
	cfg := *config
	cfg.defaults()
	return &WSSocket{
		config:     &cfg,
		state:      StateDisconnected,
		dispatcher: &socketDispatcher{},
		recon:      newReconnector(&cfg),
	}
}

// OnEvent registers a handler for inbound envelopes.
func (ws *WSSocket) OnEvent(h func(Envelope)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onEvent = append(ws.dispatcher.onEvent, h)
	ws.dispatcher.mu.Unlock()
}

// OnConnect registers a handler for the connected transition.
func (ws *WSSocket) OnConnect(h func()) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onConnect = append(ws.dispatcher.onConnect, h)
	ws.dispatcher.mu.Unlock()
}

// OnConnectError registers a handler for failed connection attempts.
func (ws *WSSocket) OnConnectError(h func(error)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onConnectError = append(ws.dispatcher.onConnectError, h)
	ws.dispatcher.mu.Unlock()
}

// OnDisconnect registers a handler for the disconnected transition.
func (ws *WSSocket) OnDisconnect(h func(string)) {
	ws.dispatcher.mu.Lock()
	ws.dispatcher.onDisconnect = append(ws.dispatcher.onDisconnect, h)
	ws.dispatcher.mu.Unlock()
}

// State returns the current connection state.
func (ws *WSSocket) State() ConnState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Connected reports whether the socket is live.
func (ws *WSSocket) Connected() bool {
	return ws.State() == StateConnected
}

// Connect dials the configured URL and starts the read loop.
func (ws *WSSocket) Connect(ctx context.Context) error {
	ws.mu.Lock()
	if ws.state == StateConnected || ws.state == StateConnecting {
		ws.mu.Unlock()
		return nil
	}
	ws.state = StateConnecting
	ws.intentionalClose = false
	ws.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, ws.config.URL, nil)
	if err != nil {
		ws.mu.Lock()
		ws.state = StateErrored
		ws.mu.Unlock()
		ws.dispatcher.emitConnectError(err)
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(ws.config.MaxMessageSize)

	connCtx, cancel := context.WithCancel(context.Background())
	ws.mu.Lock()
	ws.conn = conn
	ws.state = StateConnected
	ws.cancelFn = cancel
	ws.mu.Unlock()
	ws.recon.markConnected()

	ws.dispatcher.emitConnect()
	go ws.readLoop(connCtx, conn)
	return nil
}

// Disconnect closes the connection and suppresses reconnect.
func (ws *WSSocket) Disconnect() error {
	ws.mu.Lock()
	ws.intentionalClose = true
	if ws.cancelFn != nil {
		ws.cancelFn()
		ws.cancelFn = nil
	}
	conn := ws.conn
	ws.conn = nil
	ws.state = StateDisconnected
	ws.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	ws.dispatcher.emitDisconnect("client disconnect")
	return err
}

// Emit sends one named event. Fire-and-forget: no acknowledgment is
// awaited at the protocol level.
func (ws *WSSocket) Emit(event string, payload any) error {
	env, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	ws.mu.Lock()
	conn := ws.conn
	ws.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", event, err)
	}
	return conn.Write(context.Background(), websocket.MessageText, data)
}

func (ws *WSSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			ws.mu.Lock()
			intentional := ws.intentionalClose
			ws.mu.Unlock()
			if intentional {
				return
			}

			ws.mu.Lock()
			ws.state = StateDisconnected
			ws.conn = nil
			ws.mu.Unlock()

			ws.dispatcher.emitDisconnect(err.Error())

			if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
				ws.scheduleReconnect(ctx)
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		ws.dispatcher.dispatchEvent(env)
	}
}

func (ws *WSSocket) scheduleReconnect(ctx context.Context) {
	// State stays Disconnected (or Errored) until the next dial flips it;
	// Connect treats Connecting as in-progress and would refuse otherwise.
	time.Sleep(ws.recon.nextDelay())

	// Disconnect during the backoff window wins over the retry.
	ws.mu.Lock()
	intentional := ws.intentionalClose
	ws.mu.Unlock()
	if intentional {
		return
	}

	if err := ws.Connect(ctx); err != nil {
		if ws.config.AutoReconnect && ws.recon.shouldReconnect() {
			ws.scheduleReconnect(ctx)
		} else {
			ws.mu.Lock()
			ws.state = StateDisconnected
			ws.mu.Unlock()
		}
	}
}
