package parley

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// ErrUsernameTooShort is returned by Register for names under three
// characters after trimming.
var ErrUsernameTooShort = errors.New("username must be at least 3 characters")

// ============================================================================
// Session
// ============================================================================

// Session owns the client-side conversation state: the durable log, the
// typing set, the transcript view, and the connection lifecycle. One mutex
// serializes every handler and user action, so each event is processed to
// completion before the next begins.
type Session struct {
	mu sync.Mutex

	username string
	state    ConnState
	wired    bool

	sock       Socket
	kv         KV
	store      *LogStore
	presence   *PresenceTracker
	transcript *Transcript
	composer   *Composer
	renderer   Renderer
	status     StatusView
	errHandler func(error)

	noticeDismiss time.Duration
	noticeFade    time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSocket sets the transport. Required for any live connectivity.
func WithSocket(sock Socket) SessionOption {
	return func(s *Session) { s.sock = sock }
}

// WithKV sets the persistence backend. Defaults to in-memory.
func WithKV(kv KV) SessionOption {
	return func(s *Session) { s.kv = kv }
}

// WithRenderer sets the transcript view.
func WithRenderer(r Renderer) SessionOption {
	return func(s *Session) { s.renderer = r }
}

// WithStatusView sets the status/identity/typing-indicator view.
func WithStatusView(v StatusView) SessionOption {
	return func(s *Session) { s.status = v }
}

// WithRecorder sets the audio capture backend used for voice messages.
func WithRecorder(rec Recorder) SessionOption {
	return func(s *Session) {
		s.composer = newComposer(s, rec)
	}
}

// WithErrorHandler sets the sink for background errors (storage failures,
// malformed inbound events). Defaults to discarding them.
func WithErrorHandler(h func(error)) SessionOption {
	return func(s *Session) { s.errHandler = h }
}

// NewSession creates a session. Without options it is fully inert: no
// transport, in-memory storage, no-op views.
func NewSession(opts ...SessionOption) *Session {
	s := &Session{
		kv:            NewMemoryKV(),
		renderer:      nopRenderer{},
		status:        nopStatusView{},
		state:         StateDisconnected,
		noticeDismiss: 3 * time.Second,
		noticeFade:    500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store = NewLogStore(s.kv)
	s.presence = NewPresenceTracker("")
	s.transcript = newTranscript(s)
	if s.composer == nil {
		s.composer = newComposer(s, nil)
	}
	return s
}

// ── Lifecycle ────────────────────────────────────────────

// Register validates and adopts the username, replays persisted history,
// announces the identity to the server, and connects. History replay
// happens before the dial so the transcript is populated even when the
// server is unreachable.
func (s *Session) Register(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	if utf8.RuneCountInString(username) < 3 {
		return ErrUsernameTooShort
	}

	s.mu.Lock()
	s.username = username
	s.presence.self = username
	s.status.SetIdentity(username)
	if err := StoreUsername(s.kv, username); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.transcript.load(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.wireSocket()
	sock := s.sock
	s.mu.Unlock()

	if sock == nil {
		return nil
	}
	return sock.Connect(ctx)
}

// Resume re-registers under the persisted username from a previous
// session. Returns false when nothing usable is stored; a stored name
// too short to register counts as nothing stored.
func (s *Session) Resume(ctx context.Context) (bool, error) {
	stored := strings.TrimSpace(StoredUsername(s.kv))
	if utf8.RuneCountInString(stored) < 3 {
		return false, nil
	}
	return true, s.Register(ctx, stored)
}

// Logout tears the session down: capture and timers first, a farewell to
// the typing set if connected, then disconnect and identity cleanup. The
// persisted chat log is left intact.
func (s *Session) Logout() error {
	s.composer.shutdown()

	s.mu.Lock()
	username := s.username
	connected := s.state == StateConnected
	sock := s.sock
	s.mu.Unlock()

	if connected && sock != nil {
		_ = sock.Emit(EventStopTyping, TypingPayload{Username: username})
	}
	var err error
	if sock != nil {
		err = sock.Disconnect()
	}

	s.mu.Lock()
	s.transcript.releaseAudio()
	if rmErr := ClearStoredUsername(s.kv); rmErr != nil && err == nil {
		err = rmErr
	}
	s.status.SetIdentity("")
	s.transcript.systemNotice("You have logged out.", SystemDisconnected, true)
	s.username = ""
	s.presence.self = ""
	s.mu.Unlock()
	return err
}

// ClearChat wipes the transcript and the durable log, leaving a single
// record of the action.
func (s *Session) ClearChat() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.reset()
}

// ── Connection handlers ──────────────────────────────────

// wireSocket attaches the session's handlers to the transport exactly
// once, under s.mu.
func (s *Session) wireSocket() {
	if s.sock == nil || s.wired {
		return
	}
	s.wired = true
	s.sock.OnConnect(s.handleConnect)
	s.sock.OnConnectError(s.handleConnectError)
	s.sock.OnDisconnect(s.handleDisconnect)
	s.sock.OnEvent(s.handleEnvelope)
}

func (s *Session) handleConnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	s.presence.Reset()
	s.refreshTypingLocked()
	s.emitLocked(EventJoin, s.username)
	s.transcript.systemNotice("Connected to chat!", SystemConnected, true)
	s.status.SetStatus("Online")
}

func (s *Session) handleConnectError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateErrored
	s.transcript.systemNotice("Failed to connect to server: "+err.Error(), SystemDisconnected, true)
	s.status.SetStatus("Offline")
}

func (s *Session) handleDisconnect(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	s.transcript.systemNotice("Disconnected from chat.", SystemDisconnected, true)
	s.status.SetStatus("Offline")
	s.status.SetIdentity("")
}

// handleEnvelope routes one inbound event. Runs on the transport's read
// goroutine; taking s.mu here is what serializes the whole session.
func (s *Session) handleEnvelope(env Envelope) {
	ev, err := DecodeInbound(env)
	if err != nil {
		s.reportError(err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Event {
	case EventTyping:
		s.presence.MarkTyping(ev.Typing.Username)
		s.refreshTypingLocked()
	case EventStopTyping:
		s.presence.ClearTyping(ev.Typing.Username)
		s.refreshTypingLocked()
	case EventMessage, EventImage, EventVoice:
		s.transcript.handleInbound(ev)
	case EventSeenUpdate:
		s.transcript.handleSeenUpdate(ev.SeenUpdate.MessageID, ev.SeenUpdate.SeenBy)
	}
}

// ── Composer surface ─────────────────────────────────────

// SendText sends a text message through the composer.
func (s *Session) SendText(text string) error {
	return s.composer.SendText(text)
}

// SendImage sends an image file through the composer.
func (s *Session) SendImage(data []byte, mimeType string) error {
	return s.composer.SendImage(data, mimeType)
}

// ToggleRecording starts or finalizes a voice recording.
func (s *Session) ToggleRecording(ctx context.Context) error {
	return s.composer.ToggleRecording(ctx)
}

// Recording reports whether a voice recording is in progress.
func (s *Session) Recording() bool {
	return s.composer.Recording()
}

// InputChanged reports a change of the compose input for typing-intent
// detection.
func (s *Session) InputChanged(text string) {
	s.composer.InputChanged(text)
}

// ── Accessors and helpers ────────────────────────────────

// Username returns the registered username, or empty.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// State returns the connection lifecycle state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TypingIndicator returns the current typing indicator text.
func (s *Session) TypingIndicator() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.Describe()
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateConnected
}

// emit sends an event without holding s.mu. Used from the composer,
// which runs outside the session lock.
func (s *Session) emit(event string, payload any) error {
	s.mu.Lock()
	sock := s.sock
	connected := s.state == StateConnected
	s.mu.Unlock()
	if sock == nil || !connected {
		return ErrNotConnected
	}
	return sock.Emit(event, payload)
}

// emitLocked sends an event from inside a handler already holding s.mu.
// Send failures here are background errors, not user-action errors.
func (s *Session) emitLocked(event string, payload any) {
	if s.sock == nil {
		return
	}
	if err := s.sock.Emit(event, payload); err != nil {
		s.reportError(err)
	}
}

// systemNotice renders (and optionally persists) a system notice from
// outside the session lock.
func (s *Session) systemNotice(text string, sub SystemSubtype, persist bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript.systemNotice(text, sub, persist)
}

func (s *Session) refreshTypingLocked() {
	s.status.SetTypingIndicator(s.presence.Describe())
}

func (s *Session) reportError(err error) {
	if s.errHandler != nil {
		s.errHandler(err)
	}
}
