package parley

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test doubles
// ============================================================================

type emitted struct {
	Event   string
	Payload any
}

// fakeSocket is an in-process Socket. deliver pushes an inbound envelope
// through the registered handlers synchronously, like the real read loop.
type fakeSocket struct {
	mu        sync.Mutex
	connected bool
	dialErr   error
	emits     []emitted

	onEvent        []func(Envelope)
	onConnect      []func()
	onConnectError []func(error)
	onDisconnect   []func(string)
}

func (f *fakeSocket) Connect(ctx context.Context) error {
	f.mu.Lock()
	err := f.dialErr
	f.mu.Unlock()
	if err != nil {
		for _, h := range f.onConnectError {
			h(err)
		}
		return err
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	for _, h := range f.onConnect {
		h()
	}
	return nil
}

func (f *fakeSocket) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	for _, h := range f.onDisconnect {
		h("client disconnect")
	}
	return nil
}

func (f *fakeSocket) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSocket) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	f.emits = append(f.emits, emitted{Event: event, Payload: payload})
	return nil
}

func (f *fakeSocket) OnEvent(h func(Envelope))      { f.onEvent = append(f.onEvent, h) }
func (f *fakeSocket) OnConnect(h func())            { f.onConnect = append(f.onConnect, h) }
func (f *fakeSocket) OnConnectError(h func(error))  { f.onConnectError = append(f.onConnectError, h) }
func (f *fakeSocket) OnDisconnect(h func(string))   { f.onDisconnect = append(f.onDisconnect, h) }

// deliver routes one inbound event through the session handlers.
func (f *fakeSocket) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", event, err)
	}
	env := Envelope{Event: event, Payload: data}
	for _, h := range f.onEvent {
		h(env)
	}
}

// dropConnection simulates an unexpected transport loss.
func (f *fakeSocket) dropConnection(reason string) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	for _, h := range f.onDisconnect {
		h(reason)
	}
}

// events returns the emitted event names in order.
func (f *fakeSocket) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.emits))
	for i, e := range f.emits {
		names[i] = e.Event
	}
	return names
}

func (f *fakeSocket) lastEmit() (emitted, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.emits) == 0 {
		return emitted{}, false
	}
	return f.emits[len(f.emits)-1], true
}

// ── Renderer ─────────────────────────────────────────────

type fakeItem struct {
	mu        sync.Mutex
	msg       Message
	seenBy    []string
	dismissed bool
	released  bool
}

func (i *fakeItem) SetSeenBy(users []string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seenBy = users
}

func (i *fakeItem) Dismiss(time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.dismissed = true
}

func (i *fakeItem) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.released = true
}

func (i *fakeItem) isDismissed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dismissed
}

type fakeRenderer struct {
	mu      sync.Mutex
	items   []*fakeItem
	cleared int
}

func (r *fakeRenderer) Append(msg *Message) RenderedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	item := &fakeItem{msg: *msg}
	r.items = append(r.items, item)
	return item
}

func (r *fakeRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = nil
	r.cleared++
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

func (r *fakeRenderer) at(i int) *fakeItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[i]
}

func (r *fakeRenderer) last() *fakeItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items[len(r.items)-1]
}

// ── Status view ──────────────────────────────────────────

type fakeStatus struct {
	mu       sync.Mutex
	status   string
	identity string
	typing   string
}

func (s *fakeStatus) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

func (s *fakeStatus) SetIdentity(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = username
}

func (s *fakeStatus) SetTypingIndicator(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = text
}

func (s *fakeStatus) typingText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// ── Recorder ─────────────────────────────────────────────

type fakeRecorder struct {
	startErr error
	stopErr  error
	data     []byte
	started  int
	stopped  int
}

func (r *fakeRecorder) Start(ctx context.Context) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.started++
	return nil
}

func (r *fakeRecorder) Stop() ([]byte, error) {
	r.stopped++
	if r.stopErr != nil {
		return nil, r.stopErr
	}
	return r.data, nil
}

// ── Session factory ──────────────────────────────────────

type testHarness struct {
	session  *Session
	sock     *fakeSocket
	renderer *fakeRenderer
	status   *fakeStatus
	recorder *fakeRecorder
	kv       *MemoryKV
	errs     *[]error
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	sock := &fakeSocket{}
	renderer := &fakeRenderer{}
	status := &fakeStatus{}
	recorder := &fakeRecorder{data: []byte("opus frames")}
	kv := NewMemoryKV()
	errs := &[]error{}

	s := NewSession(
		WithSocket(sock),
		WithRenderer(renderer),
		WithStatusView(status),
		WithRecorder(recorder),
		WithKV(kv),
		WithErrorHandler(func(err error) { *errs = append(*errs, err) }),
	)
	return &testHarness{
		session:  s,
		sock:     sock,
		renderer: renderer,
		status:   status,
		recorder: recorder,
		kv:       kv,
		errs:     errs,
	}
}

// register connects the harness session as the given user.
func (h *testHarness) register(t *testing.T, username string) {
	t.Helper()
	if err := h.session.Register(context.Background(), username); err != nil {
		t.Fatalf("Register(%q): %v", username, err)
	}
}

// records returns the persisted log, failing the test on storage errors.
func (h *testHarness) records(t *testing.T) []*Record {
	t.Helper()
	recs, err := h.session.store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	return recs
}

var errDeviceBusy = errors.New("device busy")
