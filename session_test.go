package parley

import (
	"context"
	"errors"
	"testing"
)

func TestRegister(t *testing.T) {
	t.Run("rejects short usernames", func(t *testing.T) {
		h := newTestHarness(t)
		for _, name := range []string{"", "ab", "  a  "} {
			err := h.session.Register(context.Background(), name)
			if !errors.Is(err, ErrUsernameTooShort) {
				t.Errorf("Register(%q) = %v, want ErrUsernameTooShort", name, err)
			}
		}
		if StoredUsername(h.kv) != "" {
			t.Error("rejected username was persisted")
		}
	})

	t.Run("length counts characters, not bytes", func(t *testing.T) {
		h := newTestHarness(t)
		// Two runes, six bytes.
		err := h.session.Register(context.Background(), "日本")
		if !errors.Is(err, ErrUsernameTooShort) {
			t.Errorf("Register(two-rune name) = %v, want ErrUsernameTooShort", err)
		}
		if err := h.session.Register(context.Background(), "日本語"); err != nil {
			t.Errorf("Register(three-rune name) = %v", err)
		}
	})

	t.Run("adopts identity and joins", func(t *testing.T) {
		h := newTestHarness(t)
		h.register(t, "  alice  ")

		if got := h.session.Username(); got != "alice" {
			t.Errorf("Username() = %q", got)
		}
		if StoredUsername(h.kv) != "alice" {
			t.Error("username not persisted for resume")
		}
		if h.status.identity != "alice" {
			t.Errorf("identity = %q", h.status.identity)
		}
		if h.status.status != "Online" {
			t.Errorf("status = %q", h.status.status)
		}
		if h.session.State() != StateConnected {
			t.Errorf("state = %s", h.session.State())
		}

		events := h.sock.events()
		if countEvents(events, EventJoin) != 1 {
			t.Fatalf("events = %v", events)
		}
		for _, e := range h.sock.emits {
			if e.Event == EventJoin && e.Payload != "alice" {
				t.Errorf("join payload = %v", e.Payload)
			}
		}
		if h.renderer.last().msg.Text != "Connected to chat!" {
			t.Errorf("last rendered = %q", h.renderer.last().msg.Text)
		}
	})

	t.Run("dial failure leaves a persisted notice", func(t *testing.T) {
		h := newTestHarness(t)
		h.sock.dialErr = errors.New("connection refused")

		if err := h.session.Register(context.Background(), "alice"); err == nil {
			t.Fatal("Register succeeded with a failing dial")
		}
		if h.session.State() != StateErrored {
			t.Errorf("state = %s", h.session.State())
		}
		if h.status.status != "Offline" {
			t.Errorf("status = %q", h.status.status)
		}
		want := "Failed to connect to server: connection refused"
		if h.renderer.last().msg.Text != want {
			t.Errorf("notice = %q", h.renderer.last().msg.Text)
		}
		found := false
		for _, rec := range h.records(t) {
			if rec.Type == "system" && rec.Message == want {
				found = true
			}
		}
		if !found {
			t.Error("connect failure notice was not persisted")
		}
	})
}

func TestResume(t *testing.T) {
	t.Run("without stored username", func(t *testing.T) {
		h := newTestHarness(t)
		ok, err := h.session.Resume(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("Resume reported success with nothing stored")
		}
	})

	t.Run("stored username too short to register", func(t *testing.T) {
		h := newTestHarness(t)
		if err := StoreUsername(h.kv, "ab"); err != nil {
			t.Fatal(err)
		}
		ok, err := h.session.Resume(context.Background())
		if err != nil {
			t.Fatalf("Resume = %v, want nil", err)
		}
		if ok {
			t.Error("Resume adopted a username too short to register")
		}
		if h.session.Username() != "" {
			t.Errorf("Username() = %q", h.session.Username())
		}
	})

	t.Run("with stored username", func(t *testing.T) {
		kv := NewMemoryKV()
		if err := StoreUsername(kv, "alice"); err != nil {
			t.Fatal(err)
		}

		sock := &fakeSocket{}
		s := NewSession(WithSocket(sock), WithKV(kv))
		ok, err := s.Resume(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !ok || s.Username() != "alice" {
			t.Errorf("Resume = %v, Username = %q", ok, s.Username())
		}
	})
}

func TestTypingIndicator(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, "alice")

	h.sock.deliver(t, EventTyping, TypingPayload{Username: "bob"})
	if got := h.status.typingText(); got != "bob is typing" {
		t.Errorf("indicator = %q", got)
	}

	h.sock.deliver(t, EventTyping, TypingPayload{Username: "carol"})
	if got := h.status.typingText(); got != "bob and carol are typing" {
		t.Errorf("indicator = %q", got)
	}

	h.sock.deliver(t, EventStopTyping, TypingPayload{Username: "bob"})
	if got := h.status.typingText(); got != "carol is typing" {
		t.Errorf("indicator = %q", got)
	}

	// A message from the last typist clears the indicator entirely.
	h.sock.deliver(t, EventMessage, MessagePayload{Username: "carol", Message: "done", ID: "m1"})
	if got := h.status.typingText(); got != "" {
		t.Errorf("indicator = %q after message", got)
	}
}

func TestReconnectResetsTypingSet(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, "alice")

	h.sock.deliver(t, EventTyping, TypingPayload{Username: "bob"})
	if got := h.status.typingText(); got == "" {
		t.Fatal("indicator empty before drop")
	}

	h.sock.dropConnection("read: connection reset")
	if h.session.State() != StateDisconnected {
		t.Errorf("state = %s after drop", h.session.State())
	}

	if err := h.sock.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.status.typingText(); got != "" {
		t.Errorf("indicator = %q after reconnect, want empty", got)
	}
	if countEvents(h.sock.events(), EventJoin) != 2 {
		t.Error("reconnect should re-announce the identity")
	}
}

func TestDisconnectNotice(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, "alice")

	h.sock.dropConnection("read: connection reset")

	if h.status.status != "Offline" {
		t.Errorf("status = %q", h.status.status)
	}
	if h.status.identity != "" {
		t.Errorf("identity = %q after disconnect", h.status.identity)
	}
	found := false
	for _, rec := range h.records(t) {
		if rec.Type == "system" && rec.Message == "Disconnected from chat." {
			found = true
			if rec.Subtype != string(SystemDisconnected) {
				t.Errorf("subtype = %q", rec.Subtype)
			}
		}
	}
	if !found {
		t.Error("disconnect notice was not persisted")
	}
}

func TestLogout(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, "alice")
	h.sock.deliver(t, EventMessage, MessagePayload{Username: "bob", Message: "hi", ID: "m1"})

	if err := h.session.Logout(); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if h.sock.Connected() {
		t.Error("socket still connected after logout")
	}
	if h.session.Username() != "" {
		t.Errorf("Username() = %q after logout", h.session.Username())
	}
	if StoredUsername(h.kv) != "" {
		t.Error("stored username survived logout")
	}
	if h.status.identity != "" {
		t.Errorf("identity = %q after logout", h.status.identity)
	}

	recs := h.records(t)
	if len(recs) == 0 || recs[len(recs)-1].Message != "You have logged out." {
		t.Fatalf("last record = %+v", recs[len(recs)-1])
	}

	// The chat log itself survives; only the identity is forgotten.
	found := false
	for _, rec := range recs {
		if rec.ID == "m1" {
			found = true
		}
	}
	if !found {
		t.Error("chat history was wiped by logout")
	}
}

func TestMalformedInboundIsRejected(t *testing.T) {
	h := newTestHarness(t)
	h.register(t, "alice")
	rendersBefore := h.renderer.count()

	h.sock.deliver(t, EventMessage, MessagePayload{Username: "", Message: "hi"})
	h.sock.deliver(t, "shrug", map[string]any{"x": 1})

	if h.renderer.count() != rendersBefore {
		t.Error("malformed event reached the transcript")
	}
	if len(*h.errs) != 2 {
		t.Errorf("error handler saw %d errors, want 2", len(*h.errs))
	}
}

func TestInertSessionWithoutTransport(t *testing.T) {
	s := NewSession()
	if err := s.Register(context.Background(), "alice"); err != nil {
		t.Fatalf("Register without a socket: %v", err)
	}
	if s.State() != StateDisconnected {
		t.Errorf("state = %s", s.State())
	}
	err := s.SendText("hello")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendText = %v, want ErrNotConnected", err)
	}
}
