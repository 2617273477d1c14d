package parley

import (
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Transcript synchronizer
// ============================================================================

// Transcript is the reconciliation engine: it merges live inbound events
// and replay-on-load into one ordered view, persists what it renders, and
// drives seen acknowledgments. Ordering is strictly arrival order; replay
// runs once, before any live inbound is possible. Not self-locking: every
// method runs under the session mutex.
type Transcript struct {
	session  *Session
	rendered map[string]RenderedMessage // by remote-assigned message id
	audio    map[string]RenderedMessage // live voice handles, released on reset
	replayed bool
}

func newTranscript(s *Session) *Transcript {
	return &Transcript{
		session:  s,
		rendered: make(map[string]RenderedMessage),
		audio:    make(map[string]RenderedMessage),
	}
}

// handleInbound processes one validated message-bearing event: render with
// placement by self-comparison, persist under the matching kind, clear the
// sender's typing state, then acknowledge non-self messages, in that order.
func (t *Transcript) handleInbound(ev *InboundEvent) {
	s := t.session

	var msg *Message
	var rec *Record
	switch ev.Event {
	case EventMessage:
		p := ev.Message
		msg = &Message{ID: p.ID, Kind: KindText, Sender: p.Username, Text: p.Message}
		rec = &Record{Type: string(KindText), Sender: p.Username, Message: p.Message, ID: p.ID}
	case EventImage:
		p := ev.Image
		msg = &Message{ID: p.ID, Kind: KindImage, Sender: p.Username, Image: p.Image}
		rec = &Record{Type: string(KindImage), Sender: p.Username, Image: p.Image, ID: p.ID}
	case EventVoice:
		p := ev.Voice
		msg = &Message{ID: p.ID, Kind: KindVoice, Sender: p.Username, Audio: p.Audio, Duration: p.Duration}
		rec = &Record{Type: string(KindVoice), Sender: p.Username, Audio: p.Audio, Duration: p.Duration, ID: p.ID}
	default:
		return
	}
	msg.Self = msg.Sender == s.username

	t.render(msg)
	if err := s.store.Append(rec); err != nil {
		s.reportError(err)
	}
	s.presence.MessageFrom(msg.Sender)
	s.refreshTypingLocked()

	if !msg.Self {
		s.emitLocked(EventSeen, SeenPayload{MessageID: msg.ID, Username: s.username})
	}
}

// handleSeenUpdate updates the acknowledgment label of a rendered message.
// Silent no-op when the id is not currently rendered (scrolled out, or
// never loaded this session).
func (t *Transcript) handleSeenUpdate(messageID string, seenBy []string) {
	item, ok := t.rendered[messageID]
	if !ok {
		return
	}
	item.SetSeenBy(seenBy)
}

// load replays the persisted history through the same per-kind rendering
// path live events use. Guarded: a second call in the same session is a
// no-op rather than a double render.
func (t *Transcript) load() error {
	if t.replayed {
		return nil
	}
	t.replayed = true

	recs, err := t.session.store.LoadAll()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		switch Kind(rec.Type) {
		case KindSystem:
			sub := SystemSubtype(rec.Subtype)
			if sub == "" {
				sub = classifySystemText(rec.Message)
			}
			t.renderSystem(rec.Message, sub)
		case KindImage:
			t.render(&Message{ID: rec.ID, Kind: KindImage, Sender: rec.Sender,
				Image: rec.Image, Self: rec.Sender == t.session.username})
		case KindVoice:
			t.render(&Message{ID: rec.ID, Kind: KindVoice, Sender: rec.Sender,
				Audio: rec.Audio, Duration: rec.Duration, Self: rec.Sender == t.session.username})
		default:
			t.render(&Message{ID: rec.ID, Kind: KindText, Sender: rec.Sender,
				Text: rec.Message, Self: rec.Sender == t.session.username})
		}
	}
	return nil
}

// reset wipes the rendered transcript and the durable log, releasing live
// audio resources first, then records the action as a single notice.
func (t *Transcript) reset() error {
	t.releaseAudio()
	t.session.renderer.Clear()
	t.rendered = make(map[string]RenderedMessage)

	if err := t.session.store.Clear(); err != nil {
		return err
	}
	t.systemNotice("Chat cleared.", SystemDisconnected, true)
	return nil
}

// ── Rendering ────────────────────────────────────────────

// render appends one message to the view and tracks its handle for later
// seen updates and, for voice, resource release.
func (t *Transcript) render(msg *Message) {
	item := t.session.renderer.Append(msg)
	if item == nil {
		return
	}
	if msg.ID != "" {
		t.rendered[msg.ID] = item
	}
	if msg.Kind == KindVoice {
		key := msg.ID
		if key == "" {
			key = uuid.NewString()
		}
		t.audio[key] = item
	}
}

// renderSystem appends a system notice. Connected/disconnected styled
// notices are visually transient, dismissed after a fixed delay with a
// short fade. Their persisted record, if any, stays forever.
func (t *Transcript) renderSystem(text string, sub SystemSubtype) {
	item := t.session.renderer.Append(&Message{Kind: KindSystem, Text: text, Subtype: sub})
	if item == nil || sub == SystemDefault {
		return
	}
	fade := t.session.noticeFade
	time.AfterFunc(t.session.noticeDismiss, func() {
		item.Dismiss(fade)
	})
}

// systemNotice renders a notice and optionally persists it.
func (t *Transcript) systemNotice(text string, sub SystemSubtype, persist bool) {
	t.renderSystem(text, sub)
	if !persist {
		return
	}
	rec := &Record{Type: string(KindSystem), Message: text, Subtype: string(sub)}
	if err := t.session.store.Append(rec); err != nil {
		t.session.reportError(err)
	}
}

// releaseAudio frees decoder/playback handles before their containing
// view is discarded.
func (t *Transcript) releaseAudio() {
	for _, item := range t.audio {
		item.Release()
	}
	t.audio = make(map[string]RenderedMessage)
}
