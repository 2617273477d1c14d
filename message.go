package parley

import (
	"strings"
	"time"
)

// ============================================================================
// Message model
// ============================================================================

// Kind identifies what a transcript entry is.
type Kind string

const (
	KindText   Kind = "message"
	KindImage  Kind = "image"
	KindVoice  Kind = "voice"
	KindSystem Kind = "system"
)

// SystemSubtype selects the styling of a system notice.
type SystemSubtype string

const (
	SystemDefault      SystemSubtype = "default"
	SystemConnected    SystemSubtype = "connected"
	SystemDisconnected SystemSubtype = "disconnected"
)

// Message is one entry of the rendered transcript. IDs are assigned by the
// remote side on broadcast; system notices have none. Self is derived by
// comparing Sender to the session username and is never persisted.
type Message struct {
	ID       string
	Kind     Kind
	Sender   string
	Text     string // text body, or the notice text for system entries
	Image    string // data-URL encoded image
	Audio    string // data-URL encoded audio
	Duration int    // voice duration in whole seconds
	Self     bool
	Subtype  SystemSubtype // system entries only
}

// Record is the persisted shape of a transcript entry, one per log slot.
// Subtype is written at creation time for system records; records from
// older clients lack it and are classified by phrase matching on load.
type Record struct {
	Type     string `json:"type"`
	Sender   string `json:"sender,omitempty"`
	Message  string `json:"message,omitempty"`
	Image    string `json:"image,omitempty"`
	Audio    string `json:"audio,omitempty"`
	Duration int    `json:"duration,omitempty"`
	ID       string `json:"id,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
}

// classifySystemText reconstructs the sub-type of a legacy system record
// from its text. The phrases are load-bearing: replayed styling of old
// logs depends on these exact strings.
func classifySystemText(text string) SystemSubtype {
	switch {
	case strings.Contains(text, "Connected to chat!"):
		return SystemConnected
	case strings.Contains(text, "Disconnected from chat.") ||
		strings.Contains(text, "You have logged out.") ||
		strings.Contains(text, "Chat cleared."):
		return SystemDisconnected
	default:
		return SystemDefault
	}
}

// SeenLabel formats an acknowledgment label for display.
// An empty list yields an empty label (the indicator is cleared).
func SeenLabel(seenBy []string) string {
	if len(seenBy) == 0 {
		return ""
	}
	return "Seen by " + strings.Join(seenBy, ", ")
}

// ============================================================================
// Rendering layer
// ============================================================================

// RenderedMessage is a live handle to one rendered transcript entry.
type RenderedMessage interface {
	// SetSeenBy replaces the acknowledgment label; empty clears it.
	SetSeenBy(users []string)
	// Dismiss removes the entry from the visible transcript, fading over
	// the given duration. The persisted record is unaffected.
	Dismiss(fade time.Duration)
	// Release frees any playback or visualization resources the entry
	// holds. No-op for entries without them.
	Release()
}

// Renderer is the display layer the synchronizer draws into. Only the
// synchronizer renders; the composer never does, so self-sent messages
// appear exactly once, when their echo arrives.
type Renderer interface {
	Append(msg *Message) RenderedMessage
	Clear()
}

// StatusView is the presence and identity chrome outside the transcript.
type StatusView interface {
	SetStatus(status string)           // "Online" / "Offline"
	SetIdentity(username string)       // empty hides the identity chrome
	SetTypingIndicator(text string)    // empty hides the indicator
}

// ── No-op defaults ───────────────────────────────────────

type nopRendered struct{}

func (nopRendered) SetSeenBy([]string)    {}
func (nopRendered) Dismiss(time.Duration) {}
func (nopRendered) Release()              {}

type nopRenderer struct{}

func (nopRenderer) Append(*Message) RenderedMessage { return nopRendered{} }
func (nopRenderer) Clear()                          {}

type nopStatusView struct{}

func (nopStatusView) SetStatus(string)          {}
func (nopStatusView) SetIdentity(string)        {}
func (nopStatusView) SetTypingIndicator(string) {}
