package parley

import (
	"encoding/json"
	"fmt"
)

// ============================================================================
// Wire protocol
// ============================================================================

// Event names shared with the counterpart. Outbound: join, message, image,
// voice, typing, stopTyping, seen. Inbound: message, image, voice, typing,
// stopTyping, seen_update, plus the transport-level connect / connect_error /
// disconnect signals surfaced through Socket callbacks.
const (
	EventJoin       = "join"
	EventMessage    = "message"
	EventImage      = "image"
	EventVoice      = "voice"
	EventTyping     = "typing"
	EventStopTyping = "stopTyping"
	EventSeen       = "seen"
	EventSeenUpdate = "seen_update"
)

// Envelope is the wire form of every named event.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a payload for the named event.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Envelope{Event: event, Payload: data}, nil
}

// ── Payloads ─────────────────────────────────────────────

// MessagePayload carries a text message. ID is set by the remote side on
// inbound events and left empty on outbound ones.
type MessagePayload struct {
	Username string `json:"username"`
	Message  string `json:"message"`
	ID       string `json:"id,omitempty"`
}

// ImagePayload carries a base64 data-URL encoded image.
type ImagePayload struct {
	Username string `json:"username"`
	Image    string `json:"image"`
	ID       string `json:"id,omitempty"`
}

// VoicePayload carries a base64 data-URL encoded audio clip.
type VoicePayload struct {
	Username string `json:"username"`
	Audio    string `json:"audio"`
	Duration int    `json:"duration"`
	ID       string `json:"id,omitempty"`
}

// TypingPayload signals typing start/stop for a user.
type TypingPayload struct {
	Username string `json:"username"`
}

// SeenPayload acknowledges that the local user viewed a message.
type SeenPayload struct {
	MessageID string `json:"messageId"`
	Username  string `json:"username"`
}

// SeenUpdatePayload is the server-pushed acknowledgment summary.
type SeenUpdatePayload struct {
	MessageID string   `json:"messageId"`
	SeenBy    []string `json:"seenBy"`
}

// ============================================================================
// Inbound decoding
// ============================================================================

// InboundEvent is an inbound envelope decoded into its tagged variant.
// Exactly one of the pointer fields is set, matching Event.
type InboundEvent struct {
	Event      string
	Message    *MessagePayload
	Image      *ImagePayload
	Voice      *VoicePayload
	Typing     *TypingPayload
	SeenUpdate *SeenUpdatePayload
}

// DecodeInbound validates an envelope at the connection boundary. Events
// with missing required fields or unknown names are rejected here so they
// never reach the synchronizer.
func DecodeInbound(env Envelope) (*InboundEvent, error) {
	ev := &InboundEvent{Event: env.Event}

	switch env.Event {
	case EventMessage:
		var p MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if p.Username == "" || p.Message == "" {
			return nil, fmt.Errorf("%s event missing username or message", env.Event)
		}
		ev.Message = &p

	case EventImage:
		var p ImagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if p.Username == "" || p.Image == "" {
			return nil, fmt.Errorf("%s event missing username or image", env.Event)
		}
		ev.Image = &p

	case EventVoice:
		var p VoicePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if p.Username == "" || p.Audio == "" {
			return nil, fmt.Errorf("%s event missing username or audio", env.Event)
		}
		if p.Duration < 0 {
			return nil, fmt.Errorf("%s event has negative duration", env.Event)
		}
		ev.Voice = &p

	case EventTyping, EventStopTyping:
		var p TypingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if p.Username == "" {
			return nil, fmt.Errorf("%s event missing username", env.Event)
		}
		ev.Typing = &p

	case EventSeenUpdate:
		var p SeenUpdatePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if p.MessageID == "" {
			return nil, fmt.Errorf("%s event missing messageId", env.Event)
		}
		ev.SeenUpdate = &p

	default:
		return nil, fmt.Errorf("unknown inbound event %q", env.Event)
	}

	return ev, nil
}
