package parley

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// Capture errors
// ============================================================================

// CaptureErrorKind classifies why audio capture could not start.
type CaptureErrorKind int

const (
	CaptureFailed CaptureErrorKind = iota
	CapturePermissionDenied
	CaptureDeviceNotFound
	CaptureDeviceBusy
	CaptureAborted
)

// CaptureError is a classified capture-device failure. No automatic retry
// is attempted; the user must re-invoke recording.
type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %v", e.Err)
	}
	return "capture failed"
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Notice maps the failure to its user-facing system notice.
func (e *CaptureError) Notice() string {
	switch e.Kind {
	case CapturePermissionDenied:
		return "Microphone access denied by the system. Please check your OS microphone settings, ensure no other app is using it, and refresh the page to re-request permission."
	case CaptureDeviceNotFound:
		return "No microphone detected. Please connect a microphone and try again."
	case CaptureDeviceBusy:
		return "Microphone is in use by another application. Please close other apps and try again."
	case CaptureAborted:
		return "Microphone access was interrupted. Please refresh the page and try again."
	default:
		return "Failed to access microphone."
	}
}

func captureNotice(err error) string {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return ce.Notice()
	}
	return "Failed to access microphone."
}

// Recorder is the opaque audio capture codec: Start acquires the device
// and begins accumulating, Stop releases it and returns the encoded blob.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() ([]byte, error)
}

// ============================================================================
// Composer
// ============================================================================

const (
	typingDebounce = 300 * time.Millisecond
	typingIdle     = 2 * time.Second
)

// Composer turns user intents into outbound protocol events. It never
// renders: the transcript shows a sent message only when its echo comes
// back through the connection, so echo and optimistic render can never
// both fire.
type Composer struct {
	session  *Session
	recorder Recorder

	mu               sync.Mutex
	typing           bool
	pendingInput     string
	debounceTimer    *time.Timer
	idleTimer        *time.Timer
	recording        bool
	recordStart      time.Time
	debounceInterval time.Duration
	idleInterval     time.Duration
	now              func() time.Time
}

func newComposer(s *Session, rec Recorder) *Composer {
	return &Composer{
		session:          s,
		recorder:         rec,
		debounceInterval: typingDebounce,
		idleInterval:     typingIdle,
		now:              time.Now,
	}
}

// SendText emits a text message. Whitespace-only input is a silent no-op;
// a missing connection drops the action behind a persisted system notice.
func (c *Composer) SendText(text string) error {
	text = strings.TrimSpace(text)
	if !c.session.isConnected() {
		c.session.systemNotice("Cannot send message: Not connected to server.", SystemDisconnected, true)
		return ErrNotConnected
	}
	if text == "" {
		return nil
	}

	username := c.session.Username()
	if err := c.session.emit(EventMessage, MessagePayload{Username: username, Message: text}); err != nil {
		return err
	}

	c.mu.Lock()
	wasTyping := c.typing
	c.typing = false
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.mu.Unlock()

	if wasTyping {
		return c.session.emit(EventStopTyping, TypingPayload{Username: username})
	}
	return nil
}

// SendImage encodes the chosen file to a transportable data-URL and emits
// it, followed by a stop-typing signal. No data or no connection drops the
// action behind a (non-persisted) system notice.
func (c *Composer) SendImage(data []byte, mimeType string) error {
	if !c.session.isConnected() || len(data) == 0 {
		c.session.systemNotice("Cannot send image: Not connected to server or no file selected.", SystemDefault, false)
		return ErrNotConnected
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	username := c.session.Username()
	encoded := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
	if err := c.session.emit(EventImage, ImagePayload{Username: username, Image: encoded}); err != nil {
		return err
	}
	return c.session.emit(EventStopTyping, TypingPayload{Username: username})
}

// ToggleRecording starts capture on the first call and, on the second,
// finalizes the clip and emits it with its wall-clock duration in whole
// seconds. Recording counts as typing-like activity for presence.
func (c *Composer) ToggleRecording(ctx context.Context) error {
	if !c.session.isConnected() {
		c.session.systemNotice("Cannot record: Not connected to server.", SystemDisconnected, false)
		return ErrNotConnected
	}

	username := c.session.Username()

	c.mu.Lock()
	if !c.recording {
		if c.recorder == nil {
			c.mu.Unlock()
			err := &CaptureError{Kind: CaptureDeviceNotFound}
			c.session.systemNotice(err.Notice(), SystemDisconnected, false)
			return err
		}
		if err := c.recorder.Start(ctx); err != nil {
			c.mu.Unlock()
			c.session.systemNotice(captureNotice(err), SystemDisconnected, false)
			return err
		}
		c.recording = true
		c.recordStart = c.now()
		c.mu.Unlock()
		return c.session.emit(EventTyping, TypingPayload{Username: username})
	}

	c.recording = false
	elapsed := c.now().Sub(c.recordStart)
	data, err := c.recorder.Stop()
	c.mu.Unlock()
	if err != nil {
		// The typing signal sent at recording start must still be
		// retracted, or the counterpart's indicator stays stuck.
		_ = c.session.emit(EventStopTyping, TypingPayload{Username: username})
		return fmt.Errorf("finalize recording: %w", err)
	}

	duration := int(math.Round(elapsed.Seconds()))
	encoded := "data:audio/webm;base64," + base64.StdEncoding.EncodeToString(data)
	if err := c.session.emit(EventVoice, VoicePayload{Username: username, Audio: encoded, Duration: duration}); err != nil {
		return err
	}
	return c.session.emit(EventStopTyping, TypingPayload{Username: username})
}

// Recording reports whether capture is active.
func (c *Composer) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// ── Typing intent ────────────────────────────────────────

// InputChanged notes a change of the compose input. Evaluation is
// debounced at 300ms to bound emission under fast typing; each call
// invalidates the previous pending check.
func (c *Composer) InputChanged(text string) {
	c.mu.Lock()
	c.pendingInput = text
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
	}
	c.debounceTimer = time.AfterFunc(c.debounceInterval, c.evaluateTyping)
	c.mu.Unlock()
}

// evaluateTyping runs after the debounce window: one typing emit per
// idle-to-active transition, and a fresh 2s idle timer on every change.
func (c *Composer) evaluateTyping() {
	if !c.session.isConnected() {
		return
	}

	c.mu.Lock()
	input := strings.TrimSpace(c.pendingInput)
	startTyping := !c.typing && input != ""
	if startTyping {
		c.typing = true
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.idleInterval, c.idleExpired)
	c.mu.Unlock()

	if startTyping {
		_ = c.session.emit(EventTyping, TypingPayload{Username: c.session.Username()})
	}
}

func (c *Composer) idleExpired() {
	c.mu.Lock()
	if !c.typing {
		c.mu.Unlock()
		return
	}
	c.typing = false
	c.mu.Unlock()
	_ = c.session.emit(EventStopTyping, TypingPayload{Username: c.session.Username()})
}

// shutdown cancels pending timers and stops any live capture, releasing
// the device without emitting.
func (c *Composer) shutdown() {
	c.mu.Lock()
	if c.debounceTimer != nil {
		c.debounceTimer.Stop()
		c.debounceTimer = nil
	}
	if c.idleTimer != nil {
		c.idleTimer.Stop()
		c.idleTimer = nil
	}
	recording := c.recording
	c.recording = false
	c.typing = false
	rec := c.recorder
	c.mu.Unlock()

	if recording && rec != nil {
		_, _ = rec.Stop()
	}
}
