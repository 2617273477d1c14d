package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	parley "github.com/parley-im/parley-go"
)

// ============================================================================
// Terminal rendering
// ============================================================================

// termRenderer prints transcript entries as they arrive. A terminal has no
// way to retract printed lines, so Dismiss and Clear print markers instead
// of mutating earlier output.
type termRenderer struct {
	mu sync.Mutex
}

func (r *termRenderer) Append(msg *parley.Message) parley.RenderedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch msg.Kind {
	case parley.KindSystem:
		fmt.Printf("  * %s\n", msg.Text)
	case parley.KindImage:
		fmt.Printf("%s %s sent an image (%d bytes encoded)\n", prefix(msg), msg.Sender, len(msg.Image))
	case parley.KindVoice:
		fmt.Printf("%s %s sent a voice message (%s)\n", prefix(msg), msg.Sender, formatDuration(msg.Duration))
	default:
		fmt.Printf("%s %s: %s\n", prefix(msg), msg.Sender, msg.Text)
	}
	return &termItem{r: r, msg: msg}
}

func (r *termRenderer) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Println("  * (transcript cleared)")
}

func prefix(msg *parley.Message) string {
	if msg.Self {
		return ">"
	}
	return "<"
}

// formatDuration renders whole seconds as m:ss.
func formatDuration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

type termItem struct {
	r   *termRenderer
	msg *parley.Message
}

func (t *termItem) SetSeenBy(users []string) {
	label := parley.SeenLabel(users)
	if label == "" {
		return
	}
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	fmt.Printf("  (%s: %s)\n", summarize(t.msg), label)
}

func (t *termItem) Dismiss(time.Duration) {}
func (t *termItem) Release()              {}

func summarize(msg *parley.Message) string {
	switch msg.Kind {
	case parley.KindImage:
		return "image from " + msg.Sender
	case parley.KindVoice:
		return "voice from " + msg.Sender
	default:
		text := msg.Text
		if len(text) > 24 {
			text = text[:24] + "..."
		}
		return fmt.Sprintf("%q", text)
	}
}

// termStatus prints presence transitions on their own lines.
type termStatus struct {
	mu         sync.Mutex
	lastTyping string
}

func (s *termStatus) SetStatus(status string) {
	fmt.Printf("  * status: %s\n", status)
}

func (s *termStatus) SetIdentity(username string) {
	if username != "" {
		fmt.Printf("  * you are %s\n", username)
	}
}

func (s *termStatus) SetTypingIndicator(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.lastTyping {
		return
	}
	s.lastTyping = text
	if text != "" {
		fmt.Printf("  * %s...\n", text)
	}
}

// ============================================================================
// File-backed recorder
// ============================================================================

// fileRecorder stands in for a microphone: Stop returns the contents of
// the file named by PARLEY_MIC_FILE. Missing or unreadable files map to
// the same capture failure classes a real device would produce.
type fileRecorder struct {
	path string
}

func newFileRecorder() *fileRecorder {
	return &fileRecorder{path: os.Getenv("PARLEY_MIC_FILE")}
}

func (f *fileRecorder) Start(ctx context.Context) error {
	if f.path == "" {
		return &parley.CaptureError{Kind: parley.CaptureDeviceNotFound}
	}
	info, err := os.Stat(f.path)
	switch {
	case os.IsNotExist(err):
		return &parley.CaptureError{Kind: parley.CaptureDeviceNotFound, Err: err}
	case os.IsPermission(err):
		return &parley.CaptureError{Kind: parley.CapturePermissionDenied, Err: err}
	case err != nil:
		return &parley.CaptureError{Kind: parley.CaptureFailed, Err: err}
	case info.IsDir():
		return &parley.CaptureError{Kind: parley.CaptureFailed, Err: fmt.Errorf("%s is a directory", f.path)}
	}
	return nil
}

func (f *fileRecorder) Stop() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, &parley.CaptureError{Kind: parley.CaptureAborted, Err: err}
	}
	return data, nil
}
