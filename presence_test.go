package parley

import "testing"

func TestPresenceDescribe(t *testing.T) {
	tests := []struct {
		name   string
		typing []string
		want   string
	}{
		{"nobody", nil, ""},
		{"one user", []string{"alice"}, "alice is typing"},
		{"two users", []string{"alice", "bob"}, "alice and bob are typing"},
		{"three users", []string{"alice", "bob", "carol"}, "Several people are typing"},
		{"five users", []string{"a1", "b2", "c3", "d4", "e5"}, "Several people are typing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPresenceTracker("me")
			for _, u := range tt.typing {
				p.MarkTyping(u)
			}
			if got := p.Describe(); got != tt.want {
				t.Errorf("Describe() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPresenceIndicatorFromMembershipAlone(t *testing.T) {
	// The phrasing depends only on who is in the set now, not on how the
	// set got there.
	p := NewPresenceTracker("me")
	p.MarkTyping("alice")
	p.MarkTyping("bob")
	p.MarkTyping("carol")
	p.ClearTyping("bob")

	if got := p.Describe(); got != "alice and carol are typing" {
		t.Errorf("Describe() = %q, want %q", got, "alice and carol are typing")
	}

	p.ClearTyping("alice")
	if got := p.Describe(); got != "carol is typing" {
		t.Errorf("Describe() = %q, want %q", got, "carol is typing")
	}
}

func TestPresenceFiltersSelf(t *testing.T) {
	p := NewPresenceTracker("me")
	p.MarkTyping("me")
	if p.Active() {
		t.Error("self should never enter the typing set")
	}
}

func TestPresenceIgnoresDuplicatesAndEmpty(t *testing.T) {
	p := NewPresenceTracker("me")
	p.MarkTyping("")
	p.MarkTyping("alice")
	p.MarkTyping("alice")

	if got := p.Describe(); got != "alice is typing" {
		t.Errorf("Describe() = %q, want %q", got, "alice is typing")
	}
}

func TestPresenceMessageClearsTyping(t *testing.T) {
	p := NewPresenceTracker("me")
	p.MarkTyping("alice")
	p.MessageFrom("alice")
	if p.Contains("alice") {
		t.Error("a received message should clear the sender's typing state")
	}
}

func TestPresenceResetEmptiesSet(t *testing.T) {
	p := NewPresenceTracker("me")
	p.MarkTyping("alice")
	p.MarkTyping("bob")
	p.Reset()
	if p.Active() {
		t.Error("Reset should empty the typing set")
	}
	if got := p.Describe(); got != "" {
		t.Errorf("Describe() after Reset = %q, want empty", got)
	}
}

func TestPresenceClearUnknownUserIsNoop(t *testing.T) {
	p := NewPresenceTracker("me")
	p.MarkTyping("alice")
	p.ClearTyping("bob")
	if !p.Contains("alice") {
		t.Error("clearing an absent user should not disturb others")
	}
}
