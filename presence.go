package parley

// ============================================================================
// Presence tracker
// ============================================================================

// PresenceTracker maintains the set of remote users currently typing.
// Entirely ephemeral: never persisted, reset on every (re)connect. The
// local user is filtered out regardless of what the wire claims. Not
// self-locking: the session serializes all mutations.
type PresenceTracker struct {
	self  string
	users map[string]struct{}
	order []string // insertion order drives the phrasing
}

// NewPresenceTracker creates a tracker that filters out self.
func NewPresenceTracker(self string) *PresenceTracker {
	return &PresenceTracker{
		self:  self,
		users: make(map[string]struct{}),
	}
}

// MarkTyping adds a user to the typing set. Self and empty names are ignored.
func (p *PresenceTracker) MarkTyping(user string) {
	if user == "" || user == p.self {
		return
	}
	if _, ok := p.users[user]; ok {
		return
	}
	p.users[user] = struct{}{}
	p.order = append(p.order, user)
}

// ClearTyping removes a user from the typing set.
func (p *PresenceTracker) ClearTyping(user string) {
	if _, ok := p.users[user]; !ok {
		return
	}
	delete(p.users, user)
	for i, u := range p.order {
		if u == user {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// MessageFrom clears a user's typing state: a received message implies
// the sender stopped typing.
func (p *PresenceTracker) MessageFrom(user string) {
	p.ClearTyping(user)
}

// Contains reports whether the user is currently marked as typing.
func (p *PresenceTracker) Contains(user string) bool {
	_, ok := p.users[user]
	return ok
}

// Active reports whether anyone is typing.
func (p *PresenceTracker) Active() bool {
	return len(p.users) > 0
}

// Reset empties the typing set.
func (p *PresenceTracker) Reset() {
	p.users = make(map[string]struct{})
	p.order = nil
}

// Describe renders the indicator text from current membership alone.
// Empty set yields an empty string, meaning no indicator.
func (p *PresenceTracker) Describe() string {
	switch len(p.order) {
	case 0:
		return ""
	case 1:
		return p.order[0] + " is typing"
	case 2:
		return p.order[0] + " and " + p.order[1] + " are typing"
	default:
		return "Several people are typing"
	}
}
