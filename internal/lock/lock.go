// Package lock implements the screen lock: while locked, newly arrived
// external streams wait in an admission queue for an explicit decision.
package lock

import (
	"wall-controller/internal/event"
	"wall-controller/internal/state"
)

// EventKind identifies a screen lock notification.
type EventKind uint8

const (
	// Changed is emitted when the lock state flips.
	Changed EventKind = iota
	// Pending is emitted when a stream enters the queue.
	Pending
	// Accepted is emitted exactly once per admitted stream.
	Accepted
	// Rejected is emitted exactly once per refused stream.
	Rejected
	// Cancelled is emitted when a pending stream is withdrawn.
	Cancelled
)

func (k EventKind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Pending:
		return "pending"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return "cancelled"
	}
}

// Event is a screen lock notification. URI is empty for Changed.
type Event struct {
	Kind   EventKind
	URI    string
	Locked bool
}

// ScreenLock gates stream admission. It is owned by the master reactor and
// is not safe for concurrent use.
type ScreenLock struct {
	locked  bool
	pending []string
	events  event.Emitter[Event]
}

// New returns an unlocked screen lock.
func New() *ScreenLock {
	return &ScreenLock{}
}

// Subscribe registers fn for lock notifications.
func (l *ScreenLock) Subscribe(fn func(Event)) func() {
	return l.events.Subscribe(fn)
}

// IsLocked reports the current state.
func (l *ScreenLock) IsLocked() bool { return l.locked }

// Pending returns the queued uris in arrival order.
func (l *ScreenLock) Pending() []string {
	out := make([]string, len(l.pending))
	copy(out, l.pending)
	return out
}

// IsPending reports whether uri waits for a decision.
func (l *ScreenLock) IsPending(uri string) bool {
	return l.index(uri) >= 0
}

// State returns the broadcast form of the lock.
func (l *ScreenLock) State() state.LockState {
	return state.LockState{Locked: l.locked, Pending: l.Pending()}
}

// Lock starts queueing new streams.
func (l *ScreenLock) Lock() {
	if l.locked {
		return
	}
	l.locked = true
	l.events.Emit(Event{Kind: Changed, Locked: true})
}

// Unlock accepts every pending stream, empties the queue and then unlocks.
func (l *ScreenLock) Unlock() {
	if !l.locked {
		return
	}
	pending := l.pending
	l.pending = nil
	for _, uri := range pending {
		l.events.Emit(Event{Kind: Accepted, URI: uri, Locked: true})
	}
	l.locked = false
	l.events.Emit(Event{Kind: Changed, Locked: false})
}

// RequestStreamAcceptance queues uri while locked, or accepts it at once.
// Requests for an already pending uri are ignored.
func (l *ScreenLock) RequestStreamAcceptance(uri string) {
	if !l.locked {
		l.events.Emit(Event{Kind: Accepted, URI: uri})
		return
	}
	if l.IsPending(uri) {
		return
	}
	l.pending = append(l.pending, uri)
	l.events.Emit(Event{Kind: Pending, URI: uri, Locked: true})
}

// AcceptStream admits a pending stream.
func (l *ScreenLock) AcceptStream(uri string) {
	if l.take(uri) {
		l.events.Emit(Event{Kind: Accepted, URI: uri, Locked: l.locked})
	}
}

// RejectStream refuses a pending stream.
func (l *ScreenLock) RejectStream(uri string) {
	if l.take(uri) {
		l.events.Emit(Event{Kind: Rejected, URI: uri, Locked: l.locked})
	}
}

// CancelStreamAcceptance withdraws a pending stream without a decision,
// e.g. when its window was closed in the meantime.
func (l *ScreenLock) CancelStreamAcceptance(uri string) {
	if l.take(uri) {
		l.events.Emit(Event{Kind: Cancelled, URI: uri, Locked: l.locked})
	}
}

func (l *ScreenLock) take(uri string) bool {
	i := l.index(uri)
	if i < 0 {
		return false
	}
	l.pending = append(l.pending[:i:i], l.pending[i+1:]...)
	return true
}

func (l *ScreenLock) index(uri string) int {
	for i, p := range l.pending {
		if p == uri {
			return i
		}
	}
	return -1
}
