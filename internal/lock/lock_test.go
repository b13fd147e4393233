package lock

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
}

func (r *recorder) record(ev Event) { r.events = append(r.events, ev) }

func (r *recorder) kinds(kind EventKind) []string {
	var out []string
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev.URI)
		}
	}
	return out
}

func newRecordedLock() (*ScreenLock, *recorder) {
	l := New()
	r := &recorder{}
	l.Subscribe(r.record)
	return l, r
}

func TestScreenLock_unlocked_accepts_immediately(t *testing.T) {
	l, r := newRecordedLock()

	l.RequestStreamAcceptance("s1")

	assert.Empty(t, l.Pending())
	assert.Equal(t, []string{"s1"}, r.kinds(Accepted))
}

func TestScreenLock_locked_queues_unique(t *testing.T) {
	l, r := newRecordedLock()
	l.Lock()
	l.Lock()

	l.RequestStreamAcceptance("s1")
	l.RequestStreamAcceptance("s2")
	l.RequestStreamAcceptance("s1")

	assert.Equal(t, []string{"s1", "s2"}, l.Pending())
	assert.Equal(t, []string{"s1", "s2"}, r.kinds(Pending))
	assert.Len(t, r.kinds(Changed), 1)
	assert.Empty(t, r.kinds(Accepted))
}

func TestScreenLock_accept_reject_cancel(t *testing.T) {
	l, r := newRecordedLock()
	l.Lock()
	for _, uri := range []string{"a", "b", "c"} {
		l.RequestStreamAcceptance(uri)
	}

	l.AcceptStream("a")
	l.AcceptStream("a")
	l.RejectStream("b")
	l.RejectStream("unknown")
	l.CancelStreamAcceptance("c")

	assert.Empty(t, l.Pending())
	assert.Equal(t, []string{"a"}, r.kinds(Accepted))
	assert.Equal(t, []string{"b"}, r.kinds(Rejected))
	assert.Equal(t, []string{"c"}, r.kinds(Cancelled))
}

func TestScreenLock_Unlock_accepts_all_once(t *testing.T) {
	l, r := newRecordedLock()
	l.Lock()
	l.RequestStreamAcceptance("a")
	l.RequestStreamAcceptance("b")

	l.Unlock()
	assert.False(t, l.IsLocked())
	assert.Empty(t, l.Pending())
	assert.Equal(t, []string{"a", "b"}, r.kinds(Accepted))

	n := len(r.events)
	l.Unlock()
	assert.Len(t, r.events, n, "second unlock must not emit")
}

func TestScreenLock_State(t *testing.T) {
	l := New()
	l.Lock()
	l.RequestStreamAcceptance("a")

	st := l.State()
	assert.True(t, st.Locked)
	assert.Equal(t, []string{"a"}, st.Pending)
}

// Every uri that enters the queue leaves it through exactly one of accept,
// reject, cancel or unlock, and the queue never holds duplicates.
func TestScreenLock_random_operations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	uris := make([]string, 8)
	for i := range uris {
		uris[i] = fmt.Sprintf("stream-%d", i)
	}

	for round := 0; round < 200; round++ {
		l := New()
		entered := map[string]int{}
		left := map[string]int{}
		l.Subscribe(func(ev Event) {
			switch ev.Kind {
			case Pending:
				entered[ev.URI]++
			case Accepted, Rejected, Cancelled:
				if ev.Locked {
					left[ev.URI]++
				}
			}
		})

		for step := 0; step < 60; step++ {
			uri := uris[rng.Intn(len(uris))]
			switch rng.Intn(6) {
			case 0:
				l.Lock()
			case 1:
				l.Unlock()
			case 2:
				l.RequestStreamAcceptance(uri)
			case 3:
				l.AcceptStream(uri)
			case 4:
				l.RejectStream(uri)
			case 5:
				l.CancelStreamAcceptance(uri)
			}

			seen := map[string]bool{}
			for _, p := range l.Pending() {
				require.False(t, seen[p], "duplicate %s in queue", p)
				seen[p] = true
			}
		}
		l.Unlock()

		assert.Empty(t, l.Pending())
		assert.Equal(t, entered, left)
	}
}
