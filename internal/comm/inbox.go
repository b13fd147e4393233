package comm

import (
	"sync"

	"wall-controller/internal/message"
)

type envelope struct {
	src     int
	typ     message.Type
	payload []byte
}

// inbox holds every frame received by a communicator until it is consumed.
// Point-to-point frames keep global arrival order so that any-source probes
// see them in the order they came in. Broadcast and collective frames are
// queued per source.
type inbox struct {
	mu   sync.Mutex
	cond *sync.Cond

	p2p        []envelope
	broadcasts map[int][]envelope
	collective map[int][]envelope
	failed     map[int]error
	peers      int
	closed     bool
}

func newInbox(peers int) *inbox {
	in := &inbox{
		broadcasts: make(map[int][]envelope),
		collective: make(map[int][]envelope),
		failed:     make(map[int]error),
		peers:      peers,
	}
	in.cond = sync.NewCond(&in.mu)
	return in
}

func (in *inbox) push(src int, f frame) {
	env := envelope{src: src, typ: f.typ, payload: f.payload}
	in.mu.Lock()
	switch f.kind {
	case kindPointToPoint:
		in.p2p = append(in.p2p, env)
	case kindBroadcast:
		in.broadcasts[src] = append(in.broadcasts[src], env)
	case kindCollective:
		in.collective[src] = append(in.collective[src], env)
	}
	in.mu.Unlock()
	in.cond.Broadcast()
}

func (in *inbox) fail(src int, err error) {
	in.mu.Lock()
	if _, ok := in.failed[src]; !ok {
		in.failed[src] = err
	}
	in.mu.Unlock()
	in.cond.Broadcast()
}

func (in *inbox) close() {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
	in.cond.Broadcast()
}

// unreachable reports why nothing more can arrive from src. Must hold mu.
func (in *inbox) unreachable(src int) error {
	if in.closed {
		return ErrClosed
	}
	if src == AnySource {
		if len(in.failed) < in.peers {
			return nil
		}
		for _, err := range in.failed {
			return err
		}
		return ErrClosed
	}
	return in.failed[src]
}

func (in *inbox) find(src int, typ message.Type) int {
	for i, env := range in.p2p {
		if (src == AnySource || env.src == src) && env.typ.Matches(typ) {
			return i
		}
	}
	return -1
}

// probe blocks until a point-to-point message matching (src, typ) is queued.
func (in *inbox) probe(src int, typ message.Type) (envelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for {
		if i := in.find(src, typ); i >= 0 {
			return in.p2p[i], nil
		}
		if err := in.unreachable(src); err != nil {
			return envelope{}, err
		}
		in.cond.Wait()
	}
}

// take removes the first point-to-point message matching (src, typ). A
// message larger than limit is left queued.
func (in *inbox) take(src int, typ message.Type, limit int) (envelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for {
		if i := in.find(src, typ); i >= 0 {
			env := in.p2p[i]
			if len(env.payload) > limit {
				return env, ErrTruncated
			}
			in.p2p = append(in.p2p[:i], in.p2p[i+1:]...)
			return env, nil
		}
		if err := in.unreachable(src); err != nil {
			return envelope{}, err
		}
		in.cond.Wait()
	}
}

func (in *inbox) queue(k kind) map[int][]envelope {
	if k == kindBroadcast {
		return in.broadcasts
	}
	return in.collective
}

// peek blocks until a frame of kind k from src is queued and returns it
// without removing it.
func (in *inbox) peek(k kind, src int) (envelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for {
		if q := in.queue(k)[src]; len(q) > 0 {
			return q[0], nil
		}
		if err := in.unreachable(src); err != nil {
			return envelope{}, err
		}
		in.cond.Wait()
	}
}

// next blocks until a frame of kind k from src is queued and removes it. A
// frame larger than limit is left queued; a negative limit accepts any size.
func (in *inbox) next(k kind, src int, limit int) (envelope, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for {
		q := in.queue(k)
		if pending := q[src]; len(pending) > 0 {
			env := pending[0]
			if limit >= 0 && len(env.payload) > limit {
				return env, ErrTruncated
			}
			q[src] = pending[1:]
			return env, nil
		}
		if err := in.unreachable(src); err != nil {
			return envelope{}, err
		}
		in.cond.Wait()
	}
}
