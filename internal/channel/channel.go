// Package channel implements the typed control channels between the master,
// forker and wall processes on top of a comm.Communicator.
package channel

import (
	"log/slog"
	"sync"

	"wall-controller/internal/codec"
	"wall-controller/internal/comm"
	"wall-controller/internal/message"

	"github.com/pkg/errors"
)

// ProtocolVersion is compared across every process at startup.
const ProtocolVersion = 3

var (
	// ErrClosed is returned when sending on a channel after its quit
	// message was enqueued.
	ErrClosed = errors.New("channel closed")

	// ErrVersionMismatch is returned when processes run different
	// protocol versions.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrTooManyRanks is returned by ElectLeader for groups whose
	// candidacy mask does not fit in an int64.
	ErrTooManyRanks = errors.New("too many ranks for leader election")
)

// CheckVersion gathers v from every member of c and reports whether they
// all match. A mismatch is fatal for the cluster.
func CheckVersion(c *comm.Communicator, v int) (bool, error) {
	values, err := c.GatherAll(v)
	if err != nil {
		return false, errors.Wrap(err, "gather versions")
	}
	for _, x := range values {
		if x != v {
			return false, nil
		}
	}
	return true, nil
}

// sender owns the outbound direction of a channel. Messages are encoded on
// the caller goroutine and transmitted in enqueue order by one goroutine,
// so the communicator is never written from two places at once.
type sender struct {
	name     string
	transmit func(message.Message) error
	log      *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []message.Message
	closed bool
	err    error
	done   chan struct{}
}

func newSender(name string, transmit func(message.Message) error, log *slog.Logger) *sender {
	s := &sender{
		name:     name,
		transmit: transmit,
		log:      log,
		done:     make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *sender) send(t message.Type, v any) error {
	var payload []byte
	if v != nil {
		var err error
		if payload, err = codec.Marshal(v); err != nil {
			return errors.Wrapf(err, "%s: encode %s", s.name, t)
		}
	}
	return s.enqueue(message.Message{Type: t, Payload: payload})
}

func (s *sender) enqueue(m message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrapf(ErrClosed, "%s: %s", s.name, m.Type)
	}
	s.queue = append(s.queue, m)
	s.cond.Signal()
	return nil
}

// quit enqueues the quit message last and waits until every queued message
// has been transmitted.
func (s *sender) quit() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.queue = append(s.queue, message.Message{Type: message.Quit})
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()

	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *sender) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		m := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.transmit(m); err != nil {
			s.log.Error("send failed", slog.String("channel", s.name), slog.String("type", m.Type.String()), "error", err)
			s.mu.Lock()
			if s.err == nil {
				s.err = err
			}
			s.mu.Unlock()
		}
	}
}

// pending returns the number of messages waiting to be transmitted.
func (s *sender) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func receive(c *comm.Communicator, h comm.Header) ([]byte, error) {
	buf := make([]byte, h.Size)
	n, err := c.Receive(h.Src, buf, h.Type)
	if err != nil {
		return nil, errors.Wrapf(err, "receive %s from rank %d", h.Type, h.Src)
	}
	return buf[:n], nil
}

func receiveBroadcast(c *comm.Communicator, src int) (comm.Header, []byte, error) {
	h, err := c.BroadcastHeader(src)
	if err != nil {
		return h, nil, errors.Wrapf(err, "broadcast header from rank %d", src)
	}
	buf := make([]byte, h.Size)
	n, err := c.ReceiveBroadcast(src, buf)
	if err != nil {
		return h, nil, errors.Wrapf(err, "broadcast %s from rank %d", h.Type, src)
	}
	return h, buf[:n], nil
}
