// Package transport connects the processes of a wall cluster in a full
// mesh. Each pair of processes shares one connection multiplexed with smux;
// every process group opens its own stream per peer on top of it.
package transport

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

var (
	// ErrInvalidPeer is returned for a peer rank outside the mesh or equal
	// to the local rank.
	ErrInvalidPeer = errors.New("invalid peer rank")

	// ErrNodeClosed is returned after Close.
	ErrNodeClosed = errors.New("node closed")
)

const maxGroupName = 1024

type linkKey struct {
	group string
	peer  int
}

// Node is one process' view of the mesh.
type Node struct {
	rank int
	size int
	log  *slog.Logger

	mu       sync.Mutex
	sessions map[int]*smux.Session
	pending  map[linkKey]chan *smux.Stream
	closed   bool
}

// smuxConfig disables keep-alives: a silent peer stalls the cluster rather
// than timing out.
func smuxConfig() *smux.Config {
	cfg := smux.DefaultConfig()
	cfg.Version = 2
	cfg.KeepAliveDisabled = true
	return cfg
}

func newNode(rank, size int, log *slog.Logger) *Node {
	return &Node{
		rank:     rank,
		size:     size,
		log:      log.With(slog.Int("rank", rank)),
		sessions: make(map[int]*smux.Session),
		pending:  make(map[linkKey]chan *smux.Stream),
	}
}

// Rank returns the world rank of this process.
func (n *Node) Rank() int { return n.rank }

// Size returns the number of processes in the mesh.
func (n *Node) Size() int { return n.size }

func (n *Node) attach(peer int, conn io.ReadWriteCloser, client bool) error {
	var (
		s   *smux.Session
		err error
	)
	if client {
		s, err = smux.Client(conn, smuxConfig())
	} else {
		s, err = smux.Server(conn, smuxConfig())
	}
	if err != nil {
		return errors.Wrapf(err, "smux session with rank %d", peer)
	}

	n.mu.Lock()
	if old, ok := n.sessions[peer]; ok {
		n.mu.Unlock()
		s.Close()
		old.Close()
		return errors.Errorf("duplicate connection from rank %d", peer)
	}
	n.sessions[peer] = s
	n.mu.Unlock()

	go n.acceptLoop(peer, s)
	return nil
}

func (n *Node) acceptLoop(peer int, s *smux.Session) {
	for {
		st, err := s.AcceptStream()
		if err != nil {
			if !s.IsClosed() {
				n.log.Warn("accept stream failed", slog.Int("peer", peer), "error", err)
			}
			return
		}
		go n.handshake(peer, st)
	}
}

func (n *Node) handshake(peer int, st *smux.Stream) {
	group, err := readHello(st)
	if err != nil {
		n.log.Warn("bad stream hello", slog.Int("peer", peer), "error", err)
		st.Close()
		return
	}
	n.slot(linkKey{group: group, peer: peer}) <- st
}

func (n *Node) slot(key linkKey) chan *smux.Stream {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.pending[key]
	if !ok {
		ch = make(chan *smux.Stream, 1)
		n.pending[key] = ch
	}
	return ch
}

func (n *Node) session(peer int) (*smux.Session, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNodeClosed
	}
	s, ok := n.sessions[peer]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidPeer, "no session with rank %d", peer)
	}
	return s, nil
}

// Link returns the stream dedicated to (group, peer). The lower rank of the
// pair opens it; the higher rank waits until it arrives or ctx is done.
func (n *Node) Link(ctx context.Context, group string, peer int) (net.Conn, error) {
	if peer < 0 || peer >= n.size || peer == n.rank {
		return nil, errors.Wrapf(ErrInvalidPeer, "link %q to rank %d from rank %d", group, peer, n.rank)
	}
	if len(group) > maxGroupName {
		return nil, errors.Errorf("group name too long (%d bytes)", len(group))
	}

	if n.rank < peer {
		s, err := n.session(peer)
		if err != nil {
			return nil, err
		}
		st, err := s.OpenStream()
		if err != nil {
			return nil, errors.Wrapf(err, "open stream %q to rank %d", group, peer)
		}
		if err := writeHello(st, group); err != nil {
			st.Close()
			return nil, errors.Wrapf(err, "hello %q to rank %d", group, peer)
		}
		return st, nil
	}

	key := linkKey{group: group, peer: peer}
	select {
	case st := <-n.slot(key):
		n.mu.Lock()
		delete(n.pending, key)
		n.mu.Unlock()
		return st, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "wait for stream %q from rank %d", group, peer)
	}
}

// Close tears down every session.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for peer, s := range n.sessions {
		if err := s.Close(); err != nil {
			n.log.Debug("close session", slog.Int("peer", peer), "error", err)
		}
	}
	return nil
}

func writeHello(w io.Writer, group string) error {
	buf := make([]byte, 2+len(group))
	binary.BigEndian.PutUint16(buf, uint16(len(group)))
	copy(buf[2:], group)
	_, err := w.Write(buf)
	return err
}

func readHello(r io.Reader) (string, error) {
	var size [2]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(size[:]))
	if n > maxGroupName {
		return "", errors.Errorf("group name too long (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
