// Package comm implements the communicator used by the master, forker and
// wall processes: ranked point-to-point messages with (source, type)
// probing, a two-phase broadcast, and the barrier and reduction collectives
// the walls use to stay in lockstep.
package comm

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"wall-controller/internal/message"
	"wall-controller/internal/transport"

	"github.com/pkg/errors"
)

// AnySource matches messages from every rank when probing or receiving.
const AnySource = -1

var (
	// ErrInvalidRank is returned when a destination or source is not a
	// member of the group, or is the local rank.
	ErrInvalidRank = errors.New("invalid rank")

	// ErrClosed is returned once the communicator has been closed.
	ErrClosed = errors.New("communicator closed")

	// ErrTruncated is returned when the receive buffer is smaller than the
	// pending message. The message stays queued.
	ErrTruncated = errors.New("message truncated")

	// ErrNotMember is returned by Sub when the local process is not part of
	// the requested group.
	ErrNotMember = errors.New("not a member of the group")
)

// WorldGroup names the group of every process in the mesh.
const WorldGroup = "world"

// Header describes a pending message. Size is -1 when nothing can arrive.
type Header struct {
	Src  int
	Size int
	Type message.Type
}

// Valid reports whether the header describes a real message.
func (h Header) Valid() bool { return h.Size >= 0 }

var invalidHeader = Header{Src: AnySource, Size: -1, Type: message.None}

type link struct {
	peer int
	conn net.Conn
	mu   sync.Mutex
}

func (l *link) write(f frame) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return writeFrame(l.conn, f)
}

// Communicator is a ranked process group. Group ranks are indexes into the
// member list; members are world ranks.
type Communicator struct {
	node    *transport.Node
	group   string
	members []int
	rank    int
	links   []*link
	in      *inbox
	log     *slog.Logger

	mu       sync.Mutex
	children []*Communicator
	closed   bool
	readers  sync.WaitGroup
}

// World returns the communicator spanning every process of node's mesh.
func World(ctx context.Context, node *transport.Node, log *slog.Logger) (*Communicator, error) {
	members := make([]int, node.Size())
	for i := range members {
		members[i] = i
	}
	return New(ctx, node, WorldGroup, members, log)
}

// New joins the group whose members are the given world ranks. Every member
// must call New with the same group name and member list.
func New(ctx context.Context, node *transport.Node, group string, members []int, log *slog.Logger) (*Communicator, error) {
	rank := -1
	for i, m := range members {
		if m == node.Rank() {
			rank = i
		}
	}
	if rank < 0 {
		return nil, errors.Wrapf(ErrNotMember, "rank %d in group %q", node.Rank(), group)
	}

	c := &Communicator{
		node:    node,
		group:   group,
		members: append([]int(nil), members...),
		rank:    rank,
		links:   make([]*link, len(members)),
		in:      newInbox(len(members) - 1),
		log:     log.With(slog.String("group", group), slog.Int("group_rank", rank)),
	}

	for peer, world := range members {
		if peer == rank {
			continue
		}
		conn, err := node.Link(ctx, group, world)
		if err != nil {
			c.Close()
			return nil, errors.Wrapf(err, "group %q", group)
		}
		l := &link{peer: peer, conn: conn}
		c.links[peer] = l
		c.readers.Add(1)
		go c.read(l)
	}
	return c, nil
}

func (c *Communicator) read(l *link) {
	defer c.readers.Done()
	for {
		f, err := readFrame(l.conn)
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				c.log.Warn("link failed", slog.Int("peer", l.peer), "error", err)
			}
			c.in.fail(l.peer, errors.Wrapf(err, "link to rank %d", l.peer))
			return
		}
		c.in.push(l.peer, f)
	}
}

// Sub creates a child group from a subset of this group's ranks. Every
// listed rank must call Sub with the same name and ranks. The child is
// closed with its parent.
func (c *Communicator) Sub(ctx context.Context, name string, ranks []int) (*Communicator, error) {
	members := make([]int, len(ranks))
	for i, r := range ranks {
		if r < 0 || r >= len(c.members) {
			return nil, errors.Wrapf(ErrInvalidRank, "sub-group %q rank %d", name, r)
		}
		members[i] = c.members[r]
	}
	child, err := New(ctx, c.node, c.group+"/"+name, members, c.log)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.children = append(c.children, child)
	c.mu.Unlock()
	return child, nil
}

// Rank returns the rank of the local process within the group.
func (c *Communicator) Rank() int { return c.rank }

// Size returns the number of processes in the group.
func (c *Communicator) Size() int { return len(c.members) }

// Group returns the group name.
func (c *Communicator) Group() string { return c.group }

// WorldRank maps a group rank to its world rank.
func (c *Communicator) WorldRank(rank int) int { return c.members[rank] }

func (c *Communicator) peer(rank int) (*link, error) {
	if rank < 0 || rank >= len(c.links) || rank == c.rank {
		return nil, errors.Wrapf(ErrInvalidRank, "rank %d in group %q of size %d", rank, c.group, len(c.links))
	}
	return c.links[rank], nil
}

// Send delivers a point-to-point message to dest. Messages between two
// ranks arrive in send order.
func (c *Communicator) Send(t message.Type, payload []byte, dest int) error {
	l, err := c.peer(dest)
	if err != nil {
		return err
	}
	if err := l.write(frame{kind: kindPointToPoint, typ: t, payload: payload}); err != nil {
		return errors.Wrapf(err, "send %s to rank %d", t, dest)
	}
	return nil
}

// Probe blocks until a point-to-point message from src (or AnySource) with
// type t (or message.Any) is pending and returns its header without
// consuming it. The header is invalid once nothing more can arrive.
func (c *Communicator) Probe(src int, t message.Type) Header {
	if src != AnySource {
		if _, err := c.peer(src); err != nil {
			c.log.Error("probe", "error", err)
			return invalidHeader
		}
	}
	env, err := c.in.probe(src, t)
	if err != nil {
		return invalidHeader
	}
	return Header{Src: env.src, Size: len(env.payload), Type: env.typ}
}

// Receive consumes the first pending message matching (src, t) into buf
// and returns its size.
func (c *Communicator) Receive(src int, buf []byte, t message.Type) (int, error) {
	if src != AnySource {
		if _, err := c.peer(src); err != nil {
			return 0, err
		}
	}
	env, err := c.in.take(src, t, len(buf))
	if err != nil {
		if errors.Is(err, ErrTruncated) {
			return 0, errors.Wrapf(err, "%d byte %s into %d byte buffer", len(env.payload), env.typ, len(buf))
		}
		return 0, err
	}
	return copy(buf, env.payload), nil
}

// Broadcast sends payload from the local rank to every other member. The
// receivers read it in two phases: BroadcastHeader then ReceiveBroadcast.
func (c *Communicator) Broadcast(t message.Type, payload []byte) error {
	f := frame{kind: kindBroadcast, typ: t, payload: payload}
	for _, l := range c.links {
		if l == nil {
			continue
		}
		if err := l.write(f); err != nil {
			return errors.Wrapf(err, "broadcast %s to rank %d", t, l.peer)
		}
	}
	return nil
}

// BroadcastHeader blocks until the next broadcast from src is available and
// returns its type and size.
func (c *Communicator) BroadcastHeader(src int) (Header, error) {
	if _, err := c.peer(src); err != nil {
		return invalidHeader, err
	}
	env, err := c.in.peek(kindBroadcast, src)
	if err != nil {
		return invalidHeader, err
	}
	return Header{Src: src, Size: len(env.payload), Type: env.typ}, nil
}

// ReceiveBroadcast consumes the broadcast announced by BroadcastHeader.
func (c *Communicator) ReceiveBroadcast(src int, buf []byte) (int, error) {
	if _, err := c.peer(src); err != nil {
		return 0, err
	}
	env, err := c.in.next(kindBroadcast, src, len(buf))
	if err != nil {
		if errors.Is(err, ErrTruncated) {
			return 0, errors.Wrapf(err, "%d byte broadcast into %d byte buffer", len(env.payload), len(buf))
		}
		return 0, err
	}
	return copy(buf, env.payload), nil
}

// Close releases the group and its sub-groups. Blocked probes return an
// invalid header.
func (c *Communicator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	children := c.children
	c.children = nil
	c.mu.Unlock()

	for _, child := range children {
		child.Close()
	}
	c.in.close()
	for _, l := range c.links {
		if l != nil {
			l.conn.Close()
		}
	}
	c.readers.Wait()
	return nil
}
