package transport

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/pkg/errors"
)

const (
	dialBackoffMin = 100 * time.Millisecond
	dialBackoffMax = 2 * time.Second
)

// NewLocalMesh connects size in-process nodes with pipes.
func NewLocalMesh(size int, log *slog.Logger) ([]*Node, error) {
	if size < 1 {
		return nil, errors.Errorf("mesh size %d", size)
	}
	nodes := make([]*Node, size)
	for i := range nodes {
		nodes[i] = newNode(i, size, log)
	}
	for i := 0; i < size; i++ {
		for j := i + 1; j < size; j++ {
			a, b := net.Pipe()
			if err := nodes[i].attach(j, a, false); err != nil {
				return nil, err
			}
			if err := nodes[j].attach(i, b, true); err != nil {
				return nil, err
			}
		}
	}
	return nodes, nil
}

// NewTCPNode joins the TCP mesh described by addrs, where addrs[r] is the
// listen address of rank r. It accepts one connection from every higher
// rank on ln and dials every lower rank, retrying until the peer listens.
// ln is closed once the mesh is complete.
func NewTCPNode(ctx context.Context, rank int, ln net.Listener, addrs []string, log *slog.Logger) (*Node, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, errors.Wrapf(ErrInvalidPeer, "rank %d of %d", rank, len(addrs))
	}
	n := newNode(rank, len(addrs), log)
	defer ln.Close()

	accepted := make(chan error, 1)
	go func() {
		accepted <- n.acceptPeers(ln, len(addrs)-1-rank)
	}()

	for peer := 0; peer < rank; peer++ {
		conn, err := dialPeer(ctx, addrs[peer], n.log)
		if err != nil {
			n.Close()
			return nil, errors.Wrapf(err, "dial rank %d at %s", peer, addrs[peer])
		}
		var hello [4]byte
		binary.BigEndian.PutUint32(hello[:], uint32(rank))
		if _, err := conn.Write(hello[:]); err != nil {
			conn.Close()
			n.Close()
			return nil, errors.Wrapf(err, "announce to rank %d", peer)
		}
		if err := n.attach(peer, conn, true); err != nil {
			n.Close()
			return nil, err
		}
	}

	select {
	case err := <-accepted:
		if err != nil {
			n.Close()
			return nil, err
		}
	case <-ctx.Done():
		ln.Close()
		n.Close()
		return nil, errors.Wrap(ctx.Err(), "wait for higher ranks")
	}
	n.log.Info("mesh connected", slog.Int("size", n.size))
	return n, nil
}

func (n *Node) acceptPeers(ln net.Listener, expected int) error {
	for i := 0; i < expected; i++ {
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "accept peer")
		}
		var hello [4]byte
		if _, err := io.ReadFull(conn, hello[:]); err != nil {
			conn.Close()
			return errors.Wrap(err, "read peer rank")
		}
		peer := int(binary.BigEndian.Uint32(hello[:]))
		if peer <= n.rank || peer >= n.size {
			conn.Close()
			return errors.Wrapf(ErrInvalidPeer, "rank %d connected to rank %d", peer, n.rank)
		}
		if err := n.attach(peer, conn, false); err != nil {
			return err
		}
	}
	return nil
}

func dialPeer(ctx context.Context, addr string, log *slog.Logger) (net.Conn, error) {
	var d net.Dialer
	backoff := dialBackoffMin
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		log.Debug("peer not reachable yet", slog.String("addr", addr), "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > dialBackoffMax {
			backoff = dialBackoffMax
		}
	}
}
