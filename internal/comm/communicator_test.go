package comm

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"wall-controller/internal/message"
	"wall-controller/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newWorld builds a world communicator for every rank of a local mesh.
func newWorld(t *testing.T, size int) []*Communicator {
	t.Helper()
	nodes, err := transport.NewLocalMesh(size, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	comms := make([]*Communicator, size)
	errs := make([]error, size)
	var wg sync.WaitGroup
	for i := range nodes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			comms[i], errs[i] = World(ctx, nodes[i], discardLogger())
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
	t.Cleanup(func() {
		for i := range comms {
			comms[i].Close()
			nodes[i].Close()
		}
	})
	return comms
}

// each runs fn on every communicator concurrently and fails on any error.
func each(t *testing.T, comms []*Communicator, fn func(c *Communicator) error) {
	t.Helper()
	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for i, c := range comms {
		wg.Add(1)
		go func(i int, c *Communicator) {
			defer wg.Done()
			errs[i] = fn(c)
		}(i, c)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "rank %d", i)
	}
}

func TestCommunicator_Send_preserves_order(t *testing.T) {
	comms := newWorld(t, 2)

	for i := 0; i < 10; i++ {
		require.NoError(t, comms[0].Send(message.Options, []byte{byte(i)}, 1))
	}
	for i := 0; i < 10; i++ {
		h := comms[1].Probe(AnySource, message.Any)
		require.True(t, h.Valid())
		assert.Equal(t, 0, h.Src)
		assert.Equal(t, message.Options, h.Type)

		buf := make([]byte, h.Size)
		n, err := comms[1].Receive(h.Src, buf, h.Type)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, buf[:n])
	}
}

func TestCommunicator_Probe_filters_type(t *testing.T) {
	comms := newWorld(t, 2)

	require.NoError(t, comms[0].Send(message.Scene, []byte("scene"), 1))
	require.NoError(t, comms[0].Send(message.Quit, nil, 1))

	h := comms[1].Probe(0, message.Quit)
	require.True(t, h.Valid())
	assert.Equal(t, message.Quit, h.Type)
	assert.Equal(t, 0, h.Size)

	h = comms[1].Probe(0, message.Any)
	assert.Equal(t, message.Scene, h.Type)
	assert.Equal(t, 5, h.Size)
}

func TestCommunicator_Send_invalid_rank(t *testing.T) {
	comms := newWorld(t, 2)

	assert.ErrorIs(t, comms[0].Send(message.Quit, nil, 0), ErrInvalidRank)
	assert.ErrorIs(t, comms[0].Send(message.Quit, nil, 2), ErrInvalidRank)
	assert.ErrorIs(t, comms[0].Send(message.Quit, nil, -3), ErrInvalidRank)
	assert.False(t, comms[0].Probe(7, message.Any).Valid())
}

func TestCommunicator_Receive_truncated_keeps_message(t *testing.T) {
	comms := newWorld(t, 2)
	require.NoError(t, comms[0].Send(message.Image, []byte("0123456789"), 1))

	_, err := comms[1].Receive(0, make([]byte, 4), message.Image)
	assert.ErrorIs(t, err, ErrTruncated)

	buf := make([]byte, 10)
	n, err := comms[1].Receive(0, buf, message.Image)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(buf[:n]))
}

func TestCommunicator_Probe_after_close(t *testing.T) {
	comms := newWorld(t, 2)

	done := make(chan Header, 1)
	go func() { done <- comms[1].Probe(AnySource, message.Any) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, comms[1].Close())

	select {
	case h := <-done:
		assert.False(t, h.Valid())
	case <-time.After(2 * time.Second):
		t.Fatal("probe did not return after close")
	}
}

func TestCommunicator_Broadcast_two_phase(t *testing.T) {
	comms := newWorld(t, 4)

	payload := []byte("scene-v1")
	require.NoError(t, comms[0].Broadcast(message.Scene, payload))
	require.NoError(t, comms[0].Broadcast(message.Quit, nil))

	for _, c := range comms[1:] {
		h, err := c.BroadcastHeader(0)
		require.NoError(t, err)
		assert.Equal(t, message.Scene, h.Type)
		assert.Equal(t, len(payload), h.Size)

		buf := make([]byte, h.Size)
		n, err := c.ReceiveBroadcast(0, buf)
		require.NoError(t, err)
		assert.Equal(t, payload, buf[:n])

		h, err = c.BroadcastHeader(0)
		require.NoError(t, err)
		assert.Equal(t, message.Quit, h.Type)
		_, err = c.ReceiveBroadcast(0, nil)
		require.NoError(t, err)
	}
}

func TestCommunicator_Broadcast_large_payload(t *testing.T) {
	comms := newWorld(t, 2)

	payload := bytes.Repeat([]byte("pixels"), 100_000)
	require.NoError(t, comms[0].Broadcast(message.PixelStreamFrame, payload))

	h, err := comms[1].BroadcastHeader(0)
	require.NoError(t, err)
	require.Equal(t, len(payload), h.Size)
	buf := make([]byte, h.Size)
	n, err := comms[1].ReceiveBroadcast(0, buf)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(payload, buf[:n]))
}

func TestCommunicator_GlobalSum(t *testing.T) {
	comms := newWorld(t, 4)

	sums := make([]int, len(comms))
	each(t, comms, func(c *Communicator) error {
		s, err := c.GlobalSum(1)
		sums[c.Rank()] = s
		return err
	})
	assert.Equal(t, []int{4, 4, 4, 4}, sums)
}

func TestCommunicator_GatherAll_rank_order(t *testing.T) {
	comms := newWorld(t, 4)

	results := make([][]int, len(comms))
	each(t, comms, func(c *Communicator) error {
		v, err := c.GatherAll((c.Rank() + 1) * 10)
		results[c.Rank()] = v
		return err
	})
	for _, r := range results {
		assert.Equal(t, []int{10, 20, 30, 40}, r)
	}
}

func TestCommunicator_Barrier_repeated(t *testing.T) {
	comms := newWorld(t, 3)

	each(t, comms, func(c *Communicator) error {
		for i := 0; i < 20; i++ {
			if err := c.Barrier(); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestCommunicator_Sub(t *testing.T) {
	comms := newWorld(t, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	walls := []int{2, 3}
	subs := make([]*Communicator, len(comms))
	each(t, comms[2:], func(c *Communicator) error {
		sub, err := c.Sub(ctx, "walls", walls)
		subs[c.Rank()] = sub
		return err
	})

	assert.Equal(t, 0, subs[2].Rank())
	assert.Equal(t, 1, subs[3].Rank())
	assert.Equal(t, 2, subs[3].WorldRank(0))
	assert.Equal(t, "world/walls", subs[2].Group())

	each(t, []*Communicator{subs[2], subs[3]}, func(c *Communicator) error {
		_, err := c.GlobalSum(c.Rank())
		return err
	})

	require.NoError(t, subs[2].Send(message.Timestamp, []byte("t"), 1))
	h := subs[3].Probe(AnySource, message.Any)
	require.True(t, h.Valid())
	assert.Equal(t, 0, h.Src)

	_, err := comms[0].Sub(ctx, "walls", walls)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestCommunicator_single_member_collectives(t *testing.T) {
	comms := newWorld(t, 1)

	require.NoError(t, comms[0].Barrier())
	sum, err := comms[0].GlobalSum(7)
	require.NoError(t, err)
	assert.Equal(t, 7, sum)
	require.NoError(t, comms[0].Broadcast(message.Scene, []byte("x")))
}
