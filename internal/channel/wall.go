package channel

import (
	"log/slog"
	"math/bits"
	"time"

	"wall-controller/internal/codec"
	"wall-controller/internal/comm"
	"wall-controller/internal/message"
	"wall-controller/internal/scene"
	"wall-controller/internal/state"

	"github.com/pkg/errors"
)

// WallHandler receives the master's broadcasts on a wall.
type WallHandler interface {
	ApplyScene(scene.Snapshot)
	ApplyOptions(state.Options)
	ApplyLock(state.LockState)
	ApplyMarkers(state.Markers)
	ApplyCountdown(state.Countdown)
	ApplyPixelFrame(state.PixelFrame)
	ClosePixelStream(state.PixelStreamClose)
	RequestScreenshot(state.ScreenshotRequest)
	ApplyTimestamp(state.Timestamp)
	Quit()
}

// WallFromMasterChannel is a wall's inbound loop on the main group.
type WallFromMasterChannel struct {
	comm *comm.Communicator
	log  *slog.Logger
}

func NewWallFromMasterChannel(c *comm.Communicator, log *slog.Logger) *WallFromMasterChannel {
	return &WallFromMasterChannel{comm: c, log: log}
}

// Run dispatches broadcasts to h until the master sends quit.
func (ch *WallFromMasterChannel) Run(h WallHandler) error {
	for {
		hdr, payload, err := receiveBroadcast(ch.comm, 0)
		if err != nil {
			return err
		}
		if hdr.Type == message.Quit {
			h.Quit()
			return nil
		}
		if err := dispatch(h, hdr.Type, payload); err != nil {
			ch.log.Warn("dropped broadcast", slog.String("type", hdr.Type.String()), "error", err)
		}
	}
}

func dispatch(h WallHandler, t message.Type, payload []byte) error {
	switch t {
	case message.Scene:
		var v scene.Snapshot
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ApplyScene(v)
	case message.Options:
		var v state.Options
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ApplyOptions(v)
	case message.Lock:
		var v state.LockState
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ApplyLock(v)
	case message.Markers:
		var v state.Markers
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ApplyMarkers(v)
	case message.CountdownStatus:
		var v state.Countdown
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ApplyCountdown(v)
	case message.PixelStreamFrame:
		var v state.PixelFrame
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ApplyPixelFrame(v)
	case message.PixelStreamClose:
		var v state.PixelStreamClose
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ClosePixelStream(v)
	case message.RequestScreenshot:
		var v state.ScreenshotRequest
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.RequestScreenshot(v)
	case message.Timestamp:
		var v state.Timestamp
		if err := codec.Unmarshal(payload, &v); err != nil {
			return err
		}
		h.ApplyTimestamp(v)
	default:
		return errors.Errorf("unexpected message type %s", t)
	}
	return nil
}

// WallToMasterChannel sends a wall's requests to the master.
type WallToMasterChannel struct {
	out *sender
}

// NewWallToMasterChannel starts the sender goroutine. c is the main group.
func NewWallToMasterChannel(c *comm.Communicator, log *slog.Logger) *WallToMasterChannel {
	transmit := func(m message.Message) error {
		return c.Send(m.Type, m.Payload, 0)
	}
	return &WallToMasterChannel{out: newSender("wall-to-master", transmit, log)}
}

func (ch *WallToMasterChannel) RequestFrame(uri string) error {
	return ch.out.send(message.RequestFrame, state.FrameRequest{URI: uri})
}

func (ch *WallToMasterChannel) SendImage(img state.Image) error {
	return ch.out.send(message.Image, img)
}

// SendQuit tells the master this wall is done and flushes the channel.
func (ch *WallToMasterChannel) SendQuit() error {
	return ch.out.quit()
}

// Clock is the time source of the clock master.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the local wall clock.
var SystemClock Clock = systemClock{}

// maxElectionRanks bounds the group size: candidacy is encoded as one bit
// per rank in the sign-free part of an int64.
const maxElectionRanks = 63

// WallToWallChannel carries the collectives that keep walls in lockstep.
// Every method is a collective: all walls must call it in the same order.
type WallToWallChannel struct {
	comm  *comm.Communicator
	clock Clock
}

// NewWallToWallChannel works on the wall group. clock is only read on rank
// 0; nil means the system clock.
func NewWallToWallChannel(c *comm.Communicator, clock Clock) *WallToWallChannel {
	if clock == nil {
		clock = SystemClock
	}
	return &WallToWallChannel{comm: c, clock: clock}
}

// Rank returns the wall group rank.
func (ch *WallToWallChannel) Rank() int { return ch.comm.Rank() }

// Size returns the number of walls.
func (ch *WallToWallChannel) Size() int { return ch.comm.Size() }

// SynchronizeClock returns the frame time chosen by rank 0. Other ranks
// never read their own clock.
func (ch *WallToWallChannel) SynchronizeClock() (time.Time, error) {
	if ch.comm.Rank() == 0 {
		now := ch.clock.Now().UnixNano()
		if err := ch.comm.Broadcast(message.FrameClock, codec.PutInt(int(now))); err != nil {
			return time.Time{}, errors.Wrap(err, "broadcast frame clock")
		}
		return time.Unix(0, now), nil
	}

	hdr, payload, err := receiveBroadcast(ch.comm, 0)
	if err != nil {
		return time.Time{}, err
	}
	if hdr.Type != message.FrameClock {
		return time.Time{}, errors.Errorf("expected %s, got %s", message.FrameClock, hdr.Type)
	}
	v, err := codec.Int(payload)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(v)), nil
}

// Synchronize blocks until every wall has called it.
func (ch *WallToWallChannel) Synchronize() error {
	return ch.comm.Barrier()
}

// AllReady reports whether every wall is ready.
func (ch *WallToWallChannel) AllReady(ready bool) (bool, error) {
	v := 0
	if ready {
		v = 1
	}
	sum, err := ch.comm.GlobalSum(v)
	if err != nil {
		return false, err
	}
	return sum == ch.comm.Size(), nil
}

// AgreeVersion returns the smallest version held by any wall: the newest
// one every wall has.
func (ch *WallToWallChannel) AgreeVersion(v int) (int, error) {
	values, err := ch.comm.GatherAll(v)
	if err != nil {
		return 0, err
	}
	agreed := values[0]
	for _, x := range values[1:] {
		if x < agreed {
			agreed = x
		}
	}
	return agreed, nil
}

// CheckVersion reports whether every wall holds v.
func (ch *WallToWallChannel) CheckVersion(v int) (bool, error) {
	return CheckVersion(ch.comm, v)
}

// QuitVote reports whether any wall wants to quit, so that every wall
// leaves the render loop on the same frame.
func (ch *WallToWallChannel) QuitVote(quit bool) (bool, error) {
	v := 0
	if quit {
		v = 1
	}
	sum, err := ch.comm.GlobalSum(v)
	if err != nil {
		return false, err
	}
	return sum > 0, nil
}

// ElectLeader returns the highest candidate rank, or -1 when no wall is a
// candidate. Every rank contributes a distinct bit so ties cannot happen;
// groups larger than 63 ranks are refused.
func (ch *WallToWallChannel) ElectLeader(candidate bool) (int, error) {
	v, err := candidacy(ch.comm.Rank(), ch.comm.Size(), candidate)
	if err != nil {
		return -1, err
	}
	mask, err := ch.comm.GlobalSum(v)
	if err != nil {
		return -1, err
	}
	if mask == 0 {
		return -1, nil
	}
	return bits.Len64(uint64(mask)) - 1, nil
}

// candidacy returns the bit rank contributes to a leader election.
func candidacy(rank, size int, candidate bool) (int, error) {
	if size > maxElectionRanks {
		return 0, errors.Wrapf(ErrTooManyRanks, "%d ranks", size)
	}
	if !candidate {
		return 0, nil
	}
	return 1 << rank, nil
}
