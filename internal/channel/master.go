package channel

import (
	"log/slog"
	"time"

	"wall-controller/internal/codec"
	"wall-controller/internal/comm"
	"wall-controller/internal/message"
	"wall-controller/internal/scene"
	"wall-controller/internal/state"

	"github.com/pkg/errors"
)

// MasterToWallChannel broadcasts the master's state to every wall. Within
// the channel messages are never reordered; SendQuit must be the last call.
type MasterToWallChannel struct {
	out *sender
}

// NewMasterToWallChannel starts the sender goroutine. c is the main group
// with the master at rank 0.
func NewMasterToWallChannel(c *comm.Communicator, log *slog.Logger) *MasterToWallChannel {
	transmit := func(m message.Message) error {
		return c.Broadcast(m.Type, m.Payload)
	}
	return &MasterToWallChannel{out: newSender("master-to-wall", transmit, log)}
}

func (ch *MasterToWallChannel) SendScene(snap scene.Snapshot) error {
	return ch.out.send(message.Scene, snap)
}

func (ch *MasterToWallChannel) SendOptions(o state.Options) error {
	return ch.out.send(message.Options, o)
}

func (ch *MasterToWallChannel) SendLock(l state.LockState) error {
	return ch.out.send(message.Lock, l)
}

func (ch *MasterToWallChannel) SendMarkers(m state.Markers) error {
	return ch.out.send(message.Markers, m)
}

func (ch *MasterToWallChannel) SendCountdown(c state.Countdown) error {
	return ch.out.send(message.CountdownStatus, c)
}

func (ch *MasterToWallChannel) SendPixelFrame(f state.PixelFrame) error {
	return ch.out.send(message.PixelStreamFrame, f)
}

func (ch *MasterToWallChannel) SendPixelStreamClose(uri string) error {
	return ch.out.send(message.PixelStreamClose, state.PixelStreamClose{URI: uri})
}

func (ch *MasterToWallChannel) SendRequestScreenshot(id uint64) error {
	return ch.out.send(message.RequestScreenshot, state.ScreenshotRequest{ID: id})
}

func (ch *MasterToWallChannel) SendTimestamp(t time.Time) error {
	return ch.out.send(message.Timestamp, state.Timestamp{UnixNano: t.UnixNano()})
}

// SendQuit enqueues quit after everything already queued and blocks until
// all of it has been broadcast.
func (ch *MasterToWallChannel) SendQuit() error {
	return ch.out.quit()
}

// Pending returns the number of broadcasts not yet transmitted.
func (ch *MasterToWallChannel) Pending() int { return ch.out.pending() }

// MasterHandler receives the walls' requests. Wall indexes start at 0.
type MasterHandler interface {
	RequestFrame(wall int, req state.FrameRequest)
	ReceiveImage(wall int, img state.Image)
}

// MasterFromWallChannel is the master's inbound loop on the main group.
type MasterFromWallChannel struct {
	comm *comm.Communicator
	log  *slog.Logger
}

func NewMasterFromWallChannel(c *comm.Communicator, log *slog.Logger) *MasterFromWallChannel {
	return &MasterFromWallChannel{comm: c, log: log}
}

// Run dispatches wall messages to h until every wall has sent quit.
func (ch *MasterFromWallChannel) Run(h MasterHandler) error {
	remaining := ch.comm.Size() - 1
	for remaining > 0 {
		hdr := ch.comm.Probe(comm.AnySource, message.Any)
		if !hdr.Valid() {
			ch.log.Error("invalid probe from walls", slog.Int("walls_remaining", remaining))
			return errors.Wrap(comm.ErrClosed, "master inbound")
		}
		payload, err := receive(ch.comm, hdr)
		if err != nil {
			return err
		}
		wall := hdr.Src - 1

		switch hdr.Type {
		case message.RequestFrame:
			var req state.FrameRequest
			if err := codec.Unmarshal(payload, &req); err != nil {
				ch.log.Warn("bad frame request", slog.Int("wall", wall), "error", err)
				continue
			}
			h.RequestFrame(wall, req)
		case message.Image:
			var img state.Image
			if err := codec.Unmarshal(payload, &img); err != nil {
				ch.log.Warn("bad image", slog.Int("wall", wall), "error", err)
				continue
			}
			h.ReceiveImage(wall, img)
		case message.Quit:
			remaining--
			ch.log.Debug("wall quit", slog.Int("wall", wall), slog.Int("walls_remaining", remaining))
		default:
			ch.log.Warn("unexpected message from wall", slog.Int("wall", wall), slog.String("type", hdr.Type.String()))
		}
	}
	return nil
}

// ForkerRank is the world rank of the forker process.
const ForkerRank = 1

// MasterToForkerChannel sends process launch requests to the forker.
type MasterToForkerChannel struct {
	out *sender
}

// NewMasterToForkerChannel starts the sender goroutine. world is the world
// group.
func NewMasterToForkerChannel(world *comm.Communicator, log *slog.Logger) *MasterToForkerChannel {
	transmit := func(m message.Message) error {
		return world.Send(m.Type, m.Payload, ForkerRank)
	}
	return &MasterToForkerChannel{out: newSender("master-to-forker", transmit, log)}
}

func (ch *MasterToForkerChannel) StartProcess(spec state.ProcessSpec) error {
	if spec.Command == "" {
		return errors.New("start process: empty command")
	}
	return ch.out.send(message.StartProcess, spec)
}

// SendQuit stops the forker after every queued launch.
func (ch *MasterToForkerChannel) SendQuit() error {
	return ch.out.quit()
}
