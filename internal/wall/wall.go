// Package wall implements a wall process: it receives the master's state,
// agrees with the other walls on what to show, and renders in lockstep.
package wall

import (
	"log/slog"
	"time"

	"wall-controller/internal/channel"
	"wall-controller/internal/comm"
	"wall-controller/internal/scene"
	"wall-controller/internal/state"

	"github.com/pkg/errors"
)

const updateBuffer = 1024

// Config configures a wall process.
type Config struct {
	Index    int
	Screen   Screen
	Surfaces []scene.Size
	FPS      int
	Renderer Renderer
	Clock    channel.Clock
}

// Wall runs the render loop of one wall process.
type Wall struct {
	cfg        Config
	log        *slog.Logger
	fromMaster *channel.WallFromMasterChannel
	toMaster   *channel.WallToMasterChannel
	walls      *channel.WallToWallChannel
	updates    chan func(*Wall)
	received   chan error

	// Owned by the render loop.
	frame     Frame
	latest    uint64
	snapshots map[uint64]scene.Snapshot
	requested map[string]bool
	shots     []uint64
	quit      bool
	inbound   bool
	err       error
}

// New wires a wall to the main group (master traffic) and the wall group.
func New(main, walls *comm.Communicator, cfg Config, log *slog.Logger) *Wall {
	if cfg.FPS <= 0 {
		cfg.FPS = 60
	}
	if cfg.Renderer == nil {
		cfg.Renderer = LogRenderer{Log: log, Every: uint64(cfg.FPS)}
	}
	w := &Wall{
		cfg:        cfg,
		log:        log,
		fromMaster: channel.NewWallFromMasterChannel(main, log),
		toMaster:   channel.NewWallToMasterChannel(main, log),
		walls:      channel.NewWallToWallChannel(walls, cfg.Clock),
		updates:    make(chan func(*Wall), updateBuffer),
		received:   make(chan error, 1),
		snapshots:  make(map[uint64]scene.Snapshot),
		requested:  make(map[string]bool),
	}
	w.frame = Frame{
		Scene:   scene.New(cfg.Surfaces...),
		Screen:  cfg.Screen,
		Options: state.DefaultOptions(),
		Markers: state.Markers{Points: map[int]state.Point{}},
		Streams: make(map[string]state.PixelFrame),
	}
	return w
}

// Run renders until every wall agreed to quit, then reports quit to the
// master.
func (w *Wall) Run() error {
	go func() { w.received <- w.fromMaster.Run(receiver{w.updates}) }()

	ticker := time.NewTicker(time.Second / time.Duration(w.cfg.FPS))
	defer ticker.Stop()

	for {
		w.drain()
		done, err := w.renderFrame()
		if err != nil {
			w.log.Error("render loop failed", "error", err)
			return err
		}
		if done {
			break
		}
		<-ticker.C
	}

	for !w.inbound {
		select {
		case <-w.updates:
		case err := <-w.received:
			if err != nil && w.err == nil {
				w.err = err
			}
			w.inbound = true
		}
	}
	if err := w.toMaster.SendQuit(); err != nil {
		return errors.Wrap(err, "send quit to master")
	}
	w.log.Info("wall stopped", slog.Uint64("frames", w.frame.Number))
	return w.err
}

func (w *Wall) drain() {
	for {
		select {
		case apply := <-w.updates:
			apply(w)
		case err := <-w.received:
			if err != nil {
				w.err = err
			}
			w.inbound = true
			w.quit = true
			for {
				select {
				case apply := <-w.updates:
					apply(w)
				default:
					return
				}
			}
		default:
			return
		}
	}
}

// renderFrame runs the collectives of one frame. Every wall calls them in
// the same order, so it reports done on the same frame everywhere.
func (w *Wall) renderFrame() (bool, error) {
	agreed, err := w.walls.AgreeVersion(int(w.latest))
	if err != nil {
		return false, errors.Wrap(err, "agree on scene")
	}
	if err := w.applyScene(uint64(agreed)); err != nil {
		return false, err
	}

	now, err := w.walls.SynchronizeClock()
	if err != nil {
		return false, errors.Wrap(err, "synchronize clock")
	}
	w.frame.Number++
	w.frame.Time = now

	if err := w.cfg.Renderer.Render(&w.frame); err != nil {
		w.log.Warn("render failed", slog.Uint64("frame", w.frame.Number), "error", err)
	}

	if err := w.requestFrames(); err != nil {
		return false, err
	}
	w.captureScreenshots()

	if err := w.walls.Synchronize(); err != nil {
		return false, errors.Wrap(err, "swap barrier")
	}

	quitting, err := w.walls.QuitVote(w.quit)
	if err != nil {
		return false, errors.Wrap(err, "quit agreement")
	}
	return quitting, nil
}

func (w *Wall) applyScene(seq uint64) error {
	if seq == 0 || seq == w.frame.Sequence {
		return nil
	}
	snap, ok := w.snapshots[seq]
	if !ok {
		return errors.Errorf("agreed scene %d was never received", seq)
	}
	s := scene.New(w.cfg.Surfaces...)
	if err := scene.Restore(s, snap); err != nil {
		return errors.Wrapf(err, "restore scene %d", seq)
	}
	w.frame.Scene = s
	w.frame.Sequence = seq
	for k := range w.snapshots {
		if k < seq {
			delete(w.snapshots, k)
		}
	}
	return nil
}

// requestFrames elects, for every shown pixel stream, the highest ranked
// wall that displays it; that wall asks the master for the next frame.
func (w *Wall) requestFrames() error {
	for i := 0; i < w.frame.Scene.Surfaces(); i++ {
		g, _ := w.frame.Scene.Group(i)
		for _, win := range g.Windows() {
			if !win.IsPixelStream() || !win.IsShown() {
				continue
			}
			r, _ := g.DisplayCoordinates(win.ID)
			candidate := i == w.cfg.Screen.Surface && r.Intersects(w.cfg.Screen.Rect)
			leader, err := w.walls.ElectLeader(candidate)
			if err != nil {
				return errors.Wrapf(err, "elect leader for %s", win.URI)
			}
			if leader != w.walls.Rank() || w.requested[win.URI] {
				continue
			}
			if err := w.toMaster.RequestFrame(win.URI); err != nil {
				w.log.Warn("frame request failed", slog.String("uri", win.URI), "error", err)
				continue
			}
			w.requested[win.URI] = true
		}
	}
	return nil
}

func (w *Wall) captureScreenshots() {
	for _, id := range w.shots {
		width, height, data, err := w.cfg.Renderer.Capture(&w.frame)
		if err != nil {
			w.log.Warn("capture failed", slog.Uint64("id", id), "error", err)
		}
		img := state.Image{RequestID: id, Wall: w.cfg.Index, Width: width, Height: height, Data: data}
		if err := w.toMaster.SendImage(img); err != nil {
			w.log.Warn("screenshot not sent", slog.Uint64("id", id), "error", err)
		}
	}
	w.shots = nil
}

// receiver runs on the inbound goroutine and hands every broadcast to the
// render loop.
type receiver struct {
	updates chan<- func(*Wall)
}

func (r receiver) ApplyScene(s scene.Snapshot) {
	r.updates <- func(w *Wall) {
		w.snapshots[s.Sequence] = s
		if s.Sequence > w.latest {
			w.latest = s.Sequence
		}
	}
}

func (r receiver) ApplyOptions(o state.Options) {
	r.updates <- func(w *Wall) { w.frame.Options = o }
}

func (r receiver) ApplyLock(l state.LockState) {
	r.updates <- func(w *Wall) { w.frame.Lock = l }
}

func (r receiver) ApplyMarkers(m state.Markers) {
	r.updates <- func(w *Wall) { w.frame.Markers = m }
}

func (r receiver) ApplyCountdown(c state.Countdown) {
	r.updates <- func(w *Wall) { w.frame.Countdown = c }
}

func (r receiver) ApplyPixelFrame(f state.PixelFrame) {
	r.updates <- func(w *Wall) {
		w.frame.Streams[f.URI] = f
		delete(w.requested, f.URI)
	}
}

func (r receiver) ClosePixelStream(c state.PixelStreamClose) {
	r.updates <- func(w *Wall) {
		delete(w.frame.Streams, c.URI)
		delete(w.requested, c.URI)
	}
}

func (r receiver) RequestScreenshot(req state.ScreenshotRequest) {
	r.updates <- func(w *Wall) { w.shots = append(w.shots, req.ID) }
}

func (r receiver) ApplyTimestamp(t state.Timestamp) {
	r.updates <- func(w *Wall) { w.frame.MasterTime = t.Time() }
}

func (r receiver) Quit() {}

// Drain consumes the master's broadcasts until quit without rendering. It
// is used when the startup version check failed.
func Drain(main *comm.Communicator, log *slog.Logger) error {
	return channel.NewWallFromMasterChannel(main, log).Run(discard{})
}

type discard struct{}

func (discard) ApplyScene(scene.Snapshot)                 {}
func (discard) ApplyOptions(state.Options)                {}
func (discard) ApplyLock(state.LockState)                 {}
func (discard) ApplyMarkers(state.Markers)                {}
func (discard) ApplyCountdown(state.Countdown)            {}
func (discard) ApplyPixelFrame(state.PixelFrame)          {}
func (discard) ClosePixelStream(state.PixelStreamClose)   {}
func (discard) RequestScreenshot(state.ScreenshotRequest) {}
func (discard) ApplyTimestamp(state.Timestamp)            {}
func (discard) Quit()                                     {}
