// Package master implements the master process: a single reactor goroutine
// owns the scene, the stream bindings and the screen lock, and broadcasts
// the resulting state to the walls.
package master

import (
	"context"
	"log/slog"
	"time"

	"wall-controller/internal/lock"
	"wall-controller/internal/message"
	"wall-controller/internal/platform/metrics"
	"wall-controller/internal/scene"
	"wall-controller/internal/session"
	"wall-controller/internal/state"
	"wall-controller/internal/stream"

	"github.com/pkg/errors"
)

// DefaultClockInterval is how often the master time is broadcast while the
// clock overlay is enabled.
const DefaultClockInterval = time.Second

var (
	// ErrStopped is returned by calls made after the reactor exited.
	ErrStopped = errors.New("master stopped")

	// ErrNoSessions is returned when no session store is configured.
	ErrNoSessions = errors.New("sessions are not configured")
)

// Broadcaster sends the master state to every wall.
type Broadcaster interface {
	SendScene(scene.Snapshot) error
	SendOptions(state.Options) error
	SendLock(state.LockState) error
	SendMarkers(state.Markers) error
	SendCountdown(state.Countdown) error
	SendPixelFrame(state.PixelFrame) error
	SendPixelStreamClose(uri string) error
	SendRequestScreenshot(id uint64) error
	SendTimestamp(time.Time) error
}

// Launcher starts processes on behalf of the master.
type Launcher interface {
	StartProcess(state.ProcessSpec) error
}

// Config configures a Master.
type Config struct {
	Surfaces      []scene.Size
	Walls         int
	Sessions      *session.Store
	Server        stream.Server
	Metrics       *metrics.Metrics
	ClockInterval time.Duration
}

// Master is the reactor. Its exported methods may be called from any
// goroutine, except from inside a function passed to Do.
type Master struct {
	log      *slog.Logger
	out      Broadcaster
	launcher Launcher
	metrics  *metrics.Metrics
	sessions *session.Store
	walls    int
	interval time.Duration

	ops     chan func()
	stopped chan struct{}

	// Owned by the reactor goroutine.
	scene     *scene.Scene
	streams   *stream.Manager
	lock      *lock.ScreenLock
	options   state.Options
	markers   state.Markers
	countdown state.Countdown
	sequence  uint64
	dirty     bool
	lockDirty bool
	nextShot  uint64
	shots     map[uint64]*screenshot
}

// New builds a master. Call Run to start the reactor.
func New(cfg Config, out Broadcaster, launcher Launcher, log *slog.Logger) *Master {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = DefaultClockInterval
	}
	m := &Master{
		log:      log,
		out:      out,
		launcher: launcher,
		metrics:  cfg.Metrics,
		sessions: cfg.Sessions,
		walls:    cfg.Walls,
		interval: cfg.ClockInterval,
		ops:      make(chan func()),
		stopped:  make(chan struct{}),
		scene:    scene.New(cfg.Surfaces...),
		lock:     lock.New(),
		options:  state.DefaultOptions(),
		markers:  state.Markers{Points: make(map[int]state.Point)},
		shots:    make(map[uint64]*screenshot),
	}
	m.streams = stream.NewManager(m.scene, cfg.Server, log)

	m.scene.Subscribe(m.onSceneEvent)
	m.streams.Subscribe(m.onStreamEvent)
	m.lock.Subscribe(m.onLockEvent)
	return m
}

// OnStreamClosed registers fn to be called with the uri of every stream
// whose window is removed, whatever removed it. fn runs on the reactor
// goroutine and must not call back into the master.
func (m *Master) OnStreamClosed(fn func(uri string)) (unsubscribe func()) {
	return m.streams.Subscribe(func(ev stream.Event) {
		if ev.Kind == stream.Closed {
			fn(ev.URI)
		}
	})
}

// Run executes queued operations until ctx is done. The full state is
// broadcast once at start so that walls have something to render.
func (m *Master) Run(ctx context.Context) error {
	defer close(m.stopped)

	m.dirty, m.lockDirty = true, true
	m.broadcast(message.Options, m.out.SendOptions(m.options))
	m.flush()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case op := <-m.ops:
			op()
			m.flush()
		case now := <-ticker.C:
			if m.options.ShowClock {
				m.broadcast(message.Timestamp, m.out.SendTimestamp(now))
			}
		}
	}
}

// Do runs fn on the reactor goroutine and waits for it. State changes made
// by fn are broadcast once fn returns.
func (m *Master) Do(fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case m.ops <- op:
	case <-m.stopped:
		return ErrStopped
	}
	<-done
	return nil
}

func (m *Master) call(fn func() error) error {
	var err error
	if e := m.Do(func() { err = fn() }); e != nil {
		return e
	}
	return err
}

func (m *Master) flush() {
	if m.dirty {
		m.dirty = false
		m.sequence++
		m.broadcast(message.Scene, m.out.SendScene(scene.TakeSnapshot(m.scene, m.sequence)))
	}
	if m.lockDirty {
		m.lockDirty = false
		m.broadcast(message.Lock, m.out.SendLock(m.lock.State()))
	}
}

func (m *Master) broadcast(t message.Type, err error) {
	if err != nil {
		m.log.Error("broadcast failed", slog.String("type", t.String()), "error", err)
		return
	}
	m.metrics.IncBroadcast(t.String())
}

func (m *Master) onSceneEvent(scene.Event) {
	m.dirty = true
}

func (m *Master) onStreamEvent(ev stream.Event) {
	switch ev.Kind {
	case stream.Opening:
		if ev.Window.Stream == scene.StreamExternal {
			m.lock.RequestStreamAcceptance(ev.URI)
		}
	case stream.Closed:
		m.lock.CancelStreamAcceptance(ev.URI)
		m.broadcast(message.PixelStreamClose, m.out.SendPixelStreamClose(ev.URI))
	}
}

func (m *Master) onLockEvent(ev lock.Event) {
	m.lockDirty = true
	switch ev.Kind {
	case lock.Accepted:
		m.metrics.IncAdmission("accepted")
		if err := m.streams.ShowWindow(ev.URI); err != nil {
			m.log.Debug("accepted stream has no window", slog.String("uri", ev.URI), "error", err)
		}
	case lock.Rejected:
		m.metrics.IncAdmission("rejected")
		if err := m.streams.CloseWindow(ev.URI); err != nil {
			m.log.Debug("rejected stream has no window", slog.String("uri", ev.URI), "error", err)
		}
	case lock.Cancelled:
		m.metrics.IncAdmission("cancelled")
	case lock.Changed:
		m.log.Info("screen lock changed", slog.Bool("locked", ev.Locked))
	}
}

// UpdateGauges refreshes the gauge metrics. It is meant for the metrics
// scrape handler.
func (m *Master) UpdateGauges() {
	_ = m.Do(func() {
		m.metrics.SetOpenWindows(m.scene.WindowCount())
		m.metrics.SetPendingStreams(len(m.lock.Pending()))
		m.metrics.SetLocked(m.lock.IsLocked())
	})
}
