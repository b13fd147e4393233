package master

import (
	"context"
	"log/slog"
	"sort"

	"wall-controller/internal/message"
	"wall-controller/internal/scene"
	"wall-controller/internal/state"
	"wall-controller/internal/stream"

	"github.com/pkg/errors"
)

func (m *Master) Lock() error {
	return m.Do(m.lock.Lock)
}

func (m *Master) Unlock() error {
	return m.Do(m.lock.Unlock)
}

// AcceptStream admits a pending stream. It reports false when uri was not
// pending.
func (m *Master) AcceptStream(uri string) (bool, error) {
	var ok bool
	err := m.Do(func() {
		ok = m.lock.IsPending(uri)
		m.lock.AcceptStream(uri)
	})
	return ok, err
}

// RejectStream refuses a pending stream and closes its window. It reports
// false when uri was not pending.
func (m *Master) RejectStream(uri string) (bool, error) {
	var ok bool
	err := m.Do(func() {
		ok = m.lock.IsPending(uri)
		m.lock.RejectStream(uri)
	})
	return ok, err
}

// LockState returns the lock and its admission queue.
func (m *Master) LockState() (state.LockState, error) {
	var s state.LockState
	err := m.Do(func() { s = m.lock.State() })
	return s, err
}

func (m *Master) Options() (state.Options, error) {
	var o state.Options
	err := m.Do(func() { o = m.options })
	return o, err
}

func (m *Master) SetOptions(o state.Options) error {
	return m.Do(func() {
		m.options = o
		m.broadcast(message.Options, m.out.SendOptions(o))
	})
}

// SetMarker shows or moves the touch marker id.
func (m *Master) SetMarker(id int, p state.Point) error {
	return m.Do(func() {
		m.markers.Points[id] = p
		m.sendMarkers()
	})
}

func (m *Master) RemoveMarker(id int) error {
	return m.Do(func() {
		if _, ok := m.markers.Points[id]; !ok {
			return
		}
		delete(m.markers.Points, id)
		m.sendMarkers()
	})
}

func (m *Master) sendMarkers() {
	points := make(map[int]state.Point, len(m.markers.Points))
	for k, v := range m.markers.Points {
		points[k] = v
	}
	m.broadcast(message.Markers, m.out.SendMarkers(state.Markers{Points: points}))
}

func (m *Master) SetCountdown(c state.Countdown) error {
	return m.Do(func() {
		if c == m.countdown {
			return
		}
		m.countdown = c
		m.broadcast(message.CountdownStatus, m.out.SendCountdown(c))
	})
}

// SaveSession stores the current scene under name.
func (m *Master) SaveSession(name string) error {
	if m.sessions == nil {
		return ErrNoSessions
	}
	return m.call(func() error { return m.sessions.Save(name, m.scene) })
}

// LoadSession replaces the scene with the named session.
func (m *Master) LoadSession(name string) error {
	if m.sessions == nil {
		return ErrNoSessions
	}
	return m.call(func() error { return m.sessions.Load(name, m.scene) })
}

// Sessions lists the saved sessions.
func (m *Master) Sessions() ([]string, error) {
	if m.sessions == nil {
		return nil, ErrNoSessions
	}
	return m.sessions.List()
}

// StartProcess asks the forker to launch a detached process.
func (m *Master) StartProcess(spec state.ProcessSpec) error {
	return m.call(func() error {
		if err := m.launcher.StartProcess(spec); err != nil {
			return err
		}
		m.metrics.IncProcessesStarted()
		m.log.Info("process launch requested", slog.String("command", spec.Command))
		return nil
	})
}

// StreamOpened is called by the stream server for a new stream.
func (m *Master) StreamOpened(uri string) error {
	return m.call(func() error { return m.streams.HandleStreamStart(uri) })
}

// StreamClosed is called by the stream server when a stream ends.
func (m *Master) StreamClosed(uri string) error {
	return m.Do(func() { m.streams.HandleStreamEnd(uri) })
}

// FrameReceived forwards a frame of a bound stream to the walls. Frames of
// unknown streams are dropped and reported as false.
func (m *Master) FrameReceived(f state.PixelFrame) (bool, error) {
	var bound bool
	err := m.Do(func() {
		if bound = m.streams.ProcessFrame(f); !bound {
			m.log.Debug("frame for unbound stream", slog.String("uri", f.URI))
			return
		}
		m.metrics.IncFramesForwarded()
		m.broadcast(message.PixelStreamFrame, m.out.SendPixelFrame(f))
	})
	return bound, err
}

// SizeHints records the preferred size of a stream.
func (m *Master) SizeHints(uri string, size scene.Size) error {
	return m.Do(func() { m.streams.UpdateSizeHints(uri, size) })
}

// RegisterForEvents attaches an interaction receiver to a stream.
func (m *Master) RegisterForEvents(uri string, exclusive bool, r stream.EventReceiver) (bool, error) {
	var ok bool
	err := m.Do(func() { ok = m.streams.RegisterEventReceiver(uri, exclusive, r) })
	return ok, err
}

// DeliverEvent forwards an interaction to the receivers of a stream.
func (m *Master) DeliverEvent(uri string, ev stream.Interaction) error {
	return m.Do(func() { m.streams.Deliver(uri, ev) })
}

// RequestFrame is called by the inbound channel when a wall leader asks for
// the next frame of a stream.
func (m *Master) RequestFrame(wall int, req state.FrameRequest) {
	m.metrics.IncReceived(message.RequestFrame.String())
	err := m.Do(func() {
		if !m.streams.RequestFrame(req.URI) {
			m.log.Debug("frame request for unbound stream", slog.Int("wall", wall), slog.String("uri", req.URI))
		}
	})
	if err != nil {
		m.log.Debug("frame request after stop", slog.String("uri", req.URI))
	}
}

type screenshot struct {
	images map[int]state.Image
	done   chan struct{}
}

// Screenshot asks every wall for a capture and waits for all of them.
// Images are returned in wall order.
func (m *Master) Screenshot(ctx context.Context) ([]state.Image, error) {
	var (
		id   uint64
		shot *screenshot
	)
	err := m.call(func() error {
		if m.walls <= 0 {
			return errors.New("no walls to capture")
		}
		m.nextShot++
		id = m.nextShot
		shot = &screenshot{images: make(map[int]state.Image), done: make(chan struct{})}
		m.shots[id] = shot
		if err := m.out.SendRequestScreenshot(id); err != nil {
			delete(m.shots, id)
			return err
		}
		m.metrics.IncBroadcast(message.RequestScreenshot.String())
		return nil
	})
	if err != nil {
		return nil, err
	}

	select {
	case <-shot.done:
	case <-ctx.Done():
		_ = m.Do(func() { delete(m.shots, id) })
		return nil, errors.Wrap(ctx.Err(), "screenshot")
	}

	images := make([]state.Image, 0, len(shot.images))
	for _, img := range shot.images {
		images = append(images, img)
	}
	sort.Slice(images, func(i, j int) bool { return images[i].Wall < images[j].Wall })
	return images, nil
}

// ReceiveImage is called by the inbound channel with a wall capture.
func (m *Master) ReceiveImage(wall int, img state.Image) {
	m.metrics.IncReceived(message.Image.String())
	_ = m.Do(func() {
		shot, ok := m.shots[img.RequestID]
		if !ok {
			m.log.Debug("unexpected screenshot", slog.Int("wall", wall), slog.Uint64("id", img.RequestID))
			return
		}
		img.Wall = wall
		shot.images[wall] = img
		if len(shot.images) == m.walls {
			delete(m.shots, img.RequestID)
			close(shot.done)
		}
	})
}
