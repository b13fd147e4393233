// Package stream binds external pixel streams to windows and drives their
// lifecycle: unbound -> pending (hidden) -> shown -> unbound.
package stream

import (
	"log/slog"
	"strings"

	"wall-controller/internal/event"
	"wall-controller/internal/layout"
	"wall-controller/internal/scene"
	"wall-controller/internal/state"

	"github.com/pkg/errors"
	"github.com/vishalkuo/bimap"
)

// LauncherURI is the stream name of the launcher panel.
const LauncherURI = "launcher"

// EventKind identifies a lifecycle notification.
type EventKind uint8

const (
	// Opening is emitted once per window, on its first size report. A
	// window opened with a size gets it only while still hidden.
	Opening EventKind = iota
	// Shown is emitted when a window becomes visible.
	Shown
	// Closed is emitted when the window of a stream is removed.
	Closed
)

func (k EventKind) String() string {
	switch k {
	case Opening:
		return "opening"
	case Shown:
		return "shown"
	default:
		return "closed"
	}
}

// Event is a lifecycle notification.
type Event struct {
	Kind   EventKind
	URI    string
	Window scene.Window
}

// Interaction is an input event forwarded to a stream's application.
type Interaction struct {
	Type string
	X    float64
	Y    float64
	Key  int
}

// EventReceiver receives the interactions of one stream.
type EventReceiver interface {
	Receive(uri string, ev Interaction) error
}

// Server is the external pixel stream server.
type Server interface {
	RequestFrame(uri string)
	CloseStream(uri string)
}

// Manager owns the uri -> window binding of pixel streams. It is driven by
// the master reactor and is not safe for concurrent use.
type Manager struct {
	scene     *scene.Scene
	server    Server
	log       *slog.Logger
	bindings  *bimap.BiMap[string, scene.WindowID]
	receivers map[string][]EventReceiver
	counts    map[scene.WindowID]int
	opened    map[string]bool
	internal  map[string]bool
	events    event.Emitter[Event]
}

// NewManager returns a manager working on s. server may be nil.
func NewManager(s *scene.Scene, server Server, log *slog.Logger) *Manager {
	if server == nil {
		server = NopServer{Log: log}
	}
	m := &Manager{
		scene:     s,
		server:    server,
		log:       log,
		bindings:  bimap.NewBiMap[string, scene.WindowID](),
		receivers: make(map[string][]EventReceiver),
		counts:    make(map[scene.WindowID]int),
		opened:    make(map[string]bool),
		internal:  make(map[string]bool),
	}
	s.Subscribe(m.onSceneEvent)
	return m
}

// Subscribe registers fn for lifecycle notifications.
func (m *Manager) Subscribe(fn func(Event)) func() {
	return m.events.Subscribe(fn)
}

// MarkInternal records that uri is a stream started by the wall itself.
func (m *Manager) MarkInternal(uri string) { m.internal[uri] = true }

// Classify returns the admission class of a stream.
func (m *Manager) Classify(uri string) scene.StreamType {
	switch {
	case uri == LauncherURI || strings.HasPrefix(uri, LauncherURI+"/"):
		return scene.StreamLauncher
	case m.internal[uri]:
		return scene.StreamInternal
	default:
		return scene.StreamExternal
	}
}

// WindowID returns the window bound to uri.
func (m *Manager) WindowID(uri string) (scene.WindowID, bool) {
	return m.bindings.Get(uri)
}

// URI returns the stream bound to a window.
func (m *Manager) URI(id scene.WindowID) (string, bool) {
	return m.bindings.GetInverse(id)
}

// Bound returns the number of bound streams.
func (m *Manager) Bound() int { return m.bindings.Size() }

// OpenWindow creates a hidden window for uri on a surface. Streams that are
// not external skip admission control and are shown at once. Opening an
// already bound uri does nothing.
func (m *Manager) OpenWindow(surface int, uri string, pos *scene.Point, size *scene.Size, kind scene.StreamType) error {
	if _, ok := m.bindings.Get(uri); ok {
		return nil
	}
	g, err := m.scene.Group(surface)
	if err != nil {
		return err
	}

	w := scene.NewWindow(uri, scene.ContentPixelStream)
	w.Stream = kind
	w.Panel = kind == scene.StreamLauncher
	if size != nil {
		w.Coordinates = scene.NewRect(scene.Point{}, *size)
		w.ContentSize = *size
		if pos == nil {
			w.Coordinates = w.Coordinates.CenteredAt(g.Bounds().Center())
		}
	}
	if pos != nil {
		w.Coordinates.X, w.Coordinates.Y = pos.X, pos.Y
	}
	if err := g.Add(w); err != nil {
		return err
	}
	m.log.Debug("stream window created",
		slog.String("uri", uri),
		slog.String("window", string(w.ID)),
		slog.String("kind", kind.String()))

	if kind != scene.StreamExternal {
		return m.ShowWindow(uri)
	}
	return nil
}

// HandleStreamStart reacts to a new stream from the stream server. For an
// already bound uri it only asks for the first frame again.
func (m *Manager) HandleStreamStart(uri string) error {
	if _, ok := m.bindings.Get(uri); ok {
		m.server.RequestFrame(uri)
		return nil
	}
	return m.OpenWindow(0, uri, nil, nil, m.Classify(uri))
}

// HandleStreamEnd removes the window of a finished stream. A missing
// window is not an error: a user may have closed it already.
func (m *Manager) HandleStreamEnd(uri string) {
	if err := m.CloseWindow(uri); err != nil {
		m.log.Debug("stream ended without window", slog.String("uri", uri), "error", err)
	}
}

// CloseWindow removes the window bound to uri.
func (m *Manager) CloseWindow(uri string) error {
	id, ok := m.bindings.Get(uri)
	if !ok {
		return errors.Wrapf(scene.ErrWindowNotFound, "stream %s", uri)
	}
	g, _, ok := m.scene.Find(id)
	if !ok {
		return errors.Wrapf(scene.ErrWindowNotFound, "stream %s", uri)
	}
	_, err := g.Remove(id)
	return err
}

// ShowWindow makes the window of uri visible and raises it.
func (m *Manager) ShowWindow(uri string) error {
	id, ok := m.bindings.Get(uri)
	if !ok {
		return errors.Wrapf(scene.ErrWindowNotFound, "stream %s", uri)
	}
	g, w, ok := m.scene.Find(id)
	if !ok {
		return errors.Wrapf(scene.ErrWindowNotFound, "stream %s", uri)
	}
	if w.IsShown() {
		return nil
	}
	if err := g.Update(id, func(w *scene.Window) { w.Visibility = scene.Shown }); err != nil {
		return err
	}
	if err := g.Raise(id); err != nil {
		return err
	}
	w, _ = g.Window(id)
	m.events.Emit(Event{Kind: Shown, URI: uri, Window: w})
	m.server.RequestFrame(uri)
	return nil
}

// RequestFrame asks the stream server for the next frame of a bound
// stream. It reports false for unknown streams.
func (m *Manager) RequestFrame(uri string) bool {
	if _, ok := m.bindings.Get(uri); !ok {
		return false
	}
	m.server.RequestFrame(uri)
	return true
}

// RegisterEventReceiver attaches a receiver to the stream's window. An
// exclusive registration fails when any receiver is already attached. A
// non-exclusive registration succeeds even after an exclusive one: only
// the exclusive caller checks for others.
func (m *Manager) RegisterEventReceiver(uri string, exclusive bool, receiver EventReceiver) bool {
	id, ok := m.bindings.Get(uri)
	if !ok {
		m.log.Debug("event receiver for unknown stream", slog.String("uri", uri))
		return false
	}
	if exclusive && m.counts[id] > 0 {
		return false
	}
	m.receivers[uri] = append(m.receivers[uri], receiver)
	m.counts[id]++
	return true
}

// Receivers returns the receivers registered for uri.
func (m *Manager) Receivers(uri string) []EventReceiver {
	return append([]EventReceiver(nil), m.receivers[uri]...)
}

// ReceiverCount returns the number of receivers of a window.
func (m *Manager) ReceiverCount(id scene.WindowID) int { return m.counts[id] }

// Deliver forwards an interaction to every receiver of uri.
func (m *Manager) Deliver(uri string, ev Interaction) {
	for _, r := range m.receivers[uri] {
		if err := r.Receive(uri, ev); err != nil {
			m.log.Warn("event delivery failed", slog.String("uri", uri), "error", err)
		}
	}
}

// UpdateStreamDimensions handles the size of a received frame.
func (m *Manager) UpdateStreamDimensions(uri string, size scene.Size) {
	m.updateSize(uri, size)
}

// UpdateSizeHints handles the preferred size announced by a stream.
func (m *Manager) UpdateSizeHints(uri string, size scene.Size) {
	m.updateSize(uri, size)
}

// ProcessFrame records the frame dimensions and reports whether the
// frame belongs to a bound stream.
func (m *Manager) ProcessFrame(f state.PixelFrame) bool {
	if _, ok := m.bindings.Get(f.URI); !ok {
		return false
	}
	m.updateSize(f.URI, scene.Size{W: float64(f.Width), H: float64(f.Height)})
	return true
}

func (m *Manager) updateSize(uri string, size scene.Size) {
	if size.Empty() {
		return
	}
	id, ok := m.bindings.Get(uri)
	if !ok {
		return
	}
	g, w, ok := m.scene.Find(id)
	if !ok {
		return
	}
	ctl := layout.New(g)

	if !w.HasSize() {
		if err := g.Update(id, func(w *scene.Window) { w.ContentSize = size }); err != nil {
			return
		}
		if err := ctl.ResizeCentered(id, size); err != nil {
			m.log.Warn("initial stream resize failed", slog.String("uri", uri), "error", err)
		}
		m.emitOpening(uri, g, id)
		return
	}

	// A hidden window opened with an explicit size keeps it.
	if !m.opened[uri] && !w.IsShown() {
		m.emitOpening(uri, g, id)
	}
	if w.ContentSize == size {
		return
	}
	if err := g.Update(id, func(w *scene.Window) { w.ContentSize = size }); err != nil {
		return
	}
	if err := ctl.Resize(id, size); err != nil {
		m.log.Warn("stream resize failed", slog.String("uri", uri), "error", err)
	}
	if g.IsFocused(id) {
		if err := ctl.RefreshFocus(); err != nil {
			m.log.Warn("focus refresh failed", "error", err)
		}
	}
}

func (m *Manager) emitOpening(uri string, g *scene.Group, id scene.WindowID) {
	if m.opened[uri] {
		return
	}
	m.opened[uri] = true
	w, _ := g.Window(id)
	m.events.Emit(Event{Kind: Opening, URI: uri, Window: w})
}

func (m *Manager) onSceneEvent(ev scene.Event) {
	if !ev.Window.IsPixelStream() {
		return
	}
	switch ev.Kind {
	case scene.WindowAdded:
		m.bindings.Insert(ev.Window.URI, ev.Window.ID)
	case scene.WindowRemoved:
		uri, ok := m.bindings.GetInverse(ev.Window.ID)
		if !ok {
			return
		}
		m.bindings.Delete(uri)
		delete(m.receivers, uri)
		delete(m.counts, ev.Window.ID)
		delete(m.opened, uri)
		m.log.Debug("stream window removed", slog.String("uri", uri))
		m.events.Emit(Event{Kind: Closed, URI: uri, Window: ev.Window})
		m.server.CloseStream(uri)
	}
}

// NopServer logs the calls of a missing stream server.
type NopServer struct {
	Log *slog.Logger
}

// RequestFrame implements Server.
func (s NopServer) RequestFrame(uri string) {
	s.Log.Debug("frame requested", slog.String("uri", uri))
}

// CloseStream implements Server.
func (s NopServer) CloseStream(uri string) {
	s.Log.Debug("stream close requested", slog.String("uri", uri))
}
