package stream

import (
	"io"
	"log/slog"
	"testing"

	"wall-controller/internal/layout"
	"wall-controller/internal/scene"
	"wall-controller/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	requested []string
	closed    []string
}

func (s *fakeServer) RequestFrame(uri string) { s.requested = append(s.requested, uri) }
func (s *fakeServer) CloseStream(uri string)  { s.closed = append(s.closed, uri) }

type fakeReceiver struct{ got []Interaction }

func (r *fakeReceiver) Receive(_ string, ev Interaction) error {
	r.got = append(r.got, ev)
	return nil
}

type fixture struct {
	scene  *scene.Scene
	group  *scene.Group
	server *fakeServer
	mgr    *Manager
	events []Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := scene.New(scene.Size{W: 3840, H: 2160})
	g, err := s.Group(0)
	require.NoError(t, err)
	f := &fixture{scene: s, group: g, server: &fakeServer{}}
	f.mgr = NewManager(s, f.server, slog.New(slog.NewTextHandler(io.Discard, nil)))
	f.mgr.Subscribe(func(ev Event) { f.events = append(f.events, ev) })
	return f
}

func (f *fixture) kinds(kind EventKind) []string {
	var out []string
	for _, ev := range f.events {
		if ev.Kind == kind {
			out = append(out, ev.URI)
		}
	}
	return out
}

func (f *fixture) window(t *testing.T, uri string) scene.Window {
	t.Helper()
	id, ok := f.mgr.WindowID(uri)
	require.True(t, ok, "no binding for %s", uri)
	w, ok := f.group.Window(id)
	require.True(t, ok)
	return w
}

func TestManager_external_stream_lifecycle(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.mgr.HandleStreamStart("s1"))
	w := f.window(t, "s1")
	assert.False(t, w.IsShown())
	assert.Equal(t, scene.StreamExternal, w.Stream)
	assert.Empty(t, f.kinds(Opening))

	f.mgr.UpdateStreamDimensions("s1", scene.Size{W: 640, H: 480})
	w = f.window(t, "s1")
	assert.Equal(t, scene.Rect{X: 1600, Y: 840, W: 640, H: 480}, w.Coordinates)
	assert.Equal(t, []string{"s1"}, f.kinds(Opening))

	f.mgr.UpdateStreamDimensions("s1", scene.Size{W: 800, H: 600})
	f.mgr.UpdateSizeHints("s1", scene.Size{W: 800, H: 600})
	assert.Equal(t, []string{"s1"}, f.kinds(Opening), "opening must be emitted once")
	assert.Equal(t, scene.Size{W: 800, H: 600}, f.window(t, "s1").Coordinates.Size())

	require.NoError(t, f.mgr.ShowWindow("s1"))
	assert.True(t, f.window(t, "s1").IsShown())
	assert.Equal(t, []string{"s1"}, f.kinds(Shown))

	f.mgr.HandleStreamEnd("s1")
	_, ok := f.mgr.WindowID("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, f.group.Len())
	assert.Equal(t, []string{"s1"}, f.kinds(Closed))
	assert.Equal(t, []string{"s1"}, f.server.closed)
}

func TestManager_HandleStreamStart_bound_requests_frame(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.HandleStreamStart("s1"))
	require.NoError(t, f.mgr.HandleStreamStart("s1"))

	assert.Equal(t, 1, f.group.Len())
	assert.Equal(t, []string{"s1"}, f.server.requested)
}

func TestManager_internal_and_launcher_skip_admission(t *testing.T) {
	f := newFixture(t)
	f.mgr.MarkInternal("browser-1")

	size := scene.Size{W: 1024, H: 768}
	require.NoError(t, f.mgr.OpenWindow(0, "browser-1", nil, &size, f.mgr.Classify("browser-1")))
	require.NoError(t, f.mgr.HandleStreamStart(LauncherURI))

	browser := f.window(t, "browser-1")
	assert.True(t, browser.IsShown())
	assert.Equal(t, scene.StreamInternal, browser.Stream)
	assert.Equal(t, scene.Point{X: 1920, Y: 1080}, browser.Coordinates.Center())

	launcher := f.window(t, LauncherURI)
	assert.True(t, launcher.IsShown())
	assert.True(t, launcher.Panel)

	f.mgr.UpdateStreamDimensions("browser-1", scene.Size{W: 1280, H: 720})
	assert.Empty(t, f.kinds(Opening))
}

func TestManager_sized_external_window_opens_on_first_frame(t *testing.T) {
	f := newFixture(t)

	size := scene.Size{W: 640, H: 480}
	pos := scene.Point{X: 100, Y: 200}
	require.NoError(t, f.mgr.OpenWindow(0, "ext", &pos, &size, scene.StreamExternal))
	assert.Empty(t, f.kinds(Opening))

	assert.True(t, f.mgr.ProcessFrame(state.PixelFrame{URI: "ext", Width: 640, Height: 480}))
	assert.True(t, f.mgr.ProcessFrame(state.PixelFrame{URI: "ext", Width: 640, Height: 480}))
	assert.Equal(t, []string{"ext"}, f.kinds(Opening))

	w := f.window(t, "ext")
	assert.False(t, w.IsShown())
	assert.Equal(t, scene.Rect{X: 100, Y: 200, W: 640, H: 480}, w.Coordinates)
}

func TestManager_HandleStreamEnd_unknown_is_benign(t *testing.T) {
	f := newFixture(t)
	f.mgr.HandleStreamEnd("nope")
	assert.Empty(t, f.events)
	assert.ErrorIs(t, f.mgr.CloseWindow("nope"), scene.ErrWindowNotFound)
}

func TestManager_user_removal_unbinds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.HandleStreamStart("s1"))
	id, _ := f.mgr.WindowID("s1")

	_, err := f.group.Remove(id)
	require.NoError(t, err)

	assert.Equal(t, 0, f.mgr.Bound())
	assert.Equal(t, []string{"s1"}, f.kinds(Closed))
	f.mgr.HandleStreamEnd("s1")
	assert.Equal(t, []string{"s1"}, f.kinds(Closed))
}

func TestManager_RegisterEventReceiver_exclusive(t *testing.T) {
	f := newFixture(t)
	r1, r2, r3 := &fakeReceiver{}, &fakeReceiver{}, &fakeReceiver{}

	assert.False(t, f.mgr.RegisterEventReceiver("s1", false, r1), "no window bound yet")

	require.NoError(t, f.mgr.HandleStreamStart("s1"))
	id, _ := f.mgr.WindowID("s1")

	assert.True(t, f.mgr.RegisterEventReceiver("s1", true, r1))
	assert.False(t, f.mgr.RegisterEventReceiver("s1", true, r2))
	assert.Equal(t, 1, f.mgr.ReceiverCount(id))

	f.mgr.Deliver("s1", Interaction{Type: "tap", X: 1, Y: 2})
	assert.Len(t, r1.got, 1)
	assert.Empty(t, r2.got)

	// A non-exclusive receiver joins even though r1 asked for exclusivity.
	assert.True(t, f.mgr.RegisterEventReceiver("s1", false, r3))
	assert.Equal(t, 2, f.mgr.ReceiverCount(id))
}

func TestManager_focused_resize_refreshes_layout(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mgr.HandleStreamStart("s1"))
	f.mgr.UpdateStreamDimensions("s1", scene.Size{W: 400, H: 400})
	require.NoError(t, f.mgr.ShowWindow("s1"))
	id, _ := f.mgr.WindowID("s1")

	ctl := layout.New(f.group)
	require.NoError(t, ctl.Focus(id))
	before, _ := f.group.DisplayCoordinates(id)

	assert.True(t, f.mgr.ProcessFrame(state.PixelFrame{URI: "s1", Width: 800, Height: 400}))
	after, _ := f.group.DisplayCoordinates(id)
	assert.NotEqual(t, before, after)
	assert.InDelta(t, 2.0, after.W/after.H, 1e-9)

	assert.False(t, f.mgr.ProcessFrame(state.PixelFrame{URI: "other", Width: 1, Height: 1}))
}
