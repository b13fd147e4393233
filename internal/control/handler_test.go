package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"wall-controller/internal/master"
	"wall-controller/internal/platform/metrics"
	"wall-controller/internal/scene"
	"wall-controller/internal/session"
	"wall-controller/internal/state"
	"wall-controller/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// walls stands in for the wall processes. Screenshot requests are answered
// by every wall asynchronously, like the inbound channel does.
type walls struct {
	mu     sync.Mutex
	master *master.Master
	count  int
	frames []state.PixelFrame
	silent bool
}

func (w *walls) SendScene(scene.Snapshot) error      { return nil }
func (w *walls) SendOptions(state.Options) error     { return nil }
func (w *walls) SendLock(state.LockState) error      { return nil }
func (w *walls) SendMarkers(state.Markers) error     { return nil }
func (w *walls) SendCountdown(state.Countdown) error { return nil }
func (w *walls) SendPixelStreamClose(string) error   { return nil }
func (w *walls) SendTimestamp(time.Time) error       { return nil }
func (w *walls) SendPixelFrame(f state.PixelFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *walls) SendRequestScreenshot(id uint64) error {
	if w.silent {
		return nil
	}
	for i := 0; i < w.count; i++ {
		go w.master.ReceiveImage(i, state.Image{RequestID: id, Width: 1920, Height: 1080, Data: []byte{byte(i)}})
	}
	return nil
}

type launcher struct {
	mu    sync.Mutex
	specs []state.ProcessSpec
}

func (l *launcher) StartProcess(spec state.ProcessSpec) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs = append(l.specs, spec)
	return nil
}

type fixture struct {
	router   chi.Router
	handler  *Handler
	master   *master.Master
	walls    *walls
	launcher *launcher
}

func newFixture(t *testing.T, sessions bool) *fixture {
	t.Helper()
	log := discardLogger()
	f := &fixture{walls: &walls{count: 2}, launcher: &launcher{}}
	cfg := master.Config{
		Surfaces: []scene.Size{{W: 3840, H: 1080}},
		Walls:    2,
		Metrics:  metrics.New(),
	}
	if sessions {
		cfg.Sessions = session.NewStore(t.TempDir(), log)
	}
	f.master = master.New(cfg, f.walls, f.launcher, log)
	f.walls.master = f.master

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.master.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.handler = NewHandler(f.master, log)
	f.router = NewRouter(f.handler, log, cfg.Metrics)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) windows(t *testing.T) []master.WindowInfo {
	t.Helper()
	rec := f.do(t, http.MethodGet, "/windows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out []master.WindowInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHandler_content_window_lifecycle(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/windows", map[string]any{"uri": "slides.pdf", "kind": "content", "width": 800, "height": 600})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"]
	require.NotEmpty(t, id)

	windows := f.windows(t)
	require.Len(t, windows, 1)
	assert.Equal(t, "slides.pdf", windows[0].URI)
	assert.True(t, windows[0].Visible)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/windows/"+id+"/position", map[string]float64{"x": 10, "y": 20}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/windows/"+id+"/focus", nil).Code)
	assert.True(t, f.windows(t)[0].Focused)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/surfaces/0/focus", nil).Code)
	assert.False(t, f.windows(t)[0].Focused)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/windows/"+id+"/fullscreen", nil).Code)
	assert.True(t, f.windows(t)[0].Fullscreen)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/surfaces/0/fullscreen", nil).Code)
	assert.False(t, f.windows(t)[0].Fullscreen)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/windows/"+id, nil).Code)
	assert.Empty(t, f.windows(t))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/windows/"+id, nil).Code)
}

func TestHandler_OpenWindow_bad_request(t *testing.T) {
	f := newFixture(t, false)

	req := httptest.NewRequest(http.MethodPost, "/windows", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/windows", map[string]any{"kind": "content"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/windows", map[string]any{"uri": "x", "kind": "hologram"}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/windows", map[string]any{"uri": "x", "kind": "content", "surface": 4, "width": 1, "height": 1}).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/surfaces/nope/focus", nil).Code)
}

func TestHandler_locked_stream_admission(t *testing.T) {
	f := newFixture(t, false)
	uri := "/streams/" + "app%2Fone"

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/lock", nil).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, uri, nil).Code)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, uri+"/frames", map[string]any{"width": 640, "height": 480}).Code)

	rec := f.do(t, http.MethodGet, "/lock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lock state.LockState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lock))
	assert.True(t, lock.Locked)
	assert.Equal(t, []string{"app/one"}, lock.Pending)
	assert.False(t, f.windows(t)[0].Visible)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, uri+"/accept", nil).Code)
	assert.True(t, f.windows(t)[0].Visible)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, uri+"/accept", nil).Code)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/streams/two", nil).Code)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/streams/two/frames", map[string]any{"width": 640, "height": 480}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/streams/two/reject", nil).Code)
	require.Len(t, f.windows(t), 1)
	assert.Equal(t, "app/one", f.windows(t)[0].URI)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, uri, nil).Code)
	assert.Empty(t, f.windows(t))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, uri+"/frames", map[string]any{"width": 640, "height": 480}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/streams/two/frames", map[string]any{"width": 0, "height": 480}).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/lock", nil).Code)
}

func TestHandler_event_receivers(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/streams/app/receivers", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/streams/app/events", nil).Code)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/windows", map[string]any{"uri": "app", "kind": "internal", "width": 400, "height": 300}).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/streams/app/receivers?exclusive=true", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/streams/app/receivers?exclusive=true", nil).Code)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/streams/app/events", map[string]any{"type": "press", "x": 0.5, "y": 0.25}).Code)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/streams/app/events", map[string]any{"type": "key", "key": 65}).Code)

	rec := f.do(t, http.MethodGet, "/streams/app/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var events []interactionBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Equal(t, []interactionBody{{Type: "press", X: 0.5, Y: 0.25}, {Type: "key", Key: 65}}, events)

	rec = f.do(t, http.MethodGet, "/streams/app/events", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.Empty(t, events)
}

func (f *fixture) register(t *testing.T, uri string) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/streams/"+uri+"/receivers", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var body registrationBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body.Receiver)
	return body.Receiver
}

func TestHandler_event_receivers_each_get_a_queue(t *testing.T) {
	f := newFixture(t, false)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/windows", map[string]any{"uri": "app", "kind": "internal", "width": 400, "height": 300}).Code)
	first := f.register(t, "app")
	second := f.register(t, "app")
	assert.NotEqual(t, first, second)

	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/streams/app/events", map[string]any{"type": "press"}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/streams/app/events", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/streams/app/events?receiver=other", nil).Code)

	for _, id := range []string{first, second} {
		rec := f.do(t, http.MethodGet, "/streams/app/events?receiver="+id, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var events []interactionBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
		assert.Equal(t, []interactionBody{{Type: "press"}}, events)
	}

	windows := f.windows(t)
	require.Len(t, windows, 1)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/windows/"+windows[0].ID, nil).Code)
	assert.Equal(t, 0, f.handler.receivers.count("app"))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/streams/app/events?receiver="+first, nil).Code)
}

func TestHandler_rejected_stream_drops_receivers(t *testing.T) {
	f := newFixture(t, false)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/lock", nil).Code)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/streams/ext", nil).Code)
	f.register(t, "ext")
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/streams/ext/frames", map[string]any{"width": 640, "height": 480}).Code)

	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/streams/ext/reject", nil).Code)
	assert.Equal(t, 0, f.handler.receivers.count("ext"))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/streams/ext/events", nil).Code)
}

func TestEventQueue_drops_oldest(t *testing.T) {
	q := &eventQueue{}
	for i := 0; i < maxQueuedEvents+10; i++ {
		require.NoError(t, q.Receive("app", stream.Interaction{Key: i}))
	}
	events := q.take()
	require.Len(t, events, maxQueuedEvents)
	assert.Equal(t, 10, events[0].Key)
	assert.Empty(t, q.take())
}

func TestHandler_options_markers_countdown(t *testing.T) {
	f := newFixture(t, false)

	opts := state.DefaultOptions()
	opts.ShowClock = true
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/options", opts).Code)
	rec := f.do(t, http.MethodGet, "/options", nil)
	var got state.Options
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.ShowClock)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/markers/3", map[string]float64{"x": 0.1, "y": 0.2}).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/markers/3", nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodDelete, "/markers/-1", nil).Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/countdown", map[string]any{"active": true, "seconds": 30}).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPut, "/countdown", map[string]any{"seconds": -1}).Code)
}

func TestHandler_sessions(t *testing.T) {
	f := newFixture(t, true)

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/windows", map[string]any{"uri": "a.png", "kind": "content", "width": 100, "height": 100}).Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPut, "/sessions/demo", nil).Code)

	rec := f.do(t, http.MethodGet, "/sessions", nil)
	var names []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &names))
	assert.Equal(t, []string{"demo"}, names)

	id := f.windows(t)[0].ID
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/windows/"+id, nil).Code)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/sessions/demo/load", nil).Code)
	require.Len(t, f.windows(t), 1)
	assert.Equal(t, "a.png", f.windows(t)[0].URI)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/sessions/missing/load", nil).Code)
}

func TestHandler_sessions_not_configured(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusNotImplemented, f.do(t, http.MethodGet, "/sessions", nil).Code)
}

func TestHandler_StartProcess(t *testing.T) {
	f := newFixture(t, false)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/processes", map[string]any{}).Code)
	require.Equal(t, http.StatusAccepted, f.do(t, http.MethodPost, "/processes", state.ProcessSpec{Command: "browser", Args: []string{"--kiosk"}}).Code)

	f.launcher.mu.Lock()
	defer f.launcher.mu.Unlock()
	require.Len(t, f.launcher.specs, 1)
	assert.Equal(t, "browser", f.launcher.specs[0].Command)
}

func TestHandler_Screenshot(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/screenshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var images []imageBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &images))
	require.Len(t, images, 2)
	assert.Equal(t, 0, images[0].Wall)
	assert.Equal(t, []byte{1}, images[1].Data)

	f.walls.silent = true
	f.handler.shotTimeout = 20 * time.Millisecond
	assert.Equal(t, http.StatusGatewayTimeout, f.do(t, http.MethodGet, "/screenshot", nil).Code)
}

func TestHandler_metrics(t *testing.T) {
	f := newFixture(t, false)
	require.Equal(t, http.StatusNoContent, f.do(t, http.MethodPost, "/lock", nil).Code)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "wall_screen_locked 1")
	assert.Contains(t, body, `wall_control_requests_total{method="POST"} 1`)
}
