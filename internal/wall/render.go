package wall

import (
	"log/slog"
	"time"

	"wall-controller/internal/scene"
	"wall-controller/internal/state"
)

// Screen is the part of a surface rendered by one wall process.
type Screen struct {
	Surface int
	Rect    scene.Rect
}

// Frame is everything a renderer needs to draw one synchronized frame.
type Frame struct {
	Number     uint64
	Time       time.Time
	Sequence   uint64
	Scene      *scene.Scene
	Screen     Screen
	Options    state.Options
	Lock       state.LockState
	Markers    state.Markers
	Countdown  state.Countdown
	MasterTime time.Time
	Streams    map[string]state.PixelFrame
}

// Visible returns the shown windows of the frame's surface that intersect
// the screen, bottom to top, with their display coordinates.
func (f *Frame) Visible() []VisibleWindow {
	g, err := f.Scene.Group(f.Screen.Surface)
	if err != nil {
		return nil
	}
	var out []VisibleWindow
	for _, w := range g.Windows() {
		if !w.IsShown() {
			continue
		}
		r, _ := g.DisplayCoordinates(w.ID)
		if r.Intersects(f.Screen.Rect) {
			out = append(out, VisibleWindow{Window: w, Rect: r})
		}
	}
	return out
}

// VisibleWindow is a window with the rectangle it is drawn at.
type VisibleWindow struct {
	Window scene.Window
	Rect   scene.Rect
}

// Renderer draws frames on the local screens.
type Renderer interface {
	Render(f *Frame) error
	Capture(f *Frame) (width, height int, data []byte, err error)
}

// LogRenderer is a headless renderer that logs what would be drawn.
type LogRenderer struct {
	Log *slog.Logger
	// Every logs one frame out of Every; zero logs none.
	Every uint64
}

// Render implements Renderer.
func (r LogRenderer) Render(f *Frame) error {
	if r.Every == 0 || f.Number%r.Every != 0 {
		return nil
	}
	r.Log.Debug("frame",
		slog.Uint64("frame", f.Number),
		slog.Uint64("scene", f.Sequence),
		slog.Int("visible", len(f.Visible())),
		slog.Int("streams", len(f.Streams)),
		slog.Bool("locked", f.Lock.Locked),
	)
	return nil
}

// Capture implements Renderer. It returns the screen size without pixels.
func (r LogRenderer) Capture(f *Frame) (int, int, []byte, error) {
	return int(f.Screen.Rect.W), int(f.Screen.Rect.H), nil, nil
}
