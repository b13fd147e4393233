package master

import (
	"wall-controller/internal/layout"
	"wall-controller/internal/scene"

	"github.com/pkg/errors"
)

// WindowInfo is the remote-control view of a window.
type WindowInfo struct {
	Surface    int     `json:"surface"`
	ID         string  `json:"id"`
	URI        string  `json:"uri"`
	Content    string  `json:"content"`
	Stream     string  `json:"stream,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Visible    bool    `json:"visible"`
	Focused    bool    `json:"focused"`
	Fullscreen bool    `json:"fullscreen"`
	Panel      bool    `json:"panel"`
}

// Windows lists every window of every surface in stacking order.
func (m *Master) Windows() ([]WindowInfo, error) {
	var out []WindowInfo
	err := m.Do(func() {
		for i := 0; i < m.scene.Surfaces(); i++ {
			g, _ := m.scene.Group(i)
			full, _ := g.Fullscreen()
			for _, w := range g.Windows() {
				r, _ := g.DisplayCoordinates(w.ID)
				info := WindowInfo{
					Surface:    i,
					ID:         string(w.ID),
					URI:        w.URI,
					Content:    w.Content.String(),
					X:          r.X,
					Y:          r.Y,
					Width:      r.W,
					Height:     r.H,
					Visible:    w.IsShown(),
					Focused:    g.IsFocused(w.ID),
					Fullscreen: full == w.ID,
					Panel:      w.Panel,
				}
				if w.IsPixelStream() {
					info.Stream = w.Stream.String()
				}
				out = append(out, info)
			}
		}
	})
	return out, err
}

// OpenContent adds a shown static content window. A nil pos centers it;
// the size is capped to the surface.
func (m *Master) OpenContent(surface int, uri string, size scene.Size, pos *scene.Point) (scene.WindowID, error) {
	var id scene.WindowID
	err := m.call(func() error {
		g, err := m.scene.Group(surface)
		if err != nil {
			return err
		}
		if size.Empty() {
			return errors.Errorf("content %s has no size", uri)
		}
		w := scene.NewWindow(uri, scene.ContentStatic)
		w.ContentSize = size
		w.Visibility = scene.Shown
		if err := g.Add(w); err != nil {
			return err
		}
		ctl := layout.New(g)
		if err := ctl.ResizeCentered(w.ID, size); err != nil {
			return err
		}
		if pos != nil {
			if err := ctl.Move(w.ID, *pos); err != nil {
				return err
			}
		}
		id = w.ID
		return nil
	})
	return id, err
}

// OpenWindow opens a pixel stream window. Internal and launcher streams are
// shown at once; external ones wait for their first frame and admission.
func (m *Master) OpenWindow(surface int, uri string, pos *scene.Point, size *scene.Size, kind scene.StreamType) error {
	return m.call(func() error {
		if kind == scene.StreamInternal {
			m.streams.MarkInternal(uri)
		}
		return m.streams.OpenWindow(surface, uri, pos, size, kind)
	})
}

// CloseWindow removes a window. Closing a stream window also ends its
// stream.
func (m *Master) CloseWindow(id scene.WindowID) error {
	return m.call(func() error {
		g, _, ok := m.scene.Find(id)
		if !ok {
			return errors.Wrapf(scene.ErrWindowNotFound, "window %s", id)
		}
		_, err := g.Remove(id)
		return err
	})
}

// withWindow runs fn with the layout controller of the window's group.
func (m *Master) withWindow(id scene.WindowID, fn func(c *layout.Controller) error) error {
	return m.call(func() error {
		g, _, ok := m.scene.Find(id)
		if !ok {
			return errors.Wrapf(scene.ErrWindowNotFound, "window %s", id)
		}
		return fn(layout.New(g))
	})
}

func (m *Master) withSurface(surface int, fn func(c *layout.Controller) error) error {
	return m.call(func() error {
		g, err := m.scene.Group(surface)
		if err != nil {
			return err
		}
		return fn(layout.New(g))
	})
}

func (m *Master) MoveWindow(id scene.WindowID, p scene.Point) error {
	return m.withWindow(id, func(c *layout.Controller) error { return c.Move(id, p) })
}

func (m *Master) ResizeWindow(id scene.WindowID, size scene.Size) error {
	return m.withWindow(id, func(c *layout.Controller) error { return c.Resize(id, size) })
}

func (m *Master) Focus(id scene.WindowID) error {
	return m.withWindow(id, func(c *layout.Controller) error { return c.Focus(id) })
}

func (m *Master) Unfocus(id scene.WindowID) error {
	return m.withWindow(id, func(c *layout.Controller) error { return c.Unfocus(id) })
}

func (m *Master) UnfocusAll(surface int) error {
	return m.withSurface(surface, func(c *layout.Controller) error { return c.UnfocusAll() })
}

func (m *Master) ShowFullscreen(id scene.WindowID) error {
	return m.withWindow(id, func(c *layout.Controller) error { return c.ShowFullscreen(id) })
}

func (m *Master) ExitFullscreen(surface int) error {
	return m.withSurface(surface, func(c *layout.Controller) error { return c.ExitFullscreen() })
}
