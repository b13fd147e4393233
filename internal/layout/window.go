package layout

import (
	"wall-controller/internal/scene"

	"github.com/pkg/errors"
)

// ResizeCentered gives a window the requested size, capped to the group
// bounds with its aspect ratio kept, and centers it in the group.
func (c *Controller) ResizeCentered(id scene.WindowID, size scene.Size) error {
	bounds := c.group.Bounds()
	size = capSize(size, bounds.Size())
	return c.update(id, func(w *scene.Window) {
		w.Coordinates = scene.NewRect(scene.Point{}, size).CenteredAt(bounds.Center())
	})
}

// Resize changes the size of a window around its current center.
func (c *Controller) Resize(id scene.WindowID, size scene.Size) error {
	size = capSize(size, c.group.Size())
	return c.update(id, func(w *scene.Window) {
		center := w.Coordinates.Center()
		w.Coordinates = scene.NewRect(scene.Point{}, size).CenteredAt(center)
	})
}

// Move places the top-left corner of a window at p.
func (c *Controller) Move(id scene.WindowID, p scene.Point) error {
	return c.update(id, func(w *scene.Window) {
		w.Coordinates.X = p.X
		w.Coordinates.Y = p.Y
	})
}

// AdjustAspectRatio corrects the window height so that the window has the
// aspect ratio of its content, keeping its width and center. Windows that
// would then leave the group are shrunk to fit.
func (c *Controller) AdjustAspectRatio(id scene.WindowID) error {
	bounds := c.group.Size()
	return c.update(id, func(w *scene.Window) {
		ar := w.ContentSize.AspectRatio()
		if ar <= 0 || w.Coordinates.Empty() {
			return
		}
		center := w.Coordinates.Center()
		size := scene.Size{W: w.Coordinates.W, H: w.Coordinates.W / ar}
		size = capSize(size, bounds)
		w.Coordinates = scene.NewRect(scene.Point{}, size).CenteredAt(center)
	})
}

func (c *Controller) update(id scene.WindowID, fn func(w *scene.Window)) error {
	if err := c.group.Update(id, fn); err != nil {
		return errors.Wrap(err, "layout")
	}
	return nil
}

func capSize(size, bounds scene.Size) scene.Size {
	if bounds.Empty() || (size.W <= bounds.W && size.H <= bounds.H) {
		return size
	}
	return size.FitInside(bounds)
}
