package layout

import (
	"wall-controller/internal/scene"

	"github.com/pkg/errors"
)

// ShowFullscreen makes a window the single fullscreen window of the group.
// A window that was fullscreen before is restored to its backup first.
func (c *Controller) ShowFullscreen(id scene.WindowID) error {
	w, ok := c.group.Window(id)
	if !ok {
		return errors.Wrapf(scene.ErrWindowNotFound, "fullscreen %s", id)
	}
	if current, ok := c.group.Fullscreen(); ok {
		if current == id {
			return nil
		}
		if err := c.ExitFullscreen(); err != nil {
			return err
		}
	}

	bounds := c.group.Bounds()
	target := fitAspect(w, bounds.Size())
	if err := c.group.Update(id, func(w *scene.Window) {
		w.FullscreenBackup = &scene.Backup{
			Coordinates: w.Coordinates,
			Zoom:        w.Zoom,
			Mode:        w.Mode,
		}
		w.Coordinates = scene.NewRect(scene.Point{}, target).CenteredAt(bounds.Center())
		w.Mode = scene.ModeFullscreen
	}); err != nil {
		return err
	}
	if err := c.group.Raise(id); err != nil {
		return err
	}
	return c.group.SetFullscreen(id)
}

// ExitFullscreen restores the fullscreen window, if any.
func (c *Controller) ExitFullscreen() error {
	id, ok := c.group.Fullscreen()
	if !ok {
		return nil
	}
	if err := c.group.Update(id, func(w *scene.Window) {
		if b := w.FullscreenBackup; b != nil {
			w.Coordinates = b.Coordinates
			w.Zoom = b.Zoom
			w.Mode = b.Mode
		} else {
			w.Mode = scene.ModeStandard
		}
		w.FullscreenBackup = nil
	}); err != nil {
		return err
	}
	return c.group.SetFullscreen("")
}

func (c *Controller) refitFullscreen() error {
	id, ok := c.group.Fullscreen()
	if !ok {
		return nil
	}
	bounds := c.group.Bounds()
	return c.group.Update(id, func(w *scene.Window) {
		size := fitAspect(*w, bounds.Size())
		w.Coordinates = scene.NewRect(scene.Point{}, size).CenteredAt(bounds.Center())
	})
}
