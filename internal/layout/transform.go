package layout

import (
	"math"

	"wall-controller/internal/scene"

	"github.com/pkg/errors"
)

// Scale multiplies every window geometry and the group bounds by factor.
func (c *Controller) Scale(factor float64) {
	if factor <= 0 {
		return
	}
	c.transform(func(r scene.Rect) scene.Rect { return r.Scaled(factor) })
	c.group.SetSize(c.group.Size().Scaled(factor))
}

// Adjust scales the group uniformly so that it fits maxSize exactly in one
// dimension.
func (c *Controller) Adjust(maxSize scene.Size) {
	size := c.group.Size()
	if size.Empty() || maxSize.Empty() {
		return
	}
	c.Scale(math.Min(maxSize.W/size.W, maxSize.H/size.H))
}

// Reshape fits the group into newSize and centers the windows in the new
// bounds. Focused and fullscreen windows are laid out again.
func (c *Controller) Reshape(newSize scene.Size) error {
	size := c.group.Size()
	if size.Empty() || newSize.Empty() {
		return nil
	}
	f := math.Min(newSize.W/size.W, newSize.H/size.H)
	dx := (newSize.W - size.W*f) / 2
	dy := (newSize.H - size.H*f) / 2
	c.transform(func(r scene.Rect) scene.Rect { return r.Scaled(f).Translated(dx, dy) })
	c.group.SetSize(newSize)

	if err := c.refitFullscreen(); err != nil {
		return err
	}
	return c.RefreshFocus()
}

// Denormalize converts unit-square coordinates from legacy sessions into
// pixel coordinates for targetSize. The original wall aspect ratio is
// estimated from the windows: a window showing its content undistorted
// satisfies wallAR = contentAR * h / w in normalized units, and the
// estimates of all windows with a known content size are averaged.
func (c *Controller) Denormalize(targetSize scene.Size) error {
	if c.group.Size() != (scene.Size{W: 1, H: 1}) {
		return errors.Wrapf(ErrNotNormalized, "group size %+v", c.group.Size())
	}
	if targetSize.Empty() {
		return errors.Errorf("invalid target size %+v", targetSize)
	}

	ar := c.estimateAspectRatio()
	if ar <= 0 {
		ar = targetSize.AspectRatio()
	}
	base := scene.Size{W: ar, H: 1}.FitInside(targetSize)

	stretch := func(r scene.Rect) scene.Rect {
		return scene.Rect{X: r.X * base.W, Y: r.Y * base.H, W: r.W * base.W, H: r.H * base.H}
	}
	c.transform(stretch)
	c.group.SetSize(base)
	return c.Reshape(targetSize)
}

func (c *Controller) estimateAspectRatio() float64 {
	sum, n := 0.0, 0
	for _, w := range c.group.Windows() {
		contentAR := w.ContentSize.AspectRatio()
		if contentAR <= 0 || w.Coordinates.Empty() {
			continue
		}
		sum += contentAR * w.Coordinates.H / w.Coordinates.W
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (c *Controller) transform(fn func(scene.Rect) scene.Rect) {
	c.group.UpdateAll(func(w *scene.Window) {
		w.Coordinates = fn(w.Coordinates)
		w.FocusedCoordinates = fn(w.FocusedCoordinates)
		if b := w.FullscreenBackup; b != nil {
			moved := *b
			moved.Coordinates = fn(b.Coordinates)
			w.FullscreenBackup = &moved
		}
	})
}
