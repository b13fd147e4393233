// Package layout implements the geometric operations on a window group:
// focus tiling, fullscreen, scaling and legacy coordinate recovery.
package layout

import (
	"math"

	"wall-controller/internal/scene"

	"github.com/pkg/errors"
)

const (
	// focusMarginRatio is the share of the smaller group dimension left
	// free around the focus region.
	focusMarginRatio = 0.05
	// focusSpacingRatio is the share of the smaller group dimension
	// between two focused windows.
	focusSpacingRatio = 0.02
)

// ErrNotNormalized is returned by Denormalize when the group is not the
// unit square. It is an operator error and not recoverable.
var ErrNotNormalized = errors.New("group is not unit-normalized")

// Controller performs layout operations on one group.
type Controller struct {
	group *scene.Group
}

// New returns a controller for g.
func New(g *scene.Group) *Controller {
	return &Controller{group: g}
}

// Group returns the controlled group.
func (c *Controller) Group() *scene.Group { return c.group }

// FocusRegion is the part of the group where focused windows are tiled.
func (c *Controller) FocusRegion() scene.Rect {
	size := c.group.Size()
	m := math.Min(size.W, size.H) * focusMarginRatio
	return scene.Rect{X: m, Y: m, W: size.W - 2*m, H: size.H - 2*m}
}

// Focus adds a window to the focused set. The coordinates of every focused
// window, including the new one, are computed before the window joins the
// set so that renderers transition from the old layout to the new one.
func (c *Controller) Focus(id scene.WindowID) error {
	w, ok := c.group.Window(id)
	if !ok {
		return errors.Wrapf(scene.ErrWindowNotFound, "focus %s", id)
	}
	if w.Panel || c.group.IsFocused(id) {
		return nil
	}

	if err := c.group.Update(id, func(w *scene.Window) {
		w.FocusZoom = w.Zoom
		w.Zoom = scene.UnitRect
	}); err != nil {
		return err
	}
	if err := c.applyFocusLayout(append(c.group.Focused(), id)); err != nil {
		return err
	}
	c.group.AddFocused(id)
	return nil
}

// Unfocus removes a window from the focused set, restores its zoom and
// re-tiles the remaining focused windows.
func (c *Controller) Unfocus(id scene.WindowID) error {
	if !c.group.IsFocused(id) {
		return nil
	}
	c.group.RemoveFocused(id)
	if err := c.group.Update(id, restoreFocusZoom); err != nil {
		return err
	}
	return c.RefreshFocus()
}

// UnfocusAll empties the focused set.
func (c *Controller) UnfocusAll() error {
	for _, id := range c.group.Focused() {
		c.group.RemoveFocused(id)
		if err := c.group.Update(id, restoreFocusZoom); err != nil {
			return err
		}
	}
	return nil
}

// RefreshFocus re-tiles the focused windows, e.g. after one was resized.
func (c *Controller) RefreshFocus() error {
	return c.applyFocusLayout(c.group.Focused())
}

func restoreFocusZoom(w *scene.Window) {
	if !w.FocusZoom.Empty() {
		w.Zoom = w.FocusZoom
	}
	w.FocusZoom = scene.Rect{}
}

func (c *Controller) applyFocusLayout(ids []scene.WindowID) error {
	if len(ids) == 0 {
		return nil
	}
	windows := make([]scene.Window, 0, len(ids))
	for _, id := range ids {
		w, ok := c.group.Window(id)
		if !ok {
			return errors.Wrapf(scene.ErrWindowNotFound, "focus layout %s", id)
		}
		windows = append(windows, w)
	}
	size := c.group.Size()
	spacing := math.Min(size.W, size.H) * focusSpacingRatio
	rects := tile(windows, c.FocusRegion(), spacing)
	for i, w := range windows {
		r := rects[i]
		if err := c.group.Update(w.ID, func(w *scene.Window) {
			w.FocusedCoordinates = r
		}); err != nil {
			return err
		}
	}
	return nil
}

// tile arranges windows in focus order on a grid inside region. The row
// count maximises the area of the smallest window; each window keeps its
// aspect ratio and is centered in its cell. Short last rows are centered.
func tile(windows []scene.Window, region scene.Rect, spacing float64) []scene.Rect {
	n := len(windows)
	bestRows, bestScore := 1, -1.0
	for rows := 1; rows <= n; rows++ {
		cols := (n + rows - 1) / rows
		cell := cellSize(region, rows, cols, spacing)
		score := math.Inf(1)
		for _, w := range windows {
			s := fitAspect(w, cell)
			score = math.Min(score, s.W*s.H)
		}
		if score > bestScore {
			bestRows, bestScore = rows, score
		}
	}

	rows := bestRows
	cols := (n + rows - 1) / rows
	cell := cellSize(region, rows, cols, spacing)
	out := make([]scene.Rect, n)
	for i, w := range windows {
		row, col := i/cols, i%cols
		inRow := cols
		if row == rows-1 {
			inRow = n - row*cols
		}
		rowWidth := float64(inRow)*cell.W + float64(inRow-1)*spacing
		x0 := region.X + (region.W-rowWidth)/2
		cellRect := scene.Rect{
			X: x0 + float64(col)*(cell.W+spacing),
			Y: region.Y + float64(row)*(cell.H+spacing),
			W: cell.W,
			H: cell.H,
		}
		size := fitAspect(w, cell)
		out[i] = scene.NewRect(scene.Point{}, size).CenteredAt(cellRect.Center())
	}
	return out
}

func cellSize(region scene.Rect, rows, cols int, spacing float64) scene.Size {
	return scene.Size{
		W: math.Max(0, (region.W-float64(cols-1)*spacing)/float64(cols)),
		H: math.Max(0, (region.H-float64(rows-1)*spacing)/float64(rows)),
	}
}

func fitAspect(w scene.Window, cell scene.Size) scene.Size {
	ar := w.ContentAspectRatio()
	if ar <= 0 {
		return cell
	}
	return scene.Size{W: ar, H: 1}.FitInside(cell)
}
