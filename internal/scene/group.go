package scene

import (
	"wall-controller/internal/event"

	"github.com/pkg/errors"
)

var (
	// ErrWindowNotFound is returned when an id does not resolve in a group.
	ErrWindowNotFound = errors.New("window not found")

	// ErrWindowExists is returned when adding a window whose id is taken.
	ErrWindowExists = errors.New("window already exists")
)

// EventKind identifies a scene change.
type EventKind uint8

const (
	WindowAdded EventKind = iota
	WindowRemoved
	WindowChanged
	GroupChanged
)

func (k EventKind) String() string {
	switch k {
	case WindowAdded:
		return "window_added"
	case WindowRemoved:
		return "window_removed"
	case WindowChanged:
		return "window_changed"
	default:
		return "group_changed"
	}
}

// Event is emitted synchronously after every group mutation. Window is a
// copy of the window after the change (before it, for removals).
type Event struct {
	Kind    EventKind
	Surface int
	Window  Window
}

// Group is the ordered set of windows rendered on one surface. Windows are
// stored by value; the last window is on top.
type Group struct {
	surface    int
	size       Size
	windows    []Window
	focused    []WindowID
	fullscreen WindowID
	events     *event.Emitter[Event]
}

func newGroup(surface int, size Size, events *event.Emitter[Event]) *Group {
	return &Group{surface: surface, size: size, events: events}
}

// NewGroup returns a standalone group with its own emitter.
func NewGroup(size Size) *Group {
	return newGroup(0, size, &event.Emitter[Event]{})
}

// Surface returns the surface index of the group.
func (g *Group) Surface() int { return g.surface }

// Size returns the group bounds.
func (g *Group) Size() Size { return g.size }

// Bounds returns the group bounds as a rectangle at the origin.
func (g *Group) Bounds() Rect { return NewRect(Point{}, g.size) }

// SetSize changes the group bounds.
func (g *Group) SetSize(s Size) {
	g.size = s
	g.emit(GroupChanged, Window{})
}

// Subscribe registers fn for changes of this group.
func (g *Group) Subscribe(fn func(Event)) func() {
	return g.events.Subscribe(func(ev Event) {
		if ev.Surface == g.surface {
			fn(ev)
		}
	})
}

// Len returns the number of windows.
func (g *Group) Len() int { return len(g.windows) }

// Windows returns a copy of the windows in stacking order.
func (g *Group) Windows() []Window {
	out := make([]Window, len(g.windows))
	copy(out, g.windows)
	return out
}

// Window returns a copy of the window with the given id.
func (g *Group) Window(id WindowID) (Window, bool) {
	if i := g.index(id); i >= 0 {
		return g.windows[i], true
	}
	return Window{}, false
}

// FindByURI returns the first window bound to uri.
func (g *Group) FindByURI(uri string) (Window, bool) {
	for _, w := range g.windows {
		if w.URI == uri {
			return w, true
		}
	}
	return Window{}, false
}

// Add appends w on top of the stack.
func (g *Group) Add(w Window) error {
	if g.index(w.ID) >= 0 {
		return errors.Wrapf(ErrWindowExists, "add %s", w.ID)
	}
	if w.Zoom.Empty() {
		w.Zoom = UnitRect
	}
	g.windows = append(g.windows, w)
	g.emit(WindowAdded, w)
	return nil
}

// Remove deletes the window, its focus membership and the fullscreen
// reference to it.
func (g *Group) Remove(id WindowID) (Window, error) {
	i := g.index(id)
	if i < 0 {
		return Window{}, errors.Wrapf(ErrWindowNotFound, "remove %s", id)
	}
	w := g.windows[i]
	g.windows = append(g.windows[:i:i], g.windows[i+1:]...)
	g.focused = removeID(g.focused, id)
	if g.fullscreen == id {
		g.fullscreen = ""
	}
	g.emit(WindowRemoved, w)
	return w, nil
}

// Update applies fn to the window in place. The id cannot be changed.
func (g *Group) Update(id WindowID, fn func(w *Window)) error {
	i := g.index(id)
	if i < 0 {
		return errors.Wrapf(ErrWindowNotFound, "update %s", id)
	}
	fn(&g.windows[i])
	g.windows[i].ID = id
	g.emit(WindowChanged, g.windows[i])
	return nil
}

// UpdateAll applies fn to every window, emitting one change per window.
func (g *Group) UpdateAll(fn func(w *Window)) {
	for i := range g.windows {
		id := g.windows[i].ID
		fn(&g.windows[i])
		g.windows[i].ID = id
		g.emit(WindowChanged, g.windows[i])
	}
}

// Raise moves the window to the top of the stack.
func (g *Group) Raise(id WindowID) error {
	i := g.index(id)
	if i < 0 {
		return errors.Wrapf(ErrWindowNotFound, "raise %s", id)
	}
	w := g.windows[i]
	g.windows = append(append(g.windows[:i:i], g.windows[i+1:]...), w)
	g.emit(WindowChanged, w)
	return nil
}

// Focused returns the focused ids in focus order.
func (g *Group) Focused() []WindowID {
	out := make([]WindowID, len(g.focused))
	copy(out, g.focused)
	return out
}

// IsFocused reports whether id is in the focused subset.
func (g *Group) IsFocused(id WindowID) bool {
	for _, f := range g.focused {
		if f == id {
			return true
		}
	}
	return false
}

// AddFocused inserts id into the focused subset. Panels and unknown or
// already focused windows are refused.
func (g *Group) AddFocused(id WindowID) bool {
	w, ok := g.Window(id)
	if !ok || w.Panel || g.IsFocused(id) {
		return false
	}
	g.focused = append(g.focused, id)
	g.emit(GroupChanged, w)
	return true
}

// RemoveFocused drops id from the focused subset.
func (g *Group) RemoveFocused(id WindowID) bool {
	if !g.IsFocused(id) {
		return false
	}
	g.focused = removeID(g.focused, id)
	w, _ := g.Window(id)
	g.emit(GroupChanged, w)
	return true
}

// Fullscreen returns the fullscreen window id, if any.
func (g *Group) Fullscreen() (WindowID, bool) {
	return g.fullscreen, g.fullscreen != ""
}

// SetFullscreen records id as the fullscreen window; the empty id clears it.
func (g *Group) SetFullscreen(id WindowID) error {
	if id != "" && g.index(id) < 0 {
		return errors.Wrapf(ErrWindowNotFound, "fullscreen %s", id)
	}
	g.fullscreen = id
	w, _ := g.Window(id)
	g.emit(GroupChanged, w)
	return nil
}

// DisplayCoordinates returns where the window is currently drawn.
func (g *Group) DisplayCoordinates(id WindowID) (Rect, bool) {
	w, ok := g.Window(id)
	if !ok {
		return Rect{}, false
	}
	if w.Mode != ModeFullscreen && g.IsFocused(id) {
		return w.FocusedCoordinates, true
	}
	return w.Coordinates, true
}

// Clear removes every window.
func (g *Group) Clear() {
	for len(g.windows) > 0 {
		_, _ = g.Remove(g.windows[len(g.windows)-1].ID)
	}
}

func (g *Group) index(id WindowID) int {
	for i := range g.windows {
		if g.windows[i].ID == id {
			return i
		}
	}
	return -1
}

func (g *Group) emit(kind EventKind, w Window) {
	if g.events != nil {
		g.events.Emit(Event{Kind: kind, Surface: g.surface, Window: w})
	}
}

func removeID(ids []WindowID, id WindowID) []WindowID {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
