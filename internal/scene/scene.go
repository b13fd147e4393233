// Package scene is the in-memory model of what the wall displays: one
// window group per surface. The master is its only writer; walls receive
// snapshots.
package scene

import (
	"wall-controller/internal/event"

	"github.com/pkg/errors"
)

// ErrNoSurface is returned for an out of range surface index.
var ErrNoSurface = errors.New("no such surface")

// Scene owns one group per surface, addressed by index.
type Scene struct {
	groups []*Group
	events event.Emitter[Event]
}

// New creates a scene with one group per surface size.
func New(surfaces ...Size) *Scene {
	s := &Scene{}
	for i, size := range surfaces {
		s.groups = append(s.groups, newGroup(i, size, &s.events))
	}
	return s
}

// Subscribe registers fn for changes of every group.
func (s *Scene) Subscribe(fn func(Event)) func() {
	return s.events.Subscribe(fn)
}

// Surfaces returns the number of groups.
func (s *Scene) Surfaces() int { return len(s.groups) }

// Group returns the group of a surface.
func (s *Scene) Group(surface int) (*Group, error) {
	if surface < 0 || surface >= len(s.groups) {
		return nil, errors.Wrapf(ErrNoSurface, "surface %d", surface)
	}
	return s.groups[surface], nil
}

// Find resolves a window id across all groups.
func (s *Scene) Find(id WindowID) (*Group, Window, bool) {
	for _, g := range s.groups {
		if w, ok := g.Window(id); ok {
			return g, w, true
		}
	}
	return nil, Window{}, false
}

// WindowCount returns the number of windows across all groups.
func (s *Scene) WindowCount() int {
	n := 0
	for _, g := range s.groups {
		n += g.Len()
	}
	return n
}
