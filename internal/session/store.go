// Package session saves and restores the scene of a display wall.
package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"wall-controller/internal/layout"
	"wall-controller/internal/scene"

	"github.com/pkg/errors"
)

// Extension is appended to session names on disk.
const Extension = ".wall"

var (
	ErrInvalidName = errors.New("invalid session name")
	ErrNotFound    = errors.New("session not found")
)

// Store keeps session files in one directory.
type Store struct {
	dir string
	log *slog.Logger
}

// NewStore returns a store rooted at dir. The directory is created on the
// first save.
func NewStore(dir string, log *slog.Logger) *Store {
	return &Store{dir: dir, log: log}
}

func (st *Store) path(name string) (string, error) {
	name = strings.TrimSuffix(name, Extension)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return filepath.Join(st.dir, name+Extension), nil
}

// Save writes the scene under name, replacing any previous session.
func (st *Store) Save(name string, s *scene.Scene) error {
	path, err := st.path(name)
	if err != nil {
		return err
	}
	data, err := Encode(scene.TakeSnapshot(s, 0), FormatVersion)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return errors.Wrap(err, "create session directory")
	}

	tmp, err := os.CreateTemp(st.dir, ".session-*")
	if err != nil {
		return errors.Wrap(err, "create session file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close session file")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "replace session file")
	}
	st.log.Info("session saved", slog.String("name", name), slog.Int("windows", s.WindowCount()))
	return nil
}

// Load replaces the content of s with the named session. Legacy sessions
// are scaled from the unit square to the current surface sizes. Pixel
// stream windows are not restored: their streams are gone.
func (st *Store) Load(name string, s *scene.Scene) error {
	path, err := st.path(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	if err != nil {
		return errors.Wrap(err, "read session file")
	}
	snap, version, err := Decode(data)
	if err != nil {
		return errors.Wrapf(err, "session %q", name)
	}
	if err := Apply(s, snap, version); err != nil {
		return errors.Wrapf(err, "session %q", name)
	}
	st.log.Info("session loaded", slog.String("name", name), slog.Int("format", version), slog.Int("windows", s.WindowCount()))
	return nil
}

// Apply restores snap into s. Groups keep their current size.
func Apply(s *scene.Scene, snap scene.Snapshot, version int) error {
	sizes := make([]scene.Size, s.Surfaces())
	for i := range sizes {
		g, err := s.Group(i)
		if err != nil {
			return err
		}
		sizes[i] = g.Size()
	}

	legacy := version == LegacyVersion
	snap.Groups = append([]scene.GroupSnapshot(nil), snap.Groups...)
	for i, gs := range snap.Groups {
		if legacy && (gs.Width != 1 || gs.Height != 1) {
			return errors.Wrapf(layout.ErrNotNormalized, "legacy group %d is %gx%g", i, gs.Width, gs.Height)
		}
		snap.Groups[i] = withoutStreams(gs)
	}
	snap.Version = scene.SnapshotVersion

	if err := scene.Restore(s, snap); err != nil {
		return err
	}

	for i, size := range sizes {
		g, _ := s.Group(i)
		c := layout.New(g)
		if legacy && i < len(snap.Groups) {
			if err := c.Denormalize(size); err != nil {
				return err
			}
			continue
		}
		if g.Size() != size {
			if err := c.Reshape(size); err != nil {
				return err
			}
		}
	}
	return nil
}

func withoutStreams(gs scene.GroupSnapshot) scene.GroupSnapshot {
	kept := make(map[string]bool)
	windows := gs.Windows[:0:0]
	for _, w := range gs.Windows {
		if scene.ContentType(w.Content) == scene.ContentPixelStream {
			continue
		}
		kept[w.ID] = true
		windows = append(windows, w)
	}
	gs.Windows = windows

	focused := gs.Focused[:0:0]
	for _, id := range gs.Focused {
		if kept[id] {
			focused = append(focused, id)
		}
	}
	gs.Focused = focused
	if !kept[gs.Fullscreen] {
		gs.Fullscreen = ""
	}
	return gs
}

// List returns the saved session names in lexical order.
func (st *Store) List() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), Extension))
	}
	sort.Strings(names)
	return names, nil
}
