package session

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"wall-controller/internal/layout"
	"wall-controller/internal/scene"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func addWindow(t *testing.T, g *scene.Group, uri string, content scene.ContentType, r scene.Rect) scene.Window {
	t.Helper()
	w := scene.NewWindow(uri, content)
	w.Coordinates = r
	w.ContentSize = scene.Size{W: 1600, H: 900}
	w.Visibility = scene.Shown
	require.NoError(t, g.Add(w))
	return w
}

func TestDecode_rejects_corruption(t *testing.T) {
	s := scene.New(scene.Size{W: 1920, H: 1080})
	data, err := Encode(scene.TakeSnapshot(s, 3), FormatVersion)
	require.NoError(t, err)

	snap, version, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, version)
	assert.Equal(t, uint64(3), snap.Sequence)

	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-1] ^= 0xFF
	_, _, err = Decode(tampered)
	assert.ErrorIs(t, err, ErrDigestMismatch)

	_, _, err = Decode([]byte("not a session at all, clearly not one"))
	assert.ErrorIs(t, err, ErrBadMagic)

	future := append([]byte(nil), data...)
	future[len(magic)+1] = FormatVersion + 1
	_, _, err = Decode(future)
	assert.ErrorIs(t, err, ErrFormatVersion)
}

func TestStore_Save_Load(t *testing.T) {
	store := NewStore(t.TempDir(), discardLogger())

	src := scene.New(scene.Size{W: 3840, H: 2160})
	g, _ := src.Group(0)
	a := addWindow(t, g, "file:///a.png", scene.ContentStatic, scene.Rect{X: 100, Y: 100, W: 800, H: 450})
	b := addWindow(t, g, "file:///b.png", scene.ContentStatic, scene.Rect{X: 1000, Y: 100, W: 800, H: 450})
	addWindow(t, g, "stream-1", scene.ContentPixelStream, scene.Rect{X: 2000, Y: 100, W: 800, H: 450})
	require.NoError(t, layout.New(g).Focus(b.ID))

	require.NoError(t, store.Save("demo", src))

	dst := scene.New(scene.Size{W: 3840, H: 2160})
	require.NoError(t, store.Load("demo", dst))
	dg, _ := dst.Group(0)

	require.Equal(t, 2, dg.Len())
	got, ok := dg.Window(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.Coordinates, got.Coordinates)
	assert.Equal(t, []scene.WindowID{b.ID}, dg.Focused())
	_, ok = dg.FindByURI("stream-1")
	assert.False(t, ok)

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, names)
}

func TestStore_Load_reshapes_to_current_surface(t *testing.T) {
	store := NewStore(t.TempDir(), discardLogger())

	src := scene.New(scene.Size{W: 1920, H: 1080})
	g, _ := src.Group(0)
	a := addWindow(t, g, "a", scene.ContentStatic, scene.Rect{X: 0, Y: 0, W: 960, H: 540})
	require.NoError(t, store.Save("small", src))

	dst := scene.New(scene.Size{W: 3840, H: 2160})
	require.NoError(t, store.Load("small", dst))
	dg, _ := dst.Group(0)
	assert.Equal(t, scene.Size{W: 3840, H: 2160}, dg.Size())
	got, _ := dg.Window(a.ID)
	assert.Equal(t, scene.Rect{X: 0, Y: 0, W: 1920, H: 1080}, got.Coordinates)
}

func TestStore_Load_legacy_denormalizes(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, discardLogger())

	legacy := scene.New(scene.Size{W: 1, H: 1})
	lg, _ := legacy.Group(0)
	a := addWindow(t, lg, "a", scene.ContentStatic, scene.Rect{W: 0.5, H: 0.5})
	data, err := Encode(scene.TakeSnapshot(legacy, 0), LegacyVersion)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old"+Extension), data, 0o644))

	dst := scene.New(scene.Size{W: 3840, H: 1080})
	require.NoError(t, store.Load("old", dst))
	dg, _ := dst.Group(0)
	got, _ := dg.Window(a.ID)
	assert.InDelta(t, 960, got.Coordinates.X, 1e-6)
	assert.InDelta(t, 960, got.Coordinates.W, 1e-6)
	assert.InDelta(t, 540, got.Coordinates.H, 1e-6)
}

func TestStore_Load_legacy_requires_unit_groups(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, discardLogger())

	data, err := Encode(scene.TakeSnapshot(scene.New(scene.Size{W: 1920, H: 1080}), 0), LegacyVersion)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad"+Extension), data, 0o644))

	err = store.Load("bad", scene.New(scene.Size{W: 1920, H: 1080}))
	assert.ErrorIs(t, err, layout.ErrNotNormalized)
}

func TestStore_names(t *testing.T) {
	store := NewStore(t.TempDir(), discardLogger())
	s := scene.New(scene.Size{W: 10, H: 10})

	assert.ErrorIs(t, store.Save("../escape", s), ErrInvalidName)
	assert.ErrorIs(t, store.Save("", s), ErrInvalidName)
	assert.ErrorIs(t, store.Load("missing", s), ErrNotFound)

	names, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}
