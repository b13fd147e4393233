package scene

import "github.com/pkg/errors"

// SnapshotVersion is the current snapshot format. Version 0 is the legacy
// layout whose coordinates are normalized to the unit square.
const SnapshotVersion = 1

// ErrSnapshotVersion is returned for snapshots newer than this build.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot is the serialised form of a scene. Sequence increases with every
// broadcast so that walls can agree on which scene to render.
type Snapshot struct {
	Version  int             `cbor:"v"`
	Sequence uint64          `cbor:"seq"`
	Groups   []GroupSnapshot `cbor:"groups"`
}

// GroupSnapshot is the serialised form of a group.
type GroupSnapshot struct {
	Width      float64          `cbor:"w"`
	Height     float64          `cbor:"h"`
	Windows    []WindowSnapshot `cbor:"windows"`
	Focused    []string         `cbor:"focused"`
	Fullscreen string           `cbor:"fullscreen,omitempty"`
}

// RectSnapshot is the serialised form of a rectangle.
type RectSnapshot [4]float64

// WindowSnapshot is the serialised form of a window.
type WindowSnapshot struct {
	ID                 string        `cbor:"id"`
	URI                string        `cbor:"uri"`
	Content            uint8         `cbor:"content"`
	Stream             uint8         `cbor:"stream"`
	ContentWidth       float64       `cbor:"cw"`
	ContentHeight      float64       `cbor:"ch"`
	Coordinates        RectSnapshot  `cbor:"coords"`
	FocusedCoordinates RectSnapshot  `cbor:"fcoords"`
	Zoom               RectSnapshot  `cbor:"zoom"`
	FocusZoom          RectSnapshot  `cbor:"fzoom"`
	Mode               uint8         `cbor:"mode"`
	Visible            bool          `cbor:"visible"`
	Panel              bool          `cbor:"panel"`
	Backup             *BackupRecord `cbor:"backup,omitempty"`
}

// BackupRecord is the serialised form of a fullscreen backup.
type BackupRecord struct {
	Coordinates RectSnapshot `cbor:"coords"`
	Zoom        RectSnapshot `cbor:"zoom"`
	Mode        uint8        `cbor:"mode"`
}

// Rect converts back into a rectangle.
func (r RectSnapshot) Rect() Rect { return Rect{X: r[0], Y: r[1], W: r[2], H: r[3]} }

func rectSnapshot(r Rect) RectSnapshot { return RectSnapshot{r.X, r.Y, r.W, r.H} }

// TakeSnapshot captures the scene.
func TakeSnapshot(s *Scene, sequence uint64) Snapshot {
	snap := Snapshot{Version: SnapshotVersion, Sequence: sequence}
	for _, g := range s.groups {
		snap.Groups = append(snap.Groups, groupSnapshot(g))
	}
	return snap
}

func groupSnapshot(g *Group) GroupSnapshot {
	gs := GroupSnapshot{
		Width:      g.size.W,
		Height:     g.size.H,
		Fullscreen: string(g.fullscreen),
	}
	for _, w := range g.windows {
		gs.Windows = append(gs.Windows, windowSnapshot(w))
	}
	for _, id := range g.focused {
		gs.Focused = append(gs.Focused, string(id))
	}
	return gs
}

func windowSnapshot(w Window) WindowSnapshot {
	ws := WindowSnapshot{
		ID:                 string(w.ID),
		URI:                w.URI,
		Content:            uint8(w.Content),
		Stream:             uint8(w.Stream),
		ContentWidth:       w.ContentSize.W,
		ContentHeight:      w.ContentSize.H,
		Coordinates:        rectSnapshot(w.Coordinates),
		FocusedCoordinates: rectSnapshot(w.FocusedCoordinates),
		Zoom:               rectSnapshot(w.Zoom),
		FocusZoom:          rectSnapshot(w.FocusZoom),
		Mode:               uint8(w.Mode),
		Visible:            w.Visibility == Shown,
		Panel:              w.Panel,
	}
	if b := w.FullscreenBackup; b != nil {
		ws.Backup = &BackupRecord{
			Coordinates: rectSnapshot(b.Coordinates),
			Zoom:        rectSnapshot(b.Zoom),
			Mode:        uint8(b.Mode),
		}
	}
	return ws
}

// Window converts the snapshot back into a window.
func (ws WindowSnapshot) Window() Window {
	w := Window{
		ID:                 WindowID(ws.ID),
		URI:                ws.URI,
		Content:            ContentType(ws.Content),
		Stream:             StreamType(ws.Stream),
		ContentSize:        Size{W: ws.ContentWidth, H: ws.ContentHeight},
		Coordinates:        ws.Coordinates.Rect(),
		FocusedCoordinates: ws.FocusedCoordinates.Rect(),
		Zoom:               ws.Zoom.Rect(),
		FocusZoom:          ws.FocusZoom.Rect(),
		Mode:               Mode(ws.Mode),
		Panel:              ws.Panel,
	}
	if ws.Visible {
		w.Visibility = Shown
	}
	if b := ws.Backup; b != nil {
		w.FullscreenBackup = &Backup{
			Coordinates: b.Coordinates.Rect(),
			Zoom:        b.Zoom.Rect(),
			Mode:        Mode(b.Mode),
		}
	}
	return w
}

// Restore replaces the content of the group with gs. Every removal and
// addition is emitted.
func (g *Group) Restore(gs GroupSnapshot) error {
	g.Clear()
	g.SetSize(Size{W: gs.Width, H: gs.Height})
	for _, ws := range gs.Windows {
		if err := g.Add(ws.Window()); err != nil {
			return err
		}
	}
	for _, id := range gs.Focused {
		g.AddFocused(WindowID(id))
	}
	if gs.Fullscreen != "" {
		return g.SetFullscreen(WindowID(gs.Fullscreen))
	}
	return nil
}

// Restore loads a snapshot into the scene. Surfaces missing from the
// snapshot are cleared; extra snapshot groups are ignored.
func Restore(s *Scene, snap Snapshot) error {
	if snap.Version > SnapshotVersion {
		return errors.Wrapf(ErrSnapshotVersion, "version %d", snap.Version)
	}
	for i, g := range s.groups {
		if i >= len(snap.Groups) {
			g.Clear()
			continue
		}
		if err := g.Restore(snap.Groups[i]); err != nil {
			return errors.Wrapf(err, "restore surface %d", i)
		}
	}
	return nil
}
