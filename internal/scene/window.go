package scene

import "github.com/google/uuid"

// WindowID is the opaque handle of a window inside its group.
type WindowID string

// NewWindowID returns a fresh random id.
func NewWindowID() WindowID { return WindowID(uuid.NewString()) }

// ContentType tells what a window displays.
type ContentType uint8

const (
	ContentStatic ContentType = iota
	ContentPixelStream
)

func (c ContentType) String() string {
	if c == ContentPixelStream {
		return "pixelstream"
	}
	return "static"
}

// StreamType classifies pixel streams for admission control.
type StreamType uint8

const (
	// StreamExternal streams come from outside applications and go
	// through the screen lock.
	StreamExternal StreamType = iota
	// StreamInternal streams are started by the wall itself (browsers,
	// whiteboards) and are shown immediately.
	StreamInternal
	// StreamLauncher is the launcher panel.
	StreamLauncher
)

func (s StreamType) String() string {
	switch s {
	case StreamInternal:
		return "internal"
	case StreamLauncher:
		return "launcher"
	default:
		return "external"
	}
}

// Mode is the display mode of a window.
type Mode uint8

const (
	ModeStandard Mode = iota
	ModeFullscreen
)

// Visibility is hidden until a stream window is admitted.
type Visibility uint8

const (
	Hidden Visibility = iota
	Shown
)

// Backup keeps the geometry a window had before entering fullscreen.
type Backup struct {
	Coordinates Rect
	Zoom        Rect
	Mode        Mode
}

// Window is a rectangular region of a group bound to static content or a
// live pixel stream.
type Window struct {
	ID          WindowID
	URI         string
	Content     ContentType
	Stream      StreamType
	ContentSize Size

	Coordinates        Rect
	FocusedCoordinates Rect
	Zoom               Rect
	FocusZoom          Rect

	Mode       Mode
	Visibility Visibility
	Panel      bool

	FullscreenBackup *Backup
}

// NewWindow returns a hidden standard window with no geometry.
func NewWindow(uri string, content ContentType) Window {
	return Window{
		ID:      NewWindowID(),
		URI:     uri,
		Content: content,
		Zoom:    UnitRect,
	}
}

// IsPixelStream reports whether the window is bound to a stream.
func (w Window) IsPixelStream() bool { return w.Content == ContentPixelStream }

// IsShown reports whether the window is visible.
func (w Window) IsShown() bool { return w.Visibility == Shown }

// HasSize reports whether the window was given explicit dimensions.
func (w Window) HasSize() bool { return !w.Coordinates.Size().Empty() }

// ContentAspectRatio falls back to the window aspect ratio when the
// content size is not known yet.
func (w Window) ContentAspectRatio() float64 {
	if ar := w.ContentSize.AspectRatio(); ar > 0 {
		return ar
	}
	return w.Coordinates.Size().AspectRatio()
}
