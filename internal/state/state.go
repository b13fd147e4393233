// Package state holds the payload types the master broadcasts to the walls
// alongside the scene, and the payloads walls send back.
package state

import "time"

// Options are the display options shared by every wall.
type Options struct {
	ShowWindowBorders bool   `cbor:"borders" json:"show_window_borders"`
	ShowTouchPoints   bool   `cbor:"touch" json:"show_touch_points"`
	ShowStatistics    bool   `cbor:"stats" json:"show_statistics"`
	ShowClock         bool   `cbor:"clock" json:"show_clock"`
	ShowTestPattern   bool   `cbor:"pattern" json:"show_test_pattern"`
	BackgroundColor   string `cbor:"bg" json:"background_color"`
	BackgroundURI     string `cbor:"bg_uri,omitempty" json:"background_uri,omitempty"`
}

// DefaultOptions returns the options a freshly started master uses.
func DefaultOptions() Options {
	return Options{
		ShowWindowBorders: true,
		ShowTouchPoints:   true,
		BackgroundColor:   "#000000",
	}
}

// Point is a position in group pixel coordinates.
type Point struct {
	X float64 `cbor:"x" json:"x"`
	Y float64 `cbor:"y" json:"y"`
}

// Markers are the touch points currently shown on the wall, by touch id.
type Markers struct {
	Points map[int]Point `cbor:"points" json:"points"`
}

// Countdown is the inactivity countdown shown before the wall powers off.
type Countdown struct {
	Active   bool          `cbor:"active" json:"active"`
	Duration time.Duration `cbor:"duration" json:"duration"`
}

// LockState is the broadcast form of the screen lock.
type LockState struct {
	Locked  bool     `cbor:"locked" json:"locked"`
	Pending []string `cbor:"pending" json:"pending"`
}

// PixelFrame is one frame of an external pixel stream. Data is opaque to
// the control plane.
type PixelFrame struct {
	URI    string `cbor:"uri"`
	Width  int    `cbor:"w"`
	Height int    `cbor:"h"`
	Data   []byte `cbor:"data"`
}

// FrameRequest asks the master for the next frame of a stream.
type FrameRequest struct {
	URI string `cbor:"uri"`
}

// PixelStreamClose tells the walls to drop the frames of a stream.
type PixelStreamClose struct {
	URI string `cbor:"uri"`
}

// ScreenshotRequest asks every wall to capture its screens.
type ScreenshotRequest struct {
	ID uint64 `cbor:"id"`
}

// Image is a capture of one wall process' screens.
type Image struct {
	RequestID uint64 `cbor:"id"`
	Wall      int    `cbor:"wall"`
	Width     int    `cbor:"w"`
	Height    int    `cbor:"h"`
	Data      []byte `cbor:"data"`
}

// ProcessSpec describes a process the forker starts detached.
type ProcessSpec struct {
	Command string   `cbor:"cmd" json:"command"`
	Args    []string `cbor:"args" json:"args"`
	Dir     string   `cbor:"dir" json:"dir"`
	Env     []string `cbor:"env" json:"env"`
}

// Timestamp carries the master's wall-clock time for clock overlays.
type Timestamp struct {
	UnixNano int64 `cbor:"t"`
}

// Time converts the timestamp back into a time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, t.UnixNano)
}
