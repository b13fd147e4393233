package message

import "fmt"

// Type tags every message exchanged between the processes of a wall cluster.
// The numeric values travel on the wire and must not be reordered.
type Type uint32

const (
	None Type = iota
	Quit
	StartProcess
	Scene
	Options
	Lock
	Markers
	CountdownStatus
	PixelStreamFrame
	Config
	RequestFrame
	PixelStreamClose
	RequestScreenshot
	Image
	Timestamp
	FrameClock
)

// Any matches every message type when probing.
const Any Type = ^Type(0)

var names = map[Type]string{
	None:              "none",
	Quit:              "quit",
	StartProcess:      "start_process",
	Scene:             "scene",
	Options:           "options",
	Lock:              "lock",
	Markers:           "markers",
	CountdownStatus:   "countdown_status",
	PixelStreamFrame:  "pixelstream_frame",
	Config:            "config",
	RequestFrame:      "request_frame",
	PixelStreamClose:  "pixelstream_close",
	RequestScreenshot: "request_screenshot",
	Image:             "image",
	Timestamp:         "timestamp",
	FrameClock:        "frame_clock",
}

// String returns the wire-visible name of t.
func (t Type) String() string {
	if t == Any {
		return "any"
	}
	if s, ok := names[t]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", uint32(t))
}

// Known reports whether t is part of the closed enumeration.
func (t Type) Known() bool {
	_, ok := names[t]
	return ok
}

// Matches reports whether t satisfies the probe filter want.
func (t Type) Matches(want Type) bool {
	return want == Any || t == want
}

// Message is an immutable (type, payload) unit.
type Message struct {
	Type    Type
	Payload []byte
}
