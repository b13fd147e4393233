package control

import (
	"log/slog"
	"net/http"

	"wall-controller/internal/scene"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// openBody is the body of POST /windows. Kind is "content" for static
// content, or a stream type for pixel stream windows.
type openBody struct {
	Surface int      `json:"surface"`
	URI     string   `json:"uri"`
	Kind    string   `json:"kind"`
	Width   float64  `json:"width"`
	Height  float64  `json:"height"`
	X       *float64 `json:"x,omitempty"`
	Y       *float64 `json:"y,omitempty"`
}

func (b openBody) position() *scene.Point {
	if b.X == nil || b.Y == nil {
		return nil
	}
	return &scene.Point{X: *b.X, Y: *b.Y}
}

func parseStreamType(kind string) (scene.StreamType, bool) {
	switch kind {
	case "", "external":
		return scene.StreamExternal, true
	case "internal":
		return scene.StreamInternal, true
	case "launcher":
		return scene.StreamLauncher, true
	default:
		return 0, false
	}
}

type pointBody struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type sizeBody struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b sizeBody) size() scene.Size { return scene.Size{W: b.Width, H: b.Height} }

func windowID(r *http.Request) scene.WindowID {
	return scene.WindowID(chi.URLParam(r, "id"))
}

// ListWindows handles GET /windows.
func (h *Handler) ListWindows(w http.ResponseWriter, r *http.Request) {
	windows, err := h.master.Windows()
	if err != nil {
		h.fail(w, "list windows", err)
		return
	}
	if windows == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, windows)
}

// OpenWindow handles POST /windows.
// Body: { "uri": "slides.pdf", "kind": "content", "width": 800, "height": 600 }.
func (h *Handler) OpenWindow(w http.ResponseWriter, r *http.Request) {
	var body openBody
	if !decode(w, r, &body) {
		return
	}
	if body.URI == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "uri is required"})
		return
	}

	if body.Kind == "content" {
		id, err := h.master.OpenContent(body.Surface, body.URI, scene.Size{W: body.Width, H: body.Height}, body.position())
		if err != nil {
			h.fail(w, "open content", err)
			return
		}
		h.log.Info("content opened", slog.String("uri", body.URI), slog.String("window", string(id)))
		writeJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
		return
	}

	kind, ok := parseStreamType(body.Kind)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown window kind " + body.Kind})
		return
	}
	var size *scene.Size
	if body.Width > 0 && body.Height > 0 {
		size = &scene.Size{W: body.Width, H: body.Height}
	}
	if err := h.master.OpenWindow(body.Surface, body.URI, body.position(), size, kind); err != nil {
		h.fail(w, "open stream window", err)
		return
	}
	h.log.Info("stream window opened", slog.String("uri", body.URI), slog.String("kind", kind.String()))
	writeJSON(w, http.StatusCreated, map[string]string{"uri": body.URI})
}

// CloseWindow handles DELETE /windows/{id}.
func (h *Handler) CloseWindow(w http.ResponseWriter, r *http.Request) {
	if err := h.master.CloseWindow(windowID(r)); err != nil {
		h.fail(w, "close window", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MoveWindow handles PUT /windows/{id}/position.
func (h *Handler) MoveWindow(w http.ResponseWriter, r *http.Request) {
	var body pointBody
	if !decode(w, r, &body) {
		return
	}
	if err := h.master.MoveWindow(windowID(r), scene.Point{X: body.X, Y: body.Y}); err != nil {
		h.fail(w, "move window", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResizeWindow handles PUT /windows/{id}/size.
func (h *Handler) ResizeWindow(w http.ResponseWriter, r *http.Request) {
	var body sizeBody
	if !decode(w, r, &body) {
		return
	}
	if body.size().Empty() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "size must be positive"})
		return
	}
	if err := h.master.ResizeWindow(windowID(r), body.size()); err != nil {
		h.fail(w, "resize window", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// windowAction adapts a master call on one window to a handler.
func (h *Handler) windowAction(op string, fn func(scene.WindowID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(windowID(r)); err != nil {
			h.fail(w, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// surfaceAction adapts a master call on one surface to a handler.
func (h *Handler) surfaceAction(op string, fn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surface, ok := intParam(r, "surface")
		if !ok {
			h.fail(w, op, errors.Wrap(scene.ErrNoSurface, chi.URLParam(r, "surface")))
			return
		}
		if err := fn(surface); err != nil {
			h.fail(w, op, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
