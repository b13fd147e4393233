// Package control exposes the master's call surface over HTTP for remote
// control clients and the pixel stream server.
package control

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"wall-controller/internal/master"
	"wall-controller/internal/scene"
	"wall-controller/internal/session"
	"wall-controller/internal/state"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
)

// DefaultScreenshotTimeout bounds how long a screenshot request waits for
// every wall.
const DefaultScreenshotTimeout = 10 * time.Second

// Handler serves the remote-control endpoints using go-chi.
type Handler struct {
	master      *master.Master
	log         *slog.Logger
	receivers   *receivers
	shotTimeout time.Duration
}

// NewHandler returns a Handler driving m.
func NewHandler(m *master.Master, log *slog.Logger) *Handler {
	h := &Handler{
		master:      m,
		log:         log,
		receivers:   newReceivers(),
		shotTimeout: DefaultScreenshotTimeout,
	}
	m.OnStreamClosed(h.receivers.remove)
	return h
}

// statusFor maps a master error to the response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, scene.ErrWindowNotFound),
		errors.Is(err, scene.ErrNoSurface),
		errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scene.ErrWindowExists):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, master.ErrNoSessions):
		return http.StatusNotImplemented
	case errors.Is(err, master.ErrStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(op+" failed", "error", err)
	} else {
		h.log.Debug(op+" refused", slog.Int("status", code), "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response not written", "error", err)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body: " + err.Error()})
		return false
	}
	return true
}

// uriParam returns the unescaped stream uri of the route. Stream uris may
// contain slashes and are sent URL-encoded.
func uriParam(r *http.Request) (string, bool) {
	uri, err := url.PathUnescape(chi.URLParam(r, "uri"))
	return uri, err == nil && uri != ""
}

func intParam(r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	return n, err == nil && n >= 0
}

// GetLock handles GET /lock.
func (h *Handler) GetLock(w http.ResponseWriter, r *http.Request) {
	s, err := h.master.LockState()
	if err != nil {
		h.fail(w, "lock state", err)
		return
	}
	if s.Pending == nil {
		s.Pending = []string{}
	}
	writeJSON(w, http.StatusOK, s)
}

// Lock handles POST /lock.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	if err := h.master.Lock(); err != nil {
		h.fail(w, "lock", err)
		return
	}
	h.log.Info("screen locked")
	w.WriteHeader(http.StatusNoContent)
}

// Unlock handles DELETE /lock. Every pending stream is shown.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	if err := h.master.Unlock(); err != nil {
		h.fail(w, "unlock", err)
		return
	}
	h.log.Info("screen unlocked")
	w.WriteHeader(http.StatusNoContent)
}

// AcceptStream handles POST /streams/{uri}/accept.
func (h *Handler) AcceptStream(w http.ResponseWriter, r *http.Request) {
	h.admit(w, r, "accept", h.master.AcceptStream)
}

// RejectStream handles POST /streams/{uri}/reject.
func (h *Handler) RejectStream(w http.ResponseWriter, r *http.Request) {
	h.admit(w, r, "reject", h.master.RejectStream)
}

func (h *Handler) admit(w http.ResponseWriter, r *http.Request, op string, fn func(string) (bool, error)) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	pending, err := fn(uri)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	if !pending {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "stream is not pending"})
		return
	}
	h.log.Info("stream admission decided", slog.String("uri", uri), slog.String("decision", op))
	w.WriteHeader(http.StatusNoContent)
}

// GetOptions handles GET /options.
func (h *Handler) GetOptions(w http.ResponseWriter, r *http.Request) {
	o, err := h.master.Options()
	if err != nil {
		h.fail(w, "options", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// SetOptions handles PUT /options.
func (h *Handler) SetOptions(w http.ResponseWriter, r *http.Request) {
	var o state.Options
	if !decode(w, r, &o) {
		return
	}
	if err := h.master.SetOptions(o); err != nil {
		h.fail(w, "set options", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetMarker handles PUT /markers/{id}. Body: { "x": 0.5, "y": 0.25 }.
func (h *Handler) SetMarker(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var p state.Point
	if !decode(w, r, &p) {
		return
	}
	if err := h.master.SetMarker(id, p); err != nil {
		h.fail(w, "set marker", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMarker handles DELETE /markers/{id}.
func (h *Handler) RemoveMarker(w http.ResponseWriter, r *http.Request) {
	id, ok := intParam(r, "id")
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.master.RemoveMarker(id); err != nil {
		h.fail(w, "remove marker", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type countdownBody struct {
	Active  bool  `json:"active"`
	Seconds int64 `json:"seconds"`
}

// SetCountdown handles PUT /countdown. Body: { "active": true, "seconds": 60 }.
func (h *Handler) SetCountdown(w http.ResponseWriter, r *http.Request) {
	var body countdownBody
	if !decode(w, r, &body) {
		return
	}
	if body.Seconds < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c := state.Countdown{Active: body.Active, Duration: time.Duration(body.Seconds) * time.Second}
	if err := h.master.SetCountdown(c); err != nil {
		h.fail(w, "countdown", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	names, err := h.master.Sessions()
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

// SaveSession handles PUT /sessions/{name}.
func (h *Handler) SaveSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.master.SaveSession(name); err != nil {
		h.fail(w, "save session", err)
		return
	}
	h.log.Info("session saved", slog.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

// LoadSession handles POST /sessions/{name}/load.
func (h *Handler) LoadSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.master.LoadSession(name); err != nil {
		h.fail(w, "load session", err)
		return
	}
	h.log.Info("session loaded", slog.String("name", name))
	w.WriteHeader(http.StatusNoContent)
}

// StartProcess handles POST /processes. Body is a process spec.
func (h *Handler) StartProcess(w http.ResponseWriter, r *http.Request) {
	var spec state.ProcessSpec
	if !decode(w, r, &spec) {
		return
	}
	if spec.Command == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "command is required"})
		return
	}
	if err := h.master.StartProcess(spec); err != nil {
		h.fail(w, "start process", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type imageBody struct {
	Wall   int    `json:"wall"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// Screenshot handles GET /screenshot. It returns one capture per wall.
func (h *Handler) Screenshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.shotTimeout)
	defer cancel()

	images, err := h.master.Screenshot(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": err.Error()})
			return
		}
		h.fail(w, "screenshot", err)
		return
	}
	out := make([]imageBody, len(images))
	for i, img := range images {
		out[i] = imageBody{Wall: img.Wall, Width: img.Width, Height: img.Height, Data: img.Data}
	}
	writeJSON(w, http.StatusOK, out)
}
