package control

import (
	"log/slog"
	"net/http"

	"wall-controller/internal/platform/logger"
	"wall-controller/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter mounts the handler's endpoints. When met is not nil, requests
// are counted and /metrics is served.
func NewRouter(h *Handler, log *slog.Logger, met *metrics.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	if met != nil {
		r.Use(metrics.RequestMiddleware(met))
		r.Method(http.MethodGet, "/metrics", met.Handler(h.master.UpdateGauges))
	}

	r.Route("/lock", func(r chi.Router) {
		r.Get("/", h.GetLock)
		r.Post("/", h.Lock)
		r.Delete("/", h.Unlock)
	})

	r.Route("/windows", func(r chi.Router) {
		r.Get("/", h.ListWindows)
		r.Post("/", h.OpenWindow)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", h.CloseWindow)
			r.Put("/position", h.MoveWindow)
			r.Put("/size", h.ResizeWindow)
			r.Post("/focus", h.windowAction("focus", h.master.Focus))
			r.Delete("/focus", h.windowAction("unfocus", h.master.Unfocus))
			r.Post("/fullscreen", h.windowAction("fullscreen", h.master.ShowFullscreen))
		})
	})
	r.Route("/surfaces/{surface}", func(r chi.Router) {
		r.Delete("/focus", h.surfaceAction("unfocus all", h.master.UnfocusAll))
		r.Delete("/fullscreen", h.surfaceAction("exit fullscreen", h.master.ExitFullscreen))
	})

	r.Route("/streams/{uri}", func(r chi.Router) {
		r.Post("/", h.StreamOpened)
		r.Delete("/", h.StreamClosed)
		r.Post("/accept", h.AcceptStream)
		r.Post("/reject", h.RejectStream)
		r.Post("/frames", h.PushFrame)
		r.Put("/size", h.SizeHints)
		r.Post("/receivers", h.RegisterReceiver)
		r.Post("/events", h.DeliverEvent)
		r.Get("/events", h.PollEvents)
	})

	r.Get("/options", h.GetOptions)
	r.Put("/options", h.SetOptions)
	r.Put("/markers/{id}", h.SetMarker)
	r.Delete("/markers/{id}", h.RemoveMarker)
	r.Put("/countdown", h.SetCountdown)

	r.Get("/sessions", h.ListSessions)
	r.Put("/sessions/{name}", h.SaveSession)
	r.Post("/sessions/{name}/load", h.LoadSession)

	r.Post("/processes", h.StartProcess)
	r.Get("/screenshot", h.Screenshot)
	return r
}
