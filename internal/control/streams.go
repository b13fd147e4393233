package control

import (
	"log/slog"
	"net/http"
	"sync"

	"wall-controller/internal/scene"
	"wall-controller/internal/state"
	"wall-controller/internal/stream"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// maxQueuedEvents bounds the interactions kept for a stream whose
// application does not poll; the oldest are dropped first.
const maxQueuedEvents = 256

// eventQueue buffers the interactions of one stream until its application
// polls them.
type eventQueue struct {
	mu     sync.Mutex
	events []stream.Interaction
}

func (q *eventQueue) Receive(_ string, ev stream.Interaction) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, ev)
	if n := len(q.events); n > maxQueuedEvents {
		q.events = append([]stream.Interaction(nil), q.events[n-maxQueuedEvents:]...)
	}
	return nil
}

func (q *eventQueue) take() []stream.Interaction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// receivers holds the queues registered for each stream uri, keyed by
// registration id.
type receivers struct {
	mu     sync.Mutex
	queues map[string]map[string]*eventQueue
}

func newReceivers() *receivers {
	return &receivers{queues: make(map[string]map[string]*eventQueue)}
}

func (r *receivers) add(uri string, q *eventQueue) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	if r.queues[uri] == nil {
		r.queues[uri] = make(map[string]*eventQueue)
	}
	r.queues[uri][id] = q
	return id
}

// get returns the queue id of uri. An empty id selects the only queue of
// the stream.
func (r *receivers) get(uri, id string) (*eventQueue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	queues := r.queues[uri]
	if id != "" {
		q, ok := queues[id]
		if !ok {
			return nil, errNoReceiver
		}
		return q, nil
	}
	switch len(queues) {
	case 0:
		return nil, errNoReceiver
	case 1:
		for _, q := range queues {
			return q, nil
		}
	}
	return nil, errReceiverRequired
}

func (r *receivers) remove(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, uri)
}

func (r *receivers) count(uri string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[uri])
}

var (
	errNoReceiver       = errors.New("no receiver registered")
	errReceiverRequired = errors.New("several receivers registered, receiver id required")
)

type registrationBody struct {
	Receiver string `json:"receiver"`
}

type interactionBody struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Key  int     `json:"key"`
}

type frameBody struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// StreamOpened handles POST /streams/{uri}: the stream server reports a
// new stream.
func (h *Handler) StreamOpened(w http.ResponseWriter, r *http.Request) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.master.StreamOpened(uri); err != nil {
		h.fail(w, "stream opened", err)
		return
	}
	h.log.Info("stream opened", slog.String("uri", uri))
	w.WriteHeader(http.StatusCreated)
}

// StreamClosed handles DELETE /streams/{uri}.
func (h *Handler) StreamClosed(w http.ResponseWriter, r *http.Request) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.master.StreamClosed(uri); err != nil {
		h.fail(w, "stream closed", err)
		return
	}
	h.log.Info("stream closed", slog.String("uri", uri))
	w.WriteHeader(http.StatusNoContent)
}

// PushFrame handles POST /streams/{uri}/frames. Frames of streams without
// a window are answered with 404.
func (h *Handler) PushFrame(w http.ResponseWriter, r *http.Request) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var body frameBody
	if !decode(w, r, &body) {
		return
	}
	if body.Width <= 0 || body.Height <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "frame size must be positive"})
		return
	}
	bound, err := h.master.FrameReceived(state.PixelFrame{URI: uri, Width: body.Width, Height: body.Height, Data: body.Data})
	if err != nil {
		h.fail(w, "push frame", err)
		return
	}
	if !bound {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "stream has no window"})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// SizeHints handles PUT /streams/{uri}/size.
func (h *Handler) SizeHints(w http.ResponseWriter, r *http.Request) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var body sizeBody
	if !decode(w, r, &body) {
		return
	}
	if err := h.master.SizeHints(uri, scene.Size{W: body.Width, H: body.Height}); err != nil {
		h.fail(w, "size hints", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterReceiver handles POST /streams/{uri}/receivers?exclusive=true.
// Each registration gets its own queue; its interactions are buffered until
// GET /streams/{uri}/events?receiver={id}. Queues go away with the window.
func (h *Handler) RegisterReceiver(w http.ResponseWriter, r *http.Request) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	exclusive := r.URL.Query().Get("exclusive") == "true"
	q := &eventQueue{}
	registered, err := h.master.RegisterForEvents(uri, exclusive, q)
	if err != nil {
		h.fail(w, "register receiver", err)
		return
	}
	if !registered {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "registration refused"})
		return
	}
	id := h.receivers.add(uri, q)
	h.log.Debug("event receiver registered",
		slog.String("uri", uri),
		slog.String("receiver", id),
		slog.Bool("exclusive", exclusive))
	writeJSON(w, http.StatusCreated, registrationBody{Receiver: id})
}

// DeliverEvent handles POST /streams/{uri}/events.
func (h *Handler) DeliverEvent(w http.ResponseWriter, r *http.Request) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var body interactionBody
	if !decode(w, r, &body) {
		return
	}
	ev := stream.Interaction{Type: body.Type, X: body.X, Y: body.Y, Key: body.Key}
	if err := h.master.DeliverEvent(uri, ev); err != nil {
		h.fail(w, "deliver event", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PollEvents handles GET /streams/{uri}/events. It returns and clears the
// buffered interactions of one receiver; the receiver parameter may be
// left out when the stream has a single one.
func (h *Handler) PollEvents(w http.ResponseWriter, r *http.Request) {
	uri, ok := uriParam(r)
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	q, err := h.receivers.get(uri, r.URL.Query().Get("receiver"))
	switch {
	case errors.Is(err, errReceiverRequired):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	events := q.take()
	out := make([]interactionBody, len(events))
	for i, ev := range events {
		out[i] = interactionBody{Type: ev.Type, X: ev.X, Y: ev.Y, Key: ev.Key}
	}
	writeJSON(w, http.StatusOK, out)
}
