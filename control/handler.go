// Package control exposes the transport over HTTP. Transport changes go
// through the engine's request queue and answer with the token to poll.
package control

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go-sequencer/metrics"
	"go-sequencer/realtime"
	"go-sequencer/sequencer"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

var requestNames = map[string]sequencer.TransportRequest{
	"stop":   sequencer.TransportStop,
	"start":  sequencer.TransportStart,
	"play":   sequencer.TransportPlay,
	"record": sequencer.TransportRecord,
}

var jumpNames = map[string]sequencer.TransportRequest{
	"jump":  sequencer.TransportJumpToTime,
	"start": sequencer.TransportStartAtTime,
	"stop":  sequencer.TransportStopAtTime,
}

// Handler serves the control endpoints for one engine.
type Handler struct {
	engine  *sequencer.Engine
	log     *logrus.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. m may be nil.
func NewHandler(engine *sequencer.Engine, log *logrus.Logger, m *metrics.Metrics) *Handler {
	return &Handler{engine: engine, log: log, metrics: m}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/transport", h.GetTransport)
	r.Post("/transport/jump", h.Jump)
	r.Post("/transport/{request}", h.Change)
	r.Get("/transport/sync/{token}", h.Sync)
	r.Post("/loop", h.SetLoop)
	r.Get("/input", h.PullInput)
}

type transportJSON struct {
	Status         string `json:"status"`
	PositionMs     int64  `json:"position_ms"`
	SongPositionMs int64  `json:"song_position_ms"`
	LoopStartMs    int64  `json:"loop_start_ms"`
	LoopEndMs      int64  `json:"loop_end_ms"`
	Looping        bool   `json:"looping"`
	Token          uint64 `json:"token"`
	Streams        int    `json:"streams"`
}

type tokenJSON struct {
	Token uint64 `json:"token"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// GetTransport handles GET /transport.
func (h *Handler) GetTransport(w http.ResponseWriter, r *http.Request) {
	s := h.engine.Snapshot()
	writeJSON(w, http.StatusOK, transportJSON{
		Status:         s.Status.String(),
		PositionMs:     s.Position.Milliseconds(),
		SongPositionMs: s.SongPosition.Milliseconds(),
		LoopStartMs:    s.LoopStart.Milliseconds(),
		LoopEndMs:      s.LoopEnd.Milliseconds(),
		Looping:        s.Looping(),
		Token:          uint64(s.Token),
		Streams:        s.Streams,
	})
}

// Change handles POST /transport/{request}.
func (h *Handler) Change(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "request")
	req, ok := requestNames[name]
	if !ok {
		h.log.WithField("request", name).Debug("unknown transport request")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	token := h.engine.TransportChange(req)
	h.log.WithFields(logrus.Fields{"request": req.String(), "token": token}).Info("transport change queued")
	writeJSON(w, http.StatusAccepted, tokenJSON{Token: uint64(token)})
}

// Jump handles POST /transport/jump.
// Body: { "position_ms": 2000, "then": "start" }; then is optional.
func (h *Handler) Jump(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PositionMs *int64 `json:"position_ms"`
		Then       string `json:"then"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PositionMs == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	name := body.Then
	if name == "" {
		name = "jump"
	}
	req, ok := jumpNames[name]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	at := realtime.FromMilliseconds(*body.PositionMs)
	token := h.engine.TransportJump(req, at)
	h.log.WithFields(logrus.Fields{"request": req.String(), "at": at.String(), "token": token}).Info("transport jump queued")
	writeJSON(w, http.StatusAccepted, tokenJSON{Token: uint64(token)})
}

// Sync handles GET /transport/sync/{token}.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.ParseUint(chi.URLParam(r, "token"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"complete": h.engine.IsTransportSyncComplete(sequencer.Token(n)),
	})
}

// SetLoop handles POST /loop. Body: { "start_ms": 1000, "end_ms": 2000 }.
// Equal bounds switch looping off.
func (h *Handler) SetLoop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartMs int64 `json:"start_ms"`
		EndMs   int64 `json:"end_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EndMs < body.StartMs || body.StartMs < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	start, end := realtime.FromMilliseconds(body.StartMs), realtime.FromMilliseconds(body.EndMs)
	err := h.engine.Exec(r.Context(), func(e *sequencer.Engine) { e.SetLoop(start, end) })
	if err != nil {
		h.log.WithError(err).Warn("set loop failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inputJSON struct {
	Instrument uint32 `json:"instrument"`
	Type       string `json:"type"`
	Data1      uint8  `json:"data1"`
	Data2      uint8  `json:"data2"`
	TimeMs     int64  `json:"time_ms"`
}

// PullInput handles GET /input: the MIDI input received while not
// recording, drained.
func (h *Handler) PullInput(w http.ResponseWriter, r *http.Request) {
	q := h.engine.PullAsynchronousMidiQueue()
	out := make([]inputJSON, len(q))
	for i, e := range q {
		out[i] = inputJSON{
			Instrument: uint32(e.Instrument),
			Type:       e.Type.String(),
			Data1:      e.Data1,
			Data2:      e.Data2,
			TimeMs:     e.Time.Milliseconds(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}
