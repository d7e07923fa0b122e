package ops

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"coinbot/internal/eventbus"
	"coinbot/internal/features/draw"
	"coinbot/internal/runtime/supervisor"
	"coinbot/internal/storage"
	"coinbot/internal/task/schedule"
	"coinbot/internal/task/scheduler"
	logx "coinbot/pkg/logx"
)

const (
	defaultPreview = 5
	maxPreview     = 100
	recentRuns     = 20
)

type handlers struct {
	deps    Deps
	log     logx.Logger
	started time.Time
}

type healthResponse struct {
	Status     string                      `json:"status"`
	Uptime     string                      `json:"uptime"`
	Goroutines []supervisor.GoroutineStats `json:"goroutines,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Uptime: h.deps.Now().Sub(h.started).Round(time.Second).String(),
	}
	if h.deps.Supervisor != nil {
		resp.Goroutines = h.deps.Supervisor.Snapshot()
		if h.deps.Supervisor.Err() != nil {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type jobsResponse struct {
	Loop       scheduler.Snapshot `json:"loop"`
	RecentRuns []storage.JobRun   `json:"recent_runs"`
}

func (h *handlers) jobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Loop == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	resp := jobsResponse{Loop: h.deps.Loop.Snapshot(), RecentRuns: []storage.JobRun{}}
	if h.deps.Store != nil {
		runs, err := h.deps.Store.RecentRuns(r.Context(), recentRuns)
		if err != nil {
			h.log.Warn("recent runs query failed", logx.Err(err))
		} else if runs != nil {
			resp.RecentRuns = runs
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type cronResponse struct {
	Expr     string      `json:"expr"`
	Timezone string      `json:"timezone"`
	Next     []time.Time `json:"next"`
}

func (h *handlers) cronNext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := defaultPreview
	if raw := q.Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = min(v, maxPreview)
	}
	loc := h.deps.Location
	if tz := q.Get("tz"); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown timezone "+strconv.Quote(tz))
			return
		}
		loc = l
	}
	s, err := schedule.Parse(q.Get("expr"), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	next := s.Take(h.deps.Now(), n)
	if next == nil {
		next = []time.Time{}
	}
	writeJSON(w, http.StatusOK, cronResponse{Expr: s.Expr(), Timezone: loc.String(), Next: next})
}

type eventRequest struct {
	Title    string    `json:"title"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id"`
	StartsAt time.Time `json:"starts_at"`
}

func (h *handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	ev, err := h.deps.Store.Event(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// putEvent creates or replaces an event and announces it on the bus, which
// reschedules its reminders.
func (h *handlers) putEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	var req eventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.ChatID == 0 {
		writeError(w, http.StatusBadRequest, "chat_id is required")
		return
	}
	ev, err := h.deps.Store.SaveEvent(r.Context(), storage.Event{
		ID:       strings.TrimSpace(chi.URLParam(r, "id")),
		Title:    req.Title,
		ChatID:   req.ChatID,
		ThreadID: req.ThreadID,
		StartsAt: req.StartsAt,
	})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.publish(eventbus.TypeEventSaved, ev)
	writeJSON(w, http.StatusOK, ev)
}

func (h *handlers) deleteEvent(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.Store.DeleteEvent(r.Context(), id); err != nil {
		h.storeError(w, r, err)
		return
	}
	h.publish(eventbus.TypeEventDeleted, id)
	w.WriteHeader(http.StatusNoContent)
}

type ticketRequest struct {
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}

func (h *handlers) buyTickets(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil || h.deps.Draw == nil {
		writeError(w, http.StatusServiceUnavailable, "draw unavailable")
		return
	}
	var req ticketRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	holding, err := h.deps.Draw.Buy(r.Context(), h.deps.Store, req.UserID, req.Count)
	if errors.Is(err, draw.ErrDisabled) {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, holding)
}

func (h *handlers) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrInsufficientFunds):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error("ops storage error",
			logx.String("path", r.URL.Path),
			logx.String("request_id", middleware.GetReqID(r.Context())),
			logx.Err(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *handlers) publish(typ string, data any) {
	if h.deps.Bus != nil {
		h.deps.Bus.Publish(eventbus.Event{Type: typ, Data: data})
	}
}
