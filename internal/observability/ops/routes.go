package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coinbot/internal/eventbus"
	"coinbot/internal/runtime/supervisor"
	"coinbot/internal/storage"
	"coinbot/internal/task/scheduler"
	logx "coinbot/pkg/logx"
)

// LoopView is the read side of the scheduler loop.
type LoopView interface {
	Snapshot() scheduler.Snapshot
}

// TicketSeller sells draw tickets at the configured price.
type TicketSeller interface {
	Buy(ctx context.Context, st storage.Store, userID int64, count int) (storage.TicketHolding, error)
}

// Deps are the handles the ops endpoints read from. Nil members disable the
// endpoints that need them (they answer 503).
type Deps struct {
	Loop       LoopView
	Store      storage.Store
	Bus        eventbus.Bus
	Draw       TicketSeller
	Gatherer   prometheus.Gatherer
	Supervisor *supervisor.Supervisor
	Location   *time.Location
	Now        func() time.Time
}

// Handler builds the ops router. An empty token disables auth.
func Handler(deps Deps, token string, log logx.Logger) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	h := &handlers{deps: deps, log: log, started: deps.Now()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(bearerAuth(token))

	r.Get("/healthz", h.health)
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/jobs", h.jobs)
	r.Get("/cron/next", h.cronNext)
	r.Get("/events/{id}", h.getEvent)
	r.Put("/events/{id}", h.putEvent)
	r.Delete("/events/{id}", h.deleteEvent)
	r.Post("/draw/tickets", h.buyTickets)
	r.Mount("/debug", middleware.Profiler())
	return r
}

// bearerAuth accepts "Authorization: Bearer <token>" or "?token=<token>".
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
