package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/sensorwatch/internal/domain"
	apimw "github.com/hamed0406/sensorwatch/internal/httpapi/middleware"
	"github.com/hamed0406/sensorwatch/internal/repo"
	"github.com/hamed0406/sensorwatch/internal/roster"
	"github.com/hamed0406/sensorwatch/internal/scheduler"
	"github.com/hamed0406/sensorwatch/internal/status"
)

// CycleReporter exposes the last poll cycle.
type CycleReporter interface {
	Last() (scheduler.Summary, bool)
}

// Server is a read-only view of the status store.
type Server struct {
	Logger    *zap.Logger
	Store     repo.StatusStore
	Roster    *roster.Holder
	Selector  *status.Selector
	Threshold int
	Cycles    CycleReporter
	Metrics   http.Handler
}

func NewServer(l *zap.Logger, store repo.StatusStore, rs *roster.Holder, threshold int) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{
		Logger:    l,
		Store:     store,
		Roster:    rs,
		Selector:  status.NewSelector(zap.NewNop(), rs, rs),
		Threshold: threshold,
	}
}

func (s *Server) Router(keys apimw.Keys) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Throttle(64))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "X-API-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(15 * time.Second))
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAny(keys))
			r.Get("/sensors", s.handleListSensors)
			r.Get("/sensors/{id}/history", s.handleHistory)
			r.Get("/cycles/last", s.handleLastCycle)
		})
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAdmin(keys))
			r.Get("/notifications/pending", s.handlePending)
		})
	})
	return r
}

type sensorView struct {
	domain.Sensor
	State  string               `json:"state"` // up, down or unknown
	Latest *domain.StatusRecord `json:"latest,omitempty"`
}

func stateOf(rec domain.StatusRecord, ok bool) string {
	switch {
	case !ok:
		return "unknown"
	case rec.OpenDown():
		return "down"
	case rec.DatetimeUp != nil:
		return "up"
	}
	return "unknown"
}

func (s *Server) ledger(w http.ResponseWriter, r *http.Request) (*status.Ledger, bool) {
	l, err := repo.Open(r.Context(), s.Store, s.Logger)
	if err != nil {
		s.Logger.Warn("api_store_error", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "status store unavailable")
		return nil, false
	}
	return l, true
}

func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	l, ok := s.ledger(w, r)
	if !ok {
		return
	}
	sensors := s.Roster.Get().Sensors()
	out := make([]sensorView, 0, len(sensors))
	for _, sn := range sensors {
		rec, found := l.Latest(sn.ID)
		v := sensorView{Sensor: sn, State: stateOf(rec, found)}
		if found {
			v.Latest = &rec
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := domain.SensorID(chi.URLParam(r, "id"))
	l, ok := s.ledger(w, r)
	if !ok {
		return
	}
	hist := l.History(id)
	if _, known := s.Roster.Get().Sensor(id); !known && len(hist) == 0 {
		writeError(w, http.StatusNotFound, "unknown sensor")
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

func (s *Server) handleLastCycle(w http.ResponseWriter, r *http.Request) {
	if s.Cycles == nil {
		writeError(w, http.StatusNotFound, "no cycle yet")
		return
	}
	sum, ok := s.Cycles.Last()
	if !ok {
		writeError(w, http.StatusNotFound, "no cycle yet")
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handlePending lists what a notify cycle would send right now.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	l, ok := s.ledger(w, r)
	if !ok {
		return
	}
	reqs, err := s.Selector.SelectNotifications(l, s.Threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if reqs == nil {
		reqs = []domain.NotificationRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
