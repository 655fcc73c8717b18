// Package httpgw serves engine status, activity and chat over HTTP.
package httpgw

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Equbuxu/PixelPainter-sub000/pkg/activity"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/core/manager"
	"github.com/Equbuxu/PixelPainter-sub000/pkg/observability"
)

// Engine is the part of the manager the gateway talks to.
type Engine interface {
	Status() manager.Status
	EnqueueChat(identity, text string, colorIndex int) error
}

// Server exposes the engine. Activity and Metrics may be nil.
type Server struct {
	engine   Engine
	activity *activity.Store
	metrics  *observability.Metrics
	router   chi.Router
}

func New(engine Engine, act *activity.Store, m *observability.Metrics) *Server {
	s := &Server{engine: engine, activity: act, metrics: m}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/identities", s.handleIdentities)
	r.Get("/pixels/{board}/{x}/{y}", s.handleWhoPlaced)
	r.Post("/chat", s.handleChat)
	r.Method(http.MethodGet, "/metrics", m.Handler())
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	zap.L().Info("status server listening", zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func (s *Server) handleIdentities(w http.ResponseWriter, _ *http.Request) {
	if s.activity == nil {
		writeJSON(w, http.StatusOK, []activity.IdentityStats{})
		return
	}
	writeJSON(w, http.StatusOK, s.activity.List())
}

// GET /pixels/{board}/{x}/{y}
func (s *Server) handleWhoPlaced(w http.ResponseWriter, r *http.Request) {
	var coords [3]int
	for i, name := range []string{"board", "x", "y"} {
		v, err := strconv.Atoi(chi.URLParam(r, name))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		coords[i] = v
	}
	if s.activity == nil {
		writeError(w, http.StatusNotFound, activity.ErrUnknownCell.Error())
		return
	}
	p, err := s.activity.WhoPlaced(coords[0], coords[1], coords[2])
	if errors.Is(err, activity.ErrUnknownCell) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ChatRequest is the body of POST /chat. An empty identity lets the engine
// pick one.
type ChatRequest struct {
	Identity string `json:"identity"`
	Message  string `json:"message"`
	Color    int    `json:"color"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch err := s.engine.EnqueueChat(req.Identity, req.Message, req.Color); {
	case errors.Is(err, manager.ErrEmptyMessage):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, manager.ErrInboxFull):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}
