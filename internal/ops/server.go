// Package ops is the operational HTTP surface: health, Prometheus
// metrics, task inspection and a websocket feed of task progress.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/tickdrive/tickdrive/internal/backtest"
	"github.com/tickdrive/tickdrive/internal/strategy"
	"github.com/tickdrive/tickdrive/internal/task"
)

// StatsFunc supplies the current producer counters, when the process
// runs one.
type StatsFunc func() interface{}

// Server serves the ops endpoints.
type Server struct {
	http     *http.Server
	tasks    *task.Manager // backtest runs
	opt      *task.Manager // optimization sweeps; falls back to tasks when nil
	stats    StatsFunc
	bt       *backtest.Runner
	upgrader websocket.Upgrader
}

// NewServer builds the ops surface. tasks, stats and bt are each
// optional; their routes are only registered when present.
func NewServer(addr string, reg *prometheus.Registry, tasks, opt *task.Manager, stats StatsFunc, bt *backtest.Runner) *Server {
	if opt == nil {
		opt = tasks
	}
	s := &Server{
		tasks: tasks,
		opt:   opt,
		stats: stats,
		bt:    bt,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/strategies", s.handleStrategies).Methods(http.MethodGet)
	if stats != nil {
		r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	}
	if tasks != nil {
		r.HandleFunc("/tasks", s.handleTaskList).Methods(http.MethodGet)
		r.HandleFunc("/tasks/{id}", s.handleTaskGet).Methods(http.MethodGet)
		r.HandleFunc("/tasks/{id}/ws", s.handleTaskWS).Methods(http.MethodGet)
	}
	if tasks != nil && bt != nil {
		r.HandleFunc("/backtest", s.handleBacktestSubmit).Methods(http.MethodPost)
		r.HandleFunc("/optimize", s.handleOptimizeSubmit).Methods(http.MethodPost)
	}

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.http.Addr).Msg("ops server listening")
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"strategies": strategy.Names()})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleTaskList(w http.ResponseWriter, _ *http.Request) {
	list := s.tasks.List()
	if s.opt != s.tasks {
		list = append(list, s.opt.List()...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": list})
}

// findTask looks the id up across both managers.
func (s *Server) findTask(id string) (task.Task, *task.Manager, error) {
	t, err := s.tasks.Get(id)
	if errors.Is(err, task.ErrNotFound) && s.opt != s.tasks {
		t, err = s.opt.Get(id)
		return t, s.opt, err
	}
	return t, s.tasks, err
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, _, err := s.findTask(mux.Vars(r)["id"])
	if errors.Is(err, task.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleBacktestSubmit(w http.ResponseWriter, r *http.Request) {
	var p backtest.Params
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, err := s.tasks.Submit(r.Context(), "backtest",
		func(ctx context.Context, report func(float64, string)) (interface{}, error) {
			return s.bt.Run(ctx, p, report)
		})
	if errors.Is(err, task.ErrTooManyTasks) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// optimizeRequest is the POST /optimize body.
type optimizeRequest struct {
	Params    backtest.Params    `json:"params"`
	Grid      backtest.Grid      `json:"grid"`
	Objective backtest.Objective `json:"objective"`
}

func (s *Server) handleOptimizeSubmit(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	id, err := s.opt.Submit(r.Context(), "optimization",
		func(ctx context.Context, report func(float64, string)) (interface{}, error) {
			return s.bt.Optimize(ctx, req.Params, req.Grid, req.Objective, report)
		})
	if errors.Is(err, task.ErrTooManyTasks) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

// handleTaskWS streams task snapshots to the client until the task
// finishes. A client that stops reading is disconnected rather than
// allowed to stall the feed.
func (s *Server) handleTaskWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	_, owner, err := s.findTask(id)
	if errors.Is(err, task.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	updates, cancel, err := owner.Subscribe(id)
	if errors.Is(err, task.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	for snapshot := range updates {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(snapshot); err != nil {
			log.Debug().Err(err).Str("task", id).Msg("websocket client dropped")
			return
		}
	}
	// Channel closed: the task reached a terminal state.
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished"))
}
