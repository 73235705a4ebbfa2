// Package web provides an HTTP status server for the espresso-pid daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/sweeney/espresso-pid/internal/history"
	"github.com/sweeney/espresso-pid/internal/status"
)

// defaultShotLimit is how many shots /shots.json and the index page show.
const defaultShotLimit = 20

// ErrParamQueueFull is returned by a ParamSetter that cannot accept more updates.
var ErrParamQueueFull = errors.New("parameter queue full")

// ShotLister returns recent shots, newest first.
type ShotLister interface {
	List(limit int) ([]history.Shot, error)
}

// ParamSetter queues a parameter change for the control loop.
type ParamSetter func(name string, value float64) error

// Options wires optional endpoints. Nil fields disable them.
type Options struct {
	Metrics  http.Handler
	Shots    ShotLister
	SetParam ParamSetter
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	opts       Options
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	s := &Server{tracker: tracker, opts: opts}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)
	if opts.Shots != nil {
		r.HandleFunc("/shots.json", s.handleShots).Methods(http.MethodGet)
	}
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	if opts.SetParam != nil {
		r.HandleFunc("/api/params/{name}", s.handleSetParam).Methods(http.MethodPut, http.MethodPost)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	var shots []history.Shot
	if s.opts.Shots != nil {
		var err error
		if shots, err = s.opts.Shots.List(5); err != nil {
			log.Warnf("web: list shots: %v", err)
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap, shots); err != nil {
		log.Errorf("web: render index: %v", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleShots(w http.ResponseWriter, r *http.Request) {
	limit := defaultShotLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	shots, err := s.opts.Shots.List(limit)
	if err != nil {
		log.Errorf("web: list shots: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Shots []history.Shot `json:"shots"`
	}{shots})
}

// handleSetParam accepts either a bare number or {"value": n} as the body.
func (s *Server) handleSetParam(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	value, err := parseParamBody(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.opts.SetParam(name, value); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, ErrParamQueueFull) {
			code = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), code)
		return
	}
	log.Infof("web: queued %s=%v", name, value)
	w.WriteHeader(http.StatusAccepted)
}

func parseParamBody(body io.Reader) (float64, error) {
	data, err := io.ReadAll(io.LimitReader(body, 1024))
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	text := strings.TrimSpace(string(data))

	if strings.HasPrefix(text, "{") {
		var req struct {
			Value *float64 `json:"value"`
		}
		if err := json.Unmarshal([]byte(text), &req); err != nil {
			return 0, fmt.Errorf("decode body: %w", err)
		}
		if req.Value == nil {
			return 0, errors.New("missing value")
		}
		return *req.Value, nil
	}

	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse value: %w", err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value is not a finite number")
	}
	return v, nil
}
