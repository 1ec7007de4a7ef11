// Package admin serves the HTTP admin API and a status page.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"roverswarm/internal/command"
	"roverswarm/internal/fleet"
	"roverswarm/internal/telemetry"
)

// Coordinator is the part of the coordinator the admin API needs.
type Coordinator interface {
	GetSnapshot(index int) (telemetry.Record, error)
	GetAllSnapshots() []telemetry.Record
	SubmitManual(ctx context.Context, in command.ManualIntent, broadcast bool, selected int) (command.Result, error)
	SubmitStateUpdate(ctx context.Context, in command.StateIntent, broadcast bool, selected int) (command.Result, error)
	SubmitManualTo(ctx context.Context, in command.ManualIntent, indices []int) (command.Result, error)
	SubmitStateUpdateTo(ctx context.Context, in command.StateIntent, indices []int) (command.Result, error)
	ConnectionStatus() bool
}

//go:embed templates/index.html
var content embed.FS

type Server struct {
	coord Coordinator
	tpl   *template.Template
	log   *slog.Logger
	mux   *http.ServeMux
}

func NewServer(coord Coordinator, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		coord: coord,
		tpl:   template.Must(template.New("index.html").ParseFS(content, "templates/index.html")),
		log:   log,
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /robots", s.handleRobots)
	s.mux.HandleFunc("GET /robots/{index}", s.handleRobot)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /commands/manual", s.handleManual)
	s.mux.HandleFunc("POST /commands/state", s.handleState)
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("admin API listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type robotView struct {
	Index        int                    `json:"index"`
	Name         string                 `json:"name"`
	Alias        string                 `json:"alias"`
	Connectivity telemetry.Connectivity `json:"connectivity"`
	LastSeenAt   *time.Time             `json:"last_seen_at,omitempty"`
	Payload      telemetry.Payload      `json:"payload"`
}

// PayloadText renders the payload for the status page.
func (v robotView) PayloadText() string {
	if len(v.Payload) == 0 {
		return ""
	}
	data, err := json.Marshal(v.Payload)
	if err != nil {
		return err.Error()
	}
	return string(data)
}

func newRobotView(rec telemetry.Record) robotView {
	v := robotView{
		Index:        rec.Identity.Index,
		Name:         rec.Identity.CanonicalName,
		Alias:        rec.Identity.TransportAlias,
		Connectivity: rec.Connectivity,
		Payload:      rec.Payload,
	}
	if rec.Seen() {
		t := rec.LastSeenAt.UTC()
		v.LastSeenAt = &t
	}
	return v
}

func (s *Server) robotViews() []robotView {
	recs := s.coord.GetAllSnapshots()
	out := make([]robotView, len(recs))
	for i, rec := range recs {
		out[i] = newRobotView(rec)
	}
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		BrokerConnected bool
		Robots          []robotView
	}{
		BrokerConnected: s.coord.ConnectionStatus(),
		Robots:          s.robotViews(),
	}
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render index", "err", err)
	}
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.robotViews())
}

func (s *Server) handleRobot(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "robot index must be an integer")
		return
	}
	rec, err := s.coord.GetSnapshot(index)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRobotView(rec))
}

type statusView struct {
	BrokerConnected bool           `json:"broker_connected"`
	Robots          int            `json:"robots"`
	Connectivity    map[string]int `json:"connectivity"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := statusView{
		BrokerConnected: s.coord.ConnectionStatus(),
		Connectivity: map[string]int{
			telemetry.Connected.String():    0,
			telemetry.Stale.String():        0,
			telemetry.Disconnected.String(): 0,
		},
	}
	for _, rec := range s.coord.GetAllSnapshots() {
		st.Robots++
		st.Connectivity[rec.Connectivity.String()]++
	}
	writeJSON(w, http.StatusOK, st)
}

// target selects the robots a command goes to. Robots, when set, addresses
// each listed robot individually and takes precedence over Robot.
type target struct {
	Broadcast bool  `json:"broadcast"`
	Robot     *int  `json:"robot"`
	Robots    []int `json:"robots"`
}

var errNoTarget = errors.New("one of broadcast, robot or robots is required")

func (t target) validate() error {
	if !t.Broadcast && t.Robot == nil && len(t.Robots) == 0 {
		return errNoTarget
	}
	return nil
}

// selected is only meaningful after validate when neither Broadcast nor
// Robots is set.
func (t target) selected() int {
	if t.Robot == nil {
		return 0
	}
	return *t.Robot
}

type manualRequest struct {
	target
	command.ManualIntent
}

type stateRequest struct {
	target
	Mode   command.Mode             `json:"mode"`
	Fields map[string]command.Param `json:"fields"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		res command.Result
		err error
	)
	if len(req.Robots) > 0 && !req.Broadcast {
		res, err = s.coord.SubmitManualTo(r.Context(), req.ManualIntent, req.Robots)
	} else {
		res, err = s.coord.SubmitManual(r.Context(), req.ManualIntent, req.Broadcast, req.selected())
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in := command.StateIntent{Mode: req.Mode, Fields: req.Fields}
	var (
		res command.Result
		err error
	)
	if len(req.Robots) > 0 && !req.Broadcast {
		res, err = s.coord.SubmitStateUpdateTo(r.Context(), in, req.Robots)
	} else {
		res, err = s.coord.SubmitStateUpdate(r.Context(), in, req.Broadcast, req.selected())
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, command.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fleet.ErrOutOfRange):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("admin request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
