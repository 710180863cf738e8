package daemon

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"quacwatch/internal/jobs"
	"quacwatch/internal/logging"
	"quacwatch/internal/metrics"
)

// JobView is the API rendering of one job directory.
type JobView struct {
	Key       string    `json:"key"`
	State     string    `json:"state"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	Source    string    `json:"source,omitempty"`
	Target    string    `json:"target,omitempty"`
	ExitCode  string    `json:"exit_code,omitempty"`
	Marker    []string  `json:"marker,omitempty"`
}

// JobListResponse wraps GET /api/jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

type apiServer struct {
	logger *slog.Logger
	daemon *Daemon
}

// registerAPI mounts the read-only status routes on the metrics server.
func registerAPI(server *metrics.Server, d *Daemon, logger *slog.Logger) {
	if server == nil || d == nil {
		return
	}
	srv := &apiServer{logger: logger, daemon: d}
	server.Handle("/api/status", http.HandlerFunc(srv.handleStatus))
	server.Handle("/api/jobs", http.HandlerFunc(srv.handleJobs))
	server.Handle("/api/jobs/", http.HandlerFunc(srv.handleJob))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var states []jobs.State
	for _, value := range r.URL.Query()["state"] {
		state, ok := jobs.ParseState(strings.TrimSpace(value))
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown state "+value)
			return
		}
		states = append(states, state)
	}

	cfg := s.daemon.cfg
	summaries, err := jobs.List(cfg.Paths.JobsDir, cfg.Pipeline.ParamsFileName)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]JobView, 0, len(summaries))
	for _, summary := range summaries {
		if len(states) > 0 && !containsState(states, summary.State) {
			continue
		}
		views = append(views, toJobView(summary, false))
	}
	s.writeJSON(w, http.StatusOK, JobListResponse{Jobs: views})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if key == "" || strings.Contains(key, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if !jobs.ValidKey(key) {
		s.writeError(w, http.StatusBadRequest, "invalid job key")
		return
	}
	cfg := s.daemon.cfg
	summary, err := jobs.Inspect(jobs.NewLayout(cfg.Paths.JobsDir, key, cfg.Pipeline.ParamsFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toJobView(summary, true))
}

func toJobView(summary jobs.Summary, withMarker bool) JobView {
	view := JobView{
		Key:       summary.Layout.Key,
		State:     string(summary.State),
		UpdatedAt: summary.UpdatedAt,
	}
	if summary.Metadata != nil {
		view.Source = summary.Metadata.Source.Path
		view.Target = summary.Metadata.Target.ID
	}
	if code, ok := summary.ExitCode(); ok {
		view.ExitCode = code
	}
	if withMarker {
		for _, field := range summary.Fields {
			view.Marker = append(view.Marker, field.Key+"="+field.Value)
		}
	}
	return view
}

func containsState(states []jobs.State, state jobs.State) bool {
	for _, candidate := range states {
		if candidate == state {
			return true
		}
	}
	return false
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
