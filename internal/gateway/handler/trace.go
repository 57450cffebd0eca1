package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"repoaudit/internal/gateway/run"
	"repoaudit/internal/trace"
)

type TraceHandler struct {
	svc *run.Service
	log *zap.Logger
}

func NewTraceHandler(svc *run.Service, logger *zap.Logger) *TraceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TraceHandler{svc: svc, log: logger}
}

func (h *TraceHandler) HandleFrontendTrace(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	traces := h.svc.Traces()
	if traces == nil {
		http.Error(w, "tracing is disabled", http.StatusServiceUnavailable)
		return
	}
	var in struct {
		Timestamp string         `json:"timestamp"`
		RunID     string         `json:"run_id"`
		Stage     string         `json:"stage"`
		Level     string         `json:"level"`
		Fields    map[string]any `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	runID := strings.TrimSpace(in.RunID)
	stage := strings.TrimSpace(in.Stage)
	if runID == "" || stage == "" {
		http.Error(w, "run_id and stage are required", http.StatusBadRequest)
		return
	}
	fields := map[string]any{}
	for k, v := range in.Fields {
		fields[k] = v
	}
	if lvl := strings.TrimSpace(in.Level); lvl != "" {
		fields["level"] = lvl
	}
	if ts := strings.TrimSpace(in.Timestamp); ts != "" {
		fields["frontend_timestamp"] = ts
	}
	traces.Append(runID, "frontend", stage, fields)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok": true,
	})
}

// HandleRunLogs returns a run's trace, reading the archive when the local
// file is gone.
func (h *TraceHandler) HandleRunLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	if runID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	var events []trace.Event
	if traces := h.svc.Traces(); traces != nil {
		local, err := traces.Read(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		events = local
	}
	source := "local"
	downloadURL := ""
	if archive := h.svc.Archive(); len(events) == 0 && archive != nil {
		raw, err := archive.Get(r.Context(), runID)
		switch {
		case errors.Is(err, trace.ErrNotArchived):
		case err != nil:
			h.log.Warn("trace archive read failed", zap.String("run_id", runID), zap.Error(err))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		default:
			archived, perr := trace.Parse(raw)
			if perr != nil {
				http.Error(w, perr.Error(), http.StatusInternalServerError)
				return
			}
			events, source = archived, "archive"
			if l, ok := archive.(trace.Linker); ok {
				if u, uerr := l.URL(r.Context(), runID); uerr == nil {
					downloadURL = u
				}
			}
		}
	}
	if events == nil {
		events = []trace.Event{}
	}

	w.Header().Set("Content-Type", "application/json")
	out := map[string]any{
		"run_id": runID,
		"source": source,
		"events": events,
	}
	if downloadURL != "" {
		out["download_url"] = downloadURL
	}
	_ = json.NewEncoder(w).Encode(out)
}
