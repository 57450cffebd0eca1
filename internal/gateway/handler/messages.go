package handler

import (
	"repoaudit/internal/gateway/run"
	"repoaudit/internal/pipeline"
	"repoaudit/internal/repo"
	"repoaudit/internal/types"
)

type PreviewRequest struct {
	Repo string `json:"repo"`
}

type PreviewResponse struct {
	Owner string           `json:"owner"`
	Name  string           `json:"name"`
	Stats types.AuditStats `json:"stats"`
}

type StartAuditRequest struct {
	Repo  string            `json:"repo"`
	Stats *types.AuditStats `json:"stats,omitempty"`
}

type StartAuditResponse struct {
	RunID string `json:"runId"`
	Repo  string `json:"repo"`
}

type GetAuditRequest struct {
	RunID string `json:"runId"`
}

type WatchAuditRequest struct {
	RunID string `json:"runId"`
}

// AuditSnapshot is the client view of a run: its log, progress and outcome.
type AuditSnapshot struct {
	RunID   string            `json:"runId"`
	Repo    string            `json:"repo"`
	Logs    []string          `json:"logs"`
	Percent int               `json:"percent"`
	State   pipeline.State    `json:"state"`
	Done    bool              `json:"done"`
	Report  *types.RepoReport `json:"report,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// WatchAuditResponse carries one progress event, or the terminal outcome
// when Done is set.
type WatchAuditResponse struct {
	Event  *pipeline.Event   `json:"event,omitempty"`
	Done   bool              `json:"done,omitempty"`
	Report *types.RepoReport `json:"report,omitempty"`
	Error  string            `json:"error,omitempty"`
}

func previewResponse(ref repo.Reference, st types.AuditStats) *PreviewResponse {
	return &PreviewResponse{Owner: ref.Owner, Name: ref.Name, Stats: st}
}

func snapshotResponse(s run.Snapshot) *AuditSnapshot {
	out := &AuditSnapshot{
		RunID:  s.ID,
		Repo:   s.Repo,
		Logs:   make([]string, 0, len(s.Events)),
		State:  pipeline.StateIdle,
		Done:   s.Done,
		Report: s.Report,
		Error:  s.Error,
	}
	for _, ev := range s.Events {
		out.Logs = append(out.Logs, ev.LogLine)
		out.Percent = ev.Percent
		out.State = ev.State
	}
	return out
}

func terminalResponse(s run.Snapshot) *WatchAuditResponse {
	return &WatchAuditResponse{Done: true, Report: s.Report, Error: s.Error}
}
