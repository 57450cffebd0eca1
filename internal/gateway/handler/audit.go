package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"go.uber.org/zap"

	"repoaudit/internal/gateway/run"
)

const (
	AuditServiceName    = "repoaudit.v1.AuditService"
	PreviewProcedure    = "/" + AuditServiceName + "/Preview"
	StartAuditProcedure = "/" + AuditServiceName + "/StartAudit"
	GetAuditProcedure   = "/" + AuditServiceName + "/GetAudit"
	WatchAuditProcedure = "/" + AuditServiceName + "/WatchAudit"
)

// AuditHandler serves the audit RPCs over Connect.
type AuditHandler struct {
	svc *run.Service
	log *zap.Logger
}

func NewAuditHandler(svc *run.Service, logger *zap.Logger) *AuditHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditHandler{svc: svc, log: logger}
}

// Register mounts every procedure on mux.
func (h *AuditHandler) Register(mux *http.ServeMux) {
	opts := []connect.HandlerOption{connect.WithCodec(jsonCodec{})}
	mux.Handle(PreviewProcedure, connect.NewUnaryHandler(PreviewProcedure, h.Preview, opts...))
	mux.Handle(StartAuditProcedure, connect.NewUnaryHandler(StartAuditProcedure, h.StartAudit, opts...))
	mux.Handle(GetAuditProcedure, connect.NewUnaryHandler(GetAuditProcedure, h.GetAudit, opts...))
	mux.Handle(WatchAuditProcedure, connect.NewServerStreamHandler(WatchAuditProcedure, h.WatchAudit, opts...))
}

func (h *AuditHandler) Preview(ctx context.Context, req *connect.Request[PreviewRequest]) (*connect.Response[PreviewResponse], error) {
	ref, st, err := h.svc.Preview(ctx, req.Msg.Repo)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(previewResponse(ref, st)), nil
}

func (h *AuditHandler) StartAudit(ctx context.Context, req *connect.Request[StartAuditRequest]) (*connect.Response[StartAuditResponse], error) {
	r, err := h.svc.Start(ctx, req.Msg.Repo, req.Msg.Stats)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(&StartAuditResponse{RunID: r.ID, Repo: r.Ref.String()}), nil
}

func (h *AuditHandler) GetAudit(_ context.Context, req *connect.Request[GetAuditRequest]) (*connect.Response[AuditSnapshot], error) {
	runID := strings.TrimSpace(req.Msg.RunID)
	if runID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("runId is required"))
	}
	r, err := h.svc.Get(runID)
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(snapshotResponse(r.Snapshot())), nil
}

// WatchAudit replays the run's events from the start, follows new ones and
// ends with a terminal message.
func (h *AuditHandler) WatchAudit(ctx context.Context, req *connect.Request[WatchAuditRequest], stream *connect.ServerStream[WatchAuditResponse]) error {
	runID := strings.TrimSpace(req.Msg.RunID)
	if runID == "" {
		return connect.NewError(connect.CodeInvalidArgument, errors.New("runId is required"))
	}
	r, err := h.svc.Get(runID)
	if err != nil {
		return connectError(err)
	}

	from := 0
	for {
		evs, done, err := r.Wait(ctx, from)
		if err != nil {
			return connectError(err)
		}
		for i := range evs {
			if err := stream.Send(&WatchAuditResponse{Event: &evs[i]}); err != nil {
				h.log.Debug("watch stream closed", zap.String("run_id", runID), zap.Error(err))
				return err
			}
		}
		from += len(evs)
		if done {
			return stream.Send(terminalResponse(r.Snapshot()))
		}
	}
}
