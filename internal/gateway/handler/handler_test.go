package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoaudit/internal/gateway/run"
	"repoaudit/internal/pipeline"
	"repoaudit/internal/repo"
	"repoaudit/internal/stats"
	"repoaudit/internal/trace"
	"repoaudit/internal/types"
)

type stubStats struct{ err error }

func (s stubStats) Estimate(context.Context, repo.Reference) (types.AuditStats, error) {
	if s.err != nil {
		return types.AuditStats{}, s.err
	}
	return types.AuditStats{FileCountEstimate: 20, TokenVolumeLabel: "25.6k", DominantLanguage: "TypeScript", DominantLanguagePercent: 75}, nil
}

type pipelineFunc func(ctx context.Context, ref repo.Reference, st types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error)

func (f pipelineFunc) Run(ctx context.Context, ref repo.Reference, st types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error) {
	return f(ctx, ref, st, emit)
}

func scripted(release <-chan struct{}) pipelineFunc {
	return func(_ context.Context, ref repo.Reference, st types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error) {
		emit.Emit(pipeline.Event{Seq: 1, State: pipeline.StateInitializing, Percent: 10, LogLine: "[System] Initializing audit for " + ref.String() + "..."})
		if release != nil {
			<-release
		}
		emit.Emit(pipeline.Event{Seq: 2, State: pipeline.StateAuditing, Percent: 40, LogLine: "auditing"})
		emit.Emit(pipeline.Event{Seq: 3, State: pipeline.StateComplete, Percent: 100, LogLine: "[Success] Report generated. Health score: 72/100"})
		return types.RepoReport{RepoName: ref.String(), Stats: st, HealthScore: 72, Summary: "fine", Issues: []types.Issue{}}, nil
	}
}

type fixture struct {
	svc *run.Service
	srv *httptest.Server
}

func newFixture(t *testing.T, st stats.Provider, p run.Pipeline, traces *trace.Logger, arch trace.Archiver) *fixture {
	t.Helper()
	svc := run.New(st, p, traces, arch, run.Options{}, nil)
	mux := http.NewServeMux()
	NewAuditHandler(svc, nil).Register(mux)
	mux.HandleFunc("/ws/audit", NewWatchHandler(svc, nil).HandleWatchWS)
	th := NewTraceHandler(svc, nil)
	mux.HandleFunc("/debug/run-logs", th.HandleRunLogs)
	mux.HandleFunc("/debug/frontend-trace", th.HandleFrontendTrace)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Shutdown(context.Background())
	})
	return &fixture{svc: svc, srv: srv}
}

func unaryClient[Req, Res any](f *fixture, procedure string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](f.srv.Client(), f.srv.URL+procedure, connect.WithCodec(jsonCodec{}))
}

func TestPreview(t *testing.T) {
	f := newFixture(t, stubStats{}, scripted(nil), nil, nil)
	client := unaryClient[PreviewRequest, PreviewResponse](f, PreviewProcedure)

	res, err := client.CallUnary(context.Background(), connect.NewRequest(&PreviewRequest{Repo: "https://github.com/acme/widgets"}))
	require.NoError(t, err)
	assert.Equal(t, "acme", res.Msg.Owner)
	assert.Equal(t, "widgets", res.Msg.Name)
	assert.Equal(t, "TypeScript", res.Msg.Stats.DominantLanguage)
}

func TestPreviewErrorCodes(t *testing.T) {
	cases := []struct {
		name string
		repo string
		err  error
		want connect.Code
	}{
		{name: "invalid reference", repo: "nope", want: connect.CodeInvalidArgument},
		{name: "rate limited", repo: "acme/widgets", err: stats.ErrRateLimited, want: connect.CodeResourceExhausted},
		{name: "not found", repo: "acme/widgets", err: stats.ErrRepoNotFound, want: connect.CodeNotFound},
		{name: "metadata", repo: "acme/widgets", err: stats.ErrMetadataFetch, want: connect.CodeUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, stubStats{err: tc.err}, scripted(nil), nil, nil)
			client := unaryClient[PreviewRequest, PreviewResponse](f, PreviewProcedure)
			_, err := client.CallUnary(context.Background(), connect.NewRequest(&PreviewRequest{Repo: tc.repo}))
			require.Error(t, err)
			assert.Equal(t, tc.want, connect.CodeOf(err))
		})
	}
}

func TestStartAndGetAudit(t *testing.T) {
	f := newFixture(t, stubStats{}, scripted(nil), nil, nil)
	start := unaryClient[StartAuditRequest, StartAuditResponse](f, StartAuditProcedure)
	get := unaryClient[GetAuditRequest, AuditSnapshot](f, GetAuditProcedure)

	res, err := start.CallUnary(context.Background(), connect.NewRequest(&StartAuditRequest{Repo: "acme/widgets"}))
	require.NoError(t, err)
	require.NotEmpty(t, res.Msg.RunID)
	assert.Equal(t, "acme/widgets", res.Msg.Repo)

	var snap *AuditSnapshot
	require.Eventually(t, func() bool {
		out, err := get.CallUnary(context.Background(), connect.NewRequest(&GetAuditRequest{RunID: res.Msg.RunID}))
		if err != nil {
			return false
		}
		snap = out.Msg
		return snap.Done
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 100, snap.Percent)
	assert.Equal(t, pipeline.StateComplete, snap.State)
	assert.Len(t, snap.Logs, 3)
	require.NotNil(t, snap.Report)
	assert.Equal(t, 72, snap.Report.HealthScore)

	_, err = get.CallUnary(context.Background(), connect.NewRequest(&GetAuditRequest{RunID: "run-unknown"}))
	assert.Equal(t, connect.CodeNotFound, connect.CodeOf(err))
	_, err = get.CallUnary(context.Background(), connect.NewRequest(&GetAuditRequest{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestWatchAuditReplaysAndFollows(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, stubStats{}, scripted(release), nil, nil)
	r, err := f.svc.Start(context.Background(), "acme/widgets", nil)
	require.NoError(t, err)

	client := unaryClient[WatchAuditRequest, WatchAuditResponse](f, WatchAuditProcedure)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	stream, err := client.CallServerStream(ctx, connect.NewRequest(&WatchAuditRequest{RunID: r.ID}))
	require.NoError(t, err)
	defer stream.Close()

	require.True(t, stream.Receive())
	require.NotNil(t, stream.Msg().Event)
	assert.Equal(t, pipeline.StateInitializing, stream.Msg().Event.State)
	close(release)

	var states []pipeline.State
	var final *WatchAuditResponse
	for stream.Receive() {
		msg := stream.Msg()
		if msg.Done {
			final = msg
			continue
		}
		states = append(states, msg.Event.State)
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []pipeline.State{pipeline.StateAuditing, pipeline.StateComplete}, states)
	require.NotNil(t, final)
	require.NotNil(t, final.Report)
	assert.Equal(t, "acme/widgets", final.Report.RepoName)
	assert.Empty(t, final.Error)
}

func TestWatchWebSocket(t *testing.T) {
	f := newFixture(t, stubStats{}, scripted(nil), nil, nil)
	r, err := f.svc.Start(context.Background(), "acme/widgets", nil)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/audit?run_id=" + r.ID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var kinds []string
	var complete watchWSOutbound
	for {
		var msg watchWSOutbound
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		kinds = append(kinds, msg.Type)
		if msg.Type == "complete" {
			complete = msg
		}
	}
	assert.Equal(t, []string{"subscribed", "event", "event", "event", "complete"}, kinds)
	require.NotNil(t, complete.Payload)
	require.NotNil(t, complete.Payload.Report)
	assert.Equal(t, 72, complete.Payload.Report.HealthScore)
}

func TestWatchWebSocketRequiresKnownRun(t *testing.T) {
	f := newFixture(t, stubStats{}, scripted(nil), nil, nil)

	res, err := http.Get(f.srv.URL + "/ws/audit")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, err = http.Get(f.srv.URL + "/ws/audit?run_id=run-missing")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

type runLogs struct {
	RunID  string        `json:"run_id"`
	Source string        `json:"source"`
	URL    string        `json:"download_url"`
	Events []trace.Event `json:"events"`
}

func getRunLogs(t *testing.T, f *fixture, runID string) runLogs {
	t.Helper()
	res, err := http.Get(f.srv.URL + "/debug/run-logs?run_id=" + runID)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	var out runLogs
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestRunLogsLocalAndArchive(t *testing.T) {
	traces := trace.NewLogger(t.TempDir())
	arch := &memArchive{objects: map[string][]byte{
		"run-archived": []byte(`{"run_id":"run-archived","source":"pipeline","stage":"Complete"}` + "\n"),
	}}
	f := newFixture(t, stubStats{}, scripted(nil), traces, arch)

	r, err := f.svc.Start(context.Background(), "acme/widgets", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Shutdown(context.Background()))

	local := getRunLogs(t, f, r.ID)
	assert.Equal(t, "local", local.Source)
	require.Len(t, local.Events, 4)
	assert.Equal(t, "outcome", local.Events[3].Stage)
	assert.Equal(t, float64(0), local.Events[3].Fields["critical"])
	assert.Equal(t, float64(0), local.Events[3].Fields["info"])

	archived := getRunLogs(t, f, "run-archived")
	assert.Equal(t, "archive", archived.Source)
	require.Len(t, archived.Events, 1)
	assert.Equal(t, "Complete", archived.Events[0].Stage)
	assert.Equal(t, "mem://run-archived/trace.jsonl", archived.URL)
	assert.Empty(t, local.URL)

	missing := getRunLogs(t, f, "run-nowhere")
	assert.Empty(t, missing.Events)
}

func TestFrontendTrace(t *testing.T) {
	traces := trace.NewLogger(t.TempDir())
	f := newFixture(t, stubStats{}, scripted(nil), traces, nil)

	body := `{"run_id":"run-ui","stage":"render","level":"info","fields":{"ms":12}}`
	res, err := http.Post(f.srv.URL+"/debug/frontend-trace", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	events, err := traces.Read("run-ui")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "frontend", events[0].Source)
	assert.Equal(t, "info", events[0].Fields["level"])

	res, err = http.Post(f.srv.URL+"/debug/frontend-trace", "application/json", bytes.NewBufferString(`{"run_id":""}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

type memArchive struct{ objects map[string][]byte }

func (m *memArchive) Put(_ context.Context, runID string, data []byte) error {
	m.objects[runID] = append([]byte(nil), data...)
	return nil
}

func (m *memArchive) Get(_ context.Context, runID string) ([]byte, error) {
	b, ok := m.objects[runID]
	if !ok {
		return nil, trace.ErrNotArchived
	}
	return b, nil
}

func (m *memArchive) URL(_ context.Context, runID string) (string, error) {
	return "mem://" + runID + "/trace.jsonl", nil
}
