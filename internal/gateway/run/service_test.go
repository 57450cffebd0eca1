package run

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repoaudit/internal/pipeline"
	"repoaudit/internal/repo"
	"repoaudit/internal/stats"
	"repoaudit/internal/trace"
	"repoaudit/internal/types"
)

type stubStats struct {
	calls int
	err   error
}

func (s *stubStats) Estimate(_ context.Context, ref repo.Reference) (types.AuditStats, error) {
	s.calls++
	if s.err != nil {
		return types.AuditStats{}, s.err
	}
	return types.AuditStats{FileCountEstimate: 10, TokenVolumeLabel: "12.8k", DominantLanguage: "Go", DominantLanguagePercent: 90}, nil
}

type pipelineFunc func(ctx context.Context, ref repo.Reference, st types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error)

func (f pipelineFunc) Run(ctx context.Context, ref repo.Reference, st types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error) {
	return f(ctx, ref, st, emit)
}

func completing(release <-chan struct{}) pipelineFunc {
	return func(_ context.Context, ref repo.Reference, st types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error) {
		emit.Emit(pipeline.Event{Seq: 1, State: pipeline.StateInitializing, Percent: 10, LogLine: "start"})
		if release != nil {
			<-release
		}
		emit.Emit(pipeline.Event{Seq: 2, State: pipeline.StateComplete, Percent: 100, LogLine: "done"})
		return types.RepoReport{RepoName: ref.String(), Stats: st, HealthScore: 80, Summary: "ok"}, nil
	}
}

func waitDone(t *testing.T, r *Run) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	from := 0
	for {
		evs, done, err := r.Wait(ctx, from)
		require.NoError(t, err)
		from += len(evs)
		if done {
			return r.Snapshot()
		}
	}
}

func TestStartEstimatesStatsWhenMissing(t *testing.T) {
	st := &stubStats{}
	svc := New(st, completing(nil), nil, nil, Options{}, nil)

	r, err := svc.Start(context.Background(), "https://github.com/acme/widgets", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, st.calls)

	snap := waitDone(t, r)
	require.NotNil(t, snap.Report)
	assert.Equal(t, "acme/widgets", snap.Report.RepoName)
	assert.Equal(t, "Go", snap.Report.Stats.DominantLanguage)
	assert.Len(t, snap.Events, 2)
	assert.Empty(t, snap.Error)

	got, err := svc.Get(r.ID)
	require.NoError(t, err)
	assert.Same(t, r, got)
}

func TestStartUsesSuppliedStats(t *testing.T) {
	st := &stubStats{}
	svc := New(st, completing(nil), nil, nil, Options{}, nil)
	supplied := types.AuditStats{DominantLanguage: "Rust"}

	r, err := svc.Start(context.Background(), "acme/widgets", &supplied)
	require.NoError(t, err)
	assert.Zero(t, st.calls)
	snap := waitDone(t, r)
	assert.Equal(t, "Rust", snap.Report.Stats.DominantLanguage)
}

func TestStartRejectsBadInput(t *testing.T) {
	svc := New(&stubStats{}, completing(nil), nil, nil, Options{}, nil)
	_, err := svc.Start(context.Background(), "not a repo", nil)
	assert.ErrorIs(t, err, repo.ErrInvalidReference)

	svc = New(&stubStats{err: stats.ErrRateLimited}, completing(nil), nil, nil, Options{}, nil)
	_, err = svc.Start(context.Background(), "acme/widgets", nil)
	assert.ErrorIs(t, err, stats.ErrRateLimited)
}

func TestPreview(t *testing.T) {
	svc := New(&stubStats{}, completing(nil), nil, nil, Options{}, nil)
	ref, st, err := svc.Preview(context.Background(), "git@github.com:acme/widgets.git")
	require.NoError(t, err)
	assert.Equal(t, repo.Reference{Owner: "acme", Name: "widgets"}, ref)
	assert.Equal(t, "12.8k", st.TokenVolumeLabel)
}

func TestGetUnknownRun(t *testing.T) {
	svc := New(&stubStats{}, completing(nil), nil, nil, Options{}, nil)
	_, err := svc.Get("run-missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestWatchersReplayAndFollow(t *testing.T) {
	release := make(chan struct{})
	svc := New(&stubStats{}, completing(release), nil, nil, Options{}, nil)
	r, err := svc.Start(context.Background(), "acme/widgets", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	first, done, err := r.Wait(ctx, 0)
	require.NoError(t, err)
	assert.False(t, done)
	require.Len(t, first, 1)

	_, ok, _ := r.Result()
	assert.False(t, ok)

	close(release)
	late := waitDone(t, r)
	assert.Len(t, late.Events, 2)

	rep, ok, err := r.Result()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 80, rep.HealthScore)
}

func TestWaitHonoursContext(t *testing.T) {
	r := newRun("run-1", repo.Reference{Owner: "a", Name: "b"}, types.AuditStats{}, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := r.Wait(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFailedRunRecordsErrorAndTrace(t *testing.T) {
	traces := trace.NewLogger(t.TempDir())
	arch := &memArchive{}
	boom := errors.New("boom")
	p := pipelineFunc(func(_ context.Context, _ repo.Reference, _ types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error) {
		emit.Emit(pipeline.Event{Seq: 1, State: pipeline.StateFailed, LogLine: "[Error] Audit Failed: boom"})
		return types.RepoReport{}, boom
	})
	svc := New(&stubStats{}, p, traces, arch, Options{}, nil)

	r, err := svc.Start(context.Background(), "acme/widgets", nil)
	require.NoError(t, err)
	snap := waitDone(t, r)
	assert.Equal(t, "boom", snap.Error)
	assert.Nil(t, snap.Report)

	require.NoError(t, svc.Shutdown(context.Background()))
	events, err := traces.Read(r.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "outcome", events[1].Stage)
	assert.Equal(t, false, events[1].Fields["ok"])
	assert.NotEmpty(t, arch.data[r.ID])
}

func TestShutdownCancelsRuns(t *testing.T) {
	p := pipelineFunc(func(ctx context.Context, _ repo.Reference, _ types.AuditStats, _ pipeline.Emitter) (types.RepoReport, error) {
		<-ctx.Done()
		return types.RepoReport{}, ctx.Err()
	})
	svc := New(&stubStats{}, p, nil, nil, Options{}, nil)
	r, err := svc.Start(context.Background(), "acme/widgets", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	_, done, err := r.Result()
	assert.True(t, done)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistryExpires(t *testing.T) {
	g := NewRegistry(2, 50*time.Millisecond)
	for _, id := range []string{"a", "b", "c"} {
		g.Put(newRun(id, repo.Reference{}, types.AuditStats{}, time.Now()))
	}
	_, ok := g.Get("a")
	assert.False(t, ok, "oldest run is evicted past the cap")
	_, ok = g.Get(" c ")
	assert.True(t, ok)

	assert.Eventually(t, func() bool { return g.Len() == 0 }, time.Second, 20*time.Millisecond)
}

type memArchive struct{ data map[string][]byte }

func (m *memArchive) Put(_ context.Context, runID string, data []byte) error {
	if m.data == nil {
		m.data = map[string][]byte{}
	}
	m.data[runID] = append([]byte(nil), data...)
	return nil
}

func (m *memArchive) Get(_ context.Context, runID string) ([]byte, error) {
	d, ok := m.data[runID]
	if !ok {
		return nil, trace.ErrNotArchived
	}
	return d, nil
}
