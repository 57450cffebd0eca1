package run

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"repoaudit/internal/llm"
	"repoaudit/internal/pipeline"
	"repoaudit/internal/repo"
	"repoaudit/internal/stats"
	"repoaudit/internal/trace"
	"repoaudit/internal/types"
)

// ErrRunNotFound is returned for unknown or expired run IDs.
var ErrRunNotFound = errors.New("run not found")

// Pipeline executes one audit run.
type Pipeline interface {
	Run(ctx context.Context, ref repo.Reference, stats types.AuditStats, emit pipeline.Emitter) (types.RepoReport, error)
}

type Options struct {
	MaxRuns   int
	Retention time.Duration
}

// Service owns the run registry and launches pipeline runs in the background.
type Service struct {
	stats    stats.Provider
	pipeline Pipeline
	traces   *trace.Logger
	archive  trace.Archiver
	runs     *Registry
	log      *zap.Logger

	seq    atomic.Uint64
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a run service. traces and archive may be nil.
func New(st stats.Provider, p Pipeline, traces *trace.Logger, archive trace.Archiver, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		stats:    st,
		pipeline: p,
		traces:   traces,
		archive:  archive,
		runs:     NewRegistry(opts.MaxRuns, opts.Retention),
		log:      logger,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Traces returns the trace logger (may be nil).
func (s *Service) Traces() *trace.Logger { return s.traces }

// Archive returns the trace archive (may be nil).
func (s *Service) Archive() trace.Archiver { return s.archive }

// Preview parses raw and estimates stats without touching the file tree.
func (s *Service) Preview(ctx context.Context, raw string) (repo.Reference, types.AuditStats, error) {
	ref, err := repo.Parse(raw)
	if err != nil {
		return repo.Reference{}, types.AuditStats{}, err
	}
	st, err := s.stats.Estimate(ctx, ref)
	if err != nil {
		return ref, types.AuditStats{}, err
	}
	return ref, st, nil
}

// Start parses raw and launches a run. Stats are estimated when nil.
func (s *Service) Start(ctx context.Context, raw string, st *types.AuditStats) (*Run, error) {
	ref, err := repo.Parse(raw)
	if err != nil {
		return nil, err
	}
	var runStats types.AuditStats
	if st != nil {
		runStats = *st
	} else if runStats, err = s.stats.Estimate(ctx, ref); err != nil {
		return nil, err
	}

	now := s.now()
	r := newRun(fmt.Sprintf("run-%d-%d", now.UnixNano(), s.seq.Add(1)), ref, runStats, now)
	s.runs.Put(r)
	s.log.Info("audit run started", zap.String("run_id", r.ID), zap.String("repo", ref.String()))

	s.wg.Add(1)
	go s.execute(r)
	return r, nil
}

func (s *Service) execute(r *Run) {
	defer s.wg.Done()

	emit := pipeline.MultiEmitter{r}
	ctx := s.ctx
	if s.traces != nil {
		emit = append(emit, trace.RunEmitter{Logger: s.traces, RunID: r.ID})
		ctx = llm.WithHook(ctx, trace.ModelHook{Logger: s.traces, RunID: r.ID})
	}

	rep, err := s.pipeline.Run(ctx, r.Ref, r.Stats, emit)
	r.finish(rep, err)

	log := s.log.With(zap.String("run_id", r.ID), zap.Duration("elapsed", s.now().Sub(r.StartedAt)))
	if err != nil {
		log.Warn("audit run failed", zap.Error(err))
	} else {
		log.Info("audit run finished", zap.Int("health_score", rep.HealthScore), zap.Int("issues", len(rep.Issues)))
	}

	if s.traces == nil {
		return
	}
	fields := map[string]any{"ok": err == nil}
	if err != nil {
		fields["error"] = err.Error()
	} else {
		fields["health_score"] = rep.HealthScore
		fields["issues"] = len(rep.Issues)
		counts := rep.CountBySeverity()
		for _, sev := range types.Severities {
			fields[strings.ToLower(string(sev))] = counts[sev]
		}
	}
	s.traces.Append(r.ID, trace.SourcePipeline, "outcome", fields)

	if s.archive != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if ferr := trace.Flush(flushCtx, s.traces, s.archive, r.ID); ferr != nil {
			log.Warn("trace archive failed", zap.Error(ferr))
		}
	}
}

// Get returns a live run.
func (s *Service) Get(id string) (*Run, error) {
	r, ok := s.runs.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r, nil
}

// Shutdown cancels in-flight runs and waits for them to record their outcome.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
