package run

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"repoaudit/internal/pipeline"
	"repoaudit/internal/repo"
	"repoaudit/internal/types"
)

const (
	defaultRetention = 10 * time.Minute
	defaultMaxRuns   = 256
)

// Run is the replayable record of one audit. Events are appended by the
// pipeline goroutine and read by any number of watchers.
type Run struct {
	ID        string
	Ref       repo.Reference
	Stats     types.AuditStats
	StartedAt time.Time

	mu      sync.Mutex
	events  []pipeline.Event
	report  *types.RepoReport
	err     error
	done    bool
	changed chan struct{}
}

func newRun(id string, ref repo.Reference, stats types.AuditStats, now time.Time) *Run {
	return &Run{ID: id, Ref: ref, Stats: stats, StartedAt: now, changed: make(chan struct{})}
}

// Snapshot is a consistent copy of a run's state.
type Snapshot struct {
	ID     string            `json:"runId"`
	Repo   string            `json:"repo"`
	Events []pipeline.Event  `json:"events"`
	Report *types.RepoReport `json:"report,omitempty"`
	Error  string            `json:"error,omitempty"`
	Done   bool              `json:"done"`
}

// Emit records ev and wakes watchers.
func (r *Run) Emit(ev pipeline.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.notifyLocked()
	r.mu.Unlock()
}

func (r *Run) finish(rep types.RepoReport, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	if err != nil {
		r.err = err
	} else {
		c := rep.Clone()
		r.report = &c
	}
	r.done = true
	r.notifyLocked()
}

func (r *Run) notifyLocked() {
	close(r.changed)
	r.changed = make(chan struct{})
}

// Snapshot copies the current state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		ID:     r.ID,
		Repo:   r.Ref.String(),
		Events: append([]pipeline.Event(nil), r.events...),
		Done:   r.done,
	}
	if r.report != nil {
		c := r.report.Clone()
		s.Report = &c
	}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	return s
}

// Result returns the report or the failure once the run is done.
func (r *Run) Result() (types.RepoReport, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		return types.RepoReport{}, false, nil
	}
	if r.err != nil {
		return types.RepoReport{}, true, r.err
	}
	return r.report.Clone(), true, nil
}

// Wait blocks until there are events past index from or the run is done, and
// returns those events with the done flag.
func (r *Run) Wait(ctx context.Context, from int) ([]pipeline.Event, bool, error) {
	if from < 0 {
		from = 0
	}
	for {
		r.mu.Lock()
		if len(r.events) > from || r.done {
			var evs []pipeline.Event
			if len(r.events) > from {
				evs = append(evs, r.events[from:]...)
			}
			done := r.done
			r.mu.Unlock()
			return evs, done, nil
		}
		ch := r.changed
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-ch:
		}
	}
}

// Registry keeps recent runs for replay. Entries expire after the retention
// window and the oldest are evicted past the size cap.
type Registry struct {
	runs *expirable.LRU[string, *Run]
}

func NewRegistry(size int, retention time.Duration) *Registry {
	if size <= 0 {
		size = defaultMaxRuns
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Registry{runs: expirable.NewLRU[string, *Run](size, nil, retention)}
}

func (g *Registry) Put(r *Run) { g.runs.Add(r.ID, r) }

func (g *Registry) Get(id string) (*Run, bool) {
	return g.runs.Get(strings.TrimSpace(id))
}

func (g *Registry) Len() int { return g.runs.Len() }
