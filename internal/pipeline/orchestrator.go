// Package pipeline sequences one audit run as an explicit state machine and
// publishes its progress as an ordered event stream.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"repoaudit/internal/audit"
	"repoaudit/internal/auditctx"
	"repoaudit/internal/fetcher"
	"repoaudit/internal/repo"
	"repoaudit/internal/types"
)

// Progress checkpoints.
const (
	PercentInitialized = 10
	PercentRetrieved   = 40
	PercentParsed      = 60
	PercentComplete    = 100
)

// Files resolves the branch and fetches the selected files.
type Files interface {
	DefaultBranch(ctx context.Context, ref repo.Reference) (string, error)
	Fetch(ctx context.Context, ref repo.Reference, branch string) ([]fetcher.File, error)
}

// Auditor performs the model call.
type Auditor interface {
	Audit(ctx context.Context, in audit.Input) (json.RawMessage, error)
	Model() string
}

// Validator accepts model output into the typed domain.
type Validator interface {
	Validate(raw json.RawMessage, repoName string, stats types.AuditStats) (types.RepoReport, error)
}

// Pacing holds the cosmetic delays between stages. Zero disables a delay.
type Pacing struct {
	Connect time.Duration `mapstructure:"connect" yaml:"connect"`
	Parse   time.Duration `mapstructure:"parse" yaml:"parse"`
	Display time.Duration `mapstructure:"display" yaml:"display"`
}

func DefaultPacing() Pacing {
	return Pacing{Connect: 500 * time.Millisecond, Parse: 800 * time.Millisecond, Display: time.Second}
}

type Orchestrator struct {
	files     Files
	auditor   Auditor
	validator Validator
	pacing    Pacing
	log       *zap.Logger
	now       func() time.Time
}

func New(files Files, auditor Auditor, validator Validator, pacing Pacing, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		files:     files,
		auditor:   auditor,
		validator: validator,
		pacing:    pacing,
		log:       logger,
		now:       time.Now,
	}
}

// Run executes one audit attempt. Every call owns its own state and event
// sequence. A nil emit discards progress events. On
// failure the returned error is the stage error unchanged, so callers can
// classify it with errors.Is / errors.As.
func (o *Orchestrator) Run(ctx context.Context, ref repo.Reference, stats types.AuditStats, emit Emitter) (types.RepoReport, error) {
	if emit == nil {
		emit = noopEmitter{}
	}
	m := &machine{state: StateIdle, emit: emit, now: o.now}
	log := o.log.With(zap.String("repo", ref.String()))

	rep, err := o.run(ctx, m, ref, stats, log)
	if err != nil {
		log.Warn("audit failed", zap.String("state", string(m.state)), zap.Int("percent", m.percent), zap.Error(err))
		m.fail(err)
		return types.RepoReport{}, err
	}
	log.Info("audit complete", zap.Int("health_score", rep.HealthScore), zap.Int("issues", len(rep.Issues)))
	return rep, nil
}

func (o *Orchestrator) run(ctx context.Context, m *machine, ref repo.Reference, stats types.AuditStats, log *zap.Logger) (types.RepoReport, error) {
	m.advance(StateInitializing, PercentInitialized, fmt.Sprintf("[System] Initializing audit for %s...", ref))

	m.advance(StateFetchingMetadata, PercentInitialized, "[Network] Connecting to GitHub API...")
	if err := sleep(ctx, o.pacing.Connect); err != nil {
		return types.RepoReport{}, err
	}
	branch, err := o.files.DefaultBranch(ctx, ref)
	if err != nil {
		log.Warn("default branch lookup failed, using fallback", zap.String("branch", branch), zap.Error(err))
	}

	m.advance(StateFetchingTree, PercentInitialized, fmt.Sprintf("[Network] Downloading source tree (%s)...", branch))
	files, err := o.files.Fetch(ctx, ref, branch)
	if err != nil {
		return types.RepoReport{}, err
	}

	m.advance(StateParsing, PercentRetrieved, fmt.Sprintf("[Success] Retrieved %d critical source files.", len(files)))
	sourceCtx := auditctx.Assemble(files, stats.DominantLanguage)
	if err := sleep(ctx, o.pacing.Parse); err != nil {
		return types.RepoReport{}, err
	}

	m.advance(StateAuditing, PercentParsed, fmt.Sprintf("[Agent: Parser] Analyzed %s syntax. [Agent: Security] Sending code context to %s...", language(stats), o.auditor.Model()))
	raw, err := o.auditor.Audit(ctx, audit.Input{RepoName: ref.Name, Stats: stats, SourceContext: sourceCtx})
	if err != nil {
		return types.RepoReport{}, err
	}

	m.advance(StateFinalizing, PercentParsed, "[Agent: Validator] Response received. Validating findings...")
	rep, err := o.validator.Validate(raw, ref.Name, stats)
	if err != nil {
		return types.RepoReport{}, err
	}

	m.advance(StateComplete, PercentComplete, fmt.Sprintf("[Success] Report generated. Health score: %d/100", rep.HealthScore))
	// Display pacing only delays the hand-off; the report is already final.
	_ = sleep(ctx, o.pacing.Display)
	return rep, nil
}

func language(stats types.AuditStats) string {
	if stats.DominantLanguage == "" {
		return "Unknown"
	}
	return stats.DominantLanguage
}

// machine is the per-run state. It is never shared between runs.
type machine struct {
	state   State
	percent int
	seq     int
	emit    Emitter
	now     func() time.Time
}

func (m *machine) advance(to State, percent int, line string) {
	if !CanTransition(m.state, to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", m.state, to))
	}
	if percent < m.percent {
		percent = m.percent
	}
	m.state = to
	m.percent = percent
	m.publish(line)
}

// fail appends the error line and the halt line; percent stays frozen.
func (m *machine) fail(err error) {
	if m.state.Terminal() {
		return
	}
	m.state = StateFailed
	m.publish("[Error] Audit Failed: " + err.Error())
	m.publish("[System] Process halted.")
}

func (m *machine) publish(line string) {
	m.seq++
	m.emit.Emit(Event{Seq: m.seq, LogLine: line, Percent: m.percent, State: m.state, Time: m.now()})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
