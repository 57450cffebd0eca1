// Package app wires the audit components into a dig container shared by the
// gateway and the CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"repoaudit/internal/audit"
	"repoaudit/internal/config"
	"repoaudit/internal/fetcher"
	"repoaudit/internal/githubapi"
	"repoaudit/internal/llm"
	"repoaudit/internal/logging"
	"repoaudit/internal/pipeline"
	"repoaudit/internal/report"
	"repoaudit/internal/stats"
	"repoaudit/internal/trace"
)

const statsCacheSize = 128

// Components is everything a front end needs to preview and run audits.
type Components struct {
	dig.In

	Config       *config.Config
	Logger       *zap.Logger
	Stats        stats.Provider
	Orchestrator *pipeline.Orchestrator
	Model        llm.LLMClient
	Traces       *trace.Logger
	Archive      trace.Archiver `optional:"true"`
}

// Preflight is the subset needed for stats estimation. Resolving it never
// constructs the model client.
type Preflight struct {
	dig.In

	Config *config.Config
	Logger *zap.Logger
	Stats  stats.Provider
}

// RegisterProviders registers every component constructor. The archive is
// only provided when enabled, so consumers must mark it optional.
func RegisterProviders(c *dig.Container, cfg *config.Config) error {
	providers := []any{
		func() *config.Config { return cfg },
		NewLogger,
		NewGitHubClient,
		NewStatsProvider,
		NewFetcher,
		NewModelClient,
		audit.NewClient,
		NewValidator,
		NewOrchestrator,
		NewTraceLogger,
	}
	if cfg.Trace.Archive.Enabled {
		providers = append(providers, NewArchive)
	}
	for _, p := range providers {
		if err := c.Provide(p); err != nil {
			return err
		}
	}
	return nil
}

// Build creates a container for cfg and resolves Components from it.
func Build(cfg *config.Config) (Components, *dig.Container, error) {
	c := dig.New()
	if err := RegisterProviders(c, cfg); err != nil {
		return Components{}, nil, err
	}
	var out Components
	if err := c.Invoke(func(in Components) { out = in }); err != nil {
		return Components{}, nil, err
	}
	return out, c, nil
}

// BuildPreflight resolves only the pre-flight components for cfg.
func BuildPreflight(cfg *config.Config) (Preflight, error) {
	c := dig.New()
	if err := RegisterProviders(c, cfg); err != nil {
		return Preflight{}, err
	}
	var out Preflight
	if err := c.Invoke(func(in Preflight) { out = in }); err != nil {
		return Preflight{}, err
	}
	return out, nil
}

func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Log.Level, cfg.Log.Format)
}

func NewGitHubClient(cfg *config.Config, log *zap.Logger) (*githubapi.Client, error) {
	return githubapi.New(githubapi.Options{
		Token:   cfg.GitHub.Token,
		BaseURL: cfg.GitHub.BaseURL,
		Logger:  log.Named("github"),
	})
}

func NewStatsProvider(gh *githubapi.Client, log *zap.Logger) (stats.Provider, error) {
	return stats.NewCached(stats.NewEstimator(gh, log.Named("stats")), statsCacheSize)
}

func NewFetcher(cfg *config.Config, gh *githubapi.Client, log *zap.Logger) *fetcher.Fetcher {
	return fetcher.New(gh, cfg.Selection, cfg.GitHub.FetchConcurrency, log.Named("fetcher"))
}

// NewModelClient builds the configured provider behind the middleware chain:
// hooks see every attempt, logging sees the final outcome of each attempt,
// and rate limiting gates each attempt including retries.
func NewModelClient(cfg *config.Config, log *zap.Logger) (llm.LLMClient, error) {
	var base llm.LLMClient
	switch cfg.Model.Provider {
	case config.ProviderFake:
		base = llm.NewFakeClient("")
	case config.ProviderGemini:
		g, err := llm.NewGeminiClient(context.Background(), llm.GeminiConfig{
			APIKey:  cfg.Model.APIKey,
			Model:   cfg.Model.Name,
			BaseURL: cfg.Model.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		base = g
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Model.Provider)
	}
	return llm.Wrap(base,
		llm.Retry(cfg.Model.MaxAttempts, cfg.Model.RetryBaseDelay),
		llm.WithHooks(),
		llm.WithLogging(log.Named("llm")),
		llm.RateLimit(cfg.Model.RPS, cfg.Model.Burst),
	), nil
}

func NewValidator(cfg *config.Config, log *zap.Logger) (*report.Validator, error) {
	policy, err := report.ParsePolicy(cfg.Validation.Policy)
	if err != nil {
		return nil, err
	}
	return report.NewValidator(policy, log.Named("validator")), nil
}

func NewOrchestrator(cfg *config.Config, f *fetcher.Fetcher, a *audit.Client, v *report.Validator, log *zap.Logger) *pipeline.Orchestrator {
	return pipeline.New(f, a, v, cfg.Pacing, log.Named("pipeline"))
}

func NewTraceLogger(cfg *config.Config) *trace.Logger {
	return trace.NewLogger(cfg.Trace.Dir)
}

func NewArchive(cfg *config.Config) (trace.Archiver, error) {
	return trace.NewS3Archive(cfg.Trace.Archive.S3Config)
}
