// Package config loads the explicit configuration handed to every component.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"repoaudit/internal/pipeline"
	"repoaudit/internal/selection"
	"repoaudit/internal/trace"
)

const envPrefix = "REPOAUDIT"

type Config struct {
	Server     ServerConfig       `mapstructure:"server" yaml:"server"`
	GitHub     GitHubConfig       `mapstructure:"github" yaml:"github"`
	Model      ModelConfig        `mapstructure:"model" yaml:"model"`
	Selection  selection.Strategy `mapstructure:"selection" yaml:"selection"`
	Validation ValidationConfig   `mapstructure:"validation" yaml:"validation"`
	Pacing     pipeline.Pacing    `mapstructure:"pacing" yaml:"pacing"`
	Trace      TraceConfig        `mapstructure:"trace" yaml:"trace"`
	Log        LogConfig          `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port" yaml:"port"`
	Env            string        `mapstructure:"env" yaml:"env"`
	RunRetention   time.Duration `mapstructure:"run_retention" yaml:"run_retention"`
	MaxRuns        int           `mapstructure:"max_runs" yaml:"max_runs"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

type GitHubConfig struct {
	Token            string `mapstructure:"token" yaml:"-"`
	BaseURL          string `mapstructure:"base_url" yaml:"base_url"`
	FetchConcurrency int    `mapstructure:"fetch_concurrency" yaml:"fetch_concurrency"`
}

type ModelConfig struct {
	Provider       string        `mapstructure:"provider" yaml:"provider"`
	Name           string        `mapstructure:"name" yaml:"name"`
	APIKey         string        `mapstructure:"api_key" yaml:"-"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	RPS            float64       `mapstructure:"rps" yaml:"rps"`
	Burst          int           `mapstructure:"burst" yaml:"burst"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" yaml:"retry_base_delay"`
}

type ValidationConfig struct {
	Policy string `mapstructure:"policy" yaml:"policy"`
}

type TraceConfig struct {
	Dir     string        `mapstructure:"dir" yaml:"dir"`
	Archive ArchiveConfig `mapstructure:"archive" yaml:"archive"`
}

type ArchiveConfig struct {
	Enabled        bool `mapstructure:"enabled" yaml:"enabled"`
	trace.S3Config `mapstructure:",squash" yaml:",inline"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

const (
	ProviderGemini = "gemini"
	ProviderFake   = "fake"
)

// Defaults returns the built-in values before file and env overrides.
func Defaults() map[string]any {
	sel := selection.Default()
	pace := pipeline.DefaultPacing()
	return map[string]any{
		"server.port":              ":8081",
		"server.env":               "local",
		"server.run_retention":     "10m",
		"server.max_runs":          256,
		"server.allowed_origins":   []string{},
		"github.token":             "",
		"github.base_url":          "",
		"github.fetch_concurrency": sel.MaxTotal,
		"model.provider":           ProviderGemini,
		"model.name":               "gemini-2.5-flash",
		"model.api_key":            "",
		"model.base_url":           "",
		"model.rps":                0.0,
		"model.burst":              1,
		"model.max_attempts":       1,
		"model.retry_base_delay":   "300ms",
		"selection.manifests":      sel.Manifests,
		"selection.source_dirs":    sel.SourceDirs,
		"selection.source_exts":    sel.SourceExts,
		"selection.max_source":     sel.MaxSource,
		"selection.max_total":      sel.MaxTotal,
		"validation.policy":        "reject",
		"pacing.connect":           pace.Connect.String(),
		"pacing.parse":             pace.Parse.String(),
		"pacing.display":           pace.Display.String(),
		"trace.dir":                trace.DefaultDir,
		"trace.archive.enabled":    false,
		"trace.archive.endpoint":   "",
		"trace.archive.region":     "us-east-1",
		"trace.archive.access_key": "",
		"trace.archive.secret_key": "",
		"trace.archive.bucket":     "repoaudit-traces",
		"trace.archive.use_ssl":    false,
		"log.level":                "info",
		"log.format":               "structured",
	}
}

// Load reads .env (if present), then the optional YAML file at path, then
// REPOAUDIT_* variables and the conventional unprefixed fallbacks.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	return load(viper.New(), path)
}

// LoadWith is Load against a caller-owned viper instance, so CLI flags bound
// to it take precedence.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	_ = godotenv.Load()
	return load(v, path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if path = strings.TrimSpace(path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyFallbacks(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyFallbacks honours the unprefixed variables deployments already set.
func applyFallbacks(cfg *Config) {
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("API_KEY"))
	}
	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" && os.Getenv(envPrefix+"_SERVER_PORT") == "" {
		cfg.Server.Port = envPort
	}
	if !strings.HasPrefix(cfg.Server.Port, ":") && !strings.Contains(cfg.Server.Port, ":") {
		cfg.Server.Port = ":" + cfg.Server.Port
	}
	if env := strings.TrimSpace(os.Getenv("APP_ENV")); env != "" && os.Getenv(envPrefix+"_SERVER_ENV") == "" {
		cfg.Server.Env = env
	}
	if cfg.Trace.Archive.AccessKey == "" {
		cfg.Trace.Archive.AccessKey = firstNonEmpty(os.Getenv("ARTIFACT_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER"))
	}
	if cfg.Trace.Archive.SecretKey == "" {
		cfg.Trace.Archive.SecretKey = firstNonEmpty(os.Getenv("ARTIFACT_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD"))
	}
	cfg.Selection = cfg.Selection.WithDefaults()
}

// Validate rejects combinations no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Model.Provider {
	case ProviderGemini, ProviderFake:
	default:
		errs = append(errs, fmt.Errorf("model.provider must be %q or %q, got %q", ProviderGemini, ProviderFake, c.Model.Provider))
	}
	switch strings.ToLower(c.Validation.Policy) {
	case "", "reject", "drop":
	default:
		errs = append(errs, fmt.Errorf("validation.policy must be reject or drop, got %q", c.Validation.Policy))
	}
	if c.Model.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("model.max_attempts must be at least 1"))
	}
	if c.Trace.Archive.Enabled && strings.TrimSpace(c.Trace.Archive.Endpoint) == "" {
		errs = append(errs, fmt.Errorf("trace.archive.endpoint is required when archiving is enabled"))
	}
	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
