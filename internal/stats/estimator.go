// Package stats derives the pre-flight AuditStats from repository metadata.
package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"go.uber.org/zap"

	"repoaudit/internal/githubapi"
	"repoaudit/internal/repo"
	"repoaudit/internal/types"
)

var (
	ErrRateLimited   = errors.New("GitHub API rate limit exceeded, try again later")
	ErrRepoNotFound  = errors.New("repository not found or private")
	ErrMetadataFetch = errors.New("failed to fetch repository data")
)

const (
	bytesPerToken   = 4
	kbPerFile       = 5
	millionTokens   = 1_000_000
	unknownLanguage = "Unknown"
)

// Source is the slice of the GitHub transport the estimator needs.
type Source interface {
	Repository(ctx context.Context, owner, name string) (githubapi.Metadata, error)
	Languages(ctx context.Context, owner, name string) (githubapi.Languages, error)
}

type Estimator struct {
	src Source
	log *zap.Logger
}

func NewEstimator(src Source, logger *zap.Logger) *Estimator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Estimator{src: src, log: logger}
}

// Estimate calls the metadata and language endpoints and derives stats. It
// never lists files.
func (e *Estimator) Estimate(ctx context.Context, ref repo.Reference) (types.AuditStats, error) {
	md, err := e.src.Repository(ctx, ref.Owner, ref.Name)
	if err != nil {
		return types.AuditStats{}, classify(err)
	}
	langs, err := e.src.Languages(ctx, ref.Owner, ref.Name)
	if err != nil {
		return types.AuditStats{}, classify(err)
	}
	st := Compute(md.SizeKB, langs)
	e.log.Debug("estimated repository stats",
		zap.String("repo", ref.String()),
		zap.Int("size_kb", md.SizeKB),
		zap.String("language", st.DominantLanguage),
		zap.String("tokens", st.TokenVolumeLabel),
	)
	return st, nil
}

// Compute is the pure part of Estimate.
func Compute(sizeKB int, langs githubapi.Languages) types.AuditStats {
	if sizeKB < 0 {
		sizeKB = 0
	}
	dominant := unknownLanguage
	percent := 0
	if len(langs) > 0 {
		dominant = langs[0].Name
		if total := langs.Total(); total > 0 {
			percent = int(math.Round(float64(langs[0].Bytes) / float64(total) * 100))
		}
	}
	return types.AuditStats{
		FileCountEstimate:       int(math.Round(float64(sizeKB) / kbPerFile)),
		TokenVolumeLabel:        TokenLabel(int64(sizeKB) * 1024 / bytesPerToken),
		DominantLanguage:        dominant,
		DominantLanguagePercent: clampPercent(percent),
	}
}

// TokenLabel renders a token count as "<x>k" below one million and "<x>M"
// from one million up.
func TokenLabel(tokens int64) string {
	if tokens >= millionTokens {
		return fmt.Sprintf("%.1fM", float64(tokens)/millionTokens)
	}
	return fmt.Sprintf("%.1fk", float64(tokens)/1000)
}

func clampPercent(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func classify(err error) error {
	switch githubapi.StatusCode(err) {
	case http.StatusForbidden, http.StatusTooManyRequests:
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrRepoNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrMetadataFetch, err)
	}
}
