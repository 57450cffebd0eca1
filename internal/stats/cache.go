package stats

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"repoaudit/internal/repo"
	"repoaudit/internal/types"
)

// Provider is satisfied by *Estimator and *Cached.
type Provider interface {
	Estimate(ctx context.Context, ref repo.Reference) (types.AuditStats, error)
}

// Cached memoises successful estimates so a preview followed by an audit of
// the same repository costs one pair of metadata calls. Errors are not cached.
type Cached struct {
	next  Provider
	cache *lru.Cache[repo.Reference, types.AuditStats]
}

func NewCached(next Provider, size int) (*Cached, error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New[repo.Reference, types.AuditStats](size)
	if err != nil {
		return nil, fmt.Errorf("stats cache: %w", err)
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Estimate(ctx context.Context, ref repo.Reference) (types.AuditStats, error) {
	if st, ok := c.cache.Get(ref); ok {
		return st, nil
	}
	st, err := c.next.Estimate(ctx, ref)
	if err != nil {
		return types.AuditStats{}, err
	}
	c.cache.Add(ref, st)
	return st, nil
}
