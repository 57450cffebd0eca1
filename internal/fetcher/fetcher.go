// Package fetcher resolves the default branch, walks the repository tree and
// downloads the selected files on a best-effort basis.
package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repoaudit/internal/githubapi"
	"repoaudit/internal/repo"
	"repoaudit/internal/selection"
)

// ErrTreeFetch aborts an audit run: the tree itself could not be listed.
var ErrTreeFetch = errors.New("failed to fetch repository tree")

// FallbackBranch is used when metadata names no default branch.
const FallbackBranch = "main"

// Source is the slice of the GitHub transport the fetcher needs.
type Source interface {
	Repository(ctx context.Context, owner, name string) (githubapi.Metadata, error)
	Tree(ctx context.Context, owner, name, branch string) ([]githubapi.TreeEntry, error)
	BlobContent(ctx context.Context, blobURL string) (string, error)
}

// File is decoded text content of a selected file.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type Fetcher struct {
	src         Source
	strategy    selection.Strategy
	concurrency int
	log         *zap.Logger
}

// New builds a Fetcher. concurrency <= 0 means one goroutine per selected
// file, which the selection cap already bounds.
func New(src Source, strategy selection.Strategy, concurrency int, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{src: src, strategy: strategy.WithDefaults(), concurrency: concurrency, log: logger}
}

// DefaultBranch reads the branch from metadata. Any failure falls back to
// FallbackBranch and is reported alongside it so callers can log it.
func (f *Fetcher) DefaultBranch(ctx context.Context, ref repo.Reference) (string, error) {
	md, err := f.src.Repository(ctx, ref.Owner, ref.Name)
	if err != nil {
		return FallbackBranch, err
	}
	if b := strings.TrimSpace(md.DefaultBranch); b != "" {
		return b, nil
	}
	return FallbackBranch, nil
}

// Fetch lists the tree, selects candidates and downloads them concurrently.
// Per-file failures are dropped. The result keeps selection order.
func (f *Fetcher) Fetch(ctx context.Context, ref repo.Reference, branch string) ([]File, error) {
	tree, err := f.src.Tree(ctx, ref.Owner, ref.Name, branch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTreeFetch, err)
	}
	entries := make([]selection.Entry, len(tree))
	for i, e := range tree {
		entries[i] = selection.Entry{Path: e.Path, Type: e.Type, URL: e.URL}
	}
	candidates := f.strategy.Select(entries)
	f.log.Debug("selected files", zap.String("repo", ref.String()), zap.Int("tree", len(tree)), zap.Int("selected", len(candidates)))
	return f.FetchAll(ctx, candidates), nil
}

// FetchAll downloads every candidate and returns those that succeeded. It
// waits for every attempt to resolve and never fails as a whole.
func (f *Fetcher) FetchAll(ctx context.Context, candidates []selection.Candidate) []File {
	results := make([]*File, len(candidates))
	var g errgroup.Group
	if f.concurrency > 0 {
		g.SetLimit(f.concurrency)
	}
	for i, c := range candidates {
		g.Go(func() error {
			raw, err := f.src.BlobContent(ctx, c.BlobURL)
			if err != nil {
				f.log.Debug("dropping file", zap.String("path", c.Path), zap.Error(err))
				return nil
			}
			content, err := Decode(raw)
			if err != nil {
				f.log.Debug("dropping undecodable file", zap.String("path", c.Path), zap.Error(err))
				return nil
			}
			results[i] = &File{Path: c.Path, Content: content}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]File, 0, len(candidates))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

// Decode strips the line breaks GitHub embeds in blob content and decodes
// the remaining base64.
func Decode(raw string) (string, error) {
	cleaned := strings.NewReplacer("\n", "", "\r", "").Replace(raw)
	b, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
