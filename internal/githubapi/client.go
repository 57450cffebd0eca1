// Package githubapi is the outbound transport to the GitHub REST API used by
// the stats estimator and the file fetcher.
package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v75/github"
	"go.uber.org/zap"
)

const acceptHeader = "application/vnd.github.v3+json"

// StatusError carries the HTTP status of a failed GitHub call. StatusCode is
// zero when no response was received.
type StatusError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("github %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("github %s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// Options configures a Client.
type Options struct {
	Token      string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Metadata is the subset of the repository resource the pipeline reads.
type Metadata struct {
	SizeKB        int
	DefaultBranch string
}

// TreeEntry is one node of a recursive git tree listing.
type TreeEntry struct {
	Path string
	Type string
	URL  string
}

// Client wraps go-github with the four calls the audit pipeline needs.
type Client struct {
	gh  *github.Client
	log *zap.Logger
}

func New(opts Options) (*Client, error) {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	gh := github.NewClient(hc)
	if tok := strings.TrimSpace(opts.Token); tok != "" {
		gh = gh.WithAuthToken(tok)
	}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("github base url: %w", err)
		}
		gh.BaseURL = u
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{gh: gh, log: logger}, nil
}

// Repository fetches size and default branch.
func (c *Client) Repository(ctx context.Context, owner, name string) (Metadata, error) {
	r, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Metadata{}, wrap("repository", resp, err)
	}
	return Metadata{SizeKB: r.GetSize(), DefaultBranch: r.GetDefaultBranch()}, nil
}

// Languages fetches the language breakdown with provider order preserved.
func (c *Client) Languages(ctx context.Context, owner, name string) (Languages, error) {
	req, err := c.newRequest(fmt.Sprintf("repos/%v/%v/languages", owner, name))
	if err != nil {
		return nil, &StatusError{Op: "languages", Err: err}
	}
	var langs Languages
	resp, err := c.gh.Do(ctx, req, &langs)
	if err != nil {
		return nil, wrap("languages", resp, err)
	}
	return langs, nil
}

// Tree lists the branch recursively. A response without entries yields an
// empty slice.
func (c *Client) Tree(ctx context.Context, owner, name, branch string) ([]TreeEntry, error) {
	tree, resp, err := c.gh.Git.GetTree(ctx, owner, name, branch, true)
	if err != nil {
		return nil, wrap("tree", resp, err)
	}
	if tree.GetTruncated() {
		c.log.Debug("tree listing truncated", zap.String("repo", owner+"/"+name), zap.String("branch", branch))
	}
	out := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e == nil {
			continue
		}
		out = append(out, TreeEntry{Path: e.GetPath(), Type: e.GetType(), URL: e.GetURL()})
	}
	return out, nil
}

// BlobContent fetches a blob by its API URL and returns the raw content field
// (base64 with embedded line breaks for the default encoding).
func (c *Client) BlobContent(ctx context.Context, blobURL string) (string, error) {
	req, err := c.newRequest(blobURL)
	if err != nil {
		return "", &StatusError{Op: "blob", Err: err}
	}
	var blob github.Blob
	resp, err := c.gh.Do(ctx, req, &blob)
	if err != nil {
		return "", wrap("blob", resp, err)
	}
	return blob.GetContent(), nil
}

func (c *Client) newRequest(u string) (*http.Request, error) {
	req, err := c.gh.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	return req, nil
}

func wrap(op string, resp *github.Response, err error) error {
	se := &StatusError{Op: op, Err: err}
	if resp != nil && resp.Response != nil {
		se.StatusCode = resp.StatusCode
	}
	return se
}
