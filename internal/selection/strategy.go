// Package selection picks the bounded subset of repository files sent to the
// model: dependency manifests first, then a few conventional source files.
package selection

import (
	"path"
	"strings"
)

const blobType = "blob"

// Entry is one node of the repository tree.
type Entry struct {
	Path string
	Type string
	URL  string
}

// Candidate is a selected file that has not been fetched yet.
type Candidate struct {
	Path    string `json:"path"`
	BlobURL string `json:"blobUrl"`
}

// Strategy holds the matching lists and caps. The zero value selects nothing;
// use Default.
type Strategy struct {
	Manifests  []string `mapstructure:"manifests" yaml:"manifests"`
	SourceDirs []string `mapstructure:"source_dirs" yaml:"source_dirs"`
	SourceExts []string `mapstructure:"source_exts" yaml:"source_exts"`
	MaxSource  int      `mapstructure:"max_source" yaml:"max_source"`
	MaxTotal   int      `mapstructure:"max_total" yaml:"max_total"`
}

func Default() Strategy {
	return Strategy{
		Manifests:  []string{"package.json", "requirements.txt", "Dockerfile", "docker-compose.yml"},
		SourceDirs: []string{"src/", "lib/", "app/", "components/"},
		SourceExts: []string{".ts", ".js", ".py", ".tsx", ".jsx"},
		MaxSource:  6,
		MaxTotal:   8,
	}
}

// WithDefaults fills empty lists and non-positive caps from Default.
func (s Strategy) WithDefaults() Strategy {
	d := Default()
	if len(s.Manifests) == 0 {
		s.Manifests = d.Manifests
	}
	if len(s.SourceDirs) == 0 {
		s.SourceDirs = d.SourceDirs
	}
	if len(s.SourceExts) == 0 {
		s.SourceExts = d.SourceExts
	}
	if s.MaxSource <= 0 {
		s.MaxSource = d.MaxSource
	}
	if s.MaxTotal <= 0 {
		s.MaxTotal = d.MaxTotal
	}
	return s
}

// Select returns manifests then source files, in tree order within each
// tier, truncated to MaxTotal. Truncation only ever drops source files first
// because manifests lead the list. A tree with no matches yields an empty,
// non-nil slice.
func (s Strategy) Select(entries []Entry) []Candidate {
	var manifests, sources []Candidate
	for _, e := range entries {
		if e.Type != blobType {
			continue
		}
		c := Candidate{Path: e.Path, BlobURL: e.URL}
		switch {
		case s.isManifest(e.Path):
			manifests = append(manifests, c)
		case len(sources) < s.MaxSource && s.isSource(e.Path):
			sources = append(sources, c)
		}
	}

	out := make([]Candidate, 0, len(manifests)+len(sources))
	out = append(out, manifests...)
	out = append(out, sources...)
	if s.MaxTotal >= 0 && len(out) > s.MaxTotal {
		out = out[:s.MaxTotal]
	}
	return out
}

func (s Strategy) isManifest(p string) bool {
	for _, m := range s.Manifests {
		if strings.HasSuffix(p, m) {
			return true
		}
	}
	return false
}

func (s Strategy) isSource(p string) bool {
	inDir := false
	for _, d := range s.SourceDirs {
		if strings.Contains(p, d) {
			inDir = true
			break
		}
	}
	if !inDir {
		return false
	}
	ext := path.Ext(p)
	for _, e := range s.SourceExts {
		if ext == e {
			return true
		}
	}
	return false
}
