// Package repo turns user-supplied repository locators into owner/name pairs.
package repo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidReference is returned when the input does not name a repository.
var ErrInvalidReference = errors.New("invalid repository reference")

// Reference identifies a repository by owner and name.
type Reference struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// String renders the reference in owner/name form.
func (r Reference) String() string {
	return r.Owner + "/" + r.Name
}

// Parse accepts full URLs (https://github.com/o/r/tree/main), scp-style git
// remotes (git@github.com:o/r.git), host-prefixed paths (github.com/o/r) and
// the o/r shorthand. Segments after the second are ignored.
func Parse(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, fmt.Errorf("%w: empty input", ErrInvalidReference)
	}

	var segments []string
	switch {
	case strings.HasPrefix(raw, "git@"):
		_, p, ok := strings.Cut(raw, ":")
		if !ok {
			return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
		}
		segments = splitSegments(p)
	default:
		if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
			segments = splitSegments(u.Path)
		} else {
			segments = splitSegments(raw)
			// A leading host (github.com/o/r) never looks like an owner; owners cannot contain dots.
			if len(segments) > 0 && strings.Contains(segments[0], ".") {
				segments = segments[1:]
			}
		}
	}

	owner, name, ok := ownerAndName(segments)
	if !ok {
		return Reference{}, fmt.Errorf("%w: %q", ErrInvalidReference, raw)
	}
	return Reference{Owner: owner, Name: name}, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(raw string) Reference {
	ref, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return ref
}

func splitSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func ownerAndName(segments []string) (owner, name string, ok bool) {
	if len(segments) < 2 {
		return "", "", false
	}
	owner = segments[0]
	name = strings.TrimSuffix(segments[1], ".git")
	if owner == "" || name == "" {
		return "", "", false
	}
	return owner, name, true
}
