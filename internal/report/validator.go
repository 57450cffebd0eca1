// Package report turns the model's untrusted JSON into a typed RepoReport.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"repoaudit/internal/types"
)

// Policy decides what happens to an issue that fails validation.
type Policy string

const (
	// PolicyReject fails the whole report on the first bad issue.
	PolicyReject Policy = "reject"
	// PolicyDrop skips bad issues and keeps the rest.
	PolicyDrop Policy = "drop"
)

// ParsePolicy defaults to PolicyReject for empty input.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyDrop:
		return PolicyDrop, nil
	}
	return "", fmt.Errorf("unknown validation policy %q", s)
}

// ValidationError reports structurally invalid model output. Index is the
// offending issue position, or -1 for top-level problems.
type ValidationError struct {
	Index  int
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Index < 0 {
		return "invalid audit report: " + e.Reason
	}
	return fmt.Sprintf("invalid audit report: issue %d: %s", e.Index, e.Reason)
}

type Validator struct {
	policy Policy
	log    *zap.Logger
}

func NewValidator(policy Policy, logger *zap.Logger) *Validator {
	if policy == "" {
		policy = PolicyReject
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{policy: policy, log: logger}
}

var stringFields = []string{"id", "title", "description", "filePath", "badCode", "fixedCode"}

// Validate parses raw and builds the report. The same input always yields
// the same decision.
func (v *Validator) Validate(raw json.RawMessage, repoName string, stats types.AuditStats) (types.RepoReport, error) {
	doc, err := decodeObject(stripFences(raw))
	if err != nil {
		return types.RepoReport{}, &ValidationError{Index: -1, Reason: err.Error()}
	}

	score, ok := numberField(doc, "healthScore")
	if !ok {
		return types.RepoReport{}, &ValidationError{Index: -1, Reason: "healthScore must be a number"}
	}
	summary, ok := doc["summary"].(string)
	if !ok {
		return types.RepoReport{}, &ValidationError{Index: -1, Reason: "summary must be a string"}
	}
	items, ok := doc["issues"].([]any)
	if !ok {
		return types.RepoReport{}, &ValidationError{Index: -1, Reason: "issues must be an array"}
	}

	issues := make([]types.Issue, 0, len(items))
	for i, item := range items {
		is, reason := parseIssue(item)
		if reason == "" {
			issues = append(issues, is)
			continue
		}
		if v.policy == PolicyReject {
			return types.RepoReport{}, &ValidationError{Index: i, Reason: reason}
		}
		v.log.Warn("dropping invalid issue", zap.Int("index", i), zap.String("reason", reason))
	}

	return types.RepoReport{
		RepoName:    repoName,
		Stats:       stats,
		HealthScore: clampScore(score),
		Summary:     summary,
		Issues:      issues,
	}, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("not valid JSON: %v", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("not valid JSON: trailing data")
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top level must be an object")
	}
	return obj, nil
}

// stripFences removes a ```json ... ``` wrapper some models add despite the
// instruction not to.
func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}

func parseIssue(item any) (types.Issue, string) {
	obj, ok := item.(map[string]any)
	if !ok {
		return types.Issue{}, "must be an object"
	}
	str := make(map[string]string, len(stringFields))
	for _, f := range stringFields {
		s, ok := obj[f].(string)
		if !ok {
			return types.Issue{}, fmt.Sprintf("%s must be a string", f)
		}
		str[f] = s
	}
	rawCat, _ := obj["category"].(string)
	cat, ok := types.ParseCategory(rawCat)
	if !ok {
		return types.Issue{}, fmt.Sprintf("category %q is not one of Security, Performance, Architecture", rawCat)
	}
	rawSev, _ := obj["severity"].(string)
	sev, ok := types.ParseSeverity(rawSev)
	if !ok {
		return types.Issue{}, fmt.Sprintf("severity %q is not one of Critical, Warning, Info", rawSev)
	}
	line, ok := numberField(obj, "lineNumber")
	if !ok || line != math.Trunc(line) {
		return types.Issue{}, "lineNumber must be an integer"
	}
	if math.Abs(line) > math.MaxInt32 {
		return types.Issue{}, "lineNumber is out of range"
	}
	return types.Issue{
		ID:          str["id"],
		Title:       str["title"],
		Description: str["description"],
		Category:    cat,
		Severity:    sev,
		FilePath:    str["filePath"],
		LineNumber:  int(line),
		BadCode:     str["badCode"],
		FixedCode:   str["fixedCode"],
	}, ""
}

func numberField(obj map[string]any, key string) (float64, bool) {
	n, ok := obj[key].(json.Number)
	if !ok {
		return 0, false
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// clampScore bounds the float before converting so huge values cannot overflow.
func clampScore(f float64) int {
	return int(math.Round(math.Max(0, math.Min(100, f))))
}
