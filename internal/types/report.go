package types

// Category is the closed set of finding categories.
type Category string

const (
	CategorySecurity     Category = "Security"
	CategoryPerformance  Category = "Performance"
	CategoryArchitecture Category = "Architecture"
)

// Categories lists every valid Category in prompt order.
var Categories = []Category{CategorySecurity, CategoryPerformance, CategoryArchitecture}

// ParseCategory reports whether s names a known category. Matching is exact.
func ParseCategory(s string) (Category, bool) {
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// Severity is the closed set of finding severities.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityWarning  Severity = "Warning"
	SeverityInfo     Severity = "Info"
)

var Severities = []Severity{SeverityCritical, SeverityWarning, SeverityInfo}

func ParseSeverity(s string) (Severity, bool) {
	for _, sv := range Severities {
		if string(sv) == s {
			return sv, true
		}
	}
	return "", false
}

// AuditStats is the pre-flight estimate derived from repository metadata.
type AuditStats struct {
	FileCountEstimate       int    `json:"fileCountEstimate" yaml:"fileCountEstimate"`
	TokenVolumeLabel        string `json:"tokenVolumeLabel" yaml:"tokenVolumeLabel"`
	DominantLanguage        string `json:"dominantLanguage" yaml:"dominantLanguage"`
	DominantLanguagePercent int    `json:"dominantLanguagePercent" yaml:"dominantLanguagePercent"`
}

// Issue is one model finding after validation.
type Issue struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Category    Category `json:"category" yaml:"category"`
	Severity    Severity `json:"severity" yaml:"severity"`
	FilePath    string   `json:"filePath" yaml:"filePath"`
	LineNumber  int      `json:"lineNumber" yaml:"lineNumber"`
	BadCode     string   `json:"badCode" yaml:"badCode"`
	FixedCode   string   `json:"fixedCode" yaml:"fixedCode"`
}

// RepoReport is the terminal product of a successful audit run. It is built
// once by the validator and treated as read-only afterwards; use Clone before
// handing it to code that may mutate slices.
type RepoReport struct {
	RepoName    string     `json:"repoName" yaml:"repoName"`
	Stats       AuditStats `json:"stats" yaml:"stats"`
	HealthScore int        `json:"healthScore" yaml:"healthScore"`
	Summary     string     `json:"summary" yaml:"summary"`
	Issues      []Issue    `json:"issues" yaml:"issues"`
}

// Clone returns a deep copy of the report.
func (r RepoReport) Clone() RepoReport {
	out := r
	if r.Issues != nil {
		out.Issues = make([]Issue, len(r.Issues))
		copy(out.Issues, r.Issues)
	}
	return out
}

// CountBySeverity tallies issues per severity.
func (r RepoReport) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int, len(Severities))
	for _, is := range r.Issues {
		counts[is.Severity]++
	}
	return counts
}
