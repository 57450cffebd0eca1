package audit

import (
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"repoaudit/internal/types"
)

// IssueCount is the number of findings the prompt asks for.
const IssueCount = 6

const promptTemplate = `You are a senior code auditor. Generate a high-quality audit report for a GitHub repository named %q.
The project primarily uses %s.

%s

Task:
Analyze the provided code for %s.
Generate exactly %d issues.

CRITICAL: Return ONLY valid JSON matching the schema below. Do not include markdown formatting like ` + "```json" + `.

Schema:
{
  "healthScore": number (0-100),
  "summary": "Short executive summary paragraph",
  "issues": [
    {
      "id": "string",
      "title": "string",
      "description": "string",
      "category": %s,
      "severity": %s,
      "filePath": "string (use actual paths if available)",
      "lineNumber": number,
      "badCode": "string (short snippet representing the issue)",
      "fixedCode": "string (short snippet representing the fix)"
    }
  ]
}`

// BuildPrompt renders the audit instruction for one repository.
func BuildPrompt(in Input) string {
	return fmt.Sprintf(promptTemplate,
		in.RepoName,
		in.Stats.DominantLanguage,
		in.SourceContext,
		"Security vulnerabilities, Performance bottlenecks, and Architectural smells",
		IssueCount,
		quotedUnion(categoryNames()),
		quotedUnion(severityNames()),
	)
}

// ResponseSchema is the structured-output contract sent to the provider.
func ResponseSchema() *genai.Schema {
	str := func() *genai.Schema { return &genai.Schema{Type: genai.TypeString} }
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"healthScore": {Type: genai.TypeNumber},
			"summary":     str(),
			"issues": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"id":          str(),
						"title":       str(),
						"description": str(),
						"category":    {Type: genai.TypeString, Enum: categoryNames()},
						"severity":    {Type: genai.TypeString, Enum: severityNames()},
						"filePath":    str(),
						"lineNumber":  {Type: genai.TypeInteger},
						"badCode":     str(),
						"fixedCode":   str(),
					},
					Required: []string{"id", "title", "description", "category", "severity", "filePath", "lineNumber", "badCode", "fixedCode"},
				},
			},
		},
		Required: []string{"healthScore", "summary", "issues"},
	}
}

func categoryNames() []string {
	out := make([]string, len(types.Categories))
	for i, c := range types.Categories {
		out[i] = string(c)
	}
	return out
}

func severityNames() []string {
	out := make([]string, len(types.Severities))
	for i, s := range types.Severities {
		out[i] = string(s)
	}
	return out
}

func quotedUnion(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, " | ")
}
