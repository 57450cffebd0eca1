package llm

import (
	"context"
	"encoding/json"
	"sync"

	genai "google.golang.org/genai"
)

// FakeClient returns a fixed payload for offline runs and tests. It records
// every prompt it receives.
type FakeClient struct {
	Response json.RawMessage
	Err      error

	mu      sync.Mutex
	prompts []string
}

// NewFakeClient returns a client answering with response, or with
// SampleAuditJSON when response is empty.
func NewFakeClient(response string) *FakeClient {
	if response == "" {
		response = SampleAuditJSON
	}
	return &FakeClient{Response: json.RawMessage(response)}
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, _ *genai.Schema) (json.RawMessage, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(json.RawMessage, len(f.Response))
	copy(out, f.Response)
	return out, nil
}

// Prompts returns a copy of the prompts received so far.
func (f *FakeClient) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.prompts))
	copy(out, f.prompts)
	return out
}

// SampleAuditJSON is a well-formed audit answer with six findings.
const SampleAuditJSON = `{
  "healthScore": 72,
  "summary": "The codebase is reasonably organised but leaks secrets through configuration and performs blocking work on hot paths.",
  "issues": [
    {"id": "SEC-1", "title": "Hard-coded API key", "description": "A credential is committed in source.", "category": "Security", "severity": "Critical", "filePath": "src/config.ts", "lineNumber": 3, "badCode": "const KEY = 'sk-live-123';", "fixedCode": "const KEY = process.env.API_KEY;"},
    {"id": "SEC-2", "title": "Unvalidated input", "description": "Request body is used without validation.", "category": "Security", "severity": "Warning", "filePath": "src/routes.ts", "lineNumber": 18, "badCode": "db.query(req.body.sql)", "fixedCode": "db.query(stmt, [req.body.id])"},
    {"id": "PERF-1", "title": "Synchronous file read", "description": "Blocking IO inside a request handler.", "category": "Performance", "severity": "Warning", "filePath": "src/server.ts", "lineNumber": 42, "badCode": "fs.readFileSync(p)", "fixedCode": "await fs.promises.readFile(p)"},
    {"id": "PERF-2", "title": "Unbounded cache", "description": "In-memory map grows without eviction.", "category": "Performance", "severity": "Info", "filePath": "src/cache.ts", "lineNumber": 7, "badCode": "cache[key] = value", "fixedCode": "lru.set(key, value)"},
    {"id": "ARCH-1", "title": "God module", "description": "One module owns routing, persistence and rendering.", "category": "Architecture", "severity": "Warning", "filePath": "src/app.ts", "lineNumber": 1, "badCode": "export class App { /* 900 lines */ }", "fixedCode": "export class Router {}\nexport class Store {}"},
    {"id": "ARCH-2", "title": "Circular import", "description": "Two packages import each other.", "category": "Architecture", "severity": "Info", "filePath": "src/a.ts", "lineNumber": 2, "badCode": "import { b } from './b'", "fixedCode": "import { b } from './shared'"}
  ]
}`
