// Package trace records per-run diagnostics as JSONL and optionally archives
// finished traces to S3-compatible storage.
package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

var runIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// DefaultDir is used when no directory is configured.
var DefaultDir = filepath.Join("tmp", "run_logs")

// Event is a structured run trace event persisted as JSON.
type Event struct {
	Timestamp string         `json:"timestamp"`
	RunID     string         `json:"run_id"`
	Source    string         `json:"source"`
	Stage     string         `json:"stage"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger persists run-scoped trace events into JSONL files.
type Logger struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

func NewLogger(dir string) *Logger {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		trimmed = DefaultDir
	}
	_ = os.MkdirAll(trimmed, 0o755)
	return &Logger{dir: trimmed, now: time.Now}
}

func sanitizeRunID(runID string) string {
	id := strings.TrimSpace(runID)
	if id == "" {
		return "unknown"
	}
	return runIDSanitizer.ReplaceAllString(id, "_")
}

func (l *Logger) filePath(runID string) string {
	return filepath.Join(l.dir, sanitizeRunID(runID)+".jsonl")
}

// Append writes one trace line for the run. Write failures are swallowed;
// tracing never fails a run.
func (l *Logger) Append(runID, source, stage string, fields map[string]any) {
	if l == nil || strings.TrimSpace(runID) == "" {
		return
	}
	event := Event{
		Timestamp: l.now().UTC().Format(time.RFC3339Nano),
		RunID:     strings.TrimSpace(runID),
		Source:    strings.TrimSpace(source),
		Stage:     strings.TrimSpace(stage),
	}
	if len(fields) > 0 {
		event.Fields = fields
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return
	}
	raw = append(raw, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_ = os.MkdirAll(l.dir, 0o755)
	f, err := os.OpenFile(l.filePath(runID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(raw)
}

// Raw returns the trace file bytes, or nil when the run has no trace.
func (l *Logger) Raw(runID string) ([]byte, error) {
	if l == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, err := os.ReadFile(l.filePath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read trace file: %w", err)
	}
	return b, nil
}

// Read returns all persisted trace events for a run.
func (l *Logger) Read(runID string) ([]Event, error) {
	raw, err := l.Raw(runID)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes JSONL trace bytes, skipping malformed lines.
func Parse(raw []byte) ([]Event, error) {
	out := make([]Event, 0, 64)
	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan trace file: %w", err)
	}
	return out, nil
}
