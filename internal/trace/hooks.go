package trace

import (
	"context"
	"encoding/json"

	"repoaudit/internal/pipeline"
)

const (
	SourcePipeline = "pipeline"
	SourceModel    = "model"
)

// RunEmitter mirrors a run's progress events into its trace.
type RunEmitter struct {
	Logger *Logger
	RunID  string
}

func (e RunEmitter) Emit(ev pipeline.Event) {
	e.Logger.Append(e.RunID, SourcePipeline, string(ev.State), map[string]any{
		"seq":     ev.Seq,
		"log":     ev.LogLine,
		"percent": ev.Percent,
	})
}

// ModelHook records model request and response sizes for a run. It
// satisfies llm.PromptHook.
type ModelHook struct {
	Logger *Logger
	RunID  string
}

func (h ModelHook) Before(_ context.Context, phase, prompt string) {
	h.Logger.Append(h.RunID, SourceModel, phase+".request", map[string]any{"prompt_bytes": len(prompt)})
}

func (h ModelHook) After(_ context.Context, phase string, raw json.RawMessage, err error) {
	fields := map[string]any{"response_bytes": len(raw)}
	if err != nil {
		fields["error"] = err.Error()
	}
	h.Logger.Append(h.RunID, SourceModel, phase+".response", fields)
}
