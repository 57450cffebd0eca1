package pipeline

import "time"

// Event is one (log line, percent) pair of a run's progress stream.
type Event struct {
	Seq     int       `json:"seq"`
	LogLine string    `json:"logLine"`
	Percent int       `json:"percent"`
	State   State     `json:"state"`
	Time    time.Time `json:"time"`
}

// Emitter receives events in order. Implementations must not block for long;
// the orchestrator calls them inline.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(ev Event) { f(ev) }

// MultiEmitter fans an event out to several emitters in order.
type MultiEmitter []Emitter

func (m MultiEmitter) Emit(ev Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(ev)
		}
	}
}

type noopEmitter struct{}

func (noopEmitter) Emit(Event) {}
