package progress

import (
	"context"
	"sync"
)

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// fetch and discovery layers stay agnostic about buffering or persistence.
type Emitter interface {
	Emit(evt Event)
}

// Recorder is a synchronous Emitter that keeps every valid event in memory.
// Tests and the one-shot CLI use it.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records evt if it validates.
func (r *Recorder) Emit(evt Event) {
	if evt.Validate() != nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// ByStage returns recorded events of the given stage.
func (r *Recorder) ByStage(stage Stage) []Event {
	var out []Event
	for _, evt := range r.Events() {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}
