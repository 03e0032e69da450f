package enginetest

import (
	"fmt"
	"sync"

	"github.com/openfroyo/netops/pkg/engine"
)

// RecordingObserver records observer callbacks as strings such as
// "start:await-artifact", "attempt:await-artifact:0:pending" and
// "done:await-artifact:succeeded".
type RecordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (r *RecordingObserver) PhaseStarted(_ *engine.Operation, phase *engine.Phase) {
	r.add(fmt.Sprintf("start:%s", phase.Name))
}

func (r *RecordingObserver) AttemptCompleted(_ *engine.Operation, phase *engine.Phase, a engine.Attempt) {
	r.add(fmt.Sprintf("attempt:%s:%d:%s", phase.Name, a.Index, a.Outcome))
}

func (r *RecordingObserver) PhaseCompleted(_ *engine.Operation, phase *engine.Phase) {
	r.add(fmt.Sprintf("done:%s:%s", phase.Name, phase.Status))
}

// Events returns the recorded events in order.
func (r *RecordingObserver) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *RecordingObserver) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}
