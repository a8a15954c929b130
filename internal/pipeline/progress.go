package pipeline

import "fmt"

// PhaseStatus is the lifecycle state carried by a ProgressEvent.
type PhaseStatus int

const (
	PhaseStarted PhaseStatus = iota
	PhaseCompleted
	PhaseFailed
)

// ProgressEvent reports one phase transition of a run.
type ProgressEvent struct {
	RunID   string
	Phase   string
	Status  PhaseStatus
	Units   int
	Message string
}

// ProgressReporter emits progress events through a buffered channel.
type ProgressReporter struct {
	ch chan ProgressEvent
}

// NewProgressReporter creates a ProgressReporter with a buffered channel of size 64.
func NewProgressReporter() *ProgressReporter {
	return &ProgressReporter{
		ch: make(chan ProgressEvent, 64),
	}
}

// Emit sends a progress event without blocking. If the channel is full, the
// event is dropped. A nil reporter discards everything.
func (pr *ProgressReporter) Emit(event ProgressEvent) {
	if pr == nil {
		return
	}
	select {
	case pr.ch <- event:
	default:
	}
}

// Subscribe returns a read-only channel for consuming progress events.
func (pr *ProgressReporter) Subscribe() <-chan ProgressEvent {
	return pr.ch
}

// Close closes the progress event channel.
func (pr *ProgressReporter) Close() {
	close(pr.ch)
}

// FormatProgress formats a ProgressEvent as a human-readable status line.
func FormatProgress(event ProgressEvent) string {
	switch event.Status {
	case PhaseStarted:
		return fmt.Sprintf("  ● %s (%d units)...", event.Phase, event.Units)
	case PhaseCompleted:
		return fmt.Sprintf("  ✓ %s complete", event.Phase)
	case PhaseFailed:
		return fmt.Sprintf("  ✗ %s failed: %s", event.Phase, event.Message)
	default:
		return fmt.Sprintf("  ? %s (unknown status)", event.Phase)
	}
}
