package resources

import "fmt"

// Severity of a diagnostic. Hard failures are errors, never diagnostics.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// DiagnosticKind names what the engine substituted.
type DiagnosticKind string

const (
	// KindMemoryCapped: the per-process request exceeds a node and was capped to node memory.
	KindMemoryCapped DiagnosticKind = "memory-capped"
	// KindThreadsAdjusted: the thread count was raised to fit memory.
	KindThreadsAdjusted DiagnosticKind = "threads-adjusted"
	// KindThreadsOversubscribed: one process needs more threads than a node has cores.
	KindThreadsOversubscribed DiagnosticKind = "threads-oversubscribed"
)

// Diagnostic is a non-fatal note about how a request was changed.
type Diagnostic struct {
	Severity    Severity       `json:"severity" yaml:"severity"`
	Kind        DiagnosticKind `json:"kind" yaml:"kind"`
	Task        string         `json:"task" yaml:"task"`
	Requested   string         `json:"requested" yaml:"requested"`
	Substituted string         `json:"substituted" yaml:"substituted"`
	Message     string         `json:"message" yaml:"message"`
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s %s: %s", d.Severity, d.Task, d.Message)
}

// Fields returns the diagnostic as structured log fields.
func (d Diagnostic) Fields() map[string]interface{} {
	return map[string]interface{}{
		"task":        d.Task,
		"kind":        string(d.Kind),
		"requested":   d.Requested,
		"substituted": d.Substituted,
	}
}
