package pipeline

import (
	"time"

	"github.com/tracefold/chipline/internal/receipt"
)

// Stage identifies a pipeline stage. The set is closed and the order
// is fixed; a submission visits stages strictly in this order and
// never skips one it reaches.
type Stage int

const (
	StageKnock Stage = iota // structural admission
	StageWA                 // work authorization (replay check)
	StageCheck              // policy evaluation
	StageTR                 // metered transform
	StageWF                 // seal and append
)

func (s Stage) String() string {
	switch s {
	case StageKnock:
		return "knock"
	case StageWA:
		return "wa"
	case StageCheck:
		return "check"
	case StageTR:
		return "tr"
	case StageWF:
		return "wf"
	default:
		return "unknown"
	}
}

// TraceEntry records one stage's outcome within a run.
type TraceEntry struct {
	Stage    Stage
	Status   string // receipt.StageOK or receipt.StageRejected
	Code     string
	Detail   string
	Duration time.Duration
}

// Trace accumulates stage outcomes as a run progresses. A trace ends
// at the first rejected stage: nothing after it executed, so nothing
// after it is recorded.
type Trace struct {
	entries []TraceEntry
}

func (t *Trace) ok(stage Stage, d time.Duration) {
	t.entries = append(t.entries, TraceEntry{Stage: stage, Status: receipt.StageOK, Duration: d})
}

func (t *Trace) rejected(stage Stage, code, detail string, d time.Duration) {
	t.entries = append(t.entries, TraceEntry{
		Stage:    stage,
		Status:   receipt.StageRejected,
		Code:     code,
		Detail:   detail,
		Duration: d,
	})
}

// Entries returns the recorded stage outcomes in execution order.
func (t *Trace) Entries() []TraceEntry {
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// stageResults lowers the trace into receipt form.
func (t *Trace) stageResults() []receipt.StageResult {
	out := make([]receipt.StageResult, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, receipt.StageResult{
			Stage:      e.Stage.String(),
			Status:     e.Status,
			Code:       e.Code,
			Detail:     e.Detail,
			DurationMS: e.Duration.Milliseconds(),
		})
	}
	return out
}
