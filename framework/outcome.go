package framework

import (
	"fmt"
	"time"
)

// OutcomeKind is the error taxonomy of a repair session. Callers branch on the
// kind instead of matching error types.
type OutcomeKind string

const (
	OutcomeNone                  OutcomeKind = ""
	OutcomeToolNotFound          OutcomeKind = "tool_not_found"
	OutcomeToolTimeout           OutcomeKind = "tool_timeout"
	OutcomeToolError             OutcomeKind = "tool_error"
	OutcomeCompilationFailure    OutcomeKind = "compilation_failure"
	OutcomeAssertionFailure      OutcomeKind = "assertion_failure"
	OutcomeUnknownFailure        OutcomeKind = "unknown_failure"
	OutcomeWritePermanentError   OutcomeKind = "write_permanent_error"
	OutcomeWriteTransientError   OutcomeKind = "write_transient_error"
	OutcomeNoCorrectionExtracted OutcomeKind = "no_correction_extracted"
)

// Fatal reports whether the kind ends a session without another attempt.
func (k OutcomeKind) Fatal() bool {
	switch k {
	case OutcomeToolNotFound, OutcomeToolTimeout, OutcomeToolError:
		return true
	}
	return false
}

// Recoverable reports whether the kind drives another correction attempt.
func (k OutcomeKind) Recoverable() bool {
	switch k {
	case OutcomeCompilationFailure, OutcomeAssertionFailure, OutcomeUnknownFailure:
		return true
	}
	return false
}

// Outcome carries a classified condition with its context.
type Outcome struct {
	Kind    OutcomeKind   `json:"kind"`
	Message string        `json:"message,omitempty"`
	Module  string        `json:"module,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
}

func (o Outcome) String() string {
	if o.Kind == OutcomeNone {
		return o.Message
	}
	s := string(o.Kind)
	if o.Module != "" {
		s += " module=" + o.Module
	}
	if o.Elapsed > 0 {
		s += fmt.Sprintf(" elapsed=%s", o.Elapsed.Round(time.Millisecond))
	}
	if o.Message != "" {
		s += ": " + o.Message
	}
	return s
}

// OutcomeForFailures picks the recoverable kind that best describes a
// failure set: compilation dominates assertions, which dominate unknowns.
func OutcomeForFailures(failures []Failure) OutcomeKind {
	kind := OutcomeNone
	for _, f := range failures {
		switch f.Kind {
		case FailureCompilation:
			return OutcomeCompilationFailure
		case FailureAssertion:
			kind = OutcomeAssertionFailure
		default:
			if kind == OutcomeNone {
				kind = OutcomeUnknownFailure
			}
		}
	}
	return kind
}

// LoopState names the states of the repair state machine.
type LoopState string

const (
	StateGenerating        LoopState = "generating"
	StateWriting           LoopState = "writing"
	StateExecuting         LoopState = "executing"
	StateParsing           LoopState = "parsing"
	StateCorrecting        LoopState = "correcting"
	StateSucceeded         LoopState = "succeeded"
	StateExhaustedRetries  LoopState = "exhausted_retries"
	StateNoFixableFailures LoopState = "no_fixable_failures"
	StateFatal             LoopState = "fatal"
	StateCancelled         LoopState = "cancelled"
)

// Terminal reports whether no further transitions follow.
func (s LoopState) Terminal() bool {
	switch s {
	case StateSucceeded, StateExhaustedRetries, StateNoFixableFailures, StateFatal, StateCancelled:
		return true
	}
	return false
}

// IterationRecord is the immutable audit entry for one loop pass.
type IterationRecord struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	Failures  []Failure `json:"failures"`
	RawOutput string    `json:"raw_output"`
	ExitCodes []int     `json:"exit_codes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LoopResult is the terminal outcome of a repair session.
type LoopResult struct {
	SessionID  string          `json:"session_id"`
	Success    bool            `json:"success"`
	Iterations int             `json:"iterations"`
	FinalFiles []CandidateFile `json:"final_files"`
	Message    string          `json:"message"`
	State      LoopState       `json:"state"`
	Outcome    Outcome         `json:"outcome"`
}
