package pipeline

import "fmt"

type Status int

const (
	StatusCompleted Status = iota
	StatusFailed
	StatusCanceled
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureUnknown
	FailureTypeMismatch
	FailureDecode
	FailureSource
	FailureTransform
	FailureSink
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureUnknown:
		return "unknown"
	case FailureTypeMismatch:
		return "type_mismatch"
	case FailureDecode:
		return "decode_failure"
	case FailureSource:
		return "source_failed"
	case FailureTransform:
		return "transform_failed"
	case FailureSink:
		return "sink_failed"
	default:
		return "unknown"
	}
}

// Outcome is the terminal classification of one pipeline run. SafeMessage
// never carries stage internals beyond an error type name.
type Outcome struct {
	Status      Status
	Failure     FailureKind
	SafeMessage string
}

func Completed() Outcome {
	return Outcome{Status: StatusCompleted}
}

func Canceled() Outcome {
	return Outcome{Status: StatusCanceled, SafeMessage: "canceled"}
}

func Blocked(safeMessage string) Outcome {
	return Outcome{Status: StatusBlocked, SafeMessage: safeMessage}
}

func Failed(kind FailureKind, safeMessage string) Outcome {
	return Outcome{Status: StatusFailed, Failure: kind, SafeMessage: safeMessage}
}

// BlockedError is raised by a transform to stop the run for policy reasons.
// SafeMessage is the only part surfaced to callers.
type BlockedError struct {
	SafeMessage string
}

func (e *BlockedError) Error() string { return e.SafeMessage }

// DecodeError reports malformed input that a stage refused to guess around.
type DecodeError struct {
	SafeMessage string
	Err         error
}

func (e *DecodeError) Error() string { return e.SafeMessage }

func (e *DecodeError) Unwrap() error { return e.Err }

// StageError carries an explicit failure kind from a stage that knows which
// part of the run it belongs to.
type StageError struct {
	Kind        FailureKind
	SafeMessage string
	Err         error
}

func (e *StageError) Error() string { return e.SafeMessage }

func (e *StageError) Unwrap() error { return e.Err }

func wrongKindError(kind FailureKind, want, got ChunkKind) *StageError {
	return &StageError{
		Kind:        kind,
		SafeMessage: fmt.Sprintf("expected %s chunk, got %q", want, got),
	}
}
