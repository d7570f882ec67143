package narration

import (
	"errors"
	"fmt"
)

// ErrorClass partitions narration failures for telemetry and caller
// handling. Values are stable wire strings, not display text.
type ErrorClass string

const (
	ClassProviderError    ErrorClass = "provider_error"
	ClassProviderTimeout  ErrorClass = "provider_timeout"
	ClassDecodeError      ErrorClass = "decode_error"
	ClassMissingSession   ErrorClass = "missing_session"
	ClassContextError     ErrorClass = "context_error"
	ClassPersistenceError ErrorClass = "persistence_error"
)

// ErrDecode marks malformed provider payloads. Providers wrap their decode
// failures with it so dispatch can classify them apart from transport errors.
var ErrDecode = errors.New("narration: malformed provider payload")

// PipelineError is a classified failure raised by a middleware stage.
type PipelineError struct {
	Class     ErrorClass
	Message   string
	SessionID string
	Trace     Trace
	Stage     string
	Err       error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s (stage=%s session=%s)", e.Class, e.Message, e.Stage, e.SessionID)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// ClassOf extracts the error class, defaulting to provider_error for
// anything unclassified.
func ClassOf(err error) ErrorClass {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return ClassProviderError
}
