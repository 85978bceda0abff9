package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds shared by every stage. Stages wrap these with context so that
// callers can classify with errors.Is.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrEncode            = errors.New("encode failed")
	ErrTransport         = errors.New("detection service unreachable")
	ErrMalformedPayload  = errors.New("malformed detection payload")
	ErrAlreadyRunning    = errors.New("live session already running")
	ErrNotRunning        = errors.New("no live session running")
	ErrPhaseConflict     = errors.New("operation not allowed in current phase")
)

// Kind names the error kind of err, "Internal" when it matches none
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnavailable):
		return "SourceUnavailable"
	case errors.Is(err, ErrEncode):
		return "EncodeError"
	case errors.Is(err, ErrTransport):
		return "TransportError"
	case errors.Is(err, ErrMalformedPayload):
		return "MalformedPayload"
	case errors.Is(err, ErrAlreadyRunning):
		return "AlreadyRunning"
	case errors.Is(err, ErrNotRunning):
		return "NotRunning"
	case errors.Is(err, ErrPhaseConflict):
		return "PhaseConflict"
	default:
		return "Internal"
	}
}

// ServiceError carries the error message the detection service embedded in
// a failure response
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("detection service returned status %d", e.StatusCode)
	}
	return e.Message
}

// Is makes a ServiceError classify as ErrTransport
func (e *ServiceError) Is(target error) bool {
	return target == ErrTransport
}
