package supmcu

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/OpenSupMCU/internal/types"
)

var (
	ErrFraming           = errors.New("supmcu: framing error")
	ErrNotReady          = errors.New("supmcu: telemetry not ready")
	ErrLengthMismatch    = errors.New("supmcu: length mismatch")
	ErrUnknownModule     = errors.New("supmcu: unknown module")
	ErrUnknownTelemetry  = errors.New("supmcu: unknown telemetry")
	ErrUnknownCommand    = errors.New("supmcu: unknown command")
	ErrDynamicLength     = errors.New("supmcu: format contains a variable length string")
	ErrDuplicateModule   = errors.New("supmcu: duplicate module")
	ErrInvalidDefinition = errors.New("supmcu: invalid definition")
)

// FramingError reports malformed or truncated response bytes.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string { return "supmcu: framing error: " + e.Reason }
func (e *FramingError) Unwrap() error { return ErrFraming }

func framingErrorf(format string, args ...any) error {
	return &FramingError{Reason: fmt.Sprintf(format, args...)}
}

// NotReadyError is returned when the response header has ready=false.
// The caller may retry with a longer response delay.
type NotReadyError struct {
	Command string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("supmcu: response to %q not ready, increase the response delay", e.Command)
}
func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// LengthMismatchError carries payload byte counts expected by the format
// and actually read.
type LengthMismatchError struct {
	Format   string
	Expected int
	Actual   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("supmcu: format %q expects %d payload bytes, got %d", e.Format, e.Expected, e.Actual)
}
func (e *LengthMismatchError) Unwrap() error { return ErrLengthMismatch }

type UnknownModuleError struct {
	Ref string
}

func (e *UnknownModuleError) Error() string {
	return fmt.Sprintf("supmcu: unknown module %q", e.Ref)
}
func (e *UnknownModuleError) Unwrap() error { return ErrUnknownModule }

type UnknownTelemetryError struct {
	Module string
	Type   types.TelemetryType
	Index  int
	Name   string
}

func (e *UnknownTelemetryError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("supmcu: module %s has no telemetry named %q", e.Module, e.Name)
	}
	return fmt.Sprintf("supmcu: module %s has no %s telemetry %d", e.Module, e.Type, e.Index)
}
func (e *UnknownTelemetryError) Unwrap() error { return ErrUnknownTelemetry }

type UnknownCommandError struct {
	Module string
	Name   string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("supmcu: module %s has no command %q", e.Module, e.Name)
}
func (e *UnknownCommandError) Unwrap() error { return ErrUnknownCommand }
