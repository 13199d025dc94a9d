// Package errors provides viewer-specific error types for better error handling
package errors

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNotInitialized      = errors.New("dicomview: engine not initialized")
	ErrMalformedIdentifier = errors.New("dicomview: malformed identifier")
	ErrUnsupportedScheme   = errors.New("dicomview: unsupported image scheme")
	ErrInvalidLayout       = errors.New("dicomview: invalid layout")
	ErrSessionClosed       = errors.New("dicomview: session closed")
	ErrNoSelection         = errors.New("dicomview: no study selected")
	ErrSuperseded          = errors.New("dicomview: viewport binding superseded")
	ErrUnknownViewport     = errors.New("dicomview: unknown viewport")
)

// InitStep identifies the sub-initialization that failed
type InitStep byte

const (
	InitStepUnknown InitStep = iota
	InitStepBackend
	InitStepDecoders
	InitStepScheme
	InitStepTools
	InitStepCache
	InitStepEngine
	InitStepToolGroup
)

func (s InitStep) String() string {
	switch s {
	case InitStepBackend:
		return "rendering-backend"
	case InitStepDecoders:
		return "decode-workers"
	case InitStepScheme:
		return "image-scheme"
	case InitStepTools:
		return "tools"
	case InitStepCache:
		return "cache-capacity"
	case InitStepEngine:
		return "rendering-engine"
	case InitStepToolGroup:
		return "tool-group"
	default:
		return "unknown"
	}
}

// InitializationError is fatal to the viewing session. Binding is blocked
// until a clean re-initialization succeeds.
type InitializationError struct {
	Step InitStep
	Err  error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("initialization failed at %s: %v", e.Step, e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// NewInitializationError creates a new initialization error
func NewInitializationError(step InitStep, err error) *InitializationError {
	return &InitializationError{
		Step: step,
		Err:  err,
	}
}

// UnknownToolError is returned when a tool is not part of the tool group.
type UnknownToolError struct {
	Tool  string
	Group string
}

func (e *UnknownToolError) Error() string {
	if e.Group == "" {
		return fmt.Sprintf("unknown tool %q", e.Tool)
	}
	return fmt.Sprintf("unknown tool %q in tool group %s", e.Tool, e.Group)
}

// NewUnknownToolError creates a new unknown tool error
func NewUnknownToolError(tool, group string) *UnknownToolError {
	return &UnknownToolError{
		Tool:  tool,
		Group: group,
	}
}

// BindPhase identifies where a viewport bind failed
type BindPhase byte

const (
	BindPhaseRegister BindPhase = iota + 1
	BindPhaseAssign
	BindPhaseRender
	BindPhaseAttach
	BindPhaseTeardown
)

func (p BindPhase) String() string {
	switch p {
	case BindPhaseRegister:
		return "register"
	case BindPhaseAssign:
		return "assign-stack"
	case BindPhaseRender:
		return "render"
	case BindPhaseAttach:
		return "attach-tool-group"
	case BindPhaseTeardown:
		return "teardown"
	default:
		return "unknown"
	}
}

// BindingError represents a recoverable per-viewport failure
type BindingError struct {
	ViewportID string
	Phase      BindPhase
	Err        error
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("viewport %s: %s failed: %v", e.ViewportID, e.Phase, e.Err)
}

func (e *BindingError) Unwrap() error {
	return e.Err
}

// NewBindingError creates a new binding error
func NewBindingError(viewportID string, phase BindPhase, err error) *BindingError {
	return &BindingError{
		ViewportID: viewportID,
		Phase:      phase,
		Err:        err,
	}
}

// TransportError represents a listing, upload, or fetch failure
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error during %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the same request may succeed.
func (e *TransportError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == 429
}

// NewTransportError creates a new transport error
func NewTransportError(op string, statusCode int, err error) *TransportError {
	return &TransportError{
		Op:         op,
		StatusCode: statusCode,
		Err:        err,
	}
}
