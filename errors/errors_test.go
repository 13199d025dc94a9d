package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestInitializationError(t *testing.T) {
	innerErr := errors.New("webgl context lost")
	err := NewInitializationError(InitStepBackend, innerErr)

	if err.Step != InitStepBackend {
		t.Errorf("Step = %v, want %v", err.Step, InitStepBackend)
	}

	if !errors.Is(err, innerErr) {
		t.Error("Should unwrap to inner error")
	}

	if !strings.Contains(err.Error(), "rendering-backend") {
		t.Errorf("Error() = %q, want step name", err.Error())
	}
}

func TestUnknownToolError(t *testing.T) {
	err := NewUnknownToolError("Crosshairs", "viewerToolGroup")

	if err.Tool != "Crosshairs" {
		t.Errorf("Tool = %v, want Crosshairs", err.Tool)
	}

	var target *UnknownToolError
	if !errors.As(error(err), &target) {
		t.Error("errors.As should match *UnknownToolError")
	}

	bare := NewUnknownToolError("Magnify", "")
	if strings.Contains(bare.Error(), "tool group") {
		t.Errorf("Error() = %q, should not mention a group", bare.Error())
	}
}

func TestBindingError(t *testing.T) {
	err := NewBindingError("viewport-0", BindPhaseAssign, ErrNotInitialized)

	if err.ViewportID != "viewport-0" {
		t.Errorf("ViewportID = %v, want viewport-0", err.ViewportID)
	}

	if !errors.Is(err, ErrNotInitialized) {
		t.Error("Should unwrap to ErrNotInitialized")
	}

	if !strings.Contains(err.Error(), "assign-stack") {
		t.Errorf("Error() = %q, want phase name", err.Error())
	}
}

func TestTransportError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		temporary bool
	}{
		{"NoResponse", 0, true},
		{"NotFound", 404, false},
		{"TooManyRequests", 429, true},
		{"ServerError", 502, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTransportError("list studies", tt.status, errors.New("boom"))

			if err.Temporary() != tt.temporary {
				t.Errorf("Temporary() = %v, want %v", err.Temporary(), tt.temporary)
			}
			if err.Error() == "" {
				t.Error("Error message should not be empty")
			}
		})
	}
}

func TestInitStepString(t *testing.T) {
	tests := []struct {
		step     InitStep
		expected string
	}{
		{InitStepBackend, "rendering-backend"},
		{InitStepDecoders, "decode-workers"},
		{InitStepScheme, "image-scheme"},
		{InitStepTools, "tools"},
		{InitStepCache, "cache-capacity"},
		{InitStepEngine, "rendering-engine"},
		{InitStepToolGroup, "tool-group"},
		{InitStep(0xFF), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.step.String(); got != tt.expected {
				t.Errorf("String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBindPhaseString(t *testing.T) {
	tests := []struct {
		phase    BindPhase
		expected string
	}{
		{BindPhaseRegister, "register"},
		{BindPhaseAssign, "assign-stack"},
		{BindPhaseRender, "render"},
		{BindPhaseAttach, "attach-tool-group"},
		{BindPhaseTeardown, "teardown"},
		{BindPhase(0), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.phase.String(); got != tt.expected {
				t.Errorf("String() = %v, want %v", got, tt.expected)
			}
		})
	}
}
