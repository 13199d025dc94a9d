// Package tools owns the single tool group and its mouse-binding state
// machine.
package tools

import (
	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/interfaces"
)

// Tool is one of the closed set of interaction and measurement tools
type Tool int

const (
	WindowLevel Tool = iota + 1
	Zoom
	Pan
	StackScroll
	Length
	Probe
	RectangleROI
	EllipticalROI
	Bidirectional
	Angle
	ArrowAnnotate
	Crosshairs

	toolCount = int(Crosshairs)
)

// toolDef is one row of the transition table
type toolDef struct {
	name string
	// inGroup tools are added to the viewer tool group; the rest are only
	// registered with the tools subsystem
	inGroup bool
	// fixed bindings are assigned at construction and never reassigned
	fixed []interfaces.MouseButton
	// defaultPrimary holds the primary binding after setup
	defaultPrimary bool
}

var toolTable = [...]toolDef{
	WindowLevel:   {name: "WindowLevel", inGroup: true, defaultPrimary: true},
	Zoom:          {name: "Zoom", inGroup: true, fixed: []interfaces.MouseButton{interfaces.MouseButtonSecondary}},
	Pan:           {name: "Pan", inGroup: true, fixed: []interfaces.MouseButton{interfaces.MouseButtonAuxiliary}},
	StackScroll:   {name: "StackScroll", inGroup: true, fixed: []interfaces.MouseButton{interfaces.MouseButtonWheel}},
	Length:        {name: "Length", inGroup: true},
	Probe:         {name: "Probe", inGroup: true},
	RectangleROI:  {name: "RectangleROI", inGroup: true},
	EllipticalROI: {name: "EllipticalROI", inGroup: true},
	Bidirectional: {name: "Bidirectional", inGroup: true},
	Angle:         {name: "Angle", inGroup: true},
	ArrowAnnotate: {name: "ArrowAnnotate", inGroup: true},
	Crosshairs:    {name: "Crosshairs"},
}

// Toolbar lists the tools offered for the primary binding, in display order
var Toolbar = []Tool{WindowLevel, Zoom, Pan, Length, EllipticalROI, RectangleROI, Bidirectional, Angle}

func (t Tool) valid() bool {
	return t >= WindowLevel && int(t) <= toolCount
}

func (t Tool) String() string {
	if !t.valid() {
		return "Unknown"
	}
	return toolTable[t].name
}

// Fixed returns the bindings a tool holds regardless of primary switching.
func (t Tool) Fixed() []interfaces.MouseButton {
	if !t.valid() {
		return nil
	}
	return append([]interfaces.MouseButton(nil), toolTable[t].fixed...)
}

// All returns every tool registered with the tools subsystem.
func All() []Tool {
	out := make([]Tool, 0, toolCount)
	for t := WindowLevel; int(t) <= toolCount; t++ {
		out = append(out, t)
	}
	return out
}

// Names returns the registration names of All.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, t := range all {
		names[i] = t.String()
	}
	return names
}

// ParseTool maps a tool name to its variant.
func ParseTool(name string) (Tool, error) {
	for t := WindowLevel; int(t) <= toolCount; t++ {
		if toolTable[t].name == name {
			return t, nil
		}
	}
	return 0, errors.NewUnknownToolError(name, "")
}

// Mode is the observable state of a tool in the group
type Mode int

const (
	ModeInactive Mode = iota
	ModePassive
	ModeActivePrimary
	ModeActiveSecondary
	ModeActiveAuxiliary
	ModeActiveWheel
)

func (m Mode) String() string {
	switch m {
	case ModePassive:
		return "passive"
	case ModeActivePrimary:
		return "active-primary"
	case ModeActiveSecondary:
		return "active-secondary"
	case ModeActiveAuxiliary:
		return "active-auxiliary"
	case ModeActiveWheel:
		return "active-wheel"
	default:
		return "inactive"
	}
}

func modeFor(b interfaces.MouseButton) Mode {
	switch b {
	case interfaces.MouseButtonPrimary:
		return ModeActivePrimary
	case interfaces.MouseButtonSecondary:
		return ModeActiveSecondary
	case interfaces.MouseButtonAuxiliary:
		return ModeActiveAuxiliary
	case interfaces.MouseButtonWheel:
		return ModeActiveWheel
	default:
		return ModePassive
	}
}
