// Package interfaces contains the collaborator contracts driven by the viewer
package interfaces

import "context"

// MouseButton identifies an input binding a tool can hold
type MouseButton int

const (
	MouseButtonPrimary MouseButton = iota + 1
	MouseButtonSecondary
	MouseButtonAuxiliary
	MouseButtonWheel
)

func (b MouseButton) String() string {
	switch b {
	case MouseButtonPrimary:
		return "primary"
	case MouseButtonSecondary:
		return "secondary"
	case MouseButtonAuxiliary:
		return "auxiliary"
	case MouseButtonWheel:
		return "wheel"
	default:
		return "none"
	}
}

// Surface is the drawable area a viewport renders into
type Surface interface {
	Size() (width, height int)
}

// ViewportInput describes a surface to enable on the engine
type ViewportInput struct {
	ViewportID string
	Surface    Surface
	Background [3]float64
}

// RenderingBackend performs the process-wide sub-initializations and
// creates the engine and tool-group handles.
type RenderingBackend interface {
	InitCore(ctx context.Context) error
	InitDecoders(ctx context.Context, workers int) error
	RegisterScheme(ctx context.Context, scheme string) error
	InitTools(ctx context.Context, tools []string) error
	SetCacheCapacity(bytes int64) error
	NewRenderingEngine(id string) (RenderingEngine, error)
	NewToolGroup(id string) (ToolGroup, error)
	// Reset reverts every sub-initialization performed so far
	Reset()
}

// RenderingEngine is the retained, imperative rendering engine
type RenderingEngine interface {
	ID() string
	EnableElement(input ViewportInput) error
	DisableElement(viewportID string) error
	HasViewport(viewportID string) bool
	// SetStack assigns the ordered image references to a viewport. It may
	// block on image fetch and decode; implementations should honour ctx.
	SetStack(ctx context.Context, viewportID string, imageRefs []string) error
	Render(viewportID string) error
	ResetCamera(viewportID string) error
	Destroy()
}

// ToolGroup is the set of viewports sharing one tool configuration
type ToolGroup interface {
	ID() string
	AddTool(name string) error
	SetToolActive(name string, bindings []MouseButton) error
	SetToolPassive(name string) error
	AddViewport(viewportID, engineID string) error
	RemoveViewport(viewportID, engineID string) error
	Destroy()
}
