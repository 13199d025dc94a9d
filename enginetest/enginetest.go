// Package enginetest provides in-memory rendering backends, engines and tool
// groups for tests. Every call is appended to a shared event log so tests
// can assert call ordering across the engine and the tool group.
package enginetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/interfaces"
)

// Recorder is a concurrency-safe event log
type Recorder struct {
	mu     sync.Mutex
	events []string
}

// Add appends an event formatted as "op:subject".
func (r *Recorder) Add(op, subject string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, op+":"+subject)
}

// Events returns a copy of the log.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events equal op:subject.
func (r *Recorder) Count(op, subject string) int {
	want := op + ":" + subject
	n := 0
	for _, e := range r.Events() {
		if e == want {
			n++
		}
	}
	return n
}

// Reset clears the log.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Surface is a fixed-size surface
type Surface struct {
	Width, Height int
}

// Size implements interfaces.Surface
func (s Surface) Size() (int, int) {
	return s.Width, s.Height
}

// Backend implements interfaces.RenderingBackend
type Backend struct {
	Log *Recorder

	// FailAt makes the matching sub-initialization return FailErr
	FailAt  errors.InitStep
	FailErr error

	// SetStackFunc is installed on every engine created by the backend
	SetStackFunc func(ctx context.Context, viewportID string, refs []string) error

	mu        sync.Mutex
	Workers   int
	Scheme    string
	Tools     []string
	CacheCap  int64
	Resets    int
	Engines   []*Engine
	Groups    []*ToolGroup
	initCalls map[errors.InitStep]int
}

// NewBackend creates a backend with an empty event log.
func NewBackend() *Backend {
	return &Backend{
		Log:       &Recorder{},
		initCalls: make(map[errors.InitStep]int),
	}
}

func (b *Backend) step(step errors.InitStep) error {
	b.mu.Lock()
	b.initCalls[step]++
	b.mu.Unlock()
	b.Log.Add("init", step.String())
	if b.FailAt == step {
		if b.FailErr != nil {
			return b.FailErr
		}
		return fmt.Errorf("%s unavailable", step)
	}
	return nil
}

// InitCalls returns how many times a sub-initialization ran.
func (b *Backend) InitCalls(step errors.InitStep) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.initCalls[step]
}

func (b *Backend) InitCore(ctx context.Context) error {
	return b.step(errors.InitStepBackend)
}

func (b *Backend) InitDecoders(ctx context.Context, workers int) error {
	if err := b.step(errors.InitStepDecoders); err != nil {
		return err
	}
	b.mu.Lock()
	b.Workers = workers
	b.mu.Unlock()
	return nil
}

func (b *Backend) RegisterScheme(ctx context.Context, scheme string) error {
	if err := b.step(errors.InitStepScheme); err != nil {
		return err
	}
	b.mu.Lock()
	b.Scheme = scheme
	b.mu.Unlock()
	return nil
}

func (b *Backend) InitTools(ctx context.Context, tools []string) error {
	if err := b.step(errors.InitStepTools); err != nil {
		return err
	}
	b.mu.Lock()
	b.Tools = append([]string(nil), tools...)
	b.mu.Unlock()
	return nil
}

func (b *Backend) SetCacheCapacity(bytes int64) error {
	if err := b.step(errors.InitStepCache); err != nil {
		return err
	}
	b.mu.Lock()
	b.CacheCap = bytes
	b.mu.Unlock()
	return nil
}

func (b *Backend) NewRenderingEngine(id string) (interfaces.RenderingEngine, error) {
	if err := b.step(errors.InitStepEngine); err != nil {
		return nil, err
	}
	e := NewEngine(id, b.Log)
	e.SetStackFunc = b.SetStackFunc
	b.mu.Lock()
	b.Engines = append(b.Engines, e)
	b.mu.Unlock()
	return e, nil
}

func (b *Backend) NewToolGroup(id string) (interfaces.ToolGroup, error) {
	if err := b.step(errors.InitStepToolGroup); err != nil {
		return nil, err
	}
	g := NewToolGroup(id, b.Log)
	b.mu.Lock()
	b.Groups = append(b.Groups, g)
	b.mu.Unlock()
	return g, nil
}

func (b *Backend) Reset() {
	b.mu.Lock()
	b.Resets++
	b.Workers = 0
	b.Scheme = ""
	b.Tools = nil
	b.CacheCap = 0
	b.mu.Unlock()
	b.Log.Add("reset", "backend")
}

// Engine returns the most recently created engine, or nil.
func (b *Backend) Engine() *Engine {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Engines) == 0 {
		return nil
	}
	return b.Engines[len(b.Engines)-1]
}

// Group returns the most recently created tool group, or nil.
func (b *Backend) Group() *ToolGroup {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Groups) == 0 {
		return nil
	}
	return b.Groups[len(b.Groups)-1]
}

// Viewport is the engine-side state of one registered surface
type Viewport struct {
	Surface interfaces.Surface
	Stack   []string
	Renders int
	Resets  int
}

// Engine implements interfaces.RenderingEngine
type Engine struct {
	id  string
	log *Recorder

	// SetStackFunc runs before the stack is stored; a non-nil error aborts
	// the assignment.
	SetStackFunc func(ctx context.Context, viewportID string, refs []string) error

	mu        sync.Mutex
	viewports map[string]*Viewport
	destroyed bool
	// StrayRenders counts render calls for ids that are not registered
	StrayRenders int
}

// NewEngine creates an engine logging to log.
func NewEngine(id string, log *Recorder) *Engine {
	if log == nil {
		log = &Recorder{}
	}
	return &Engine{id: id, log: log, viewports: make(map[string]*Viewport)}
}

func (e *Engine) ID() string { return e.id }

func (e *Engine) EnableElement(input interfaces.ViewportInput) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return fmt.Errorf("engine %s destroyed", e.id)
	}
	if _, ok := e.viewports[input.ViewportID]; ok {
		return fmt.Errorf("viewport %s already enabled", input.ViewportID)
	}
	e.viewports[input.ViewportID] = &Viewport{Surface: input.Surface}
	e.log.Add("enable", input.ViewportID)
	return nil
}

func (e *Engine) DisableElement(viewportID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.viewports, viewportID)
	e.log.Add("disable", viewportID)
	return nil
}

func (e *Engine) HasViewport(viewportID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.viewports[viewportID]
	return ok
}

func (e *Engine) SetStack(ctx context.Context, viewportID string, refs []string) error {
	e.log.Add("setStack", viewportID)
	if e.SetStackFunc != nil {
		if err := e.SetStackFunc(ctx, viewportID, refs); err != nil {
			return err
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return fmt.Errorf("viewport %s not enabled", viewportID)
	}
	vp.Stack = append([]string(nil), refs...)
	return nil
}

func (e *Engine) Render(viewportID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		e.StrayRenders++
		return fmt.Errorf("viewport %s not enabled", viewportID)
	}
	vp.Renders++
	e.log.Add("render", viewportID)
	return nil
}

func (e *Engine) ResetCamera(viewportID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return fmt.Errorf("viewport %s not enabled", viewportID)
	}
	vp.Resets++
	e.log.Add("resetCamera", viewportID)
	return nil
}

func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
	e.viewports = make(map[string]*Viewport)
	e.log.Add("destroy", e.id)
}

// Viewport returns a copy of the viewport state.
func (e *Engine) Viewport(viewportID string) (Viewport, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return Viewport{}, false
	}
	cp := *vp
	cp.Stack = append([]string(nil), vp.Stack...)
	return cp, true
}

// ViewportIDs returns the registered ids, sorted.
func (e *Engine) ViewportIDs() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.viewports))
	for id := range e.viewports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Destroyed reports whether Destroy was called.
func (e *Engine) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// ToolState is the tool-group view of one tool
type ToolState struct {
	Active   bool
	Passive  bool
	Bindings []interfaces.MouseButton
}

// ToolGroup implements interfaces.ToolGroup
type ToolGroup struct {
	id  string
	log *Recorder

	mu        sync.Mutex
	tools     map[string]*ToolState
	viewports map[string]string
	destroyed bool
}

// NewToolGroup creates a tool group logging to log.
func NewToolGroup(id string, log *Recorder) *ToolGroup {
	if log == nil {
		log = &Recorder{}
	}
	return &ToolGroup{
		id:        id,
		log:       log,
		tools:     make(map[string]*ToolState),
		viewports: make(map[string]string),
	}
}

func (g *ToolGroup) ID() string { return g.id }

func (g *ToolGroup) AddTool(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.tools[name]; ok {
		return fmt.Errorf("tool %s already added", name)
	}
	g.tools[name] = &ToolState{}
	g.log.Add("addTool", name)
	return nil
}

func (g *ToolGroup) SetToolActive(name string, bindings []interfaces.MouseButton) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.tools[name]
	if !ok {
		return fmt.Errorf("tool %s not in group %s", name, g.id)
	}
	ts.Active = true
	ts.Passive = false
	ts.Bindings = append([]interfaces.MouseButton(nil), bindings...)
	names := make([]string, len(bindings))
	for i, b := range bindings {
		names[i] = b.String()
	}
	g.log.Add("active", name+"["+strings.Join(names, ",")+"]")
	return nil
}

func (g *ToolGroup) SetToolPassive(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.tools[name]
	if !ok {
		return fmt.Errorf("tool %s not in group %s", name, g.id)
	}
	ts.Active = false
	ts.Passive = true
	ts.Bindings = nil
	g.log.Add("passive", name)
	return nil
}

func (g *ToolGroup) AddViewport(viewportID, engineID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.viewports[viewportID] = engineID
	g.log.Add("addViewport", viewportID)
	return nil
}

func (g *ToolGroup) RemoveViewport(viewportID, engineID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.viewports, viewportID)
	g.log.Add("removeViewport", viewportID)
	return nil
}

func (g *ToolGroup) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.destroyed = true
	g.viewports = make(map[string]string)
	g.log.Add("destroyGroup", g.id)
}

// Tool returns a copy of a tool's state.
func (g *ToolGroup) Tool(name string) (ToolState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ts, ok := g.tools[name]
	if !ok {
		return ToolState{}, false
	}
	cp := *ts
	cp.Bindings = append([]interfaces.MouseButton(nil), ts.Bindings...)
	return cp, true
}

// HasViewport reports whether viewportID is a member.
func (g *ToolGroup) HasViewport(viewportID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.viewports[viewportID]
	return ok
}

// ViewportIDs returns the member ids, sorted.
func (g *ToolGroup) ViewportIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.viewports))
	for id := range g.viewports {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Destroyed reports whether Destroy was called.
func (g *ToolGroup) Destroyed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.destroyed
}
