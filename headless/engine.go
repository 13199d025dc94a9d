package headless

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomview/interfaces"
)

// Camera is the view transform of a viewport
type Camera struct {
	Zoom float64
	PanX float64
	PanY float64
}

var defaultCamera = Camera{Zoom: 1}

type viewportState struct {
	surface    interfaces.Surface
	background [3]float64
	stack      []*Image
	index      int
	camera     Camera
	renders    int
}

// ViewportInfo is a snapshot of one viewport
type ViewportInfo struct {
	ID      string
	Width   int
	Height  int
	Images  int
	Index   int
	Current *Image
	Camera  Camera
	Renders int
}

// Engine implements interfaces.RenderingEngine
type Engine struct {
	id      string
	backend *Backend

	mu        sync.Mutex
	viewports map[string]*viewportState
	destroyed bool
}

func newEngine(id string, backend *Backend) *Engine {
	return &Engine{
		id:        id,
		backend:   backend,
		viewports: make(map[string]*viewportState),
	}
}

func (e *Engine) ID() string { return e.id }

func (e *Engine) EnableElement(input interfaces.ViewportInput) error {
	if input.Surface == nil {
		return fmt.Errorf("viewport %s: no surface", input.ViewportID)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return fmt.Errorf("engine %s destroyed", e.id)
	}
	if _, ok := e.viewports[input.ViewportID]; ok {
		return fmt.Errorf("viewport %s already enabled", input.ViewportID)
	}
	e.viewports[input.ViewportID] = &viewportState{
		surface:    input.Surface,
		background: input.Background,
		camera:     defaultCamera,
	}
	return nil
}

func (e *Engine) DisableElement(viewportID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.viewports, viewportID)
	return nil
}

func (e *Engine) HasViewport(viewportID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.viewports[viewportID]
	return ok
}

// SetStack fetches and decodes every image on the decode worker pool. The
// stack is only replaced once all images decoded.
func (e *Engine) SetStack(ctx context.Context, viewportID string, imageRefs []string) error {
	if !e.HasViewport(viewportID) {
		return fmt.Errorf("viewport %s not enabled", viewportID)
	}

	images := make([]*Image, len(imageRefs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.backend.decodeWorkers()))
	for i, ref := range imageRefs {
		g.Go(func() error {
			img, err := e.backend.load(gctx, ref)
			if err != nil {
				return err
			}
			images[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return fmt.Errorf("viewport %s not enabled", viewportID)
	}
	vp.stack = images
	vp.index = 0
	vp.camera = defaultCamera
	return nil
}

func (e *Engine) Render(viewportID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return fmt.Errorf("viewport %s not enabled", viewportID)
	}
	vp.renders++
	return nil
}

func (e *Engine) ResetCamera(viewportID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return fmt.Errorf("viewport %s not enabled", viewportID)
	}
	vp.camera = defaultCamera
	return nil
}

// Scroll moves the current image index by delta, clamped to the stack.
func (e *Engine) Scroll(viewportID string, delta int) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return 0, fmt.Errorf("viewport %s not enabled", viewportID)
	}
	if len(vp.stack) == 0 {
		return 0, nil
	}
	vp.index = max(0, min(len(vp.stack)-1, vp.index+delta))
	return vp.index, nil
}

func (e *Engine) Destroy() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = true
	e.viewports = make(map[string]*viewportState)
}

// Viewport returns a snapshot of a registered viewport.
func (e *Engine) Viewport(viewportID string) (ViewportInfo, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	vp, ok := e.viewports[viewportID]
	if !ok {
		return ViewportInfo{}, false
	}
	w, h := vp.surface.Size()
	info := ViewportInfo{
		ID:      viewportID,
		Width:   w,
		Height:  h,
		Images:  len(vp.stack),
		Index:   vp.index,
		Camera:  vp.camera,
		Renders: vp.renders,
	}
	if len(vp.stack) > 0 {
		info.Current = vp.stack[vp.index]
	}
	return info, true
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
