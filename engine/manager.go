// Package engine owns the single rendering-engine handle for the lifetime of
// a viewing session.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/interfaces"
)

// Settings holds the sub-initialization parameters
type Settings struct {
	EngineID      string
	DecodeWorkers int
	CacheBytes    int64
	Scheme        string
	// Tools lists every tool name registered with the tools subsystem
	Tools []string
}

// Option configures a Manager instance.
type Option func(*Manager)

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager is the only holder of the rendering-engine handle. Every engine
// mutation goes through it.
type Manager struct {
	backend  interfaces.RenderingBackend
	settings Settings
	logger   *slog.Logger

	flight singleflight.Group

	mu     sync.RWMutex
	handle interfaces.RenderingEngine
}

// NewManager builds a Manager for the given backend.
func NewManager(backend interfaces.RenderingBackend, settings Settings, opts ...Option) *Manager {
	if settings.DecodeWorkers < 1 {
		settings.DecodeWorkers = 1
	}
	m := &Manager{backend: backend, settings: settings}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Initialize performs all sub-initializations on the first call and creates
// the engine handle. Later calls return immediately. Concurrent first calls
// share a single attempt. On failure the backend is reset and an
// *errors.InitializationError is returned; a later call retries from a clean
// state.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.Initialized() {
		return nil
	}

	_, err, _ := m.flight.Do("initialize", func() (interface{}, error) {
		if m.Initialized() {
			return nil, nil
		}
		handle, err := m.initialize(ctx)
		if err != nil {
			m.backend.Reset()
			m.logger.ErrorContext(ctx, "Rendering engine initialization failed", "error", err)
			return nil, err
		}

		m.mu.Lock()
		m.handle = handle
		m.mu.Unlock()

		m.logger.InfoContext(ctx, "Rendering engine initialized",
			"engine_id", handle.ID(),
			"decode_workers", m.settings.DecodeWorkers,
			"cache_bytes", m.settings.CacheBytes)
		return nil, nil
	})
	return err
}

func (m *Manager) initialize(ctx context.Context) (interfaces.RenderingEngine, error) {
	steps := []struct {
		step errors.InitStep
		run  func() error
	}{
		{errors.InitStepBackend, func() error { return m.backend.InitCore(ctx) }},
		{errors.InitStepDecoders, func() error { return m.backend.InitDecoders(ctx, m.settings.DecodeWorkers) }},
		{errors.InitStepScheme, func() error { return m.backend.RegisterScheme(ctx, m.settings.Scheme) }},
		{errors.InitStepTools, func() error { return m.backend.InitTools(ctx, m.settings.Tools) }},
		{errors.InitStepCache, func() error { return m.backend.SetCacheCapacity(m.settings.CacheBytes) }},
	}

	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewInitializationError(s.step, err)
		}
		m.logger.DebugContext(ctx, "Running initialization step", "step", s.step.String())
		if err := s.run(); err != nil {
			return nil, errors.NewInitializationError(s.step, err)
		}
	}

	handle, err := m.backend.NewRenderingEngine(m.settings.EngineID)
	if err != nil {
		return nil, errors.NewInitializationError(errors.InitStepEngine, err)
	}
	if handle == nil {
		return nil, errors.NewInitializationError(errors.InitStepEngine, fmt.Errorf("backend returned no engine"))
	}
	return handle, nil
}

// Initialized reports whether the engine handle exists.
func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handle != nil
}

// EngineID returns the engine identifier, or "" before initialization.
func (m *Manager) EngineID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handle == nil {
		return ""
	}
	return m.handle.ID()
}

// Shutdown destroys the engine handle and resets the backend. It is safe to
// call when Initialize never ran or failed, and more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	handle := m.handle
	m.handle = nil
	m.mu.Unlock()

	if handle == nil {
		return
	}
	handle.Destroy()
	m.backend.Reset()
	m.logger.Info("Rendering engine shut down", "engine_id", handle.ID())
}

// CreateToolGroup asks the backend for a tool-group handle. The caller
// becomes its sole owner.
func (m *Manager) CreateToolGroup(id string) (interfaces.ToolGroup, error) {
	if !m.Initialized() {
		return nil, errors.ErrNotInitialized
	}
	group, err := m.backend.NewToolGroup(id)
	if err != nil {
		return nil, errors.NewInitializationError(errors.InitStepToolGroup, err)
	}
	return group, nil
}

func (m *Manager) engine() (interfaces.RenderingEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.handle == nil {
		return nil, errors.ErrNotInitialized
	}
	return m.handle, nil
}

// EnableViewport registers a surface under viewportID.
func (m *Manager) EnableViewport(viewportID string, surface interfaces.Surface) error {
	e, err := m.engine()
	if err != nil {
		return err
	}
	return e.EnableElement(interfaces.ViewportInput{
		ViewportID: viewportID,
		Surface:    surface,
	})
}

// DisableViewport unregisters viewportID. Unknown ids are ignored.
func (m *Manager) DisableViewport(viewportID string) error {
	e, err := m.engine()
	if err != nil {
		return err
	}
	if !e.HasViewport(viewportID) {
		return nil
	}
	return e.DisableElement(viewportID)
}

// HasViewport reports whether viewportID is registered with the engine.
func (m *Manager) HasViewport(viewportID string) bool {
	e, err := m.engine()
	if err != nil {
		return false
	}
	return e.HasViewport(viewportID)
}

// SetStack assigns ordered image references to a registered viewport.
func (m *Manager) SetStack(ctx context.Context, viewportID string, imageRefs []string) error {
	e, err := m.engine()
	if err != nil {
		return err
	}
	return e.SetStack(ctx, viewportID, imageRefs)
}

// Render draws a registered viewport.
func (m *Manager) Render(viewportID string) error {
	e, err := m.engine()
	if err != nil {
		return err
	}
	return e.Render(viewportID)
}

// ResetCamera restores the default camera of a registered viewport.
func (m *Manager) ResetCamera(viewportID string) error {
	e, err := m.engine()
	if err != nil {
		return err
	}
	return e.ResetCamera(viewportID)
}
