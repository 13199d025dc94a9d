// Package viewport binds viewport surfaces to the rendering engine and the
// tool group, and tears them down again.
package viewport

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/interfaces"
)

// ErrSuperseded is returned by Bind when a later bind or a teardown for the
// same viewport took over before the assignment completed.
var ErrSuperseded = errors.ErrSuperseded

// Engine is the subset of the engine manager used by the binder
type Engine interface {
	EnableViewport(viewportID string, surface interfaces.Surface) error
	DisableViewport(viewportID string) error
	HasViewport(viewportID string) bool
	SetStack(ctx context.Context, viewportID string, imageRefs []string) error
	Render(viewportID string) error
}

// ToolGroup is the subset of the tool controller used by the binder
type ToolGroup interface {
	AddViewport(viewportID string) error
	RemoveViewport(viewportID string) error
}

// Option configures a Binder instance.
type Option func(*Binder)

// WithLogger overrides the logger used by the binder.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Binder) {
		b.logger = logger
	}
}

// slot tracks one viewport id across binds
type slot struct {
	// gen increases on every bind and teardown; an assignment only takes
	// effect if its generation is still current when it resolves
	gen uint64
	// refs is the stack currently bound, nil when unbound
	refs []string
	// cancel aborts the pending assignment, if any
	cancel context.CancelFunc
	// done is closed when the latest assignment has finished
	done    chan struct{}
	pending bool
}

// Binder keeps the engine and the tool group consistent with the stacks
// requested per viewport id. A viewport id is registered with the engine if
// and only if it has a non-empty binding.
type Binder struct {
	engine Engine
	group  ToolGroup
	logger *slog.Logger

	mu    sync.Mutex
	slots map[string]*slot
}

// NewBinder creates a binder driving engine and group.
func NewBinder(engine Engine, group ToolGroup, opts ...Option) *Binder {
	b := &Binder{
		engine: engine,
		group:  group,
		slots:  make(map[string]*slot),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Bind assigns refs to viewportID. An empty refs tears the viewport down.
// Otherwise the surface is registered if needed, the stack is assigned,
// the viewport is rendered and finally attached to the tool group.
//
// Bind blocks until the assignment resolves. Binds for the same id run one
// after another; starting a new bind cancels the pending one, which then
// returns ErrSuperseded without rendering.
func (b *Binder) Bind(ctx context.Context, viewportID string, surface interfaces.Surface, refs []string) error {
	if len(refs) == 0 {
		return b.Unbind(viewportID)
	}
	refs = append([]string(nil), refs...)

	b.mu.Lock()
	s := b.slot(viewportID)
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	prev := s.done
	assignCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.pending = true
	b.mu.Unlock()

	defer b.finish(viewportID, s, done, cancel)

	if prev != nil {
		select {
		case <-prev:
		case <-assignCtx.Done():
			return b.abandon(assignCtx, viewportID, s, gen)
		}
	}

	// (1) register
	b.mu.Lock()
	if s.gen != gen {
		b.mu.Unlock()
		return ErrSuperseded
	}
	if !b.engine.HasViewport(viewportID) {
		if err := b.engine.EnableViewport(viewportID, surface); err != nil {
			s.refs = nil
			b.mu.Unlock()
			b.logger.Warn("Failed to register viewport", "viewport_id", viewportID, "error", err)
			return errors.NewBindingError(viewportID, errors.BindPhaseRegister, err)
		}
		b.logger.Debug("Viewport registered", "viewport_id", viewportID)
	}
	b.mu.Unlock()

	// (2) assign
	err := b.engine.SetStack(assignCtx, viewportID, refs)

	b.mu.Lock()
	defer b.mu.Unlock()

	if s.gen != gen {
		b.logger.Debug("Dropping stale stack assignment", "viewport_id", viewportID, "images", len(refs))
		return ErrSuperseded
	}
	if cerr := assignCtx.Err(); cerr != nil {
		return b.fail(viewportID, s, errors.BindPhaseAssign, cerr)
	}
	if err != nil {
		return b.fail(viewportID, s, errors.BindPhaseAssign, err)
	}

	// (3) render
	if err := b.engine.Render(viewportID); err != nil {
		return b.fail(viewportID, s, errors.BindPhaseRender, err)
	}

	// (4) attach
	if err := b.group.AddViewport(viewportID); err != nil {
		return b.fail(viewportID, s, errors.BindPhaseAttach, err)
	}

	s.refs = refs
	b.logger.Debug("Viewport bound", "viewport_id", viewportID, "images", len(refs))
	return nil
}

// abandon handles a caller context that ended while waiting for the previous
// assignment.
func (b *Binder) abandon(ctx context.Context, viewportID string, s *slot, gen uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.gen != gen {
		return ErrSuperseded
	}
	return errors.NewBindingError(viewportID, errors.BindPhaseAssign, ctx.Err())
}

// fail tears the viewport down after a failed phase. Caller holds b.mu.
func (b *Binder) fail(viewportID string, s *slot, phase errors.BindPhase, err error) error {
	s.gen++
	b.teardown(viewportID, s)
	b.logger.Warn("Viewport bind failed", "viewport_id", viewportID, "phase", phase.String(), "error", err)
	return errors.NewBindingError(viewportID, phase, err)
}

// finish releases the assignment and drops the slot once nothing refers to
// it.
func (b *Binder) finish(viewportID string, s *slot, done chan struct{}, cancel context.CancelFunc) {
	cancel()
	close(done)

	b.mu.Lock()
	defer b.mu.Unlock()
	if s.done == done {
		s.pending = false
		s.cancel = nil
		if s.refs == nil && b.slots[viewportID] == s {
			delete(b.slots, viewportID)
		}
	}
}

func (b *Binder) slot(viewportID string) *slot {
	s, ok := b.slots[viewportID]
	if !ok {
		s = &slot{}
		b.slots[viewportID] = s
	}
	return s
}

// teardown removes the viewport from the tool group, then from the engine.
// Caller holds b.mu.
func (b *Binder) teardown(viewportID string, s *slot) error {
	s.refs = nil
	var errs []error
	if err := b.group.RemoveViewport(viewportID); err != nil {
		errs = append(errs, err)
	}
	if b.engine.HasViewport(viewportID) {
		if err := b.engine.DisableViewport(viewportID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.NewBindingError(viewportID, errors.BindPhaseTeardown, stderrors.Join(errs...))
	}
	return nil
}

// Unbind tears viewportID down and cancels any pending assignment for it.
// Unbinding an id that was never bound is a no-op.
func (b *Binder) Unbind(viewportID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.slots[viewportID]
	if !ok {
		return nil
	}
	s.gen++
	if s.cancel != nil {
		s.cancel()
	}
	err := b.teardown(viewportID, s)
	if !s.pending {
		delete(b.slots, viewportID)
	}
	if err != nil {
		b.logger.Warn("Viewport teardown incomplete", "viewport_id", viewportID, "error", err)
		return err
	}
	b.logger.Debug("Viewport torn down", "viewport_id", viewportID)
	return nil
}

// UnbindAll tears down every known viewport.
func (b *Binder) UnbindAll() error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.slots))
	for id := range b.slots {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := b.Unbind(id); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// Binding returns the stack bound to viewportID.
func (b *Binder) Binding(viewportID string) ([]string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.slots[viewportID]
	if !ok || s.refs == nil {
		return nil, false
	}
	return append([]string(nil), s.refs...), true
}

// Bound returns the ids with a live binding, sorted.
func (b *Binder) Bound() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.slots))
	for id, s := range b.slots {
		if s.refs != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
