package tools

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/interfaces"
)

// Option configures a Controller instance.
type Option func(*Controller)

// WithLogger overrides the logger used by the controller.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// Controller is the only holder of the tool-group handle. It tracks which
// tool holds each mouse binding and keeps the group in step with it.
type Controller struct {
	logger *slog.Logger

	mu       sync.Mutex
	group    interfaces.ToolGroup
	engineID string
	// bindings per tool currently pushed to the group
	bindings map[Tool][]interfaces.MouseButton
	members  map[string]struct{}
}

// NewController creates a controller with no tool group attached.
func NewController(opts ...Option) *Controller {
	c := &Controller{
		bindings: make(map[Tool][]interfaces.MouseButton),
		members:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Setup adds every group tool to group and applies the default bindings.
// Viewports joining the group are attached to engineID. Calling Setup on a
// controller that already owns a group is a no-op.
func (c *Controller) Setup(group interfaces.ToolGroup, engineID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group != nil {
		return nil
	}
	if group == nil {
		return errors.NewInitializationError(errors.InitStepToolGroup, fmt.Errorf("no tool group"))
	}

	bindings := make(map[Tool][]interfaces.MouseButton)
	for _, t := range All() {
		def := toolTable[t]
		if !def.inGroup {
			continue
		}
		if err := group.AddTool(def.name); err != nil {
			group.Destroy()
			return errors.NewInitializationError(errors.InitStepToolGroup, err)
		}
		var b []interfaces.MouseButton
		if def.defaultPrimary {
			b = append(b, interfaces.MouseButtonPrimary)
		}
		b = append(b, def.fixed...)
		if err := apply(group, t, b); err != nil {
			group.Destroy()
			return errors.NewInitializationError(errors.InitStepToolGroup, err)
		}
		bindings[t] = b
	}

	c.group = group
	c.engineID = engineID
	c.bindings = bindings
	c.members = make(map[string]struct{})

	c.logger.Info("Tool group ready", "tool_group_id", group.ID(), "engine_id", engineID)
	return nil
}

// apply pushes a binding set to the group: active when non-empty, passive
// otherwise.
func apply(group interfaces.ToolGroup, t Tool, b []interfaces.MouseButton) error {
	if len(b) == 0 {
		return group.SetToolPassive(t.String())
	}
	return group.SetToolActive(t.String(), b)
}

// Ready reports whether a tool group is attached.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group != nil
}

func (c *Controller) member(t Tool) bool {
	if !t.valid() || !toolTable[t].inGroup {
		return false
	}
	_, ok := c.bindings[t]
	return ok
}

func (c *Controller) holder(b interfaces.MouseButton) (Tool, bool) {
	for t, held := range c.bindings {
		if slices.Contains(held, b) {
			return t, true
		}
	}
	return 0, false
}

// ActivatePrimary gives t the primary binding. The previous holder loses it
// and falls back to its fixed bindings, or to passive when it has none.
func (c *Controller) ActivatePrimary(t Tool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group == nil {
		return errors.ErrNotInitialized
	}
	if !c.member(t) {
		return errors.NewUnknownToolError(t.String(), c.group.ID())
	}

	prev, held := c.holder(interfaces.MouseButtonPrimary)
	if held && prev == t {
		return nil
	}

	if held {
		demoted := fixedOf(prev)
		if err := apply(c.group, prev, demoted); err != nil {
			return fmt.Errorf("demote %s: %w", prev, err)
		}
		c.bindings[prev] = demoted
	}

	promoted := append([]interfaces.MouseButton{interfaces.MouseButtonPrimary}, toolTable[t].fixed...)
	if err := c.group.SetToolActive(t.String(), promoted); err != nil {
		if held {
			restore := append([]interfaces.MouseButton{interfaces.MouseButtonPrimary}, toolTable[prev].fixed...)
			if rerr := c.group.SetToolActive(prev.String(), restore); rerr == nil {
				c.bindings[prev] = restore
			}
		}
		return fmt.Errorf("activate %s: %w", t, err)
	}
	c.bindings[t] = promoted

	c.logger.Debug("Primary tool changed", "tool", t.String(), "previous", prev.String())
	return nil
}

func fixedOf(t Tool) []interfaces.MouseButton {
	return append([]interfaces.MouseButton(nil), toolTable[t].fixed...)
}

// SetPassive removes the primary binding from t. Tools with fixed bindings
// stay active on them. Tools that are not in the group are ignored.
func (c *Controller) SetPassive(t Tool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group == nil {
		return errors.ErrNotInitialized
	}
	if !c.member(t) {
		c.logger.Debug("Ignoring passive request for tool outside the group", "tool", t.String())
		return nil
	}

	next := fixedOf(t)
	if slices.Equal(c.bindings[t], next) {
		return nil
	}
	if err := apply(c.group, t, next); err != nil {
		return fmt.Errorf("passive %s: %w", t, err)
	}
	c.bindings[t] = next
	return nil
}

// Primary returns the tool holding the primary binding.
func (c *Controller) Primary() (Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holder(interfaces.MouseButtonPrimary)
}

// State returns the observable mode of t.
func (c *Controller) State(t Tool) Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group == nil || !c.member(t) {
		return ModeInactive
	}
	b := c.bindings[t]
	if len(b) == 0 {
		return ModePassive
	}
	if slices.Contains(b, interfaces.MouseButtonPrimary) {
		return ModeActivePrimary
	}
	return modeFor(b[0])
}

// AddViewport attaches viewportID to the group. Attaching a member again is
// a no-op.
func (c *Controller) AddViewport(viewportID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group == nil {
		return errors.ErrNotInitialized
	}
	if _, ok := c.members[viewportID]; ok {
		return nil
	}
	if err := c.group.AddViewport(viewportID, c.engineID); err != nil {
		return err
	}
	c.members[viewportID] = struct{}{}
	return nil
}

// RemoveViewport detaches viewportID from the group. Unknown ids are
// ignored.
func (c *Controller) RemoveViewport(viewportID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.group == nil {
		return nil
	}
	if _, ok := c.members[viewportID]; !ok {
		return nil
	}
	if err := c.group.RemoveViewport(viewportID, c.engineID); err != nil {
		return err
	}
	delete(c.members, viewportID)
	return nil
}

// HasViewport reports whether viewportID is attached to the group.
func (c *Controller) HasViewport(viewportID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.members[viewportID]
	return ok
}

// Destroy releases the tool group. The controller can be set up again
// afterwards.
func (c *Controller) Destroy() {
	c.mu.Lock()
	group := c.group
	c.group = nil
	c.engineID = ""
	c.bindings = make(map[Tool][]interfaces.MouseButton)
	c.members = make(map[string]struct{})
	c.mu.Unlock()

	if group == nil {
		return
	}
	group.Destroy()
	c.logger.Info("Tool group destroyed", "tool_group_id", group.ID())
}
