package headless

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/caio-sobreiro/dicomview/interfaces"
)

// ToolMode is the state of a tool inside a group
type ToolMode int

const (
	ToolDisabled ToolMode = iota
	ToolPassive
	ToolActive
)

// ToolInfo describes one tool of a group
type ToolInfo struct {
	Name     string
	Mode     ToolMode
	Bindings []interfaces.MouseButton
}

// ToolGroup implements interfaces.ToolGroup
type ToolGroup struct {
	id         string
	registered []string
	logger     *slog.Logger

	mu        sync.Mutex
	tools     map[string]*ToolInfo
	viewports map[string]string
}

func newToolGroup(id string, registered []string, logger *slog.Logger) *ToolGroup {
	return &ToolGroup{
		id:         id,
		registered: slices.Clone(registered),
		logger:     logger,
		tools:      make(map[string]*ToolInfo),
		viewports:  make(map[string]string),
	}
}

func (g *ToolGroup) ID() string { return g.id }

func (g *ToolGroup) AddTool(name string) error {
	if !slices.Contains(g.registered, name) {
		return fmt.Errorf("tool %s is not registered", name)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.tools[name]; !ok {
		g.tools[name] = &ToolInfo{Name: name}
	}
	return nil
}

func (g *ToolGroup) tool(name string) (*ToolInfo, error) {
	t, ok := g.tools[name]
	if !ok {
		return nil, fmt.Errorf("tool %s not in group %s", name, g.id)
	}
	return t, nil
}

func (g *ToolGroup) SetToolActive(name string, bindings []interfaces.MouseButton) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.tool(name)
	if err != nil {
		return err
	}
	// a binding belongs to one tool at a time
	for other, info := range g.tools {
		if other == name {
			continue
		}
		info.Bindings = slices.DeleteFunc(info.Bindings, func(b interfaces.MouseButton) bool {
			return slices.Contains(bindings, b)
		})
		if info.Mode == ToolActive && len(info.Bindings) == 0 {
			info.Mode = ToolPassive
		}
	}
	t.Mode = ToolActive
	t.Bindings = slices.Clone(bindings)
	g.logger.Debug("Tool activated", "tool_group_id", g.id, "tool", name, "bindings", len(bindings))
	return nil
}

func (g *ToolGroup) SetToolPassive(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, err := g.tool(name)
	if err != nil {
		return err
	}
	t.Mode = ToolPassive
	t.Bindings = nil
	return nil
}

func (g *ToolGroup) AddViewport(viewportID, engineID string) error {
	if engineID == "" {
		return fmt.Errorf("viewport %s: empty engine id", viewportID)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.viewports[viewportID] = engineID
	return nil
}

func (g *ToolGroup) RemoveViewport(viewportID, engineID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.viewports, viewportID)
	return nil
}

func (g *ToolGroup) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tools = make(map[string]*ToolInfo)
	g.viewports = make(map[string]string)
}

// Tools returns a snapshot of every tool, sorted by name.
func (g *ToolGroup) Tools() []ToolInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ToolInfo, 0, len(g.tools))
	for _, t := range g.tools {
		out = append(out, ToolInfo{Name: t.Name, Mode: t.Mode, Bindings: slices.Clone(t.Bindings)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
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
