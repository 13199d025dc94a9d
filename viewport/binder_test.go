package viewport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomview/engine"
	"github.com/caio-sobreiro/dicomview/enginetest"
	dverrors "github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/tools"
)

var surface = enginetest.Surface{Width: 512, Height: 512}

type harness struct {
	backend  *enginetest.Backend
	manager  *engine.Manager
	tools    *tools.Controller
	binder   *Binder
	engine   *enginetest.Engine
	group    *enginetest.ToolGroup
	recorder *enginetest.Recorder
}

func newHarness(t *testing.T, setStack func(ctx context.Context, id string, refs []string) error) *harness {
	t.Helper()

	backend := enginetest.NewBackend()
	backend.SetStackFunc = setStack

	m := engine.NewManager(backend, engine.Settings{
		EngineID: "testEngine",
		Scheme:   "wadouri",
		Tools:    tools.Names(),
	})
	require.NoError(t, m.Initialize(context.Background()))

	group, err := m.CreateToolGroup("testGroup")
	require.NoError(t, err)
	c := tools.NewController()
	require.NoError(t, c.Setup(group, m.EngineID()))

	backend.Log.Reset()
	return &harness{
		backend:  backend,
		manager:  m,
		tools:    c,
		binder:   NewBinder(m, c),
		engine:   backend.Engine(),
		group:    backend.Group(),
		recorder: backend.Log,
	}
}

func refs(series string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("wadouri:http://api/dicomweb/studies/1.2/series/%s/instances/%d", series, i+1)
	}
	return out
}

func TestBindOrder(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.binder.Bind(context.Background(), "vp-0", surface, refs("1.3", 3)))

	assert.Equal(t, []string{
		"enable:vp-0",
		"setStack:vp-0",
		"render:vp-0",
		"addViewport:vp-0",
	}, h.recorder.Events())

	vp, ok := h.engine.Viewport("vp-0")
	require.True(t, ok)
	assert.Equal(t, refs("1.3", 3), vp.Stack)
	assert.True(t, h.group.HasViewport("vp-0"))

	bound, ok := h.binder.Binding("vp-0")
	require.True(t, ok)
	assert.Len(t, bound, 3)
	assert.Equal(t, []string{"vp-0"}, h.binder.Bound())
}

func TestRebindKeepsRegistration(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.binder.Bind(ctx, "vp-0", surface, refs("1.3", 3)))
	require.NoError(t, h.binder.Bind(ctx, "vp-0", surface, refs("1.4", 5)))

	assert.Equal(t, 1, h.recorder.Count("enable", "vp-0"))
	assert.Equal(t, 0, h.recorder.Count("disable", "vp-0"))
	assert.Equal(t, 2, h.recorder.Count("setStack", "vp-0"))
	assert.Equal(t, 2, h.recorder.Count("render", "vp-0"))
	assert.Equal(t, 1, h.recorder.Count("addViewport", "vp-0"))

	vp, _ := h.engine.Viewport("vp-0")
	assert.Equal(t, refs("1.4", 5), vp.Stack)
}

func TestEmptySelectionIsNotRegistered(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.binder.Bind(context.Background(), "vp-0", surface, nil))

	assert.False(t, h.engine.HasViewport("vp-0"))
	assert.False(t, h.group.HasViewport("vp-0"))
	assert.Empty(t, h.recorder.Events())
	assert.Empty(t, h.binder.Bound())
}

func TestEmptyRefsTearDownBoundViewport(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	require.NoError(t, h.binder.Bind(ctx, "vp-0", surface, refs("1.3", 2)))
	h.recorder.Reset()

	require.NoError(t, h.binder.Bind(ctx, "vp-0", surface, []string{}))

	assert.Equal(t, []string{"removeViewport:vp-0", "disable:vp-0"}, h.recorder.Events())
	assert.False(t, h.engine.HasViewport("vp-0"))
	_, ok := h.binder.Binding("vp-0")
	assert.False(t, ok)
}

func TestSymmetricTeardown(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.binder.Bind(ctx, "vp-0", surface, refs("1.3", i+1)))
		require.NoError(t, h.binder.Unbind("vp-0"))

		assert.False(t, h.engine.HasViewport("vp-0"), "cycle %d", i)
		assert.False(t, h.group.HasViewport("vp-0"), "cycle %d", i)
		assert.False(t, h.tools.HasViewport("vp-0"), "cycle %d", i)
	}
	assert.Empty(t, h.engine.ViewportIDs())
	assert.Empty(t, h.group.ViewportIDs())
	assert.Empty(t, h.binder.Bound())
}

func TestUnbindIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	assert.NoError(t, h.binder.Unbind("never-bound"))

	require.NoError(t, h.binder.Bind(context.Background(), "vp-0", surface, refs("1.3", 1)))
	assert.NoError(t, h.binder.Unbind("vp-0"))
	assert.NoError(t, h.binder.Unbind("vp-0"))
	assert.Equal(t, 1, h.recorder.Count("disable", "vp-0"))
}

func TestStaleRenderSuppressed(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, id string, refs []string) error {
		close(started)
		// resolution arrives late and ignores cancellation
		<-release
		return nil
	})

	result := make(chan error, 1)
	go func() {
		result <- h.binder.Bind(context.Background(), "vp-0", surface, refs("1.3", 3))
	}()

	<-started
	require.NoError(t, h.binder.Unbind("vp-0"))
	close(release)

	err := <-result
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, 0, h.recorder.Count("render", "vp-0"))
	assert.Equal(t, 0, h.engine.StrayRenders)
	assert.False(t, h.engine.HasViewport("vp-0"))
	assert.False(t, h.group.HasViewport("vp-0"))
	assert.Empty(t, h.binder.Bound())
}

func TestSelectionSwitchBeforeAssignmentResolves(t *testing.T) {
	started := make(chan struct{})
	aborted := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, func(ctx context.Context, id string, refs []string) error {
		if len(refs) != 3 {
			return nil
		}
		close(started)
		<-ctx.Done()
		close(aborted)
		// series A lands after series B was requested
		<-release
		return nil
	})

	ctx := context.Background()
	resultA := make(chan error, 1)
	resultB := make(chan error, 1)

	go func() { resultA <- h.binder.Bind(ctx, "vp-0", surface, refs("A", 3)) }()
	<-started
	go func() { resultB <- h.binder.Bind(ctx, "vp-0", surface, refs("B", 5)) }()
	<-aborted
	close(release)

	assert.ErrorIs(t, <-resultA, ErrSuperseded)
	require.NoError(t, <-resultB)

	vp, ok := h.engine.Viewport("vp-0")
	require.True(t, ok)
	assert.Equal(t, refs("B", 5), vp.Stack)
	assert.Equal(t, 1, vp.Renders)

	bound, _ := h.binder.Binding("vp-0")
	assert.Equal(t, refs("B", 5), bound)
	assert.Equal(t, 1, h.recorder.Count("enable", "vp-0"))
}

func TestBindBeforeInitialize(t *testing.T) {
	backend := enginetest.NewBackend()
	m := engine.NewManager(backend, engine.Settings{EngineID: "testEngine"})
	b := NewBinder(m, tools.NewController())

	err := b.Bind(context.Background(), "vp-0", surface, refs("1.3", 1))

	var bindErr *dverrors.BindingError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, dverrors.BindPhaseRegister, bindErr.Phase)
	assert.True(t, errors.Is(err, dverrors.ErrNotInitialized))
	assert.Empty(t, b.Bound())
}

func TestAssignFailureLeavesViewportUnregistered(t *testing.T) {
	h := newHarness(t, func(ctx context.Context, id string, refs []string) error {
		return errors.New("decode failed")
	})

	err := h.binder.Bind(context.Background(), "vp-0", surface, refs("1.3", 2))

	var bindErr *dverrors.BindingError
	require.ErrorAs(t, err, &bindErr)
	assert.Equal(t, dverrors.BindPhaseAssign, bindErr.Phase)
	assert.Equal(t, "vp-0", bindErr.ViewportID)
	assert.False(t, h.engine.HasViewport("vp-0"))
	assert.False(t, h.group.HasViewport("vp-0"))
	assert.Equal(t, 0, h.recorder.Count("render", "vp-0"))
}

func TestCallerCancellationDuringAssignment(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, func(ctx context.Context, id string, refs []string) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	err := h.binder.Bind(ctx, "vp-0", surface, refs("1.3", 2))

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.engine.HasViewport("vp-0"))
	assert.Equal(t, 0, h.recorder.Count("render", "vp-0"))
}

func TestUnbindAll(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, id := range []string{"vp-0", "vp-1", "vp-2"} {
		require.NoError(t, h.binder.Bind(ctx, id, surface, refs("1.3", 2)))
	}
	assert.Equal(t, []string{"vp-0", "vp-1", "vp-2"}, h.binder.Bound())

	require.NoError(t, h.binder.UnbindAll())
	assert.Empty(t, h.binder.Bound())
	assert.Empty(t, h.engine.ViewportIDs())
	assert.Empty(t, h.group.ViewportIDs())
}
