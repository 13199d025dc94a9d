package headless

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomview/dicom"
	"github.com/caio-sobreiro/dicomview/engine"
	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/imageref"
	"github.com/caio-sobreiro/dicomview/tools"
	"github.com/caio-sobreiro/dicomview/types"
)

type fakeSurface struct{}

func (fakeSurface) Size() (int, int) { return 256, 256 }

func instanceFile(t *testing.T, sop string, number int) []byte {
	t.Helper()
	ds := dicom.NewDataset()
	ds.AddElement(dicom.TagSOPInstanceUID, dicom.VR_UI, sop)
	ds.AddElement(dicom.TagStudyInstanceUID, dicom.VR_UI, "1.2.3")
	ds.AddElement(dicom.TagSeriesInstanceUID, dicom.VR_UI, "1.2.3.4")
	ds.AddElement(dicom.TagInstanceNumber, dicom.VR_IS, number)
	ds.AddElement(dicom.TagRows, dicom.VR_US, []uint16{64})
	ds.AddElement(dicom.TagColumns, dicom.VR_US, []uint16{64})
	data, err := dicom.EncodePart10(ds, dicom.TransferSyntaxExplicitVRLittleEndian)
	require.NoError(t, err)
	return data
}

// dicomServer serves instances under /dicomweb/studies/.../instances/{sop}
func dicomServer(t *testing.T, files map[string][]byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		sop := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		data, ok := files[sop]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/dicom")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newInitializedManager(t *testing.T, registry *LoaderRegistry) (*engine.Manager, *Backend) {
	t.Helper()
	backend := NewBackend(registry)
	m := engine.NewManager(backend, engine.Settings{
		EngineID:      "headlessEngine",
		DecodeWorkers: 2,
		CacheBytes:    64 << 20,
		Scheme:        imageref.SchemeWADOURI,
		Tools:         tools.Names(),
	})
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(m.Shutdown)
	return m, backend
}

func TestLoaderRegistry(t *testing.T) {
	registry := NewLoaderRegistry()
	registry.RegisterLoader("wadouri", NewHTTPLoader(nil))
	registry.RegisterLoader("test", NewHTTPLoader(nil))

	assert.True(t, registry.HasLoader("wadouri"))
	assert.Equal(t, []string{"test", "wadouri"}, registry.RegisteredSchemes())

	registry.UnregisterLoader("test")
	assert.False(t, registry.HasLoader("test"))

	_, err := registry.Load(context.Background(), "dicomfile:/tmp/a.dcm")
	assert.ErrorIs(t, err, errors.ErrUnsupportedScheme)

	_, err = registry.Load(context.Background(), "no-scheme")
	assert.ErrorIs(t, err, errors.ErrMalformedIdentifier)
}

func TestHTTPLoaderStatusError(t *testing.T) {
	srv, _ := dicomServer(t, nil)

	_, err := NewHTTPLoader(srv.Client()).Load(context.Background(), srv.URL+"/missing")

	var transport *errors.TransportError
	require.ErrorAs(t, err, &transport)
	assert.Equal(t, http.StatusNotFound, transport.StatusCode)
	assert.False(t, transport.Temporary())
}

func TestInitializeRequiresSchemeLoader(t *testing.T) {
	backend := NewBackend(NewLoaderRegistry())
	m := engine.NewManager(backend, engine.Settings{
		EngineID:      "headlessEngine",
		DecodeWorkers: 1,
		CacheBytes:    1 << 20,
		Scheme:        imageref.SchemeWADOURI,
		Tools:         tools.Names(),
	})

	err := m.Initialize(context.Background())

	var initErr *errors.InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, errors.InitStepScheme, initErr.Step)
	assert.ErrorIs(t, err, errors.ErrUnsupportedScheme)
	assert.False(t, m.Initialized())
}

func TestSetStackDecodesAndCaches(t *testing.T) {
	files := map[string][]byte{
		"1.2.3.4.1": instanceFile(t, "1.2.3.4.1", 1),
		"1.2.3.4.2": instanceFile(t, "1.2.3.4.2", 2),
		"1.2.3.4.3": instanceFile(t, "1.2.3.4.3", 3),
	}
	srv, hits := dicomServer(t, files)

	registry := NewLoaderRegistry()
	registry.RegisterLoader(imageref.SchemeWADOURI, NewHTTPLoader(srv.Client()))
	m, backend := newInitializedManager(t, registry)

	resolver := imageref.NewResolver(srv.URL)
	refs, err := resolver.Resolve("1.2.3", "1.2.3.4", []types.Instance{
		{SOPInstanceUID: "1.2.3.4.3"},
		{SOPInstanceUID: "1.2.3.4.1"},
		{SOPInstanceUID: "1.2.3.4.2"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, m.EnableViewport("vp-0", fakeSurface{}))
	require.NoError(t, m.SetStack(ctx, "vp-0", refs))
	require.NoError(t, m.Render("vp-0"))

	eng := backend.Engine()
	require.NotNil(t, eng)
	info, ok := eng.Viewport("vp-0")
	require.True(t, ok)
	assert.Equal(t, 3, info.Images)
	assert.Equal(t, 1, info.Renders)
	require.NotNil(t, info.Current)
	// stack order follows the references, not the instance numbers
	assert.Equal(t, "1.2.3.4.3", info.Current.Header.SOPInstanceUID)
	assert.Equal(t, int32(3), hits.Load())

	// a second assignment is served from the cache
	require.NoError(t, m.SetStack(ctx, "vp-0", refs))
	assert.Equal(t, int32(3), hits.Load())

	idx, err := eng.Scroll("vp-0", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)
	require.NoError(t, m.ResetCamera("vp-0"))
}

func TestSetStackFailure(t *testing.T) {
	srv, _ := dicomServer(t, map[string][]byte{
		"1.2.3.4.1": []byte("not dicom"),
	})
	registry := NewLoaderRegistry()
	registry.RegisterLoader(imageref.SchemeWADOURI, NewHTTPLoader(srv.Client()))
	m, _ := newInitializedManager(t, registry)

	require.NoError(t, m.EnableViewport("vp-0", fakeSurface{}))

	tests := []struct {
		name string
		sop  string
	}{
		{"Undecodable", "1.2.3.4.1"},
		{"Missing", "1.2.3.4.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := fmt.Sprintf("wadouri:%s/dicomweb/studies/1.2.3/series/1.2.3.4/instances/%s", srv.URL, tt.sop)
			assert.Error(t, m.SetStack(context.Background(), "vp-0", []string{ref}))
		})
	}

	assert.Error(t, m.SetStack(context.Background(), "vp-unknown", []string{"wadouri:" + srv.URL}))
}

func TestToolGroupWithController(t *testing.T) {
	registry := NewLoaderRegistry()
	registry.RegisterLoader(imageref.SchemeWADOURI, NewHTTPLoader(nil))
	m, _ := newInitializedManager(t, registry)

	group, err := m.CreateToolGroup("headlessGroup")
	require.NoError(t, err)

	c := tools.NewController()
	require.NoError(t, c.Setup(group, m.EngineID()))
	require.NoError(t, c.ActivatePrimary(tools.Length))
	require.NoError(t, c.AddViewport("vp-0"))

	hg := group.(*ToolGroup)
	modes := make(map[string]ToolMode)
	for _, info := range hg.Tools() {
		modes[info.Name] = info.Mode
	}
	assert.Equal(t, ToolActive, modes["Length"])
	assert.Equal(t, ToolPassive, modes["WindowLevel"])
	assert.Equal(t, ToolActive, modes["Zoom"])
	assert.Equal(t, []string{"vp-0"}, hg.ViewportIDs())

	assert.Error(t, hg.AddTool("Lasso"))
}
