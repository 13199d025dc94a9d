package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomview/client"
	"github.com/caio-sobreiro/dicomview/dicom"
	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/headless"
	"github.com/caio-sobreiro/dicomview/imageref"
	"github.com/caio-sobreiro/dicomview/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const (
	study1  = SyntheticRoot + ".1"
	series1 = study1 + ".1"
)

func seeded(t *testing.T) *Archive {
	t.Helper()
	a := NewArchive()
	require.NoError(t, a.Seed(2, 2, 3))
	return a
}

func newTestServer(t *testing.T, a *Archive) (*httptest.Server, *client.Client) {
	t.Helper()
	ts := httptest.NewServer(New(a).Handler())
	t.Cleanup(ts.Close)
	c, err := client.New(client.Config{BaseURL: ts.URL + APIPrefix, HTTPClient: ts.Client()})
	require.NoError(t, err)
	return ts, c
}

func TestSynthesizeReadsBack(t *testing.T) {
	data, err := Synthesize(SyntheticInstance{
		StudyUID:       "1.2.3",
		SeriesUID:      "1.2.3.4",
		SOPInstanceUID: "1.2.3.4.5",
		PatientName:    "DOE^JOHN",
		PatientID:      "42",
		SeriesNumber:   7,
		InstanceNumber: 9,
		SliceLocation:  12.5,
	})
	require.NoError(t, err)
	require.True(t, dicom.HasPart10Header(data))

	h, err := dicom.ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, CTImageStorage, h.SOPClassUID)
	assert.Equal(t, "1.2.3.4.5", h.SOPInstanceUID)
	assert.Equal(t, "DOE^JOHN", h.PatientName)
	assert.Equal(t, 7, h.SeriesNumber)
	assert.Equal(t, 9, h.InstanceNumber)
	assert.Equal(t, []float64{-125, -125, 12.5}, h.ImagePositionPatient)
	assert.Equal(t, 512, h.Rows)
	assert.Equal(t, 512, h.Columns)
}

func TestArchiveListing(t *testing.T) {
	a := seeded(t)
	assert.Equal(t, 12, a.Len())

	studies := a.Studies()
	require.Len(t, studies, 2)
	assert.Equal(t, study1, studies[0].StudyInstanceUID)
	assert.Equal(t, "TEST^PATIENT1", studies[0].PatientName)
	assert.Equal(t, "CT", studies[0].Modality)
	assert.Equal(t, 2, studies[0].SeriesCount)
	assert.Equal(t, 6, studies[0].InstanceCount)

	detail, ok := a.Study(study1)
	require.True(t, ok)
	require.Len(t, detail.Series, 2)
	assert.Equal(t, 1, detail.Series[0].SeriesNumber)
	assert.Equal(t, 3, detail.Series[0].InstanceCount)

	series, ok := a.Series(study1, series1)
	require.True(t, ok)
	require.Len(t, series.Instances, 3)
	for i, inst := range series.Instances {
		assert.Equal(t, i+1, inst.InstanceNumber)
		assert.True(t, inst.HasPosition())
	}

	_, ok = a.Study("9.9")
	assert.False(t, ok)
	assert.True(t, a.Delete(study1))
	assert.False(t, a.Delete(study1))
	assert.Len(t, a.Studies(), 1)
}

func TestArchiveRejectsInvalidData(t *testing.T) {
	a := NewArchive()
	_, err := a.Store([]byte("not dicom"))
	assert.Error(t, err)
	assert.Zero(t, a.Len())
}

func TestClientAgainstServer(t *testing.T) {
	ctx := context.Background()
	_, c := newTestServer(t, seeded(t))

	studies, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, studies, 2)

	detail, err := c.Get(ctx, study1)
	require.NoError(t, err)
	assert.Len(t, detail.Series, 2)

	series, err := c.GetSeries(ctx, study1, series1)
	require.NoError(t, err)
	assert.Len(t, series.Instances, 3)

	require.NoError(t, c.Delete(ctx, study1))
	err = c.Delete(ctx, study1)
	var transportErr *errors.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusNotFound, transportErr.StatusCode)
	assert.Contains(t, err.Error(), "Study not found")
}

func TestUploadThroughClient(t *testing.T) {
	ctx := context.Background()
	a := NewArchive()
	_, c := newTestServer(t, a)

	good, err := Synthesize(SyntheticInstance{
		StudyUID:       "1.2.5",
		SeriesUID:      "1.2.5.1",
		SOPInstanceUID: "1.2.5.1.1",
		InstanceNumber: 1,
	})
	require.NoError(t, err)

	result, err := c.Upload(ctx, []types.UploadFile{
		types.NewUploadFile("good.dcm", good),
		types.NewUploadFile("bad.dcm", []byte("garbage")),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "bad.dcm", result.Errors[0].Filename)
	assert.Contains(t, result.Errors[0].Error, "Invalid DICOM file")
	assert.Equal(t, 1, a.Len())
}

func TestInstanceFetch(t *testing.T) {
	ctx := context.Background()
	ts, _ := newTestServer(t, seeded(t))

	resolver := imageref.NewResolver(ts.URL + APIPrefix)
	refs, err := resolver.Resolve(study1, series1, []types.Instance{{SOPInstanceUID: series1 + ".2"}})
	require.NoError(t, err)

	registry := headless.NewLoaderRegistry()
	registry.RegisterLoader(imageref.SchemeWADOURI, headless.NewHTTPLoader(ts.Client()))
	data, err := registry.Load(ctx, refs[0])
	require.NoError(t, err)

	h, err := dicom.ReadHeader(data)
	require.NoError(t, err)
	assert.Equal(t, series1+".2", h.SOPInstanceUID)
	assert.Equal(t, 2, h.InstanceNumber)
}

func TestErrorResponses(t *testing.T) {
	ts, _ := newTestServer(t, seeded(t))

	tests := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"unknown study", http.MethodGet, "/studies/9.9.9", http.StatusNotFound},
		{"unknown series", http.MethodGet, "/studies/" + study1 + "/series/9.9", http.StatusNotFound},
		{"malformed uid", http.MethodGet, "/studies/abc", http.StatusBadRequest},
		{"unknown instance", http.MethodGet, "/dicomweb/studies/" + study1 + "/series/" + series1 + "/instances/9.9", http.StatusNotFound},
		{"upload without body", http.MethodPost, "/upload/", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+APIPrefix+tt.path, nil)
			require.NoError(t, err)
			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ListenAndServe(ctx, "127.0.0.1:0", NewArchive()) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
