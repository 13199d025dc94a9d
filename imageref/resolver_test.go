package imageref

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dverrors "github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/types"
)

const (
	testStudy  = "1.2.840.113619.2.55"
	testSeries = "1.2.840.113619.2.55.3"
)

func instances(uids ...string) []types.Instance {
	out := make([]types.Instance, len(uids))
	for i, uid := range uids {
		out[i] = types.Instance{SOPInstanceUID: uid, InstanceNumber: i + 1}
	}
	return out
}

func TestResolvePreservesOrder(t *testing.T) {
	r := NewResolver("http://localhost:8000/api/v1/")

	refs, err := r.Resolve(testStudy, testSeries, instances("1.3", "1.1", "1.2"))
	require.NoError(t, err)
	require.Len(t, refs, 3)

	base := "wadouri:http://localhost:8000/api/v1/dicomweb/studies/" + testStudy + "/series/" + testSeries + "/instances/"
	assert.Equal(t, []string{base + "1.3", base + "1.1", base + "1.2"}, refs)
}

func TestResolveLengthMatchesInput(t *testing.T) {
	r := NewResolver("http://pacs.local/api")
	for n := 0; n < 6; n++ {
		uids := make([]string, n)
		for i := range uids {
			uids[i] = fmt.Sprintf("2.25.%d", i+1)
		}
		refs, err := r.Resolve(testStudy, testSeries, instances(uids...))
		require.NoError(t, err)
		assert.Len(t, refs, n)
	}
}

func TestResolveEmptySelection(t *testing.T) {
	r := NewResolver("http://localhost:8000/api/v1")

	tests := []struct {
		name      string
		study     string
		series    string
		instances []types.Instance
	}{
		{"NoInstances", testStudy, testSeries, nil},
		{"NoStudy", "", testSeries, instances("1.1")},
		{"NoSeries", testStudy, "", instances("1.1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs, err := r.Resolve(tt.study, tt.series, tt.instances)
			require.NoError(t, err)
			assert.NotNil(t, refs)
			assert.Empty(t, refs)
		})
	}
}

func TestResolveRejectsMalformedIdentifiers(t *testing.T) {
	r := NewResolver("http://localhost:8000/api/v1")

	tests := []struct {
		name      string
		study     string
		series    string
		instances []types.Instance
	}{
		{"Study", "1.2/../3", testSeries, instances("1.1")},
		{"Series", testStudy, "1..2", instances("1.1")},
		{"Instance", testStudy, testSeries, instances("1.1", "abc")},
		{"EmptyInstance", testStudy, testSeries, instances("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(tt.study, tt.series, tt.instances)
			require.Error(t, err)
			assert.True(t, errors.Is(err, dverrors.ErrMalformedIdentifier))
		})
	}
}

func TestValidUID(t *testing.T) {
	assert.True(t, ValidUID("1.2.840.10008.1.2.1"))
	assert.True(t, ValidUID("2.25.329800735698586629295641978511506172918"))
	assert.False(t, ValidUID(""))
	assert.False(t, ValidUID(".1.2"))
	assert.False(t, ValidUID("1.2."))
	assert.False(t, ValidUID("1.2.x"))
	assert.False(t, ValidUID("1."+string(make([]byte, 70))))
}

func TestWithScheme(t *testing.T) {
	r := NewResolver("http://h/api", WithScheme("wadors"))
	refs, err := r.Resolve("1.2", "1.3", instances("1.4"))
	require.NoError(t, err)
	assert.Equal(t, "wadors:http://h/api/dicomweb/studies/1.2/series/1.3/instances/1.4", refs[0])
	assert.Equal(t, "wadors", r.Scheme())
}

func TestParse(t *testing.T) {
	scheme, url, err := Parse("wadouri:http://h/api/dicomweb/studies/1/series/2/instances/3")
	require.NoError(t, err)
	assert.Equal(t, "wadouri", scheme)
	assert.Equal(t, "http://h/api/dicomweb/studies/1/series/2/instances/3", url)

	_, _, err = Parse("no-scheme")
	assert.ErrorIs(t, err, dverrors.ErrMalformedIdentifier)
}
