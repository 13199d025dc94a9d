package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dverrors "github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/tools"
	"github.com/caio-sobreiro/dicomview/types"
)

var (
	studyA = types.Study{StudyInstanceUID: "1.2.1", PatientName: "DOE^JANE"}
	studyB = types.Study{StudyInstanceUID: "1.2.2", PatientName: "ROE^RICHARD"}
	series = types.Series{SeriesInstanceUID: "1.2.1.1", SeriesNumber: 1}
)

func instances(n int) []types.Instance {
	out := make([]types.Instance, n)
	for i := range out {
		out[i] = types.Instance{
			SOPInstanceUID:       "1.2.1.1." + string(rune('1'+i)),
			InstanceNumber:       i + 1,
			ImagePositionPatient: []float64{0, 0, float64(i)},
		}
	}
	return out
}

func TestNewDefaults(t *testing.T) {
	s := New(types.Layout{Rows: 9, Cols: 9}, tools.WindowLevel)
	st := s.Snapshot()

	assert.Equal(t, types.Layout1x1, st.Layout)
	assert.Equal(t, tools.WindowLevel, st.ActiveTool)
	assert.False(t, st.HasSeries())
}

func TestSelectStudyClearsSeriesAndInstances(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)
	s.SetStudies([]types.Study{studyA, studyB})

	s.SelectStudy(studyA, []types.Series{series})
	require.NoError(t, s.SelectSeries(series, instances(3)))
	assert.True(t, s.Snapshot().HasSeries())

	s.SelectStudy(studyB, nil)
	st := s.Snapshot()
	assert.Equal(t, studyB.StudyInstanceUID, st.CurrentStudy.StudyInstanceUID)
	assert.Nil(t, st.CurrentSeries)
	assert.Empty(t, st.Instances)
	assert.Empty(t, st.Series)
}

func TestSelectSeriesReplacesInstancesTogether(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)

	err := s.SelectSeries(series, instances(2))
	assert.True(t, errors.Is(err, dverrors.ErrNoSelection))

	s.SelectStudy(studyA, []types.Series{series})
	v0 := s.Snapshot().SelectionVersion

	require.NoError(t, s.SelectSeries(series, instances(3)))
	other := types.Series{SeriesInstanceUID: "1.2.1.2", SeriesNumber: 2}
	require.NoError(t, s.SelectSeries(other, instances(5)))

	st := s.Snapshot()
	assert.Equal(t, "1.2.1.2", st.CurrentSeries.SeriesInstanceUID)
	assert.Len(t, st.Instances, 5)
	assert.Equal(t, v0+2, st.SelectionVersion)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)
	s.SetStudies([]types.Study{studyA})
	s.SelectStudy(studyA, []types.Series{series})
	require.NoError(t, s.SelectSeries(series, instances(2)))

	st := s.Snapshot()
	st.Studies[0].PatientName = "changed"
	st.CurrentStudy.PatientName = "changed"
	st.Instances[0].ImagePositionPatient[2] = 99

	again := s.Snapshot()
	assert.Equal(t, "DOE^JANE", again.Studies[0].PatientName)
	assert.Equal(t, "DOE^JANE", again.CurrentStudy.PatientName)
	assert.Equal(t, 0.0, again.Instances[0].ImagePositionPatient[2])
}

func TestSetStudiesDropsStaleSelection(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)
	s.SetStudies([]types.Study{studyA, studyB})
	s.SelectStudy(studyA, nil)

	s.SetStudies([]types.Study{studyA})
	assert.NotNil(t, s.Snapshot().CurrentStudy)

	s.SetStudies([]types.Study{studyB})
	assert.Nil(t, s.Snapshot().CurrentStudy)
}

func TestUpsertAndRemoveStudy(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)
	s.SetStudies([]types.Study{studyA})

	updated := studyA
	updated.InstanceCount = 12
	s.UpsertStudy(updated)
	s.UpsertStudy(studyB)

	st := s.Snapshot()
	require.Len(t, st.Studies, 2)
	assert.Equal(t, 12, st.Studies[0].InstanceCount)

	s.SelectStudy(studyA, []types.Series{series})
	assert.True(t, s.RemoveStudy(studyA.StudyInstanceUID))
	assert.False(t, s.RemoveStudy(studyA.StudyInstanceUID))

	st = s.Snapshot()
	assert.Len(t, st.Studies, 1)
	assert.Nil(t, st.CurrentStudy)
}

func TestSetLayout(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)

	require.NoError(t, s.SetLayout(types.Layout2x2))
	assert.Equal(t, types.Layout2x2, s.Snapshot().Layout)

	err := s.SetLayout(types.Layout{Rows: 0, Cols: 2})
	assert.True(t, errors.Is(err, dverrors.ErrInvalidLayout))
	assert.Equal(t, types.Layout2x2, s.Snapshot().Layout)
}

func TestFlags(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)

	done := s.BeginLoading()
	s.SetError("Failed to load studies")
	st := s.Snapshot()
	assert.True(t, st.Loading)
	assert.Equal(t, "Failed to load studies", st.Error)

	done()
	s.ClearError()
	st = s.Snapshot()
	assert.False(t, st.Loading)
	assert.Empty(t, st.Error)

	s.SetActiveTool(tools.Length)
	assert.Equal(t, tools.Length, s.Snapshot().ActiveTool)
}

func TestOverlappingLoads(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)

	var changes int
	s.Subscribe(func(prev, next State) {
		if prev.Loading != next.Loading {
			changes++
		}
	})

	listing := s.BeginLoading()
	series := s.BeginLoading()
	assert.True(t, s.Snapshot().Loading)

	listing()
	listing()
	assert.True(t, s.Snapshot().Loading, "series fetch still in flight")

	series()
	assert.False(t, s.Snapshot().Loading)
	assert.Equal(t, 2, changes)
}

func TestSubscribe(t *testing.T) {
	s := New(types.Layout1x1, tools.WindowLevel)

	var seen []string
	unsubscribe := s.Subscribe(func(prev, next State) {
		seen = append(seen, prev.Layout.String()+"->"+next.Layout.String())
	})

	require.NoError(t, s.SetLayout(types.Layout1x2))
	// no change, no notification
	require.NoError(t, s.SetLayout(types.Layout1x2))
	require.NoError(t, s.SetLayout(types.Layout2x2))

	unsubscribe()
	require.NoError(t, s.SetLayout(types.Layout1x1))

	assert.Equal(t, []string{"1x1->1x2", "1x2->2x2"}, seen)
}
