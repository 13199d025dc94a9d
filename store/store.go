// Package store holds the observable viewer state. The state is mutated only
// through named transitions so that dependent slices change together.
package store

import (
	"fmt"
	"slices"
	"sync"

	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/tools"
	"github.com/caio-sobreiro/dicomview/types"
)

// State is one consistent view of the viewer
type State struct {
	Studies []types.Study

	// Selection. Series lists the series of CurrentStudy; Instances belong
	// to CurrentSeries.
	CurrentStudy  *types.Study
	Series        []types.Series
	CurrentSeries *types.Series
	Instances     []types.Instance

	// SelectionVersion increases on every selection change
	SelectionVersion uint64

	Layout     types.Layout
	ActiveTool tools.Tool

	Loading bool
	Error   string
}

// HasSeries reports whether a series is selected.
func (s State) HasSeries() bool {
	return s.CurrentStudy != nil && s.CurrentSeries != nil
}

func (s State) clone() State {
	out := s
	out.Studies = slices.Clone(s.Studies)
	out.Series = slices.Clone(s.Series)
	out.Instances = slices.Clone(s.Instances)
	for i := range out.Instances {
		out.Instances[i].ImagePositionPatient = slices.Clone(out.Instances[i].ImagePositionPatient)
	}
	if s.CurrentStudy != nil {
		study := *s.CurrentStudy
		out.CurrentStudy = &study
	}
	if s.CurrentSeries != nil {
		series := *s.CurrentSeries
		out.CurrentSeries = &series
	}
	return out
}

// Listener observes transitions. It runs after the transition is applied,
// outside the store lock, and must not call transitions itself.
type Listener func(prev, next State)

// Store is safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners map[int]Listener
	nextID    int
	// loads counts fetches in flight behind State.Loading
	loads int
	// notify serializes listener calls so they observe transitions in order
	notify sync.Mutex
}

// New creates a store with the given layout and active tool.
func New(layout types.Layout, tool tools.Tool) *Store {
	if !layout.Valid() {
		layout = types.Layout1x1
	}
	return &Store{
		state:     State{Layout: layout, ActiveTool: tool},
		listeners: make(map[int]Listener),
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers fn and returns a function removing it.
func (s *Store) Subscribe(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// apply runs mutate against the state and notifies listeners when it
// reports a change.
func (s *Store) apply(mutate func(st *State) bool) {
	s.notify.Lock()
	defer s.notify.Unlock()

	s.mu.Lock()
	prev := s.state.clone()
	if !mutate(&s.state) {
		s.mu.Unlock()
		return
	}
	next := s.state.clone()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(prev, next)
	}
}

func clearSelection(st *State) {
	st.CurrentStudy = nil
	st.Series = nil
	st.CurrentSeries = nil
	st.Instances = nil
	st.SelectionVersion++
}

func indexOf(studies []types.Study, uid string) int {
	return slices.IndexFunc(studies, func(s types.Study) bool {
		return s.StudyInstanceUID == uid
	})
}

// SetStudies replaces the study listing. A selection whose study is no
// longer listed is cleared.
func (s *Store) SetStudies(studies []types.Study) {
	s.apply(func(st *State) bool {
		st.Studies = slices.Clone(studies)
		if st.CurrentStudy != nil && indexOf(st.Studies, st.CurrentStudy.StudyInstanceUID) < 0 {
			clearSelection(st)
		}
		return true
	})
}

// UpsertStudy replaces the listed study with the same UID, or appends it.
func (s *Store) UpsertStudy(study types.Study) {
	s.apply(func(st *State) bool {
		if i := indexOf(st.Studies, study.StudyInstanceUID); i >= 0 {
			st.Studies = slices.Clone(st.Studies)
			st.Studies[i] = study
		} else {
			st.Studies = append(slices.Clone(st.Studies), study)
		}
		return true
	})
}

// RemoveStudy drops a study from the listing and clears the selection if
// it pointed at that study. It reports whether the study was listed.
func (s *Store) RemoveStudy(studyUID string) bool {
	removed := false
	s.apply(func(st *State) bool {
		i := indexOf(st.Studies, studyUID)
		selected := st.CurrentStudy != nil && st.CurrentStudy.StudyInstanceUID == studyUID
		if i < 0 && !selected {
			return false
		}
		if i >= 0 {
			st.Studies = slices.Delete(slices.Clone(st.Studies), i, i+1)
			removed = true
		}
		if selected {
			clearSelection(st)
		}
		return true
	})
	return removed
}

// SelectStudy makes study current with its series list. Any previously
// selected series and its instances are cleared in the same transition.
func (s *Store) SelectStudy(study types.Study, series []types.Series) {
	s.apply(func(st *State) bool {
		st.CurrentStudy = &study
		st.Series = slices.Clone(series)
		st.CurrentSeries = nil
		st.Instances = nil
		st.SelectionVersion++
		return true
	})
}

// SelectSeries replaces the current series and its instances together.
// A study must be selected first.
func (s *Store) SelectSeries(series types.Series, instances []types.Instance) error {
	var err error
	s.apply(func(st *State) bool {
		if st.CurrentStudy == nil {
			err = errors.ErrNoSelection
			return false
		}
		st.CurrentSeries = &series
		st.Instances = slices.Clone(instances)
		st.SelectionVersion++
		return true
	})
	return err
}

// ClearSelection drops the current study, series and instances.
func (s *Store) ClearSelection() {
	s.apply(func(st *State) bool {
		if st.CurrentStudy == nil && st.CurrentSeries == nil && st.Instances == nil {
			return false
		}
		clearSelection(st)
		return true
	})
}

// SetLayout replaces the viewport grid shape.
func (s *Store) SetLayout(layout types.Layout) error {
	if !layout.Valid() {
		return fmt.Errorf("%w: %s", errors.ErrInvalidLayout, layout)
	}
	s.apply(func(st *State) bool {
		if st.Layout == layout {
			return false
		}
		st.Layout = layout
		return true
	})
	return nil
}

// SetActiveTool records the tool holding the primary binding.
func (s *Store) SetActiveTool(tool tools.Tool) {
	s.apply(func(st *State) bool {
		if st.ActiveTool == tool {
			return false
		}
		st.ActiveTool = tool
		return true
	})
}

// BeginLoading marks a fetch in flight and returns the function ending it.
// Loading stays set until every started fetch has ended.
func (s *Store) BeginLoading() (done func()) {
	s.apply(func(st *State) bool {
		s.loads++
		if st.Loading {
			return false
		}
		st.Loading = true
		return true
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			s.apply(func(st *State) bool {
				s.loads--
				if s.loads > 0 || !st.Loading {
					return false
				}
				st.Loading = false
				return true
			})
		})
	}
}

// SetError records a user-visible error message.
func (s *Store) SetError(msg string) {
	s.apply(func(st *State) bool {
		st.Error = msg
		return true
	})
}

// ClearError drops the error message.
func (s *Store) ClearError() {
	s.apply(func(st *State) bool {
		if st.Error == "" {
			return false
		}
		st.Error = ""
		return true
	})
}
