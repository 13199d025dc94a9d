// Package viewer composes the engine, tool group, binder and state store into
// one viewing session. Selection changes flow from the study service into the
// store, are resolved into image references and rebound onto the mounted
// viewports.
package viewer

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/caio-sobreiro/dicomview/config"
	"github.com/caio-sobreiro/dicomview/engine"
	"github.com/caio-sobreiro/dicomview/errors"
	"github.com/caio-sobreiro/dicomview/imageref"
	"github.com/caio-sobreiro/dicomview/interfaces"
	"github.com/caio-sobreiro/dicomview/ordering"
	"github.com/caio-sobreiro/dicomview/store"
	"github.com/caio-sobreiro/dicomview/tools"
	"github.com/caio-sobreiro/dicomview/types"
	"github.com/caio-sobreiro/dicomview/viewport"
)

// Status is the lifecycle state of a session
type Status int

const (
	StatusIdle Status = iota
	StatusInitializing
	StatusReady
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Dependencies are the external collaborators of a session
type Dependencies struct {
	Backend  interfaces.RenderingBackend
	Studies  interfaces.StudyService
	Uploads  interfaces.UploadService
	Resolver *imageref.Resolver
}

// Settings are the session parameters
type Settings struct {
	EngineID      string
	ToolGroupID   string
	DecodeWorkers int
	CacheBytes    int64
	Layout        types.Layout
	DefaultTool   tools.Tool
	Order         ordering.Policy
	FilterDICOM   bool
}

// SettingsFromConfig maps the loaded configuration onto session settings.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	tool, err := tools.ParseTool(cfg.Viewer.DefaultTool)
	if err != nil {
		return Settings{}, err
	}
	order, err := ordering.ParsePolicy(cfg.Viewer.InstanceOrder)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		EngineID:      cfg.Engine.ID,
		ToolGroupID:   cfg.Engine.ToolGroupID,
		DecodeWorkers: cfg.Engine.DecodeWorkers,
		CacheBytes:    cfg.Engine.CacheBytes,
		Layout:        cfg.Viewer.Layout,
		DefaultTool:   tool,
		Order:         order,
		FilterDICOM:   cfg.Upload.FilterDICOM,
	}, nil
}

// Option configures a Session instance.
type Option func(*Session)

// WithLogger overrides the logger used by the session and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMetrics records session activity into m.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Overlay is the patient and series information shown over a viewport
type Overlay struct {
	PatientName       string
	PatientID         string
	StudyDate         string
	Modality          string
	SeriesDescription string
}

type mount struct {
	surface interfaces.Surface
}

// Session is one viewing session: a single engine, a single tool group and
// the viewports of the current layout.
type Session struct {
	deps     Dependencies
	settings Settings
	logger   *slog.Logger
	metrics  *Metrics

	manager *engine.Manager
	tools   *tools.Controller
	binder  *viewport.Binder
	store   *store.Store

	// startMu serializes Start, Retry and Shutdown
	startMu sync.Mutex

	// selMu orders the staleness check and the store update of a selection
	selMu     sync.Mutex
	selection uint64

	mu        sync.Mutex
	status    Status
	initErr   error
	viewports []string
	mounts    map[string]*mount
}

// New creates a session. Nothing touches the backend until Start.
func New(deps Dependencies, settings Settings, opts ...Option) (*Session, error) {
	if deps.Backend == nil || deps.Studies == nil || deps.Uploads == nil || deps.Resolver == nil {
		return nil, fmt.Errorf("viewer: incomplete dependencies")
	}
	if !settings.Layout.Valid() {
		settings.Layout = types.Layout1x1
	}
	if settings.DefaultTool == 0 {
		settings.DefaultTool = tools.WindowLevel
	}
	if settings.Order == "" {
		settings.Order = ordering.ByInstanceNumber
	}

	s := &Session{
		deps:     deps,
		settings: settings,
		mounts:   make(map[string]*mount),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.manager = engine.NewManager(deps.Backend, engine.Settings{
		EngineID:      settings.EngineID,
		DecodeWorkers: settings.DecodeWorkers,
		CacheBytes:    settings.CacheBytes,
		Scheme:        deps.Resolver.Scheme(),
		Tools:         tools.Names(),
	}, engine.WithLogger(s.logger))
	s.tools = tools.NewController(tools.WithLogger(s.logger))
	s.binder = viewport.NewBinder(s.manager, s.tools, viewport.WithLogger(s.logger))
	s.store = store.New(settings.Layout, settings.DefaultTool)
	s.viewports = viewportIDs(settings.Layout)

	return s, nil
}

// viewportIDs returns fresh ids for every cell of layout.
func viewportIDs(layout types.Layout) []string {
	epoch := uuid.NewString()[:8]
	ids := make([]string, layout.Count())
	for i := range ids {
		ids[i] = fmt.Sprintf("viewport-%s-%d", epoch, i)
	}
	return ids
}

// Store returns the session state store for reads and subscriptions.
func (s *Session) Store() *store.Store {
	return s.store
}

// State returns a snapshot of the session state.
func (s *Session) State() store.State {
	return s.store.Snapshot()
}

// Status returns the lifecycle state and, when failed, the cause.
func (s *Session) Status() (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.initErr
}

// ViewportIDs returns the viewport ids of the current layout in cell order.
func (s *Session) ViewportIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.viewports)
}

func (s *Session) checkOpen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusClosed {
		return errors.ErrSessionClosed
	}
	return nil
}

func (s *Session) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusReady
}

func (s *Session) setStatus(status Status, err error) {
	s.mu.Lock()
	s.status = status
	s.initErr = err
	s.mu.Unlock()
}

// Start initializes the engine and the tool group, activates the default
// tool, binds any viewports mounted so far and loads the study listing.
// Only initialization failures are returned; the session is then in
// StatusFailed until Retry succeeds. A listing failure is reported through
// the store. Start on a ready session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	switch s.status {
	case StatusClosed:
		s.mu.Unlock()
		return errors.ErrSessionClosed
	case StatusReady:
		s.mu.Unlock()
		return nil
	}
	s.status = StatusInitializing
	s.initErr = nil
	s.mu.Unlock()

	if err := s.initialize(ctx); err != nil {
		s.metrics.initResult(false)
		s.setStatus(StatusFailed, err)
		s.store.SetError(fmt.Sprintf("Failed to initialize viewer: %v", err))
		s.logger.ErrorContext(ctx, "Viewer initialization failed", "error", err)
		return err
	}
	s.metrics.initResult(true)
	s.setStatus(StatusReady, nil)
	s.store.ClearError()
	s.logger.InfoContext(ctx, "Viewer ready",
		"engine_id", s.manager.EngineID(),
		"tool_group_id", s.settings.ToolGroupID,
		"layout", s.store.Snapshot().Layout.String())

	if err := s.syncAll(ctx); err != nil {
		s.logger.WarnContext(ctx, "Initial viewport bind failed", "error", err)
	}
	_ = s.RefreshStudies(ctx)
	return nil
}

// Retry clears a failed initialization and starts again from a clean state.
func (s *Session) Retry(ctx context.Context) error {
	if status, _ := s.Status(); status == StatusFailed {
		s.store.ClearError()
	}
	return s.Start(ctx)
}

// initialize brings up the engine, the tool group and the default tool. On
// failure everything acquired so far is released.
func (s *Session) initialize(ctx context.Context) error {
	if err := s.manager.Initialize(ctx); err != nil {
		return err
	}

	group, err := s.manager.CreateToolGroup(s.settings.ToolGroupID)
	if err != nil {
		s.manager.Shutdown()
		return err
	}
	if err := s.tools.Setup(group, s.manager.EngineID()); err != nil {
		s.manager.Shutdown()
		return err
	}
	if err := s.tools.ActivatePrimary(s.settings.DefaultTool); err != nil {
		s.tools.Destroy()
		s.manager.Shutdown()
		return errors.NewInitializationError(errors.InitStepTools, err)
	}
	s.store.SetActiveTool(s.settings.DefaultTool)
	return nil
}

// Shutdown releases every viewport, the tool group and the engine. Later
// calls on the session return errors.ErrSessionClosed.
func (s *Session) Shutdown() error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil
	}
	s.status = StatusClosed
	s.mounts = make(map[string]*mount)
	s.mu.Unlock()

	// Invalidate in-flight selections
	s.nextSelection()

	err := s.binder.UnbindAll()
	s.tools.Destroy()
	s.manager.Shutdown()
	s.metrics.bound(0)
	s.logger.Info("Viewer session closed")
	return err
}

// RefreshStudies reloads the study listing.
func (s *Session) RefreshStudies(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	defer s.store.BeginLoading()()

	studies, err := s.deps.Studies.List(ctx)
	if err != nil {
		s.reportError(ctx, "Failed to load studies", err)
		return err
	}
	s.store.SetStudies(studies)
	s.store.ClearError()
	s.logger.DebugContext(ctx, "Study listing refreshed", "studies", len(studies))
	return nil
}

func (s *Session) reportError(ctx context.Context, msg string, err error) {
	s.store.SetError(fmt.Sprintf("%s: %v", msg, err))
	s.logger.WarnContext(ctx, msg, "error", err)
}

func (s *Session) nextSelection() uint64 {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	s.selection++
	return s.selection
}

// superseded reports whether a selection newer than seq has started.
func (s *Session) superseded(seq uint64) bool {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	return s.selection != seq
}

// commitSelection applies update if no newer selection started since seq.
func (s *Session) commitSelection(seq uint64, update func() error) error {
	s.selMu.Lock()
	defer s.selMu.Unlock()
	if s.selection != seq {
		return errors.ErrSuperseded
	}
	return update()
}

// OpenStudy selects a study and loads its series ordered by series number.
// The previous series selection is dropped and the viewports are cleared.
// A response overtaken by a newer selection is discarded and returns nil.
func (s *Session) OpenStudy(ctx context.Context, studyUID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !imageref.ValidUID(studyUID) {
		return fmt.Errorf("study %q: %w", studyUID, errors.ErrMalformedIdentifier)
	}
	seq := s.nextSelection()

	done := s.store.BeginLoading()
	detail, err := s.deps.Studies.Get(ctx, studyUID)
	done()
	if s.superseded(seq) {
		s.logger.DebugContext(ctx, "Dropping superseded study response", "study_uid", studyUID)
		return nil
	}
	if err != nil {
		s.reportError(ctx, "Failed to load study", err)
		return err
	}

	study := types.Study{StudyInstanceUID: studyUID}
	for _, st := range s.store.Snapshot().Studies {
		if st.StudyInstanceUID == studyUID {
			study = st
			break
		}
	}
	err = s.commitSelection(seq, func() error {
		s.store.SelectStudy(study, ordering.Series(detail.Series))
		return nil
	})
	if stderrors.Is(err, errors.ErrSuperseded) {
		return nil
	}
	s.logger.InfoContext(ctx, "Study opened", "study_uid", studyUID, "series", len(detail.Series))
	return s.syncAll(ctx)
}

// OpenSeries selects a series of the current study, orders its instances
// by the configured policy and binds the result to the primary viewport.
// A response overtaken by a newer selection is discarded and returns nil.
func (s *Session) OpenSeries(ctx context.Context, seriesUID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	snap := s.store.Snapshot()
	if snap.CurrentStudy == nil {
		return errors.ErrNoSelection
	}
	if !imageref.ValidUID(seriesUID) {
		return fmt.Errorf("series %q: %w", seriesUID, errors.ErrMalformedIdentifier)
	}
	studyUID := snap.CurrentStudy.StudyInstanceUID
	seq := s.nextSelection()

	done := s.store.BeginLoading()
	detail, err := s.deps.Studies.GetSeries(ctx, studyUID, seriesUID)
	done()
	if s.superseded(seq) {
		s.logger.DebugContext(ctx, "Dropping superseded series response", "series_uid", seriesUID)
		return nil
	}
	if err != nil {
		s.reportError(ctx, "Failed to load series", err)
		return err
	}

	series := types.Series{SeriesInstanceUID: seriesUID}
	for _, se := range snap.Series {
		if se.SeriesInstanceUID == seriesUID {
			series = se
			break
		}
	}
	instances := ordering.Instances(detail.Instances, s.settings.Order)
	err = s.commitSelection(seq, func() error {
		return s.store.SelectSeries(series, instances)
	})
	if stderrors.Is(err, errors.ErrSuperseded) {
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Series opened",
		"study_uid", studyUID,
		"series_uid", seriesUID,
		"instances", len(instances),
		"order", string(s.settings.Order))
	return s.syncAll(ctx)
}

// CloseStudy drops the current study and series and clears the viewports.
// Responses still in flight for the old selection are discarded.
func (s *Session) CloseStudy(ctx context.Context) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	s.selMu.Lock()
	s.selection++
	s.store.ClearSelection()
	s.selMu.Unlock()

	s.logger.InfoContext(ctx, "Study closed")
	return s.syncAll(ctx)
}

// MountViewport attaches a surface to one of the current viewport ids. The
// viewport is bound right away when the session is ready, otherwise once
// Start succeeds.
func (s *Session) MountViewport(ctx context.Context, viewportID string, surface interfaces.Surface) error {
	if surface == nil {
		return fmt.Errorf("viewport %q: no surface", viewportID)
	}
	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return errors.ErrSessionClosed
	}
	if !slices.Contains(s.viewports, viewportID) {
		s.mu.Unlock()
		return fmt.Errorf("viewport %q: %w", viewportID, errors.ErrUnknownViewport)
	}
	s.mounts[viewportID] = &mount{surface: surface}
	ready := s.status == StatusReady
	s.mu.Unlock()

	if !ready {
		return nil
	}
	return s.syncViewport(ctx, viewportID)
}

// UnmountViewport detaches the surface of viewportID and tears its binding
// down. Unknown ids are ignored.
func (s *Session) UnmountViewport(viewportID string) error {
	s.mu.Lock()
	delete(s.mounts, viewportID)
	s.mu.Unlock()
	return s.release(viewportID)
}

func (s *Session) release(viewportID string) error {
	_, had := s.binder.Binding(viewportID)
	err := s.binder.Unbind(viewportID)
	if had {
		s.metrics.teardown()
	}
	s.metrics.bound(len(s.binder.Bound()))
	return err
}

// refsFor computes the references the viewport at index should show. Only
// the first cell of the grid displays the selected series.
func (s *Session) refsFor(index int, snap store.State) ([]string, error) {
	if index != 0 || !snap.HasSeries() {
		return nil, nil
	}
	return s.deps.Resolver.Resolve(
		snap.CurrentStudy.StudyInstanceUID,
		snap.CurrentSeries.SeriesInstanceUID,
		snap.Instances)
}

// syncViewport rebinds one mounted viewport to the current selection. A
// bind that raced with a newer selection is repeated until the viewport
// reflects the latest one.
func (s *Session) syncViewport(ctx context.Context, viewportID string) error {
	for {
		s.mu.Lock()
		m := s.mounts[viewportID]
		index := slices.Index(s.viewports, viewportID)
		ready := s.status == StatusReady
		s.mu.Unlock()
		if m == nil || index < 0 || !ready {
			return nil
		}

		snap := s.store.Snapshot()
		refs, err := s.refsFor(index, snap)
		if err != nil {
			s.reportError(ctx, "Failed to resolve images", err)
			_ = s.release(viewportID)
			return err
		}

		_, had := s.binder.Binding(viewportID)
		err = s.binder.Bind(ctx, viewportID, m.surface, refs)
		switch {
		case err == nil && len(refs) == 0:
			if had {
				s.metrics.teardown()
			}
			s.metrics.bind(bindCleared)
		case err == nil:
			s.metrics.bind(bindOK)
		case stderrors.Is(err, errors.ErrSuperseded):
			s.metrics.bind(bindSuperseded)
		default:
			s.metrics.bind(bindError)
			s.reportError(ctx, "Failed to display series", err)
		}
		s.metrics.bound(len(s.binder.Bound()))

		s.mu.Lock()
		still := s.mounts[viewportID] == m
		s.mu.Unlock()
		if !still {
			// Unmounted while binding
			return s.release(viewportID)
		}
		if s.store.Snapshot().SelectionVersion == snap.SelectionVersion {
			if stderrors.Is(err, errors.ErrSuperseded) {
				return nil
			}
			return err
		}
	}
}

// syncAll rebinds every mounted viewport and returns the first error.
func (s *Session) syncAll(ctx context.Context) error {
	var firstErr error
	for _, id := range s.ViewportIDs() {
		if err := s.syncViewport(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetLayout switches the grid. Every current viewport is torn down and a
// fresh set of empty viewport ids is returned for the new layout. Setting
// the current layout again is a no-op.
func (s *Session) SetLayout(ctx context.Context, layout types.Layout) ([]string, error) {
	if !layout.Valid() {
		return nil, fmt.Errorf("%v: %w", layout, errors.ErrInvalidLayout)
	}

	s.mu.Lock()
	if s.status == StatusClosed {
		s.mu.Unlock()
		return nil, errors.ErrSessionClosed
	}
	if s.store.Snapshot().Layout == layout {
		ids := slices.Clone(s.viewports)
		s.mu.Unlock()
		return ids, nil
	}
	old := s.viewports
	s.viewports = viewportIDs(layout)
	s.mounts = make(map[string]*mount)
	ids := slices.Clone(s.viewports)
	s.mu.Unlock()

	var errs []error
	for _, id := range old {
		if err := s.release(id); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.store.SetLayout(layout); err != nil {
		errs = append(errs, err)
	}
	s.logger.InfoContext(ctx, "Layout changed", "layout", layout.String(), "viewports", len(ids))
	return ids, stderrors.Join(errs...)
}

// ActivateTool makes the named toolbar tool the primary-button tool.
func (s *Session) ActivateTool(name string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	t, err := tools.ParseTool(name)
	if err != nil {
		return err
	}
	if !s.ready() {
		return errors.ErrNotInitialized
	}
	if err := s.tools.ActivatePrimary(t); err != nil {
		return err
	}
	s.store.SetActiveTool(t)
	s.metrics.toolActivated(t.String())
	return nil
}

// ResetView resets the camera of a bound viewport and renders it again.
func (s *Session) ResetView(viewportID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if _, ok := s.binder.Binding(viewportID); !ok {
		return fmt.Errorf("viewport %q: %w", viewportID, errors.ErrUnknownViewport)
	}
	if err := s.manager.ResetCamera(viewportID); err != nil {
		return err
	}
	return s.manager.Render(viewportID)
}

// Overlay returns the information shown over the primary viewport.
func (s *Session) Overlay() Overlay {
	snap := s.store.Snapshot()
	o := Overlay{PatientName: "Unknown"}
	if study := snap.CurrentStudy; study != nil {
		if study.PatientName != "" {
			o.PatientName = study.PatientName
		}
		o.PatientID = study.PatientID
		o.StudyDate = study.StudyDate
	}
	if series := snap.CurrentSeries; series != nil {
		o.Modality = series.Modality
		o.SeriesDescription = series.SeriesDescription
	}
	return o
}

// Upload sends files to the backend and refreshes the listing once if any
// file was stored. The result is returned even when the batch failed as a
// whole.
func (s *Session) Upload(ctx context.Context, files []types.UploadFile, progress interfaces.ProgressFunc) (*types.UploadResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.settings.FilterDICOM {
		kept := types.FilterDICOMFiles(files)
		if skipped := len(files) - len(kept); skipped > 0 {
			s.logger.InfoContext(ctx, "Skipping non-DICOM files", "skipped", skipped)
		}
		files = kept
	}
	if len(files) == 0 {
		return &types.UploadResult{Errors: []types.UploadFailure{}}, nil
	}

	result, err := s.deps.Uploads.Upload(ctx, files, progress)
	if result != nil {
		s.metrics.uploaded(result.Uploaded, result.Failed)
		s.logger.InfoContext(ctx, "Upload finished",
			"uploaded", result.Uploaded,
			"failed", result.Failed)
	}
	if err != nil {
		s.reportError(ctx, "Upload failed", err)
	}
	if result != nil && result.Uploaded > 0 {
		_ = s.RefreshStudies(ctx)
	}
	return result, err
}

// DeleteStudy removes a study from the backend and the listing. Deleting the
// selected study clears the selection and its viewports.
func (s *Session) DeleteStudy(ctx context.Context, studyUID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !imageref.ValidUID(studyUID) {
		return fmt.Errorf("study %q: %w", studyUID, errors.ErrMalformedIdentifier)
	}
	if err := s.deps.Studies.Delete(ctx, studyUID); err != nil {
		s.reportError(ctx, "Failed to delete study", err)
		return err
	}

	s.selMu.Lock()
	cleared := s.store.RemoveStudy(studyUID)
	if cleared {
		s.selection++
	}
	s.selMu.Unlock()

	s.logger.InfoContext(ctx, "Study deleted", "study_uid", studyUID, "was_selected", cleared)
	if cleared {
		return s.syncAll(ctx)
	}
	return nil
}
