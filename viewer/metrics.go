package viewer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bind result labels
const (
	bindOK         = "ok"
	bindSuperseded = "superseded"
	bindError      = "error"
	bindCleared    = "cleared"
)

// Metrics collects session counters. A nil *Metrics records nothing.
type Metrics struct {
	// InitTotal counts engine initialization attempts by result
	InitTotal *prometheus.CounterVec

	// BindTotal counts viewport binds by result
	BindTotal *prometheus.CounterVec

	// TeardownTotal counts viewport teardowns
	TeardownTotal prometheus.Counter

	// ToolActivationTotal counts primary tool switches by tool
	ToolActivationTotal *prometheus.CounterVec

	// UploadFilesTotal counts uploaded files by outcome
	UploadFilesTotal *prometheus.CounterVec

	// BoundViewports is the number of viewports currently holding a stack
	BoundViewports prometheus.Gauge
}

// NewMetrics registers the session metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		InitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dicomview_engine_init_total",
			Help: "Rendering engine initialization attempts by result",
		}, []string{"result"}),
		BindTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dicomview_viewport_bind_total",
			Help: "Viewport binds by result",
		}, []string{"result"}),
		TeardownTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "dicomview_viewport_teardown_total",
			Help: "Viewport teardowns",
		}),
		ToolActivationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dicomview_tool_activation_total",
			Help: "Primary tool activations by tool",
		}, []string{"tool"}),
		UploadFilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dicomview_upload_files_total",
			Help: "Uploaded files by outcome",
		}, []string{"outcome"}),
		BoundViewports: f.NewGauge(prometheus.GaugeOpts{
			Name: "dicomview_bound_viewports",
			Help: "Viewports currently holding an image stack",
		}),
	}
}

func (m *Metrics) initResult(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.InitTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) bind(result string) {
	if m == nil {
		return
	}
	m.BindTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) teardown() {
	if m == nil {
		return
	}
	m.TeardownTotal.Inc()
}

func (m *Metrics) toolActivated(name string) {
	if m == nil {
		return
	}
	m.ToolActivationTotal.WithLabelValues(name).Inc()
}

func (m *Metrics) uploaded(ok, failed int) {
	if m == nil {
		return
	}
	m.UploadFilesTotal.WithLabelValues("uploaded").Add(float64(ok))
	m.UploadFilesTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) bound(n int) {
	if m == nil {
		return
	}
	m.BoundViewports.Set(float64(n))
}
