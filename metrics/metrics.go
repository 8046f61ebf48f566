package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stageLabels = []string{"stage"}

// Metrics holds the process's Prometheus collectors. One instance is built
// at startup and threaded into every worker role and the API server;
// nothing reads a package-level global.
type Metrics struct {
	JobsInFlight prometheus.Gauge

	StageClaimed  *prometheus.CounterVec
	StageRetried  *prometheus.CounterVec
	StageTerminal *prometheus.CounterVec

	RenderDurationSec prometheus.Histogram
	UploadDurationSec prometheus.Histogram

	QAWarnings *prometheus.CounterVec
	QAHardFail prometheus.Counter

	HTTPRequestsInFlight prometheus.Gauge
}

// New registers the factory's collectors against reg and returns the
// handle. main.go and the tests each pass a fresh prometheus.NewRegistry(),
// so repeated construction never panics on duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		JobsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "factory_jobs_in_flight",
			Help: "Number of jobs currently held under an exclusive worker lock",
		}),
		StageClaimed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_stage_claimed_total",
			Help: "Number of jobs claimed out of each state",
		}, stageLabels),
		StageRetried: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_stage_retried_total",
			Help: "Number of jobs that hit the retry path for each stage",
		}, stageLabels),
		StageTerminal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_stage_terminal_total",
			Help: "Number of jobs that reached a terminal failed state for each stage",
		}, stageLabels),
		RenderDurationSec: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "factory_render_duration_seconds",
			Help:    "Wall-clock time of a single render attempt, success or failure",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		UploadDurationSec: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "factory_upload_duration_seconds",
			Help:    "Wall-clock time of a single upload attempt, success or failure",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		QAWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "factory_qa_warnings_total",
			Help: "Number of QA warnings emitted, by kind",
		}, []string{"kind"}),
		QAHardFail: f.NewCounter(prometheus.CounterOpts{
			Name: "factory_qa_hard_fail_total",
			Help: "Number of jobs that hit a QA hard failure",
		}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "factory_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served by the approval API",
		}),
	}
}
