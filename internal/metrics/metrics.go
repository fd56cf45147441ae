package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reddit_archiver/internal/domain"
)

// Recorder aggregates sync counters for scraping. A nil Recorder is valid
// and records nothing, so callers never guard their calls.
type Recorder struct {
	registry *prometheus.Registry

	pages      *prometheus.CounterVec
	items      *prometheus.CounterVec
	malformed  *prometheus.CounterVec
	retries    *prometheus.CounterVec
	runs       *prometheus.CounterVec
	checkpoint *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		pages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_pages_committed_total",
			Help: "Pages durably committed, by feed.",
		}, []string{"feed"}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_items_total",
			Help: "Items processed, by feed and commit outcome.",
		}, []string{"feed", "outcome"}),
		malformed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_malformed_items_total",
			Help: "Items skipped because normalization rejected them.",
		}, []string{"feed"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_retries_total",
			Help: "Retried page attempts, by feed and reason.",
		}, []string{"feed", "reason"}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "archiver_runs_total",
			Help: "Finished runs, by feed and terminal state.",
		}, []string{"feed", "state"}),
		checkpoint: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archiver_checkpoint_position",
			Help: "Highest committed page position, by feed.",
		}, []string{"feed"}),
	}
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) PageCommitted(feedKey string, result domain.CommitResult) {
	if r == nil {
		return
	}
	r.pages.WithLabelValues(feedKey).Inc()
	r.items.WithLabelValues(feedKey, "inserted").Add(float64(result.Inserted))
	r.items.WithLabelValues(feedKey, "updated").Add(float64(result.Updated))
	r.items.WithLabelValues(feedKey, "unchanged").Add(float64(result.Unchanged))
	r.items.WithLabelValues(feedKey, "skipped").Add(float64(result.Skipped))
}

func (r *Recorder) MalformedItem(feedKey string) {
	if r == nil {
		return
	}
	r.malformed.WithLabelValues(feedKey).Inc()
}

func (r *Recorder) Retry(feedKey, reason string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(feedKey, reason).Inc()
}

func (r *Recorder) RunFinished(feedKey string, state domain.EngineState) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(feedKey, string(state)).Inc()
}

func (r *Recorder) CheckpointAdvanced(feedKey string, position int64) {
	if r == nil {
		return
	}
	r.checkpoint.WithLabelValues(feedKey).Set(float64(position))
}
