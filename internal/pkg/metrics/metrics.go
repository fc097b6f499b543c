package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeUpstream = "upstream_error"
	OutcomeStorage  = "storage_error"
	OutcomePersist  = "persistence_error"
)

// Metrics provides observability for the generation pipeline.
// All methods are safe on a nil receiver.
type Metrics struct {
	Generations          *prometheus.CounterVec
	AILatency            prometheus.Histogram
	CompositionFallbacks prometheus.Counter
	SecondaryUploadFails *prometheus.CounterVec
	Notifications        *prometheus.CounterVec
	Verifications        *prometheus.CounterVec
}

// New registers the pipeline metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Generations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portrait_generations_total",
			Help: "Generation requests by outcome",
		}, []string{"outcome"}),
		AILatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "portrait_ai_request_duration_seconds",
			Help:    "Latency of image generation calls",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		}),
		CompositionFallbacks: f.NewCounter(prometheus.CounterOpts{
			Name: "portrait_composition_fallbacks_total",
			Help: "Runs that stored the raw AI image because composition failed",
		}),
		SecondaryUploadFails: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portrait_secondary_upload_failures_total",
			Help: "Failed uploads of non-critical artifact copies",
		}, []string{"category"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portrait_notifications_total",
			Help: "Notification sends by channel and outcome",
		}, []string{"channel", "outcome"}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "portrait_verifications_total",
			Help: "One-time code checks by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) IncGeneration(outcome string) {
	if m != nil {
		m.Generations.WithLabelValues(outcome).Inc()
	}
}

// ObserveAI records the duration of a generation call started at start.
func (m *Metrics) ObserveAI(start time.Time) {
	if m != nil {
		m.AILatency.Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) IncCompositionFallback() {
	if m != nil {
		m.CompositionFallbacks.Inc()
	}
}

func (m *Metrics) IncSecondaryUploadFailure(category string) {
	if m != nil {
		m.SecondaryUploadFails.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) IncNotification(channel string, err error) {
	if m != nil {
		m.Notifications.WithLabelValues(channel, outcomeOf(err)).Inc()
	}
}

func (m *Metrics) IncVerification(outcome string) {
	if m != nil {
		m.Verifications.WithLabelValues(outcome).Inc()
	}
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
