// Package metrics exposes engagement counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is what the engagement service reports to.
type MetricsCollector interface {
	RecordFallback(op string)
	RecordLikeToggle(direction string)
	RecordCommentSubmitted(backend string)
	RecordViewCounted(backend string)
	RecordBulkDelete(succeeded, failed int)
}

// Collector is the Prometheus implementation.
type Collector struct {
	fallbacks     *prometheus.CounterVec
	likeToggles   *prometheus.CounterVec
	comments      *prometheus.CounterVec
	views         *prometheus.CounterVec
	bulkDeletions *prometheus.CounterVec
}

// NewCollector registers the engagement metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogpulse_remote_fallback_total",
			Help: "Operations redone against the local store after a remote failure.",
		}, []string{"op"}),
		likeToggles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogpulse_like_toggles_total",
			Help: "Like toggles by direction.",
		}, []string{"direction"}),
		comments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogpulse_comments_submitted_total",
			Help: "Stored comments by backend.",
		}, []string{"backend"}),
		views: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogpulse_views_counted_total",
			Help: "Counted page views by backend.",
		}, []string{"backend"}),
		bulkDeletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogpulse_bulk_delete_items_total",
			Help: "Comments processed by bulk delete, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.fallbacks,
		c.likeToggles,
		c.comments,
		c.views,
		c.bulkDeletions,
	)

	return c
}

func (c *Collector) RecordFallback(op string) {
	c.fallbacks.WithLabelValues(op).Inc()
}

func (c *Collector) RecordLikeToggle(direction string) {
	c.likeToggles.WithLabelValues(direction).Inc()
}

func (c *Collector) RecordCommentSubmitted(backend string) {
	c.comments.WithLabelValues(backend).Inc()
}

func (c *Collector) RecordViewCounted(backend string) {
	c.views.WithLabelValues(backend).Inc()
}

func (c *Collector) RecordBulkDelete(succeeded, failed int) {
	c.bulkDeletions.WithLabelValues("succeeded").Add(float64(succeeded))
	c.bulkDeletions.WithLabelValues("failed").Add(float64(failed))
}

// Nop discards every observation.
type Nop struct{}

func (Nop) RecordFallback(string)         {}
func (Nop) RecordLikeToggle(string)       {}
func (Nop) RecordCommentSubmitted(string) {}
func (Nop) RecordViewCounted(string)      {}
func (Nop) RecordBulkDelete(int, int)     {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
