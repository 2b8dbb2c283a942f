// Package metrics holds the worker's prometheus collectors. A run records
// into a private registry and pushes it to a Pushgateway when it finishes,
// since the worker is a short-lived cron job with nothing to scrape.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "pkgsync"

// Metrics is the set of collectors for one run. The zero value is not
// usable; a nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	processed     *prometheus.CounterVec
	adapterErrors *prometheus.CounterVec
	writes        *prometheus.CounterVec
	scheduled     *prometheus.CounterVec
	scored        prometheus.Counter
	events        prometheus.Counter
}

// New creates collectors registered on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Requests and fetches processed, by queue and outcome.",
		}, []string{"queue", "outcome"}),
		adapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "Failed package fetches and reconciliations, by registry and error kind.",
		}, []string{"registry", "kind"}),
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_writes_total",
			Help:      "Rows written by reconciliation, by operation.",
		}, []string{"op"}),
		scheduled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_total",
			Help:      "Queue items created by the scheduler, by queue.",
		}, []string{"queue"}),
		scored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_scored_total",
			Help:      "Accounts whose contribution score was recalculated.",
		}),
		events: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contribution_events_processed_total",
			Help:      "Contribution events folded into scores.",
		}),
	}
	m.registry.MustRegister(m.processed, m.adapterErrors, m.writes, m.scheduled, m.scored, m.events)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ItemProcessed counts one request or fetch reaching outcome.
func (m *Metrics) ItemProcessed(queue, outcome string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(queue, outcome).Inc()
}

// AdapterError counts one failed package.
func (m *Metrics) AdapterError(registry, kind string) {
	if m == nil {
		return
	}
	m.adapterErrors.WithLabelValues(registry, kind).Inc()
}

// Writes adds n rows for op.
func (m *Metrics) Writes(op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.writes.WithLabelValues(op).Add(float64(n))
}

// Scheduled adds n items created on queue.
func (m *Metrics) Scheduled(queue string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.scheduled.WithLabelValues(queue).Add(float64(n))
}

// Scored records one aggregation pass.
func (m *Metrics) Scored(accounts, events int) {
	if m == nil {
		return
	}
	m.scored.Add(float64(accounts))
	m.events.Add(float64(events))
}

// Push sends every collector to the Pushgateway at url under job.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if m == nil || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
