// Package metrics exposes Prometheus counters for the widget and the relay.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcomes.
const (
	OutcomeRendered = "rendered"
	OutcomeEmpty    = "empty"
	OutcomeFailed   = "failed"
)

// Metrics collects Prometheus metrics.
type Metrics struct {
	fetchBatches   *prometheus.CounterVec
	recordsStored  prometheus.Counter
	recordsSkipped *prometheus.CounterVec
	rowsAppended   *prometheus.CounterVec
	panelOpens     *prometheus.CounterVec
	toggles        prometheus.Counter
	relayRequests  *prometheus.CounterVec
	relayStored    prometheus.Gauge
	streamClients  prometheus.Gauge
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// New returns the process-wide metrics collector.
func New() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			fetchBatches: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mini_profiler_fetch_batches_total",
					Help: "Profile fetch batches by category and outcome",
				},
				[]string{"category", "outcome"},
			),
			recordsStored: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "mini_profiler_records_stored_total",
					Help: "Profile records added to the session store",
				},
			),
			recordsSkipped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mini_profiler_records_skipped_total",
					Help: "Payloads not turned into rows, by reason",
				},
				[]string{"reason"},
			),
			rowsAppended: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mini_profiler_rows_appended_total",
					Help: "Summary rows appended, by category",
				},
				[]string{"category"},
			),
			panelOpens: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mini_profiler_panel_opens_total",
					Help: "Detail panel open attempts by outcome",
				},
				[]string{"outcome"},
			),
			toggles: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "mini_profiler_tree_toggles_total",
					Help: "Expand/collapse clicks inside the detail panel",
				},
			),
			relayRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "mini_profiler_relay_requests_total",
					Help: "Relay HTTP requests by operation and status code class",
				},
				[]string{"op", "status"},
			),
			relayStored: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "mini_profiler_relay_results_stored",
					Help: "Result payloads held by the relay at last ingest",
				},
			),
			streamClients: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "mini_profiler_relay_stream_clients",
					Help: "Connected result stream subscribers",
				},
			),
		}
	})
	return metricsInst
}

// RecordFetch records the outcome of one fetch batch.
func (m *Metrics) RecordFetch(category, outcome string) {
	if m == nil {
		return
	}
	m.fetchBatches.WithLabelValues(label(category), label(outcome)).Inc()
}

// RecordStored records a record added to the session store.
func (m *Metrics) RecordStored() {
	if m == nil {
		return
	}
	m.recordsStored.Inc()
}

// RecordSkipped records a payload that produced no row.
func (m *Metrics) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.recordsSkipped.WithLabelValues(label(reason)).Inc()
}

// RecordRow records an appended summary row.
func (m *Metrics) RecordRow(category string) {
	if m == nil {
		return
	}
	m.rowsAppended.WithLabelValues(label(category)).Inc()
}

// RecordPanelOpen records a detail panel open attempt.
func (m *Metrics) RecordPanelOpen(found bool) {
	if m == nil {
		return
	}
	if found {
		m.panelOpens.WithLabelValues("opened").Inc()
	} else {
		m.panelOpens.WithLabelValues("missing").Inc()
	}
}

// RecordToggle records an expand/collapse click.
func (m *Metrics) RecordToggle() {
	if m == nil {
		return
	}
	m.toggles.Inc()
}

// RecordRelayRequest records a relay request. status is the HTTP code.
func (m *Metrics) RecordRelayRequest(op string, status int) {
	if m == nil {
		return
	}
	var class string
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	default:
		class = "2xx"
	}
	m.relayRequests.WithLabelValues(label(op), class).Inc()
}

// UpdateRelayStored sets the number of payloads held by the relay.
func (m *Metrics) UpdateRelayStored(n int) {
	if m == nil {
		return
	}
	m.relayStored.Set(float64(n))
}

// UpdateStreamClients sets the number of stream subscribers.
func (m *Metrics) UpdateStreamClients(n int) {
	if m == nil {
		return
	}
	m.streamClients.Set(float64(n))
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
