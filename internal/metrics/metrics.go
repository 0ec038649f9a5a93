// Package metrics exposes controller counters to Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry  *prometheus.Registry
	reads     *prometheus.CounterVec
	publishes *prometheus.CounterVec
	commands  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpct",
			Name:      "device_reads_total",
			Help:      "Completed device reads by device type and outcome.",
		}, []string{"type", "outcome"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpct",
			Name:      "status_publishes_total",
			Help:      "Status messages published, by kind (full or incremental).",
		}, []string{"kind"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpct",
			Name:      "commands_total",
			Help:      "Inbound commands by path and outcome.",
		}, []string{"path", "outcome"}),
	}
	m.registry.MustRegister(
		m.reads, m.publishes, m.commands,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Read(deviceType string, failed bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	m.reads.WithLabelValues(deviceType, outcome).Inc()
}

func (m *Metrics) Publish(full bool) {
	if m == nil {
		return
	}
	kind := "incremental"
	if full {
		kind = "full"
	}
	m.publishes.WithLabelValues(kind).Inc()
}

// Command counts a routed command. path is "controller" or "device".
func (m *Metrics) Command(path, outcome string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(path, outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
