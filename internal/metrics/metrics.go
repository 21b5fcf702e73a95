// Package metrics provides Prometheus collectors for the notification
// pipeline and the HTTP handler exporting them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the pipeline's collectors around one registry so tests can
// use isolated instances.
type Metrics struct {
	reg *prometheus.Registry

	Dispositions *prometheus.CounterVec
	DNDBlocked   prometheus.Counter
	Enqueued     prometheus.Counter
	Flushed      prometheus.Counter
	BundlesReady prometheus.Counter

	DispatchSent    *prometheus.CounterVec
	DispatchFailed  prometheus.Counter
	DispatchDeduped prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		Dispositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hushd_dispositions_total",
			Help: "Notifications processed, by decided action",
		}, []string{"action"}),
		DNDBlocked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hushd_dnd_blocked_total",
			Help: "Notifications blocked by an active DND window",
		}),
		Enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hushd_queue_enqueued_total",
			Help: "Notifications pushed onto delivery queues",
		}),
		Flushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hushd_queue_flushed_total",
			Help: "Due notifications drained from delivery queues",
		}),
		BundlesReady: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hushd_bundles_ready_total",
			Help: "Bundles drained for delivery",
		}),
		DispatchSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hushd_dispatch_sent_total",
			Help: "Deliveries handed to a sink successfully, by kind",
		}, []string{"kind"}),
		DispatchFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hushd_dispatch_failed_total",
			Help: "Deliveries that exhausted their retries",
		}),
		DispatchDeduped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hushd_dispatch_deduped_total",
			Help: "Deliveries suppressed by the idempotency window",
		}),
	}
	reg.MustRegister(
		m.Dispositions, m.DNDBlocked, m.Enqueued, m.Flushed, m.BundlesReady,
		m.DispatchSent, m.DispatchFailed, m.DispatchDeduped,
	)
	return m
}

// Handler exposes the registry for the ops server.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
