package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Rejection reasons reported on the rejected counter.
const (
	ReasonRateLimited = "rate_limited"
	ReasonBadRequest  = "bad_request"
	ReasonStore       = "store_error"
	ReasonMethod      = "method"
)

type metrics struct {
	received *prometheus.CounterVec
	rejected *prometheus.CounterVec
	stored   prometheus.Counter
	streams  prometheus.Gauge
	size     prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rumbeacon_beacons_received_total",
			Help: "Beacons received, by transport and initiator",
		}, []string{"transport", "initiator"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rumbeacon_beacons_rejected_total",
			Help: "Beacons rejected, by reason",
		}, []string{"reason"}),
		stored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rumbeacon_beacons_stored_total",
			Help: "Beacons written to the store",
		}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rumbeacon_stream_clients",
			Help: "Connected live stream clients",
		}),
		size: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "rumbeacon_beacon_vars",
			Help: "Variables per beacon",
			// 10 buckets from 1 to 512.
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	reg.MustRegister(m.received, m.rejected, m.stored, m.streams, m.size)
	return m
}
