package smp

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	fetchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smp",
		Subsystem: "download",
		Name:      "fetches_total",
		Help:      "Resource fetches by kind and outcome.",
	}, []string{"kind", "outcome"})

	fetchedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "smp",
		Subsystem: "download",
		Name:      "fetched_bytes_total",
		Help:      "Total bytes fetched from remote servers.",
	})

	serveRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smp",
		Subsystem: "serve",
		Name:      "requests_total",
		Help:      "HTTP requests served from the archive by status.",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(fetchesTotal, fetchedBytes, serveRequests)
}
