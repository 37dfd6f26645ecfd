package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Fetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "uvcal", Name: "fetch_total", Help: "Holiday service fetches by category and outcome",
	}, []string{"category", "outcome"})
	FetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "uvcal", Name: "fetch_seconds", Help: "Holiday service fetch latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"category"})
	Loads = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uvcal", Name: "loads_total", Help: "Calendar range loads",
	})
	Renders = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "uvcal", Name: "renders_total", Help: "Calendar renders",
	})
)

func init() {
	prometheus.MustRegister(Fetches, FetchDuration, Loads, Renders)
}

func Handler() http.Handler { return promhttp.Handler() }

// ObserveFetch records one settled fetch.
func ObserveFetch(category string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	Fetches.WithLabelValues(category, outcome).Inc()
	FetchDuration.WithLabelValues(category).Observe(d.Seconds())
}
