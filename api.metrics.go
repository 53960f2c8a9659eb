package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlap_http_requests_total",
		Help: "Number of http requests by method, path and status code.",
	}, []string{"method", "path", "code"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dlap_http_request_duration_seconds",
		Help:    "Duration of http requests by method and path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// MetricsMiddleware exports the count and latency of requests. It must run
// inside StatsMiddleware to read the status code.
func (api *APIHandler) MetricsMiddleware(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		start := api.clock.Now()
		next(w, r, ps)

		code := http.StatusOK
		if cw, ok := w.(*CustomResponseWriter); ok {
			code = cw.Status()
		}
		path := MetricsPath(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(code)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(api.clock.Now().Sub(start).Seconds())
	}
}

// MetricsPath replaces numeric segments by `:id` to bound the labels cardinality.
func MetricsPath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if s == "" {
			continue
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}
