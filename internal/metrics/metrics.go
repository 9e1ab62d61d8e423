// Package metrics exposes Prometheus counters for passes, items and store requests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ppiankov/annorepair/internal/model"
)

// Recorder implements the store and engine observers on its own registry
type Recorder struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	passesTotal     *prometheus.CounterVec
	passDuration    *prometheus.HistogramVec
	itemsTotal      *prometheus.CounterVec
}

// New creates a recorder with Go and process collectors registered
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annorepair_store_requests_total",
			Help: "Requests sent to the annotation store by method and status",
		}, []string{"method", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "annorepair_store_request_duration_seconds",
			Help:    "Latency of annotation store requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}, []string{"method"}),
		passesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annorepair_passes_total",
			Help: "Completed passes by kind and mode",
		}, []string{"kind", "mode"}),
		passDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "annorepair_pass_duration_seconds",
			Help:    "Wall time of a pass",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"kind"}),
		itemsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "annorepair_items_total",
			Help: "Reported items by pass, action and outcome",
		}, []string{"kind", "action", "outcome"}),
	}
}

// Registry returns the registry metrics are collected from
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveRequest counts one store exchange; status 0 means no response arrived
func (r *Recorder) ObserveRequest(method string, status int, elapsed time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.requestsTotal.WithLabelValues(method, label).Inc()
	r.requestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObservePass counts a finished pass
func (r *Recorder) ObservePass(kind model.PassKind, mode model.RunMode, elapsed time.Duration) {
	r.passesTotal.WithLabelValues(string(kind), string(mode)).Inc()
	r.passDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

// ObserveItem counts one reported item
func (r *Recorder) ObserveItem(kind model.PassKind, item model.ItemResult) {
	r.itemsTotal.WithLabelValues(string(kind), string(item.Action), Outcome(item)).Inc()
}

// Outcome condenses an item into applied, planned or its error kind
func Outcome(item model.ItemResult) string {
	switch {
	case item.ErrorKind != "":
		return string(item.ErrorKind)
	case item.Applied:
		return "applied"
	default:
		return "planned"
	}
}
