package observability

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	TaskResultSuccess  = "success"
	TaskResultFailed   = "failed"
	TaskResultTerminal = "terminal"
)

// Recorder defines the metrics hooks the API and worker report into.
// The Prometheus implementation is optional; NoopRecorder serves when
// metrics are disabled.
type Recorder interface {
	ObserveRequest(method, route string, status int, d time.Duration)
	IncInflight()
	DecInflight()

	IncTaskStarted(task string)
	IncTaskResult(task, result string)
	ObserveTaskDuration(task string, d time.Duration)

	IncCDNPurge(success bool)
	SetPendingEditions(n int64)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveRequest(string, string, int, time.Duration) {}
func (NoopRecorder) IncInflight()                                     {}
func (NoopRecorder) DecInflight()                                     {}
func (NoopRecorder) IncTaskStarted(string)                            {}
func (NoopRecorder) IncTaskResult(string, string)                     {}
func (NoopRecorder) ObserveTaskDuration(string, time.Duration)        {}
func (NoopRecorder) IncCDNPurge(bool)                                 {}
func (NoopRecorder) SetPendingEditions(int64)                         {}

// PrometheusRecorder implements Recorder on a Prometheus registry.
type PrometheusRecorder struct {
	once sync.Once
	reg  *prom.Registry

	requestsTotal   *prom.CounterVec
	requestDuration *prom.HistogramVec
	inflight        prom.Gauge

	tasksStarted *prom.CounterVec
	taskResults  *prom.CounterVec
	taskDuration *prom.HistogramVec
	cdnPurges    *prom.CounterVec
	pendingGauge prom.Gauge
}

// NewPrometheusRecorder constructs and registers the keeper metrics
// (idempotent). A nil registry gets a fresh one with the standard Go and
// process collectors attached.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	pr := &PrometheusRecorder{reg: reg}
	pr.once.Do(func() {
		pr.requestsTotal = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "keeper",
			Name:      "http_requests_total",
			Help:      "API requests by method, route, and status class",
		}, []string{"method", "route", "status"})
		pr.requestDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "keeper",
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by method and route",
			Buckets:   prom.DefBuckets,
		}, []string{"method", "route"})
		pr.inflight = prom.NewGauge(prom.GaugeOpts{
			Namespace: "keeper",
			Name:      "http_inflight_requests",
			Help:      "API requests currently being served",
		})
		pr.tasksStarted = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "keeper",
			Name:      "publication_tasks_started_total",
			Help:      "Publication chain tasks picked up by the worker",
		}, []string{"task"})
		pr.taskResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "keeper",
			Name:      "publication_tasks_total",
			Help:      "Publication chain task outcomes",
		}, []string{"task", "result"})
		pr.taskDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "keeper",
			Name:      "publication_task_duration_seconds",
			Help:      "Publication chain task duration",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"task"})
		pr.cdnPurges = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "keeper",
			Name:      "cdn_purges_total",
			Help:      "CDN surrogate-key purges by result",
		}, []string{"result"})
		pr.pendingGauge = prom.NewGauge(prom.GaugeOpts{
			Namespace: "keeper",
			Name:      "editions_pending_rebuild",
			Help:      "Editions currently claimed for publication",
		})
		reg.MustRegister(
			pr.requestsTotal, pr.requestDuration, pr.inflight,
			pr.tasksStarted, pr.taskResults, pr.taskDuration,
			pr.cdnPurges, pr.pendingGauge,
		)
	})
	return pr
}

// Registry exposes the backing registry so the caller can mount the
// scrape endpoint over the same metric set.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

func (p *PrometheusRecorder) ObserveRequest(method, route string, status int, d time.Duration) {
	if p == nil || p.requestsTotal == nil {
		return
	}
	p.requestsTotal.WithLabelValues(method, route, statusLabel(status)).Inc()
	p.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncInflight() {
	if p == nil || p.inflight == nil {
		return
	}
	p.inflight.Inc()
}

func (p *PrometheusRecorder) DecInflight() {
	if p == nil || p.inflight == nil {
		return
	}
	p.inflight.Dec()
}

func (p *PrometheusRecorder) IncTaskStarted(task string) {
	if p == nil || p.tasksStarted == nil {
		return
	}
	p.tasksStarted.WithLabelValues(task).Inc()
}

func (p *PrometheusRecorder) IncTaskResult(task, result string) {
	if p == nil || p.taskResults == nil {
		return
	}
	p.taskResults.WithLabelValues(task, result).Inc()
}

func (p *PrometheusRecorder) ObserveTaskDuration(task string, d time.Duration) {
	if p == nil || p.taskDuration == nil {
		return
	}
	p.taskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncCDNPurge(success bool) {
	if p == nil || p.cdnPurges == nil {
		return
	}
	result := "failed"
	if success {
		result = "success"
	}
	p.cdnPurges.WithLabelValues(result).Inc()
}

func (p *PrometheusRecorder) SetPendingEditions(n int64) {
	if p == nil || p.pendingGauge == nil {
		return
	}
	p.pendingGauge.Set(float64(n))
}

// HTTPHandler serves the registry in Prometheus exposition format.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
