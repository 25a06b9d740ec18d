// Package metrics 采集工作者池与宿主的 Prometheus 指标。
//
// 所有指标注册在私有 Registry 上，不污染全局 DefaultRegisterer。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gocrud/servicehost/hosting"
	"github.com/gocrud/servicehost/workerpool"
)

// Registry 私有指标注册表
type Registry struct {
	namespace string
	registry  *prometheus.Registry
}

// NewRegistry 创建注册表并注册 Go 运行时与进程采集器
func NewRegistry(namespace string) *Registry {
	if namespace == "" {
		namespace = "servicehost"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Registry{namespace: namespace, registry: reg}
}

// Namespace 返回指标命名空间
func (r *Registry) Namespace() string {
	return r.namespace
}

// Gatherer 返回底层 Gatherer
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// MustRegister 注册额外的采集器
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.registry.MustRegister(cs...)
}

// Handler 返回 /metrics 处理器
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// PoolObserver 实现 workerpool.Observer
type PoolObserver struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	panics    prometheus.Counter
	inFlight  prometheus.Gauge
	duration  prometheus.Histogram
	state     prometheus.Gauge
}

var _ workerpool.Observer = (*PoolObserver)(nil)

// NewPoolObserver 创建并注册工作者池指标
func NewPoolObserver(r *Registry) *PoolObserver {
	o := &PoolObserver{
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted to the worker pool",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that finished without panicking",
		}),
		panics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      "task_panics_total",
			Help:      "Total number of contained task panics",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      "tasks_pending",
			Help:      "Tasks submitted but not yet finished",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Task execution time",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10), // 0.5ms to ~2min
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: r.namespace,
			Subsystem: "pool",
			Name:      "state",
			Help:      "Worker pool state (0=running, 1=draining, 2=stopped)",
		}),
	}

	r.registry.MustRegister(o.submitted, o.completed, o.panics, o.inFlight, o.duration, o.state)
	return o
}

func (o *PoolObserver) TaskSubmitted() {
	o.submitted.Inc()
	o.inFlight.Inc()
}

func (o *PoolObserver) TaskFinished(d time.Duration, panicked bool) {
	o.inFlight.Dec()
	o.duration.Observe(d.Seconds())
	if panicked {
		o.panics.Inc()
		return
	}
	o.completed.Inc()
}

func (o *PoolObserver) StateChanged(state workerpool.State) {
	o.state.Set(float64(state))
}

// HostStateObserver 返回记录宿主状态的 hosting.StateObserver
func HostStateObserver(r *Registry) hosting.StateObserver {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: r.namespace,
		Subsystem: "host",
		Name:      "state",
		Help:      "Service host state (0=constructing, 1=running, 2=shutting_down, 3=terminated)",
	})
	r.registry.MustRegister(g)

	return func(state hosting.State) {
		g.Set(float64(state))
	}
}
