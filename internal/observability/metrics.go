package observability

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/trace-backend/internal/platform/logger"
)

const (
	MetricsNamespace = "trace"
)

// Metrics holds the Prometheus collectors. All methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec

	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	routerResolutions *prometheus.CounterVec
	externalFallbacks *prometheus.CounterVec

	pipelineStage   *prometheus.HistogramVec
	pipelineResults *prometheus.CounterVec
	gpuPolls        *prometheus.CounterVec

	spreadEdges   *prometheus.CounterVec
	schedulerRuns *prometheus.CounterVec
	schedulerDur  *prometheus.HistogramVec

	matchQueueDepth prometheus.Gauge
	redisUp         prometheus.Gauge
	redisPing       prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

// Current returns the process-wide metrics, or nil before Init.
func Current() *Metrics {
	return instance
}

// Init registers the process-wide metrics once.
func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		instance = NewMetrics(reg)
		instance.registry = reg
		if log != nil {
			log.Info("metrics initialized", "namespace", MetricsNamespace)
		}
	})
	return instance
}

// NewMetrics creates and registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{}
	m.initAPIMetrics(factory)
	m.initResolverMetrics(factory)
	m.initLineageMetrics(factory)
	return m
}

func (m *Metrics) initAPIMetrics(factory promauto.Factory) {
	m.apiRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
	m.apiLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	m.upstreamRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Calls to external capabilities",
	}, []string{"service", "operation", "status"})
	m.upstreamLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of calls to external capabilities",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"service", "operation"})
}

func (m *Metrics) initResolverMetrics(factory promauto.Factory) {
	m.routerResolutions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "router",
		Name:      "resolutions_total",
		Help:      "Search router resolutions by path (cache, local, external)",
	}, []string{"path"})
	m.externalFallbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "router",
		Name:      "external_fallbacks_total",
		Help:      "External fallback decisions by reason",
	}, []string{"reason"})
	m.pipelineStage = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: "pipeline",
		Name:      "stage_duration_seconds",
		Help:      "Media pipeline stage durations",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 13),
	}, []string{"pipeline", "stage"})
	m.pipelineResults = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "pipeline",
		Name:      "results_total",
		Help:      "Media pipeline outcomes",
	}, []string{"pipeline", "outcome"})
	m.gpuPolls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "gpu",
		Name:      "jobs_total",
		Help:      "GPU batch job outcomes (done, failed, timeout, cancel_failed)",
	}, []string{"outcome"})
	m.matchQueueDepth = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "matchqueue",
		Name:      "depth",
		Help:      "Images waiting for batch reverse-image matching",
	})
	m.redisUp = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "redis",
		Name:      "up",
		Help:      "1 when the last redis ping succeeded",
	})
	m.redisPing = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: "redis",
		Name:      "ping_seconds",
		Help:      "Latency of the last redis ping",
	})
}

func (m *Metrics) initLineageMetrics(factory promauto.Factory) {
	m.spreadEdges = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "lineage",
		Name:      "spread_edges_created_total",
		Help:      "Spread relationships created by the batch build",
	}, []string{"kind"})
	m.schedulerRuns = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Batch job runs by job, trigger and status",
	}, []string{"job", "trigger", "status"})
	m.schedulerDur = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: "scheduler",
		Name:      "run_duration_seconds",
		Help:      "Batch job run durations",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
	}, []string{"job"})
}

// Handler serves the registry used by Init, or the default gatherer.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route string, status int, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ObserveUpstream(service, operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(service, operation, status).Inc()
	m.upstreamLatency.WithLabelValues(service, operation).Observe(dur.Seconds())
}

func (m *Metrics) IncResolution(path string) {
	if m == nil {
		return
	}
	m.routerResolutions.WithLabelValues(path).Inc()
}

func (m *Metrics) IncExternalFallback(reason string) {
	if m == nil {
		return
	}
	m.externalFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveStage(pipeline, stage string, dur time.Duration) {
	if m == nil {
		return
	}
	m.pipelineStage.WithLabelValues(pipeline, stage).Observe(dur.Seconds())
}

func (m *Metrics) IncPipelineResult(pipeline, outcome string) {
	if m == nil {
		return
	}
	m.pipelineResults.WithLabelValues(pipeline, outcome).Inc()
}

func (m *Metrics) IncGPUOutcome(outcome string) {
	if m == nil {
		return
	}
	m.gpuPolls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddSpreadEdges(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.spreadEdges.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveSchedulerRun(job, trigger, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.schedulerRuns.WithLabelValues(job, trigger, status).Inc()
	m.schedulerDur.WithLabelValues(job).Observe(dur.Seconds())
}

func (m *Metrics) SetMatchQueueDepth(n int) {
	if m == nil {
		return
	}
	m.matchQueueDepth.Set(float64(n))
}

// StartRedisCollector pings rdb every interval until ctx is done.
func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, rdb *goredis.Client, interval time.Duration) {
	if m == nil || rdb == nil {
		return
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}
