package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/cash-clearing/internal/domain/entity"
	"github.com/garyjia/cash-clearing/internal/domain/event"
	"github.com/garyjia/cash-clearing/internal/domain/failure"
	domainwf "github.com/garyjia/cash-clearing/internal/domain/workflow"
)

const namespace = "cash_clearing"

// Recorder collects workflow, batch, error and HTTP metrics on a private registry
type Recorder struct {
	registry *prometheus.Registry

	workflowsTotal  *prometheus.CounterVec
	stepsTotal      *prometheus.CounterVec
	stepDuration    *prometheus.HistogramVec
	batchItemsTotal *prometheus.CounterVec
	batchDuration   prometheus.Histogram
	errorsTotal     *prometheus.CounterVec
	eventsTotal     *prometheus.CounterVec

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge
}

// NewRecorder creates and registers every collector
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	workflowsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Workflow runs entering each status.",
		},
		[]string{"status"},
	)
	stepsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Finished workflow steps by step and outcome.",
		},
		[]string{"step", "status"},
	)
	stepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "step_duration_seconds",
			Help:      "Workflow step duration in seconds, retries included.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"step"},
	)
	batchItemsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "items_total",
			Help:      "Batch items by outcome.",
		},
		[]string{"outcome"},
	)
	batchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Batch processing duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "classified_total",
			Help:      "Classified errors by category, severity and source.",
		},
		[]string{"category", "severity", "source"},
	)
	eventsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Domain events by type.",
		},
		[]string{"type"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "path", "status"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	requestInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of in-flight HTTP requests.",
		},
	)

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		workflowsTotal,
		stepsTotal,
		stepDuration,
		batchItemsTotal,
		batchDuration,
		errorsTotal,
		eventsTotal,
		requestTotal,
		requestDuration,
		requestInFlight,
	)

	return &Recorder{
		registry:        registry,
		workflowsTotal:  workflowsTotal,
		stepsTotal:      stepsTotal,
		stepDuration:    stepDuration,
		batchItemsTotal: batchItemsTotal,
		batchDuration:   batchDuration,
		errorsTotal:     errorsTotal,
		eventsTotal:     eventsTotal,
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		requestInFlight: requestInFlight,
	}
}

// Registry exposes the underlying registry, mainly for tests
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RegisterPool exports the step pool's occupancy as gauges
func (r *Recorder) RegisterPool(running, capacity func() int) {
	r.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "running_workers",
			Help:      "Busy workers in the step pool.",
		}, func() float64 { return float64(running()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "capacity",
			Help:      "Size of the step pool.",
		}, func() float64 { return float64(capacity()) }),
	)
}

// ObserveStep records one finished step
func (r *Recorder) ObserveStep(step int, status domainwf.StepStatus, elapsed time.Duration) {
	name := entity.StepName(step)
	r.stepsTotal.WithLabelValues(name, string(status)).Inc()
	r.stepDuration.WithLabelValues(name).Observe(elapsed.Seconds())
}

// ObserveWorkflow records a run entering status
func (r *Recorder) ObserveWorkflow(status domainwf.RunStatus) {
	r.workflowsTotal.WithLabelValues(status.String()).Inc()
}

// ObserveBatch records the outcome counts of one batch
func (r *Recorder) ObserveBatch(result *entity.BatchResult) {
	if result == nil {
		return
	}
	r.batchItemsTotal.WithLabelValues("successful").Add(float64(result.Successful))
	r.batchItemsTotal.WithLabelValues("failed").Add(float64(result.Failed))
	r.batchItemsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	r.batchDuration.Observe(time.Duration(result.DurationMS * int64(time.Millisecond)).Seconds())
}

// ObserveClassification records one classified error
func (r *Recorder) ObserveClassification(c failure.Classification) {
	r.errorsTotal.WithLabelValues(string(c.Category), c.Severity.String(), string(c.Source)).Inc()
}

// HandleEvent counts a published domain event. It matches dispatcher.Handler.
func (r *Recorder) HandleEvent(ctx context.Context, evt *event.Event) error {
	r.eventsTotal.WithLabelValues(evt.Type.String()).Inc()
	return nil
}

// Middleware records request counts and latency by route template
func (r *Recorder) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		r.requestInFlight.Inc()
		defer r.requestInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		r.requestTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		r.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
