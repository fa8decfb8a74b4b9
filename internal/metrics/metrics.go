package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const namespace = "logbridge"

// Collector provides a central place for all application metrics
type Collector struct {
	// Tailer metrics
	TailerLinesRead *prometheus.CounterVec
	TailerBytesRead *prometheus.CounterVec
	TailerReopens   *prometheus.CounterVec

	// Parser metrics
	ParserRecordsParsed *prometheus.CounterVec
	ParserRecordsFailed *prometheus.CounterVec

	// Flatten metrics
	RecordsSkipped *prometheus.CounterVec

	// Output metrics
	OutputRecordsSent   *prometheus.CounterVec
	OutputRecordsFailed *prometheus.CounterVec
	OutputRetries       *prometheus.CounterVec
	OutputDuration      *prometheus.HistogramVec

	// Forwarder metrics
	ForwarderState *prometheus.GaugeVec

	// System metrics
	SystemGoroutines prometheus.Gauge
	SystemMemAlloc   prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
	stop     chan struct{}
}

// NewCollector creates a new metrics collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
	}

	c.initTailerMetrics()
	c.initParserMetrics()
	c.initOutputMetrics()
	c.initForwarderMetrics()
	c.initSystemMetrics()

	return c
}

func (c *Collector) initTailerMetrics() {
	c.TailerLinesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "lines_read_total",
			Help:      "Total number of complete lines read from the tailed file",
		},
		[]string{"path"},
	)

	c.TailerBytesRead = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "bytes_read_total",
			Help:      "Total bytes of complete lines read from the tailed file",
		},
		[]string{"path"},
	)

	c.TailerReopens = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tailer",
			Name:      "reopens_total",
			Help:      "Number of times the tailed file was reopened or rewound",
		},
		[]string{"path", "reason"},
	)
}

func (c *Collector) initParserMetrics() {
	c.ParserRecordsParsed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "records_parsed_total",
			Help:      "Total number of lines decoded into records",
		},
		[]string{"parser"},
	)

	c.ParserRecordsFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parser",
			Name:      "records_failed_total",
			Help:      "Total number of malformed lines skipped",
		},
		[]string{"parser", "reason"},
	)

	c.RecordsSkipped = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "flatten",
			Name:      "records_skipped_total",
			Help:      "Total number of records skipped after flattening",
		},
		[]string{"reason"},
	)
}

func (c *Collector) initOutputMetrics() {
	c.OutputRecordsSent = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "records_sent_total",
			Help:      "Total number of records appended to the stream",
		},
		[]string{"output", "stream"},
	)

	c.OutputRecordsFailed = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "records_failed_total",
			Help:      "Total number of records that could not be appended",
		},
		[]string{"output", "stream"},
	)

	c.OutputRetries = promauto.With(c.registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "retries_total",
			Help:      "Total number of append retries",
		},
		[]string{"output"},
	)

	c.OutputDuration = promauto.With(c.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "output",
			Name:      "append_duration_seconds",
			Help:      "Time taken to append one record, retries included",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 100µs to ~1.6s
		},
		[]string{"output"},
	)
}

func (c *Collector) initForwarderMetrics() {
	c.ForwarderState = promauto.With(c.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "forwarder",
			Name:      "state",
			Help:      "Current forwarder state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)
}

func (c *Collector) initSystemMetrics() {
	c.SystemGoroutines = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "goroutines",
			Help:      "Number of goroutines",
		},
	)

	c.SystemMemAlloc = promauto.With(c.registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "system",
			Name:      "memory_alloc_bytes",
			Help:      "Bytes of allocated heap objects",
		},
	)
}

// SetState marks state as the active forwarder state among all
func (c *Collector) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		c.ForwarderState.WithLabelValues(s).Set(v)
	}
}

// Start begins collecting system metrics periodically
func (c *Collector) Start(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	stop := c.stop

	c.collectSystemMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.collectSystemMetrics()
			}
		}
	}()
}

// Stop stops the periodic collection started by Start
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// collectSystemMetrics gathers runtime metrics
func (c *Collector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
	c.SystemMemAlloc.Set(float64(m.Alloc))
}

// Registry returns the Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
