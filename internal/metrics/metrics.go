// Package metrics exposes server counters, gauges and histograms through a
// private Prometheus registry.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const namespace = "agentd"

// Collector registers and updates the server's Prometheus metrics. It also
// tracks the values needed for the periodic in-process `stats` broadcast
// (websocket/handlers), reading them back out of the same registry rather
// than maintaining a second set of counters.
type Collector struct {
	registry *prometheus.Registry

	totalExecutions  prometheus.Counter
	totalMessages    prometheus.Counter
	totalConnections prometheus.Counter
	totalErrors      prometheus.Counter

	activeConnections prometheus.Gauge
	activeExecutions  prometheus.Gauge
	activeProjects    prometheus.Gauge

	executionDuration prometheus.Histogram

	memoryUsage    prometheus.Gauge
	goroutineCount prometheus.Gauge
	cpuPercent     prometheus.Gauge

	hostCPUPercent    prometheus.Gauge
	hostMemoryUsedPct prometheus.Gauge
	hostDiskUsedPct   prometheus.Gauge
	hostDiskFreeBytes prometheus.Gauge

	// messageWindow gives the average message rate since the Collector was
	// created, for the throughput
	// figure in the stats broadcast. Prometheus counters are monotonic and
	// don't give you a rate without a query engine, so this is kept
	// alongside the registry rather than derived from it.
	messageWindow *throughputCounter
}

// NewCollector creates a Collector with all metrics registered against a
// private registry (never the global DefaultRegisterer, so multiple
// instances in tests don't collide).
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		totalExecutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total", Help: "Total number of agent executions started.",
		}),
		totalMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total", Help: "Total number of messages logged.",
		}),
		totalConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_total", Help: "Total number of WebSocket connections accepted.",
		}),
		totalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total", Help: "Total number of errors encountered.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections_active", Help: "Current number of open WebSocket connections.",
		}),
		activeExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "executions_active", Help: "Current number of in-flight agent executions.",
		}),
		activeProjects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "projects_active", Help: "Current number of registered projects.",
		}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_duration_seconds", Help: "Agent execution duration in seconds.",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		memoryUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "memory_usage_mb", Help: "Resident memory usage in megabytes.",
		}),
		goroutineCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "goroutines", Help: "Current number of goroutines.",
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "cpu_percent", Help: "Current process CPU usage percentage.",
		}),
		hostCPUPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "host_cpu_percent", Help: "Host-wide CPU usage percentage, sampled via gopsutil.",
		}),
		hostMemoryUsedPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "host_memory_used_percent", Help: "Host-wide memory usage percentage, sampled via gopsutil.",
		}),
		hostDiskUsedPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "host_disk_used_percent", Help: "Usage percentage of the filesystem backing the data directory, sampled via gopsutil.",
		}),
		hostDiskFreeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "host_disk_free_bytes", Help: "Free bytes on the filesystem backing the data directory, sampled via gopsutil.",
		}),
		messageWindow: newThroughputCounter(time.Minute),
	}

	reg.MustRegister(
		c.totalExecutions, c.totalMessages, c.totalConnections, c.totalErrors,
		c.activeConnections, c.activeExecutions, c.activeProjects,
		c.executionDuration,
		c.memoryUsage, c.goroutineCount, c.cpuPercent,
		c.hostCPUPercent, c.hostMemoryUsedPct, c.hostDiskUsedPct, c.hostDiskFreeBytes,
	)

	return c
}

// Handler returns the HTTP handler serving this Collector's registry in the
// Prometheus exposition format, for mounting at /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying private registry, for tests that want to
// inspect registered metrics directly.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// IncrementExecutions increments the execution counter
func (c *Collector) IncrementExecutions() {
	c.totalExecutions.Inc()
	c.activeExecutions.Inc()
}

// DecrementExecutions decrements the active execution counter
func (c *Collector) DecrementExecutions() {
	c.activeExecutions.Dec()
}

// IncrementMessages increments the message counter
func (c *Collector) IncrementMessages() {
	c.totalMessages.Inc()
	c.messageWindow.Increment()
}

// IncrementConnections increments the connection counters
func (c *Collector) IncrementConnections() {
	c.totalConnections.Inc()
	c.activeConnections.Inc()
}

// DecrementConnections decrements the active connection counter
func (c *Collector) DecrementConnections() {
	c.activeConnections.Dec()
}

// IncrementErrors increments the error counter
func (c *Collector) IncrementErrors() {
	c.totalErrors.Inc()
}

// SetActiveProjects sets the active project count
func (c *Collector) SetActiveProjects(count int64) {
	c.activeProjects.Set(float64(count))
}

// RecordExecutionDuration records an execution duration
func (c *Collector) RecordExecutionDuration(duration time.Duration) {
	c.executionDuration.Observe(duration.Seconds())
}

// UpdateResourceMetrics updates resource usage metrics
func (c *Collector) UpdateResourceMetrics(memoryMB uint64, goroutines int, cpuPercent float64) {
	c.memoryUsage.Set(float64(memoryMB))
	c.goroutineCount.Set(float64(goroutines))
	c.cpuPercent.Set(cpuPercent)
}

// SampleHost samples host-wide CPU, memory and disk usage via gopsutil and
// updates the corresponding gauges. diskPath is the directory whose backing
// filesystem is sampled (normally the server's data directory). Errors are
// swallowed; a failed sample just leaves the previous gauge value in place,
// matching how the WebSocket health_check handler treats the same calls.
func (c *Collector) SampleHost(diskPath string) {
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		c.hostCPUPercent.Set(pct[0])
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		c.hostMemoryUsedPct.Set(vm.UsedPercent)
	}

	if usage, err := disk.Usage(diskPath); err == nil {
		c.hostDiskUsedPct.Set(usage.UsedPercent)
		c.hostDiskFreeBytes.Set(float64(usage.Free))
	}
}

// GetSnapshot reads current values back out of the registry for the
// periodic stats broadcast and the GetMetrics debug endpoint.
func (c *Collector) GetSnapshot() Snapshot {
	return Snapshot{
		Counters: CounterSnapshot{
			TotalExecutions:  counterValue(c.totalExecutions),
			TotalMessages:    counterValue(c.totalMessages),
			TotalConnections: counterValue(c.totalConnections),
			TotalErrors:      counterValue(c.totalErrors),
		},
		Gauges: GaugeSnapshot{
			ActiveConnections: int64(gaugeValue(c.activeConnections)),
			ActiveExecutions:  int64(gaugeValue(c.activeExecutions)),
			ActiveProjects:    int64(gaugeValue(c.activeProjects)),
		},
		Resources: ResourceSnapshot{
			MemoryMB:       uint64(gaugeValue(c.memoryUsage)),
			GoroutineCount: int32(gaugeValue(c.goroutineCount)),
			CPUPercent:     gaugeValue(c.cpuPercent),
		},
		Performance: PerformanceSnapshot{
			ExecutionDurations: histogramPercentiles(c.executionDuration),
			MessageThroughput:  c.messageWindow.Rate(),
		},
		Timestamp: time.Now(),
	}
}

// counterValue reads a prometheus.Counter's current value via its wire
// representation; there is no direct getter on the Counter interface.
func counterValue(c prometheus.Counter) uint64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return uint64(m.GetCounter().GetValue())
}

func gaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// histogramPercentiles approximates percentiles from the histogram's fixed
// buckets. The buckets are deliberately coarse (see NewCollector); this is
// good enough for the informational stats broadcast, not for alerting
// (alerting should query Prometheus directly via /metrics instead).
func histogramPercentiles(h prometheus.Histogram) DurationPercentiles {
	m := &dto.Metric{}
	if err := h.Write(m); err != nil {
		return DurationPercentiles{}
	}
	hist := m.GetHistogram()
	buckets := hist.GetBucket()
	total := hist.GetSampleCount()
	if total == 0 {
		return DurationPercentiles{}
	}

	percentile := func(p float64) time.Duration {
		target := p * float64(total)
		for _, b := range buckets {
			if float64(b.GetCumulativeCount()) >= target {
				return time.Duration(b.GetUpperBound() * float64(time.Second))
			}
		}
		return time.Duration(hist.GetSampleSum() / float64(total) * float64(time.Second))
	}

	return DurationPercentiles{
		P50: percentile(0.50),
		P90: percentile(0.90),
		P99: percentile(0.99),
		Max: time.Duration(hist.GetSampleSum() * float64(time.Second) / float64(total)),
	}
}

// Snapshot represents a point-in-time metrics snapshot
type Snapshot struct {
	Counters    CounterSnapshot
	Gauges      GaugeSnapshot
	Resources   ResourceSnapshot
	Performance PerformanceSnapshot
	Timestamp   time.Time
}

// CounterSnapshot holds counter metrics
type CounterSnapshot struct {
	TotalExecutions  uint64
	TotalMessages    uint64
	TotalConnections uint64
	TotalErrors      uint64
}

// GaugeSnapshot holds gauge metrics
type GaugeSnapshot struct {
	ActiveConnections int64
	ActiveExecutions  int64
	ActiveProjects    int64
}

// ResourceSnapshot holds resource metrics
type ResourceSnapshot struct {
	MemoryMB       uint64
	GoroutineCount int32
	CPUPercent     float64
}

// PerformanceSnapshot holds performance metrics
type PerformanceSnapshot struct {
	ExecutionDurations DurationPercentiles
	MessageThroughput  float64 // messages per second
}

// DurationPercentiles holds duration percentile data
type DurationPercentiles struct {
	P50 time.Duration
	P90 time.Duration
	P99 time.Duration
	Min time.Duration
	Max time.Duration
}

// throughputCounter reports the average message rate since it was created;
// the window field is stored but not used by Rate. Kept as a small
// in-package helper rather than derived from a Prometheus metric because a
// rate needs a query engine (rate()) this process doesn't run; /metrics
// exposes the raw counter for that purpose instead.
type throughputCounter struct {
	window  time.Duration
	count   int64
	started int64 // unix seconds of window start
}

func newThroughputCounter(window time.Duration) *throughputCounter {
	return &throughputCounter{window: window, started: time.Now().Unix()}
}

func (t *throughputCounter) Increment() {
	atomic.AddInt64(&t.count, 1)
}

func (t *throughputCounter) Rate() float64 {
	elapsed := time.Since(time.Unix(atomic.LoadInt64(&t.started), 0))
	if elapsed <= 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&t.count)) / elapsed.Seconds()
}
