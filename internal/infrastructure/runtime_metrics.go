package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RuntimeMetrics records Go runtime gauges for the gateway process
type RuntimeMetrics struct {
	goroutines    metric.Int64Gauge
	heapAlloc     metric.Int64Gauge
	memorySystem  metric.Int64Gauge
	gcPause       metric.Float64Histogram
	processUptime metric.Float64Gauge

	lastNumGC uint32
}

// NewRuntimeMetrics creates the runtime instruments on meter
func NewRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	goroutines, err := meter.Int64Gauge(
		"process_goroutines",
		metric.WithDescription("Number of active goroutines"),
	)
	if err != nil {
		return nil, err
	}

	heapAlloc, err := meter.Int64Gauge(
		"process_heap_alloc_bytes",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	memorySystem, err := meter.Int64Gauge(
		"process_memory_system_bytes",
		metric.WithDescription("Memory obtained from the OS in bytes"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	gcPause, err := meter.Float64Histogram(
		"process_gc_pause_seconds",
		metric.WithDescription("Garbage collection pause duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	processUptime, err := meter.Float64Gauge(
		"process_uptime_seconds",
		metric.WithDescription("Process uptime in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &RuntimeMetrics{
		goroutines:    goroutines,
		heapAlloc:     heapAlloc,
		memorySystem:  memorySystem,
		gcPause:       gcPause,
		processUptime: processUptime,
	}, nil
}

// RuntimeStats is a snapshot of the Go runtime
type RuntimeStats struct {
	Goroutines    int           `json:"goroutines"`
	HeapAllocMB   uint64        `json:"heap_alloc_mb"`
	MemorySysMB   uint64        `json:"memory_system_mb"`
	GCCount       uint32        `json:"gc_count"`
	LastGCPause   time.Duration `json:"-"`
	LastGCPauseMS int64         `json:"last_gc_pause_ms"`
	Uptime        time.Duration `json:"-"`
	UptimeSeconds float64       `json:"uptime_seconds"`
}

// ReadRuntimeStats reads the current runtime statistics
func ReadRuntimeStats(startTime time.Time) RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return statsFrom(&mem, startTime)
}

func statsFrom(mem *runtime.MemStats, startTime time.Time) RuntimeStats {
	pause := time.Duration(mem.PauseNs[(mem.NumGC+255)%256])
	uptime := time.Since(startTime)
	return RuntimeStats{
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   mem.HeapAlloc / 1024 / 1024,
		MemorySysMB:   mem.Sys / 1024 / 1024,
		GCCount:       mem.NumGC,
		LastGCPause:   pause,
		LastGCPauseMS: pause.Milliseconds(),
		Uptime:        uptime,
		UptimeSeconds: uptime.Seconds(),
	}
}

// Collect reads the runtime statistics and records them
func (m *RuntimeMetrics) Collect(ctx context.Context, startTime time.Time) RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	stats := statsFrom(&mem, startTime)

	m.goroutines.Record(ctx, int64(stats.Goroutines))
	m.heapAlloc.Record(ctx, int64(mem.HeapAlloc))
	m.memorySystem.Record(ctx, int64(mem.Sys))
	m.processUptime.Record(ctx, stats.Uptime.Seconds())

	// Only record a pause when a collection happened since the last sample
	if stats.GCCount != m.lastNumGC && stats.LastGCPause > 0 {
		m.gcPause.Record(ctx, stats.LastGCPause.Seconds())
	}
	m.lastNumGC = stats.GCCount

	return stats
}

// RuntimeCollector samples RuntimeMetrics periodically
type RuntimeCollector struct {
	metrics   *RuntimeMetrics
	startTime time.Time
	interval  time.Duration
}

// NewRuntimeCollector creates a collector sampling every interval
func NewRuntimeCollector(meter metric.Meter, startTime time.Time, interval time.Duration) (*RuntimeCollector, error) {
	metrics, err := NewRuntimeMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime metrics: %w", err)
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &RuntimeCollector{
		metrics:   metrics,
		startTime: startTime,
		interval:  interval,
	}, nil
}

// Run samples until ctx is done
func (c *RuntimeCollector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.metrics.Collect(ctx, c.startTime)
	for {
		select {
		case <-ticker.C:
			c.metrics.Collect(ctx, c.startTime)
		case <-ctx.Done():
			return nil
		}
	}
}
