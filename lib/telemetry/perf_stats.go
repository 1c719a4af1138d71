package telemetry

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/process"
	"go.opentelemetry.io/otel"
)

var meter = otel.Meter("portalwatch.perf_stats")
var cpuGauge, _ = meter.Float64Gauge("cpu_usage")
var memoryGauge, _ = meter.Int64Gauge("allocated_mb")
var goroutineGauge, _ = meter.Int64Gauge("goroutine_count")
var browserGauge, _ = meter.Int64Gauge("browser_processes")

// browserProcesses counts the chrome processes started by this process,
// a count that keeps growing between checks means browsers are leaking.
func browserProcesses(ctx context.Context) (int64, error) {
	self, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	children, err := self.ChildrenWithContext(ctx)
	if err != nil {
		// gopsutil reports having no children as an error
		return 0, nil
	}
	var count int64
	for _, child := range children {
		name, err := child.NameWithContext(ctx)
		if err != nil {
			continue
		}
		name = strings.ToLower(name)
		if strings.Contains(name, "chrom") {
			count++
		}
	}
	return count, nil
}

// InstrumentPerfStats records process gauges every 30 seconds until ctx is
// done.
func InstrumentPerfStats(ctx context.Context) {
	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				// a zero interval compares against the previous call
				cpuUsage, err := cpu.PercentWithContext(ctx, 0, false)
				if err == nil && len(cpuUsage) > 0 {
					cpuGauge.Record(ctx, cpuUsage[0])
				} else if err != nil {
					slog.Warn("failed to read cpu usage", "err", err)
				}

				browsers, err := browserProcesses(ctx)
				if err == nil {
					browserGauge.Record(ctx, browsers)
				} else {
					slog.Warn("failed to count browser processes", "err", err)
				}

				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
