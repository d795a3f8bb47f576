package extractor

import (
	"context"
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// maxAutoWorkers caps the worker count chosen when max_workers is 0
const maxAutoWorkers = 16

// SystemStats is one host resource sample
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	Goroutines    int     `json:"goroutines"`
}

// SampleSystem reads host CPU and memory usage. CPU usage is measured
// since the previous call, so the first sample may read zero.
func SampleSystem(ctx context.Context) (SystemStats, error) {
	stats := SystemStats{Goroutines: runtime.NumGoroutine()}

	cpuPercents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return stats, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(cpuPercents) > 0 {
		stats.CPUPercent = cpuPercents[0]
	}

	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to read memory usage: %w", err)
	}
	stats.MemoryPercent = memStats.UsedPercent
	stats.MemoryUsedMB = memStats.Used / 1024 / 1024

	return stats, nil
}

// DefaultWorkerCount returns the logical CPU count, capped at 16
func DefaultWorkerCount(ctx context.Context) int {
	n, err := cpu.CountsWithContext(ctx, true)
	if err != nil || n < 1 {
		n = runtime.NumCPU()
	}
	return min(max(n, 1), maxAutoWorkers)
}
