// Package metrics samples host and process resource usage for the stats
// endpoint.
package metrics

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const gib = 1024 * 1024 * 1024

// System is a point-in-time resource snapshot
type System struct {
	CPULoad1       float64 `json:"cpu_load_1"`
	CPUs           int     `json:"cpus"`
	Goroutines     int     `json:"goroutines"`
	MemTotalGB     float64 `json:"mem_total_gb"`
	MemUsedRatio   float64 `json:"mem_used_ratio"`
	ProcRSSGB      float64 `json:"proc_rss_gb"`
	DiskTotalGB    float64 `json:"disk_total_gb"`
	DiskUsageRatio float64 `json:"disk_usage_ratio"`
}

// CollectSystem samples the host. Readings that fail leave their fields zero.
func CollectSystem(ctx context.Context) System {
	out := System{
		CPUs:       runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		out.CPULoad1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm.Total > 0 {
		out.MemTotalGB = float64(vm.Total) / gib
		out.MemUsedRatio = vm.UsedPercent / 100.0
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil && du.Total > 0 {
		out.DiskTotalGB = float64(du.Total) / gib
		out.DiskUsageRatio = du.UsedPercent / 100.0
	}
	if p, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if pm, err := p.MemoryInfoWithContext(ctx); err == nil && pm != nil {
			out.ProcRSSGB = float64(pm.RSS) / gib
		}
	}

	return out
}
