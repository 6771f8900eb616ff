package orchestrator

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/singlethrowdata/scout/pkg/types"
)

// collectHostStats snapshots the machine for the run summary. Best effort:
// a host where gopsutil cannot read /proc still gets a summary, just without
// the memory numbers.
func collectHostStats() *types.HostStats {
	stats := &types.HostStats{
		NumGoroutines: runtime.NumGoroutine(),
	}
	if hostname, err := os.Hostname(); err == nil {
		stats.Hostname = hostname
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats.MemoryTotalMB = vm.Total / 1024 / 1024
		stats.MemoryUsedPct = vm.UsedPercent
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfo(); err == nil && info != nil {
			stats.ProcessRSSMB = info.RSS / 1024 / 1024
		}
	}
	return stats
}
