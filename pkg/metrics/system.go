package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemStats 运维用的主机快照，取不到的项保持零值
type SystemStats struct {
	Timestamp time.Time    `json:"timestamp"`
	CPU       CPUStats     `json:"cpu"`
	Memory    MemoryStats  `json:"memory"`
	Host      HostStats    `json:"host"`
	Runtime   RuntimeStats `json:"runtime"`
	Errors    []string     `json:"errors,omitempty"`
}

type CPUStats struct {
	UsagePercent float64   `json:"usagePercent"`
	CountLogical int       `json:"countLogical"`
	LoadAvg      []float64 `json:"loadAvg,omitempty"`
}

type MemoryStats struct {
	Total        uint64  `json:"total"`
	Available    uint64  `json:"available"`
	Used         uint64  `json:"used"`
	UsagePercent float64 `json:"usagePercent"`
}

type HostStats struct {
	Hostname string `json:"hostname"`
	OS       string `json:"os"`
	Platform string `json:"platform"`
	Uptime   uint64 `json:"uptime"`
}

type RuntimeStats struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heapAlloc"`
	NumGC      uint32 `json:"numGC"`
	GoVersion  string `json:"goVersion"`
}

// CollectSystemStats 采集失败的项记入 Errors，不中断其它项
func CollectSystemStats(ctx context.Context) SystemStats {
	s := SystemStats{Timestamp: time.Now().UTC()}
	fail := func(what string, err error) {
		s.Errors = append(s.Errors, what+": "+err.Error())
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		fail("cpu", err)
	} else if len(pct) > 0 {
		s.CPU.UsagePercent = pct[0]
	}
	if n, err := cpu.CountsWithContext(ctx, true); err != nil {
		fail("cpu count", err)
	} else {
		s.CPU.CountLogical = n
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		s.CPU.LoadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		fail("memory", err)
	} else {
		s.Memory = MemoryStats{Total: vm.Total, Available: vm.Available, Used: vm.Used, UsagePercent: vm.UsedPercent}
	}

	if info, err := host.InfoWithContext(ctx); err != nil {
		fail("host", err)
	} else {
		s.Host = HostStats{Hostname: info.Hostname, OS: info.OS, Platform: info.Platform, Uptime: info.Uptime}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.Runtime = RuntimeStats{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		NumGC:      ms.NumGC,
		GoVersion:  runtime.Version(),
	}
	return s
}
