// Package usage samples the resource usage of the current process. Samples
// are attached to participant liveness reports.
package usage

import (
	"runtime"
	"sync"
	"time"
)

const clockTicks = 100.0

type CPU struct {
	UserSeconds   float64 `json:"user_seconds"`
	SystemSeconds float64 `json:"system_seconds"`
	Percent       float64 `json:"percent"` // 100% = one full CPU core
}

type Memory struct {
	RSSBytes uint64 `json:"rss_bytes"`

	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	HeapInuseBytes uint64 `json:"heap_inuse_bytes"`

	ContainerUsageBytes uint64 `json:"container_usage_bytes,omitempty"`
	ContainerLimitBytes uint64 `json:"container_limit_bytes,omitempty"`
}

type Usage struct {
	Timestamp  time.Time `json:"timestamp"`
	Goroutines int       `json:"goroutines"`
	CPU        CPU       `json:"cpu"`
	Memory     Memory    `json:"memory"`
}

// Collector samples usage. CPU percent is computed between consecutive
// samples, so the first sample reports zero.
type Collector struct {
	mu         sync.Mutex
	procRoot   string
	cgroupRoot string
	now        func() time.Time

	prevProcJiffies  uint64
	prevTotalJiffies uint64
}

func NewCollector() *Collector {
	return &Collector{
		procRoot:   "/proc",
		cgroupRoot: "/sys/fs/cgroup",
		now:        time.Now,
	}
}

func (c *Collector) Collect() Usage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	u := Usage{
		Timestamp:  c.now(),
		Goroutines: runtime.NumGoroutine(),
		Memory: Memory{
			HeapAllocBytes: ms.HeapAlloc,
			HeapInuseBytes: ms.HeapInuse,
		},
	}

	stat, statOK := readSelfStat(c.procRoot)
	if statOK {
		u.CPU.UserSeconds = float64(stat.utime) / clockTicks
		u.CPU.SystemSeconds = float64(stat.stime) / clockTicks
		u.Memory.RSSBytes = stat.rssBytes
	}

	if usage, limit, ok := readCgroupMemory(c.cgroupRoot); ok {
		u.Memory.ContainerUsageBytes = usage
		u.Memory.ContainerLimitBytes = limit
	}

	total, totalOK := readTotalJiffies(c.procRoot)
	if !statOK || !totalOK {
		return u
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	proc := stat.utime + stat.stime
	if c.prevTotalJiffies > 0 && total > c.prevTotalJiffies {
		u.CPU.Percent = float64(proc-c.prevProcJiffies) / float64(total-c.prevTotalJiffies) * 100
	}
	c.prevProcJiffies = proc
	c.prevTotalJiffies = total

	return u
}
