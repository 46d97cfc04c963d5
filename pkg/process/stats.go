package process

import (
	"context"
	"fmt"
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

// Stats is a resource snapshot of a running worker
type Stats struct {
	PID        int           `json:"pid"`
	CPUPercent float64       `json:"cpu_percent"`
	RSSBytes   uint64        `json:"rss_bytes"`
	NumThreads int32         `json:"num_threads"`
	Uptime     time.Duration `json:"uptime"`
}

// Stats samples CPU and memory usage of the worker
func (p *Process) Stats(ctx context.Context) (*Stats, error) {
	p.mu.Lock()
	running, handle, startedAt := p.running, p.handle, p.startedAt
	p.mu.Unlock()

	if !running || handle == nil {
		return nil, fmt.Errorf("worker %s is not running", p.id)
	}

	proc, err := psprocess.NewProcessWithContext(ctx, int32(handle.Pid()))
	if err != nil {
		return nil, fmt.Errorf("failed to inspect pid %d: %w", handle.Pid(), err)
	}

	stats := &Stats{PID: handle.Pid(), Uptime: time.Since(startedAt)}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = threads
	}
	return stats, nil
}
