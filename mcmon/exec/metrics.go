package exec

import (
	"context"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	psprocess "github.com/shirou/gopsutil/v3/process"
)

// Usage is a single resource usage measurement of a process.
type Usage struct {
	// CPUPercent is the CPU usage since the previous sample, where 100 is one
	// fully used core. It may exceed 100 on multi-core machines.
	CPUPercent  float64
	MemoryBytes uint64
}

// Metrics queries the operating system for a process' resource usage.
type Metrics interface {
	Sample(ctx context.Context, pid int) (Usage, error)
	// Forget drops any state kept for the given process.
	Forget(pid int)
}

type processMetrics struct {
	mutex sync.Mutex
	procs map[int]*psprocess.Process
}

// NewProcessMetrics creates a Metrics backed by gopsutil. CPU usage is measured
// between consecutive samples of the same PID; the first sample reports 0.
func NewProcessMetrics() Metrics {
	return &processMetrics{
		procs: make(map[int]*psprocess.Process),
	}
}

func (m *processMetrics) Sample(ctx context.Context, pid int) (Usage, error) {
	p, err := m.process(ctx, pid)
	if err != nil {
		return Usage{}, err
	}

	cpuPercent, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		m.Forget(pid)
		return Usage{}, errors.Wrap(err, "failed to get CPU usage")
	}

	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		m.Forget(pid)
		return Usage{}, errors.Wrap(err, "failed to get memory usage")
	}

	return Usage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.RSS,
	}, nil
}

func (m *processMetrics) process(ctx context.Context, pid int) (*psprocess.Process, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if p, ok := m.procs[pid]; ok {
		return p, nil
	}

	p, err := psprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, errors.Wrap(err, "failed to find process")
	}

	m.procs[pid] = p
	return p, nil
}

func (m *processMetrics) Forget(pid int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	delete(m.procs, pid)
}

// LogicalCores returns the number of logical CPU cores. It falls back to
// runtime.NumCPU if the operating system can't be asked.
func LogicalCores() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return runtime.NumCPU()
	}
	return n
}
