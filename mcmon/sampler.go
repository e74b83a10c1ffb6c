package mcmon

import (
	"context"
	"sync"
	"time"

	"git.unix.lgbt/diamondburned/mcmon/mcmon/exec"
)

// DefaultStatsInterval is the default duration between two stats samples.
var DefaultStatsInterval = 2 * time.Second

// Sampler periodically samples a process' resource usage. It stops either when
// Stop is called or when sampling fails for the first time, whichever comes
// first.
type Sampler struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// StartSampler starts sampling the given PID every interval in the background.
// Each sample is normalized over cores and passed to emit as an
// EventStatsSample.
func StartSampler(
	ctx context.Context, pid int, interval time.Duration,
	metrics exec.Metrics, cores int, emit func(Event)) *Sampler {

	ctx, cancel := context.WithCancel(ctx)

	s := &Sampler{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.loop(ctx, pid, interval, metrics, cores, emit)

	return s
}

// Stop stops the sampler. It is safe to call Stop multiple times, and it does
// not wait for the background routine to exit; use Done for that.
func (s *Sampler) Stop() {
	s.once.Do(s.cancel)
}

// Done returns a channel that's closed once the sampler has stopped.
func (s *Sampler) Done() <-chan struct{} {
	return s.done
}

func (s *Sampler) loop(
	ctx context.Context, pid int, interval time.Duration,
	metrics exec.Metrics, cores int, emit func(Event)) {

	defer close(s.done)
	defer metrics.Forget(pid)
	defer s.Stop()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			usage, err := metrics.Sample(ctx, pid)
			if err != nil {
				// The process is most likely gone, which is an ordinary end
				// of life rather than an error.
				return
			}

			// Don't emit if we were stopped while sampling.
			if ctx.Err() != nil {
				return
			}

			emit(&EventStatsSample{
				CPUPercent:  NormalizeCPU(usage.CPUPercent, cores),
				MemoryBytes: usage.MemoryBytes,
			})
		}
	}
}

// NormalizeCPU divides a multi-core CPU percentage over the number of cores.
// Values that aren't positive are returned as 0.
func NormalizeCPU(percent float64, cores int) float64 {
	if percent <= 0 {
		return 0
	}
	if cores < 1 {
		return percent
	}
	return percent / float64(cores)
}
