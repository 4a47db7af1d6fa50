// internal/profiler/profiler.go
package profiler

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/xkilldash9x/caliper-cli/api/schemas"
	"github.com/xkilldash9x/caliper-cli/internal/config"
)

// Profiler samples the runner process while a scenario's steps execute. CPU
// and RSS come from the OS via gopsutil; heap and goroutine counts from the
// Go runtime.
type Profiler struct {
	logger   *zap.Logger
	interval time.Duration
}

func New(cfg config.ProfileConfig, logger *zap.Logger) *Profiler {
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Profiler{
		logger:   logger.Named("profiler"),
		interval: interval,
	}
}

// Run is one sampling window. Stop ends it and yields the aggregate.
type Run struct {
	logger *zap.Logger
	proc   *process.Process
	cancel context.CancelFunc
	done   chan struct{}

	once    sync.Once
	profile *schemas.ExecutionProfile

	mu      sync.Mutex
	started time.Time
	samples int
	cpuSum  float64
	cpuMax  float64
	rssMax  uint64
	heapMax uint64
	gorMax  int
}

// Start begins sampling at the configured interval until Stop is called or
// ctx ends. A missing process handle degrades to runtime-only samples.
func (p *Profiler) Start(ctx context.Context) *Run {
	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		logger:  p.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}

	proc, err := process.NewProcessWithContext(runCtx, int32(os.Getpid()))
	if err != nil {
		p.logger.Warn("Process handle unavailable; profiling limited to runtime stats.", zap.Error(err))
	} else {
		r.proc = proc
		// Prime the CPU window so the first tick measures the sampling
		// interval, not time since process start.
		_, _ = proc.CPUPercentWithContext(runCtx)
	}

	go r.loop(runCtx, p.interval)
	return r
}

func (r *Run) loop(ctx context.Context, interval time.Duration) {
	defer close(r.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sample(ctx)
		}
	}
}

func (r *Run) sample(ctx context.Context) {
	var cpu float64
	var rss uint64
	if r.proc != nil {
		if v, err := r.proc.CPUPercentWithContext(ctx); err == nil {
			cpu = v
		} else if ctx.Err() == nil {
			r.logger.Debug("CPU sample failed.", zap.Error(err))
		}
		if mi, err := r.proc.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			rss = mi.RSS
		}
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	goroutines := runtime.NumGoroutine()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples++
	r.cpuSum += cpu
	if cpu > r.cpuMax {
		r.cpuMax = cpu
	}
	if rss > r.rssMax {
		r.rssMax = rss
	}
	if ms.HeapAlloc > r.heapMax {
		r.heapMax = ms.HeapAlloc
	}
	if goroutines > r.gorMax {
		r.gorMax = goroutines
	}
}

// Stop ends sampling and returns the aggregated profile. A final sample is
// taken so even a window shorter than the interval reports real numbers.
// Safe to call more than once; later calls return the same profile.
func (r *Run) Stop() *schemas.ExecutionProfile {
	r.once.Do(func() {
		r.cancel()
		<-r.done
		r.sample(context.Background())

		r.mu.Lock()
		defer r.mu.Unlock()
		prof := &schemas.ExecutionProfile{
			SampleCount:    r.samples,
			CPUMaxPercent:  r.cpuMax,
			RSSMaxBytes:    r.rssMax,
			HeapAllocBytes: r.heapMax,
			GoroutineMax:   r.gorMax,
			WallMs:         float64(time.Since(r.started)) / float64(time.Millisecond),
		}
		if r.samples > 0 {
			prof.CPUAvgPercent = r.cpuSum / float64(r.samples)
		}
		r.profile = prof
	})
	return r.profile
}
