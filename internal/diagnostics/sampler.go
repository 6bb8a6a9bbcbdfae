// Package diagnostics periodically samples process CPU/memory usage so
// the server and client façades have something to expose on a metrics
// endpoint or log line beyond connection-level counters.
package diagnostics

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Snapshot is the most recently sampled resource usage.
type Snapshot struct {
	CPUPercent float64
	MemoryMB   float64
	SampledAt  time.Time
}

// Sampler runs a background ticker that refreshes a Snapshot. Safe for
// concurrent reads via Current while the sampling goroutine is running.
type Sampler struct {
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewSampler constructs a Sampler with the given sampling interval. A
// nil logger disables logging of sampling failures.
func NewSampler(interval time.Duration, logger *zap.Logger) *Sampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Sampler{interval: interval, logger: logger}
}

// Current returns the most recent Snapshot.
func (s *Sampler) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Run blocks, sampling CPU and memory on s.interval until ctx is
// cancelled. Intended to be launched as a goroutine.
func (s *Sampler) Run(ctx context.Context) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.logger.Warn("diagnostics: failed to resolve own process", zap.Error(err))
		proc = nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx, proc)
		}
	}
}

func (s *Sampler) sample(ctx context.Context, proc *process.Process) {
	var snap Snapshot
	snap.SampledAt = time.Now()

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	} else if err != nil {
		s.logger.Debug("diagnostics: cpu sample failed", zap.Error(err))
	}

	if proc != nil {
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil {
			snap.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
		} else {
			s.logger.Debug("diagnostics: process memory sample failed", zap.Error(err))
		}
	} else if vmem, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		snap.MemoryMB = float64(vmem.Used) / 1024 / 1024
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
}
