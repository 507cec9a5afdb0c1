package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage is one CPU/memory sample of a service process.
type Usage struct {
	ID         string    `json:"id"`
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	SampledAt  time.Time `json:"sampled_at"`
}

// SamplerConfig controls the periodic resource sampler.
type SamplerConfig struct {
	Enabled  bool          `mapstructure:"sample_resources"`
	Interval time.Duration `mapstructure:"sample_interval"`
}

// Sampler periodically reads CPU and memory of running services via gopsutil
// and exposes the last sample per id.
type Sampler struct {
	interval time.Duration
	source   func() map[string]int32

	mu   sync.RWMutex
	last map[string]Usage
	// gopsutil computes CPUPercent relative to the previous call on the
	// same handle, so handles are kept across ticks.
	procs map[string]*process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSampler builds a sampler over source, which returns id -> pid for every
// running service.
func NewSampler(cfg SamplerConfig, source func() map[string]int32) *Sampler {
	iv := cfg.Interval
	if iv <= 0 {
		iv = 5 * time.Second
	}
	return &Sampler{
		interval: iv,
		source:   source,
		last:     make(map[string]Usage),
		procs:    make(map[string]*process.Process),
		stopCh:   make(chan struct{}),
	}
}

// Start begins periodic sampling until ctx is done or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-t.C:
				s.SampleOnce()
			}
		}
	}()
}

func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// SampleOnce takes one sample of every running service and drops ids that
// are no longer running.
func (s *Sampler) SampleOnce() {
	pids := s.source()
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.last {
		if _, ok := pids[id]; !ok {
			delete(s.last, id)
			delete(s.procs, id)
		}
	}
	for id, pid := range pids {
		if pid <= 0 {
			continue
		}
		u, err := s.sample(id, pid, now)
		if err != nil {
			slog.Debug("resource sample failed", "id", id, "pid", pid, "error", err)
			delete(s.last, id)
			delete(s.procs, id)
			continue
		}
		s.last[id] = u
		SetResourceUsage(id, u.CPUPercent, u.MemoryRSS)
	}
}

func (s *Sampler) sample(id string, pid int32, now time.Time) (Usage, error) {
	p := s.procs[id]
	if p == nil || p.Pid != pid {
		np, err := process.NewProcess(pid)
		if err != nil {
			return Usage{}, fmt.Errorf("open process: %w", err)
		}
		p = np
		s.procs[id] = p
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("memory info: %w", err)
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		cpu = 0
	}
	threads, err := p.NumThreads()
	if err != nil {
		threads = 0
	}
	return Usage{ID: id, PID: pid, CPUPercent: cpu, MemoryRSS: mem.RSS, NumThreads: threads, SampledAt: now}, nil
}

// Usage returns the last sample for id.
func (s *Sampler) Usage(id string) (Usage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.last[id]
	return u, ok
}

// All returns a copy of every last sample.
func (s *Sampler) All() map[string]Usage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Usage, len(s.last))
	for k, v := range s.last {
		out[k] = v
	}
	return out
}
