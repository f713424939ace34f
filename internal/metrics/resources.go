package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one CPU/memory reading of a child process.
type Sample struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceConfig holds configuration for the resource sampler.
type ResourceConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxHistory int           `mapstructure:"max_history" yaml:"max_history"`
}

// ring is a fixed-size circular buffer of samples.
type ring struct {
	buf   []Sample
	start int
	count int
}

func (r *ring) add(s Sample) {
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = s
		r.count++
		return
	}
	r.buf[r.start] = s
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) latest() (Sample, bool) {
	if r.count == 0 {
		return Sample{}, false
	}
	return r.buf[(r.start+r.count-1)%len(r.buf)], true
}

func (r *ring) ordered() []Sample {
	out := make([]Sample, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// ResourceSampler periodically samples CPU and memory of the launched
// children with gopsutil and exports them as gauges.
type ResourceSampler struct {
	interval   time.Duration
	maxHistory int
	log        *slog.Logger

	mu      sync.RWMutex
	history map[string]*ring
	procs   map[int32]*process.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpu     *prometheus.GaugeVec
	memory  *prometheus.GaugeVec
	threads *prometheus.GaugeVec
	fds     *prometheus.GaugeVec
}

func NewResourceSampler(cfg ResourceConfig, log *slog.Logger) *ResourceSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 100
	}
	if log == nil {
		log = slog.Default()
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      name,
			Help:      help,
		}, []string{"name"})
	}
	return &ResourceSampler{
		interval:   cfg.Interval,
		maxHistory: cfg.MaxHistory,
		log:        log,
		history:    make(map[string]*ring),
		procs:      make(map[int32]*process.Process),
		stopCh:     make(chan struct{}),
		cpu:        gauge("cpu_percent", "CPU usage percentage of launched processes."),
		memory:     gauge("memory_mb", "Resident memory in MB of launched processes."),
		threads:    gauge("num_threads", "Number of threads of launched processes."),
		fds:        gauge("num_fds", "Number of open file descriptors (Unix only)."),
	}
}

// RegisterMetrics registers the sampler gauges.
func (s *ResourceSampler) RegisterMetrics(r prometheus.Registerer) error {
	cs := []prometheus.Collector{s.cpu, s.memory, s.threads}
	if runtime.GOOS != "windows" {
		cs = append(cs, s.fds)
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples the processes returned by targets (name -> pid) every
// interval until ctx is done or Stop is called.
func (s *ResourceSampler) Start(ctx context.Context, targets func() map[string]int32) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Collect(targets())
			}
		}
	}()
}

// Stop ends sampling and waits for the sampling goroutine.
func (s *ResourceSampler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Collect takes one sample of every target and drops series of names that
// are no longer present.
func (s *ResourceSampler) Collect(targets map[string]int32) {
	now := time.Now()
	samples := make(map[string]Sample, len(targets))
	for name, pid := range targets {
		if pid <= 0 {
			continue
		}
		sm, err := s.sample(name, pid, now)
		if err != nil {
			s.log.Debug("resource sample failed", "name", name, "pid", pid, "error", err)
			continue
		}
		samples[name] = sm
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, sm := range samples {
		s.cpu.WithLabelValues(name).Set(sm.CPUPercent)
		s.memory.WithLabelValues(name).Set(sm.MemoryMB)
		s.threads.WithLabelValues(name).Set(float64(sm.NumThreads))
		if sm.NumFDs > 0 {
			s.fds.WithLabelValues(name).Set(float64(sm.NumFDs))
		}
		r, ok := s.history[name]
		if !ok {
			r = &ring{buf: make([]Sample, s.maxHistory)}
			s.history[name] = r
		}
		r.add(sm)
	}
	for name := range s.history {
		if _, ok := samples[name]; ok {
			continue
		}
		delete(s.history, name)
		s.cpu.DeleteLabelValues(name)
		s.memory.DeleteLabelValues(name)
		s.threads.DeleteLabelValues(name)
		s.fds.DeleteLabelValues(name)
	}
	for pid := range s.procs {
		alive := false
		for _, sm := range samples {
			if sm.PID == pid {
				alive = true
				break
			}
		}
		if !alive {
			delete(s.procs, pid)
		}
	}
}

func (s *ResourceSampler) sample(name string, pid int32, ts time.Time) (Sample, error) {
	s.mu.Lock()
	proc, ok := s.procs[pid]
	if !ok {
		p, err := process.NewProcess(pid)
		if err != nil {
			s.mu.Unlock()
			return Sample{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		// reuse the handle so CPUPercent measures between samples
		s.procs[pid] = p
		proc = p
	}
	s.mu.Unlock()

	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	cpu, err := proc.CPUPercent()
	if err != nil {
		cpu = 0
	}
	threads, _ := proc.NumThreads()
	sm := Sample{
		PID:        pid,
		Name:       name,
		CPUPercent: cpu,
		MemoryMB:   float64(mem.RSS) / 1024 / 1024,
		MemoryRSS:  mem.RSS,
		NumThreads: threads,
		Timestamp:  ts,
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			sm.NumFDs = n
		}
	}
	return sm, nil
}

// Latest returns the most recent sample for name.
func (s *ResourceSampler) Latest(name string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.history[name]
	if !ok {
		return Sample{}, false
	}
	return r.latest()
}

// History returns the retained samples for name, oldest first.
func (s *ResourceSampler) History(name string) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.history[name]
	if !ok {
		return nil
	}
	return r.ordered()
}

// All returns the latest sample of every sampled process.
func (s *ResourceSampler) All() map[string]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Sample, len(s.history))
	for name, r := range s.history {
		if sm, ok := r.latest(); ok {
			out[name] = sm
		}
	}
	return out
}

// MarshalYAML renders the interval as a duration string.
func (c ResourceConfig) MarshalYAML() (any, error) {
	return struct {
		Enabled    bool   `yaml:"enabled"`
		Interval   string `yaml:"interval"`
		MaxHistory int    `yaml:"max_history"`
	}{c.Enabled, c.Interval.String(), c.MaxHistory}, nil
}
