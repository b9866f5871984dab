package engine

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const defaultCacheTTL = 5 * time.Minute

// Capabilities reports what this host can render.
type Capabilities struct {
	FFmpeg        DepInfo   `json:"ffmpeg"`
	Formats       []Format  `json:"formats"`
	CPUs          int       `json:"cpus"`
	MemoryTotalMB uint64    `json:"memory_total_mb,omitempty"`
	MemoryFreeMB  uint64    `json:"memory_available_mb,omitempty"`
	Platform      string    `json:"platform"`
	ProbedAt      time.Time `json:"probed_at"`
}

// DepInfo is the availability of one external tool.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Prober gathers capabilities.
type Prober interface {
	Probe(ctx context.Context) (*Capabilities, error)
}

// HostProber probes ffmpeg and host resources.
type HostProber struct {
	FFmpegPath string
}

// Probe runs `ffmpeg -version` and samples CPU and memory.
func (p HostProber) Probe(ctx context.Context) (*Capabilities, error) {
	caps := &Capabilities{
		CPUs:     runtime.NumCPU(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
		ProbedAt: time.Now(),
	}

	path, err := ResolveFFmpeg(p.FFmpegPath)
	if err != nil {
		caps.FFmpeg = DepInfo{Error: err.Error()}
	} else {
		caps.FFmpeg = DepInfo{Available: true, Path: path, Version: ffmpegVersion(ctx, path)}
		caps.Formats = []Format{FormatMP4, FormatGIF}
	}

	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		caps.CPUs = n
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		caps.MemoryTotalMB = vm.Total / (1 << 20)
		caps.MemoryFreeMB = vm.Available / (1 << 20)
	}
	if info, err := host.InfoWithContext(ctx); err == nil && info.Platform != "" {
		caps.Platform = info.Platform + " " + info.PlatformVersion + " (" + info.KernelArch + ")"
	}
	return caps, nil
}

func ffmpegVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return ""
	}
	sc := bufio.NewScanner(bytes.NewReader(out))
	if sc.Scan() {
		return sc.Text()
	}
	return ""
}

// CachedDoctor caches probe results for a TTL so health checks do not spawn
// ffmpeg on every request.
type CachedDoctor struct {
	prober Prober
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around probes.
func NewCachedDoctor(prober Prober, logger *slog.Logger) *CachedDoctor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedDoctor{
		prober: prober,
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe. A failed probe falls back to the stale cache.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.prober.Probe(ctx)
	if err != nil {
		d.logger.Warn("capability probe failed", "error", err)
		if d.cached != nil {
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	d.logger.Info("capability probe complete",
		"ffmpeg", caps.FFmpeg.Available,
		"cpus", caps.CPUs,
		"memory_total_mb", caps.MemoryTotalMB,
	)
	return caps, nil
}

// Invalidate clears the cached capabilities.
func (d *CachedDoctor) Invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
