package api

import (
	"time"

	"github.com/heimdex/heimdex-render/internal/engine"
	"github.com/heimdex/heimdex-render/internal/render"
)

// RenderStatusType is the only accepted status query discriminator.
const RenderStatusType = "VIDEO_RENDERING"

type HealthResponse struct {
	Status     string          `json:"status"`
	Version    string          `json:"version"`
	UptimeS    int64           `json:"uptime_s"`
	ActiveJobs int             `json:"active_jobs"`
	Engine     *EngineResponse `json:"engine,omitempty"`
}

type EngineResponse struct {
	FFmpegAvailable bool     `json:"ffmpeg_available"`
	FFmpegVersion   string   `json:"ffmpeg_version,omitempty"`
	Formats         []string `json:"formats"`
	CPUs            int      `json:"cpus"`
	MemoryTotalMB   uint64   `json:"memory_total_mb,omitempty"`
	MemoryFreeMB    uint64   `json:"memory_available_mb,omitempty"`
	Platform        string   `json:"platform"`
	LastProbeAt     string   `json:"last_probe_at,omitempty"`
}

// VideoResponse is the render job view shared by submit, status and cancel.
type VideoResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

type RenderResponse struct {
	Video VideoResponse `json:"video"`
}

type JobResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Format     string `json:"format"`
	URL        string `json:"url,omitempty"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func VideoToResponse(j *render.Job) VideoResponse {
	return VideoResponse{
		ID:       j.ID,
		Status:   string(j.Status),
		Progress: j.Progress,
		URL:      j.URL,
		Error:    j.Error,
	}
}

func JobToResponse(j *render.Job) JobResponse {
	resp := JobResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Progress:  j.Progress,
		Format:    j.Format,
		URL:       j.URL,
		Error:     j.Error,
		CreatedAt: j.CreatedAt.Format(time.RFC3339),
		UpdatedAt: j.UpdatedAt.Format(time.RFC3339),
	}
	if j.FinishedAt != nil {
		resp.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func CapabilitiesToResponse(c *engine.Capabilities) *EngineResponse {
	resp := &EngineResponse{
		FFmpegAvailable: c.FFmpeg.Available,
		FFmpegVersion:   c.FFmpeg.Version,
		Formats:         make([]string, len(c.Formats)),
		CPUs:            c.CPUs,
		MemoryTotalMB:   c.MemoryTotalMB,
		MemoryFreeMB:    c.MemoryFreeMB,
		Platform:        c.Platform,
	}
	for i, f := range c.Formats {
		resp.Formats[i] = string(f)
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
