package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/heimdex/heimdex-render/internal/composition"
)

const (
	maxStderrBytes = 8 * 1024

	// progressEvery bounds how many frames pass between progress reports.
	progressEvery = 10
)

// FFmpegConfig configures the ffmpeg executor.
type FFmpegConfig struct {
	FFmpegPath string
	Quality    int // x264 CRF
	Preset     string
	Logger     *slog.Logger
}

// FFmpegExecutor rasterizes each frame and pipes raw RGBA into ffmpeg.
type FFmpegExecutor struct {
	cfg    FFmpegConfig
	raster *Rasterizer
	pool   *ImagePool
	logger *slog.Logger
}

// NewFFmpegExecutor resolves the ffmpeg binary and builds an executor.
func NewFFmpegExecutor(cfg FFmpegConfig, raster *Rasterizer, pool *ImagePool) (*FFmpegExecutor, error) {
	path, err := ResolveFFmpeg(cfg.FFmpegPath)
	if err != nil {
		return nil, err
	}
	cfg.FFmpegPath = path
	if cfg.Quality <= 0 {
		cfg.Quality = 23
	}
	if cfg.Preset == "" {
		cfg.Preset = "medium"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if pool == nil {
		pool = NewImagePool()
	}
	return &FFmpegExecutor{cfg: cfg, raster: raster, pool: pool, logger: cfg.Logger}, nil
}

// ResolveFFmpeg finds a usable ffmpeg binary.
func ResolveFFmpeg(preferred string) (string, error) {
	if preferred != "" {
		if p, err := exec.LookPath(preferred); err == nil {
			return p, nil
		}
		return "", fmt.Errorf("configured ffmpeg %q not found", preferred)
	}
	p, err := exec.LookPath("ffmpeg")
	if err != nil {
		return "", fmt.Errorf("no ffmpeg binary found on PATH")
	}
	return p, nil
}

// RenderMedia writes every frame of plan to outputPath.
func (e *FFmpegExecutor) RenderMedia(ctx context.Context, plan *composition.Plan, format Format, outputPath string, progress chan<- float64) error {
	start := time.Now()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmpPath := outputPath + ".part"
	defer os.Remove(tmpPath)

	args := BuildFFmpegArgs(plan.Metadata, format, e.cfg.Quality, e.cfg.Preset, tmpPath)
	cmd := exec.CommandContext(ctx, e.cfg.FFmpegPath, args...)

	cmd.Stdout = io.Discard

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe error: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe error: %w", err)
	}
	var stderrBuf bytes.Buffer

	e.logger.Info("starting encoder",
		"format", string(format),
		"frames", plan.DurationInFrames,
		"fps", plan.FPS,
		"size", fmt.Sprintf("%dx%d", plan.Width, plan.Height),
	)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start error: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stdin.Close()
		return e.writeFrames(gctx, plan, stdin, progress)
	})
	g.Go(func() error {
		_, err := io.Copy(&limitedWriter{w: &stderrBuf, limit: maxStderrBytes}, stderr)
		return err
	})

	writeErr := g.Wait()
	waitErr := cmd.Wait()

	if writeErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("write frames: %w (ffmpeg: %s)", writeErr, truncate(stderrBuf.String(), 512))
	}
	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return fmt.Errorf("ffmpeg exited %d: %s", exitErr.ExitCode(), truncate(stderrBuf.String(), 512))
		}
		return fmt.Errorf("ffmpeg wait error: %w", waitErr)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}

	e.logger.Info("encoder finished",
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (e *FFmpegExecutor) writeFrames(ctx context.Context, plan *composition.Plan, w io.Writer, progress chan<- float64) error {
	rect := image.Rect(0, 0, plan.Width, plan.Height)
	buf := e.pool.Get(rect)
	defer e.pool.Put(buf)

	total := plan.DurationInFrames
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.raster.Draw(ctx, plan.RenderFrame(i), buf)
		if _, err := w.Write(buf.Pix); err != nil {
			return err
		}

		done := i + 1
		if done%progressEvery == 0 || done == total {
			if err := sendProgress(ctx, progress, float64(done)/float64(total)); err != nil {
				return err
			}
		}
	}
	return nil
}

// BuildFFmpegArgs returns the encoder arguments for raw RGBA input on stdin.
func BuildFFmpegArgs(m composition.Metadata, format Format, quality int, preset, outputPath string) []string {
	fps := strconv.FormatFloat(m.FPS, 'f', -1, 64)
	args := []string{
		"-y",
		"-loglevel", "error",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", m.Width, m.Height),
		"-framerate", fps,
		"-i", "-",
		"-frames:v", strconv.Itoa(m.DurationInFrames),
	}

	switch format {
	case FormatGIF:
		args = append(args,
			"-vf", "split[a][b];[a]palettegen=stats_mode=diff[p];[b][p]paletteuse=dither=bayer",
			"-loop", "0",
			"-f", "gif",
		)
	default:
		args = append(args,
			"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
			"-c:v", "libx264",
			"-pix_fmt", "yuv420p",
			"-crf", strconv.Itoa(quality),
			"-preset", preset,
			"-movflags", "+faststart",
			"-f", "mp4",
		)
	}

	return append(args, outputPath)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last limit bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		tail := append([]byte(nil), b[len(b)-lw.limit:]...)
		lw.w.Reset()
		lw.w.Write(tail)
	}
	return n, nil
}
