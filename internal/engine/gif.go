package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/heimdex/heimdex-render/internal/composition"
)

// ErrNoEncoder is returned for formats that need an external encoder.
var ErrNoEncoder = errors.New("no encoder available")

const (
	gifMaxWidth = 640
	gifMaxFPS   = 10
)

// GIFExecutor encodes GIF output in process when ffmpeg is unavailable.
// Frames are downscaled to at most gifMaxWidth and sampled at no more than
// gifMaxFPS. Any other format fails with ErrNoEncoder.
type GIFExecutor struct {
	raster *Rasterizer
	pool   *ImagePool
	logger *slog.Logger
}

func NewGIFExecutor(raster *Rasterizer, pool *ImagePool, logger *slog.Logger) *GIFExecutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if pool == nil {
		pool = NewImagePool()
	}
	return &GIFExecutor{raster: raster, pool: pool, logger: logger}
}

// GIFGeometry returns the output size, the frame sampling step and the
// per-frame delay in hundredths of a second for a plan.
func GIFGeometry(m composition.Metadata) (w, h, step, delay int) {
	w, h = m.Width, m.Height
	if w > gifMaxWidth {
		h = max(1, int(math.Round(float64(h)*gifMaxWidth/float64(w))))
		w = gifMaxWidth
	}
	step = max(1, int(math.Ceil(m.FPS/gifMaxFPS)))
	delay = max(1, int(math.Round(100*float64(step)/m.FPS)))
	return w, h, step, delay
}

func (e *GIFExecutor) RenderMedia(ctx context.Context, plan *composition.Plan, format Format, outputPath string, progress chan<- float64) error {
	if format != FormatGIF {
		return fmt.Errorf("%s output: %w (install ffmpeg)", format, ErrNoEncoder)
	}

	w, h, step, delay := GIFGeometry(plan.Metadata)
	e.logger.Info("encoding gif in process",
		"frames", plan.DurationInFrames,
		"size", fmt.Sprintf("%dx%d", w, h),
		"step", step,
	)

	full := e.pool.Get(image.Rect(0, 0, plan.Width, plan.Height))
	defer e.pool.Put(full)
	small := image.NewRGBA(image.Rect(0, 0, w, h))

	anim := &gif.GIF{LoopCount: 0}
	total := plan.DurationInFrames
	for i := 0; i < total; i += step {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.raster.Draw(ctx, plan.RenderFrame(i), full)
		draw.ApproxBiLinear.Scale(small, small.Bounds(), full, full.Bounds(), draw.Src, nil)

		frame := image.NewPaletted(small.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(frame, frame.Bounds(), small, image.Point{})
		anim.Image = append(anim.Image, frame)
		anim.Delay = append(anim.Delay, delay)

		done := min(i+step, total)
		if err := sendProgress(ctx, progress, float64(done)/float64(total)); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	tmpPath := outputPath + ".part"
	defer os.Remove(tmpPath)

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	if err := gif.EncodeAll(f, anim); err != nil {
		f.Close()
		return fmt.Errorf("encode gif: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return fmt.Errorf("failed to finalize output: %w", err)
	}
	return nil
}
