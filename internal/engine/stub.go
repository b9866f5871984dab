package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/heimdex/heimdex-render/internal/composition"
)

// StubExecutor walks every frame of the plan without encoding and writes a
// one-line text summary instead of media. It backs dry runs and tests; the
// server never selects it.
type StubExecutor struct {
	logger *slog.Logger
}

func NewStubExecutor(logger *slog.Logger) *StubExecutor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StubExecutor{logger: logger}
}

func (s *StubExecutor) RenderMedia(ctx context.Context, plan *composition.Plan, format Format, outputPath string, progress chan<- float64) error {
	s.logger.Info("stub executor: dry run",
		"format", string(format),
		"frames", plan.DurationInFrames,
	)

	layers := 0
	total := plan.DurationInFrames
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		layers += len(plan.RenderFrame(i).Layers)
		if done := i + 1; done%progressEvery == 0 || done == total {
			if err := sendProgress(ctx, progress, float64(done)/float64(total)); err != nil {
				return err
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	summary := fmt.Sprintf("%s %dx%d fps=%g frames=%d layers=%d\n",
		plan.ID, plan.Width, plan.Height, plan.FPS, total, layers)
	return os.WriteFile(outputPath, []byte(summary), 0644)
}
