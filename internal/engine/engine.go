// Package engine drives frame rendering and encoding for a composition plan.
//
// A render passes through three collaborators: a Bundler that snapshots the
// design into a self-contained work directory, a Selector that resolves the
// composition plan from that bundle, and an Executor that produces the
// output artifact while reporting fractional progress over a channel.
package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/heimdex/heimdex-render/internal/composition"
	"github.com/heimdex/heimdex-render/internal/design"
)

// Format is an output container.
type Format string

const (
	FormatMP4 Format = "mp4"
	FormatGIF Format = "gif"
)

// ParseFormat validates a requested format. Empty selects mp4.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatMP4:
		return FormatMP4, nil
	case FormatGIF:
		return FormatGIF, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want mp4 or gif)", s)
	}
}

// Bundle is a snapshot of one render's inputs on disk.
type Bundle struct {
	JobID        string
	Dir          string
	DesignPath   string
	ManifestPath string
	Settings     composition.Settings
}

// Bundler snapshots a design for rendering.
type Bundler interface {
	Bundle(ctx context.Context, jobID string, d *design.Design, s composition.Settings) (*Bundle, error)
}

// Selector resolves the composition plan from a bundle.
type Selector interface {
	SelectComposition(ctx context.Context, b *Bundle) (*composition.Plan, error)
}

// Executor renders a plan to outputPath. Fractions in [0, 1] are sent on
// progress as frames complete; the executor never closes the channel.
type Executor interface {
	RenderMedia(ctx context.Context, plan *composition.Plan, format Format, outputPath string, progress chan<- float64) error
}

// Engine is the full render pipeline.
type Engine interface {
	Bundler
	Selector
	Executor
}

// sendProgress delivers a fraction unless ctx is done.
func sendProgress(ctx context.Context, progress chan<- float64, f float64) error {
	if progress == nil {
		return nil
	}
	select {
	case progress <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
