// Package composition builds frame-accurate composition plans from designs
// and renders individual frames into display lists.
package composition

import (
	"math"

	"github.com/heimdex/heimdex-render/internal/animation"
	"github.com/heimdex/heimdex-render/internal/design"
	"github.com/heimdex/heimdex-render/internal/timeline"
)

// CompositionID identifies the single composition every design renders into.
const CompositionID = "VideoComposition"

const (
	DefaultWidth  = 1920
	DefaultHeight = 1080

	// PlaceholderText is drawn for designs without items.
	PlaceholderText     = "No content - check design data"
	PlaceholderFontSize = 24
	BackgroundColor     = "#000000"
)

// Settings are the caller supplied render options. Zero values defer to the
// design, then to defaults.
type Settings struct {
	FPS    float64
	Width  int
	Height int
}

// Metadata describes the composition.
type Metadata struct {
	ID               string  `json:"id" yaml:"id"`
	Width            int     `json:"width" yaml:"width"`
	Height           int     `json:"height" yaml:"height"`
	FPS              float64 `json:"fps" yaml:"fps"`
	DurationInFrames int     `json:"durationInFrames" yaml:"duration_in_frames"`
}

// Plan is everything needed to render any frame of a design.
type Plan struct {
	Metadata
	Items  design.Items               `json:"-" yaml:"-"`
	Groups []timeline.Group           `json:"groups" yaml:"groups"`
	Tracks map[string]animation.Track `json:"tracks,omitempty" yaml:"tracks,omitempty"`
	Empty  bool                       `json:"empty" yaml:"empty"`

	// Issues lists item records that only partially decoded.
	Issues []string `json:"issues,omitempty" yaml:"issues,omitempty"`
}

// CalculateMetadata resolves frame rate, size and duration.
func CalculateMetadata(d *design.Design, items design.Items, s Settings) Metadata {
	m := Metadata{ID: CompositionID}

	switch {
	case s.FPS > 0 && !math.IsInf(s.FPS, 0):
		m.FPS = s.FPS
	case d != nil && d.FPS.Positive():
		m.FPS = d.FPS.Value
	default:
		m.FPS = timeline.DefaultFPS
	}

	m.Width = pickDimension(s.Width, d, func(sz design.Size) design.Number { return sz.Width }, DefaultWidth)
	m.Height = pickDimension(s.Height, d, func(sz design.Size) design.Number { return sz.Height }, DefaultHeight)

	var fallbackMs float64
	if d != nil {
		fallbackMs = d.Duration.Or(0)
	}
	m.DurationInFrames = timeline.DurationInFrames(items, fallbackMs, m.FPS)
	return m
}

func pickDimension(requested int, d *design.Design, field func(design.Size) design.Number, def int) int {
	if requested > 0 {
		return requested
	}
	if d != nil {
		if n := field(d.Size); n.Positive() {
			return int(math.Round(n.Value))
		}
	}
	return def
}

// NewPlan merges the design, groups its items and resolves animations.
func NewPlan(d *design.Design, s Settings) *Plan {
	items, issues := design.Merge(d)

	p := &Plan{
		Metadata: CalculateMetadata(d, items, s),
		Items:    items,
		Empty:    d.Empty(),
		Tracks:   map[string]animation.Track{},
	}
	for _, err := range issues {
		p.Issues = append(p.Issues, err.Error())
	}
	if p.Empty {
		return p
	}

	var transitions map[string]design.Transition
	if d != nil {
		transitions = d.TransitionsMap
	}
	p.Groups = timeline.GroupItems(d.IDs(), items, transitions)

	for id, item := range items {
		if item == nil || !bool(item.Details.AnimationEnabled) {
			continue
		}
		from, to := item.Display.Span()
		p.Tracks[id] = animation.ForItem(
			animation.IntentFrom(item.Details.Animation),
			item.Details.Height.Or(animation.DefaultDimension),
			timeline.MsToFrames(to-from, p.FPS),
		)
	}
	return p
}
