// Package animation turns declarative animation intents into keyframe specs.
package animation

import (
	"math"

	"github.com/heimdex/heimdex-render/internal/design"
)

// Directions accepted from the editor.
const (
	DirectionUp    = "up"
	DirectionDown  = "down"
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Animated properties.
const (
	PropertyTranslateX = "translateX"
	PropertyTranslateY = "translateY"
)

const (
	// MinSpeed replaces non-positive or NaN speeds.
	MinSpeed = 0.01

	// DefaultDimension is the movement scale when an item has no height.
	DefaultDimension = 100

	distanceFactor = 0.5
	baseFrames     = 30
	minFrames      = 15
	maxFrames      = 60
)

// Intent is a validated animation intent.
type Intent struct {
	Speed     float64
	Direction string
	Timing    string
}

// DefaultIntent is the editor's initial animation.
func DefaultIntent() Intent {
	return Intent{Speed: 1, Direction: DirectionUp, Timing: TimingEase}
}

// IntentFrom converts a design intent, filling absent fields with defaults.
// A speed that is present but not a number becomes MinSpeed.
func IntentFrom(a *design.AnimationIntent) Intent {
	in := DefaultIntent()
	if a == nil {
		return in
	}
	if a.Speed != nil {
		in.Speed = clampSpeed(a.Speed.Or(MinSpeed))
	}
	if a.Direction != "" {
		in.Direction = a.Direction
	}
	if a.Timing != "" {
		in.Timing = a.Timing
	}
	return in
}

// Keyframe is one interpolated property channel.
type Keyframe struct {
	Property         string  `json:"property" yaml:"property"`
	From             float64 `json:"from" yaml:"from"`
	To               float64 `json:"to" yaml:"to"`
	DurationInFrames int     `json:"durationInFrames" yaml:"duration_in_frames"`
	Easing           string  `json:"easing" yaml:"easing"`
	DelayInFrames    int     `json:"delayInFrames" yaml:"delay_in_frames"`
}

// ValueAt returns the property value at frame.
func (k Keyframe) ValueAt(frame int) float64 {
	local := frame - k.DelayInFrames
	if local <= 0 {
		return k.From
	}
	if local >= k.DurationInFrames {
		return k.To
	}
	t := float64(local) / float64(k.DurationInFrames)
	return lerp(k.From, k.To, CurveFor(k.Easing).At(t))
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Resolve produces the entry keyframe for an intent and its time reversed exit.
// dimension is the movement scale, normally the item height.
func Resolve(in Intent, dimension float64) (entry, exit Keyframe) {
	speed := clampSpeed(in.Speed)
	if dimension <= 0 || math.IsNaN(dimension) {
		dimension = DefaultDimension
	}
	distance := dimension * speed * distanceFactor

	entry = Keyframe{
		DurationInFrames: DurationInFrames(speed),
		Easing:           NormalizeTiming(in.Timing),
	}
	switch in.Direction {
	case DirectionDown:
		entry.Property, entry.From = PropertyTranslateY, -distance
	case DirectionLeft:
		entry.Property, entry.From = PropertyTranslateX, distance
	case DirectionRight:
		entry.Property, entry.From = PropertyTranslateX, -distance
	default:
		entry.Property, entry.From = PropertyTranslateY, distance
	}

	exit = entry
	exit.From, exit.To = entry.To, entry.From
	return entry, exit
}

// DurationInFrames is round(30/speed) clamped to [15, 60].
func DurationInFrames(speed float64) int {
	d := math.Round(baseFrames / clampSpeed(speed))
	return int(math.Max(minFrames, math.Min(maxFrames, d)))
}

func clampSpeed(speed float64) float64 {
	if math.IsNaN(speed) || speed <= 0 {
		return MinSpeed
	}
	return speed
}

// Track is the pair of keyframes applied to one item.
type Track struct {
	In  Keyframe `json:"in" yaml:"in"`
	Out Keyframe `json:"out" yaml:"out"`
}

// ForItem resolves a track whose exit plays at the tail of an item lasting
// itemFrames frames.
func ForItem(in Intent, dimension float64, itemFrames int) Track {
	entry, exit := Resolve(in, dimension)
	exit.DelayInFrames = max(0, itemFrames-exit.DurationInFrames)
	return Track{In: entry, Out: exit}
}

// Offset returns the translation at an item-local frame.
func (t Track) Offset(frame int) (x, y float64) {
	k := t.In
	if frame >= t.Out.DelayInFrames && t.Out.DelayInFrames >= t.In.DurationInFrames {
		k = t.Out
	}
	v := k.ValueAt(frame)
	if k.Property == PropertyTranslateX {
		return v, 0
	}
	return 0, v
}
