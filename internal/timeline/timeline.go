// Package timeline groups track items into renderable segments and derives
// the frame length of a design.
package timeline

import (
	"math"
	"sort"

	"github.com/heimdex/heimdex-render/internal/design"
)

// DefaultFPS is used when no frame rate is supplied.
const DefaultFPS = 30

// Group is one standalone item or a transition pair.
type Group struct {
	Items      []string           `json:"items" yaml:"items"`
	Transition *design.Transition `json:"transition,omitempty" yaml:"transition,omitempty"`
}

// IsTransition reports whether the group is a two item transition.
func (g Group) IsTransition() bool {
	return len(g.Items) == 2 && g.Transition != nil
}

// GroupItems partitions ids into ordered groups. Ids are de-duplicated, ordered
// by display.from with ties broken by id, and adjacent pairs linked by a
// transition are merged. Every unique id appears in exactly one group; ids
// missing from items are kept and sort as starting at zero.
func GroupItems(ids []string, items design.Items, transitions map[string]design.Transition) []Group {
	seen := make(map[string]struct{}, len(ids))
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		fi, fj := startOf(items, ordered[i]), startOf(items, ordered[j])
		if fi != fj {
			return fi < fj
		}
		return ordered[i] < ordered[j]
	})

	groups := make([]Group, 0, len(ordered))
	for i := 0; i < len(ordered); i++ {
		if i+1 < len(ordered) {
			if tr, ok := findTransition(transitions, ordered[i], ordered[i+1]); ok {
				groups = append(groups, Group{
					Items:      []string{ordered[i], ordered[i+1]},
					Transition: &tr,
				})
				i++
				continue
			}
		}
		groups = append(groups, Group{Items: []string{ordered[i]}})
	}
	return groups
}

func startOf(items design.Items, id string) float64 {
	item := items.Get(id)
	if item == nil {
		return 0
	}
	from, _ := item.Display.Span()
	return from
}

// findTransition scans in key order so that duplicate declarations for the
// same pair resolve deterministically.
func findTransition(transitions map[string]design.Transition, a, b string) (design.Transition, bool) {
	if len(transitions) == 0 {
		return design.Transition{}, false
	}
	keys := make([]string, 0, len(transitions))
	for k := range transitions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		tr := transitions[k]
		if tr.Links(a, b) {
			if tr.ID == "" {
				tr.ID = k
			}
			return tr, true
		}
	}
	return design.Transition{}, false
}

// EndMs returns the largest display.to across items, or zero.
func EndMs(items design.Items) float64 {
	var end float64
	for _, item := range items {
		if item == nil {
			continue
		}
		if _, to := item.Display.Span(); to > end {
			end = to
		}
	}
	return end
}

// DurationInFrames returns the number of frames needed to cover every item.
// When no item has a positive end time, fallbackMs is used, then ten seconds.
// The result always rounds up and is at least one.
func DurationInFrames(items design.Items, fallbackMs float64, fps float64) int {
	if fps <= 0 || math.IsNaN(fps) {
		fps = DefaultFPS
	}
	endMs := EndMs(items)
	if endMs <= 0 {
		endMs = fallbackMs
	}
	if endMs <= 0 || math.IsNaN(endMs) {
		endMs = design.DefaultDurationMs
	}
	return MsToFrames(endMs, fps)
}

// MsToFrames converts milliseconds to a frame count, rounding up. A small
// tolerance absorbs float noise so exact boundaries do not gain a frame.
// Inputs are capped at design.MaxDurationMs and design.MaxFPS.
func MsToFrames(ms, fps float64) int {
	if math.IsNaN(ms) || math.IsNaN(fps) {
		return 1
	}
	ms = min(ms, design.MaxDurationMs)
	fps = min(fps, design.MaxFPS)
	frames := int(math.Ceil(ms*fps/1000 - 1e-9))
	return max(frames, 1)
}

// FrameToMs returns the timeline position of a frame.
func FrameToMs(frame int, fps float64) float64 {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return float64(frame) * 1000 / fps
}
