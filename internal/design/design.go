// Package design models the editing document submitted for rendering.
//
// A Design is decoded once per request and treated as an immutable snapshot.
// Item records and their rich details arrive in two parallel maps; Merge folds
// them into typed Items so that preview planning and offline rendering read
// exactly the same data.
package design

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Item type names used by the editor.
const (
	TypeVideo   = "video"
	TypeImage   = "image"
	TypeText    = "text"
	TypeCaption = "caption"
	TypeAudio   = "audio"
)

// DefaultDurationMs is used when neither items nor the design declare a length.
const DefaultDurationMs = 10000

// Size is a pixel size.
type Size struct {
	Width  Number `json:"width"`
	Height Number `json:"height"`
}

// Design is the serialized editing state.
type Design struct {
	ID                  string                     `json:"id,omitempty"`
	Size                Size                       `json:"size"`
	FPS                 Number                     `json:"fps"`
	Duration            Number                     `json:"duration"`
	TrackItemIDs        []string                   `json:"trackItemIds,omitempty"`
	TrackItemsMap       map[string]json.RawMessage `json:"trackItemsMap"`
	TrackItemDetailsMap map[string]json.RawMessage `json:"trackItemDetailsMap,omitempty"`
	TransitionsMap      map[string]Transition      `json:"transitionsMap,omitempty"`
}

// Interval is a time window in milliseconds.
type Interval struct {
	From Number `json:"from"`
	To   Number `json:"to"`
}

// Span returns the interval bounds with absent values as zero and inverted
// bounds swapped.
func (i Interval) Span() (from, to float64) {
	from, to = i.From.Or(0), i.To.Or(0)
	if to < from {
		from, to = to, from
	}
	return from, to
}

// Contains reports whether ms falls in [from, to).
func (i Interval) Contains(ms float64) bool {
	from, to := i.Span()
	return ms >= from && ms < to
}

// AnimationIntent is the declarative animation attached to an item. Speed
// is nil when the field is absent or null.
type AnimationIntent struct {
	Speed     *Number `json:"speed"`
	Direction string  `json:"direction"`
	Timing    string  `json:"timing"`
}

// Details carries the per-type properties of an item.
type Details struct {
	Src              string           `json:"src,omitempty"`
	Text             string           `json:"text,omitempty"`
	Width            Number           `json:"width"`
	Height           Number           `json:"height"`
	Top              Number           `json:"top"`
	Left             Number           `json:"left"`
	Opacity          Number           `json:"opacity"`
	FontSize         Number           `json:"fontSize"`
	Color            string           `json:"color,omitempty"`
	BackgroundColor  string           `json:"backgroundColor,omitempty"`
	Volume           Number           `json:"volume"`
	Animation        *AnimationIntent `json:"animation,omitempty"`
	AnimationEnabled Flag             `json:"animationEnabled"`
}

// Item is a track item merged with its details.
type Item struct {
	ID      string    `json:"id"`
	Type    string    `json:"type"`
	Name    string    `json:"name,omitempty"`
	Display Interval  `json:"display"`
	Trim    *Interval `json:"trim,omitempty"`
	Details Details   `json:"details"`
}

// Transition is a declared handoff between two adjacent items.
type Transition struct {
	ID       string `json:"id"`
	FromID   string `json:"fromId"`
	ToID     string `json:"toId"`
	Kind     string `json:"kind"`
	Type     string `json:"type,omitempty"`
	Duration Number `json:"duration"`
}

// Links reports whether the transition references both ids, in either order.
func (t Transition) Links(a, b string) bool {
	return (t.FromID == a && t.ToID == b) || (t.FromID == b && t.ToID == a)
}

// Name returns the transition kind, falling back to the type field.
func (t Transition) Name() string {
	if t.Kind != "" {
		return t.Kind
	}
	if t.Type != "" {
		return t.Type
	}
	return "none"
}

// Parse decodes a design document.
func Parse(data []byte) (*Design, error) {
	var d Design
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode design: %w", err)
	}
	return &d, nil
}

// Empty reports whether the design has no track items.
func (d *Design) Empty() bool {
	return d == nil || len(d.TrackItemsMap) == 0
}

// IDs returns every id in trackItemsMap. Ids listed in trackItemIds come
// first in list order; the remaining map keys follow sorted. Listed ids
// missing from the map are dropped.
func (d *Design) IDs() []string {
	if d == nil {
		return nil
	}
	ids := make([]string, 0, len(d.TrackItemsMap))
	seen := make(map[string]bool, len(d.TrackItemsMap))
	for _, id := range d.TrackItemIDs {
		if _, ok := d.TrackItemsMap[id]; !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	rest := make([]string, 0, len(d.TrackItemsMap)-len(ids))
	for id := range d.TrackItemsMap {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	return append(ids, rest...)
}
