package composition

import (
	"math"

	"github.com/heimdex/heimdex-render/internal/design"
	"github.com/heimdex/heimdex-render/internal/timeline"
)

// Layer is one drawable element of a frame, in canvas pixels.
type Layer struct {
	ItemID       string  `json:"itemId"`
	Kind         Kind    `json:"kind"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	W            float64 `json:"w"`
	H            float64 `json:"h"`
	TranslateX   float64 `json:"translateX,omitempty"`
	TranslateY   float64 `json:"translateY,omitempty"`
	Opacity      float64 `json:"opacity"`
	Src          string  `json:"src,omitempty"`
	Text         string  `json:"text,omitempty"`
	FontSize     float64 `json:"fontSize,omitempty"`
	Color        string  `json:"color,omitempty"`
	Background   string  `json:"background,omitempty"`
	SourceTimeMs float64 `json:"sourceTimeMs,omitempty"`
	Volume       float64 `json:"volume,omitempty"`
}

// Frame is the display list for one output frame.
type Frame struct {
	Index      int     `json:"index"`
	TimeMs     float64 `json:"timeMs"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Background string  `json:"background"`
	Layers     []Layer `json:"layers"`
}

// RenderFrame selects the items active at frame index and renders them in
// group order. Transition pairs cross-fade over the transition duration
// leading up to the end of the outgoing item.
func (p *Plan) RenderFrame(index int) Frame {
	t := timeline.FrameToMs(index, p.FPS)
	f := Frame{
		Index:      index,
		TimeMs:     t,
		Width:      p.Width,
		Height:     p.Height,
		Background: BackgroundColor,
	}

	if p.Empty {
		f.Layers = append(f.Layers, p.placeholder())
		return f
	}

	for _, g := range p.Groups {
		if g.IsTransition() {
			f.Layers = append(f.Layers, p.renderTransition(g, index, t)...)
			continue
		}
		if l, ok := p.renderItem(g.Items[0], index, t, 1, false); ok {
			f.Layers = append(f.Layers, l)
		}
	}
	return f
}

func (p *Plan) renderTransition(g timeline.Group, index int, t float64) []Layer {
	out, in := p.Items.Get(g.Items[0]), p.Items.Get(g.Items[1])
	if out == nil || in == nil {
		var layers []Layer
		for _, id := range g.Items {
			if l, ok := p.renderItem(id, index, t, 1, false); ok {
				layers = append(layers, l)
			}
		}
		return layers
	}

	_, outEnd := out.Display.Span()
	d := g.Transition.Duration.Or(0)
	start := outEnd - d
	if d <= 0 || t < start || t >= outEnd {
		var layers []Layer
		if l, ok := p.renderItem(out.ID, index, t, 1, false); ok {
			layers = append(layers, l)
		}
		if l, ok := p.renderItem(in.ID, index, t, 1, false); ok {
			layers = append(layers, l)
		}
		return layers
	}

	s := Smoothstep((t - start) / d)
	var layers []Layer
	if l, ok := p.renderItem(out.ID, index, t, 1-s, true); ok {
		layers = append(layers, l)
	}
	if l, ok := p.renderItem(in.ID, index, t, s, true); ok {
		layers = append(layers, l)
	}
	return layers
}

// renderItem renders id when it is active at t, or unconditionally when
// force is set. fade scales the item's own opacity.
func (p *Plan) renderItem(id string, index int, t, fade float64, force bool) (Layer, bool) {
	item := p.Items.Get(id)
	if item == nil {
		return Layer{}, false
	}
	if !force && !item.Display.Contains(t) {
		return Layer{}, false
	}

	kind := KindOf(item.Type)
	l, ok := kind.render(p, item, t)
	if !ok {
		return Layer{}, false
	}
	l.Opacity *= fade

	if tr, ok := p.Tracks[id]; ok && kind.Visual() {
		from, _ := item.Display.Span()
		start := int(math.Floor(from * p.FPS / 1000))
		l.TranslateX, l.TranslateY = tr.Offset(index - start)
	}
	return l, true
}

func (p *Plan) baseLayer(item *design.Item, k Kind) Layer {
	d := item.Details
	return Layer{
		ItemID:  item.ID,
		Kind:    k,
		X:       d.Left.Or(0),
		Y:       d.Top.Or(0),
		W:       d.Width.Or(float64(p.Width)),
		H:       d.Height.Or(float64(p.Height)),
		Opacity: normalizeOpacity(d.Opacity),
	}
}

// normalizeOpacity accepts both 0-1 and 0-100 scales.
func normalizeOpacity(n design.Number) float64 {
	if !n.Valid {
		return 1
	}
	v := n.Value
	if v > 1 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

func (p *Plan) placeholder() Layer {
	return Layer{
		ItemID:   "placeholder",
		Kind:     KindText,
		W:        float64(p.Width),
		H:        float64(p.Height),
		Opacity:  1,
		Text:     PlaceholderText,
		FontSize: PlaceholderFontSize,
		Color:    defaultTextColor,
	}
}

// Smoothstep is the cubic Hermite ease used for cross-fades.
func Smoothstep(t float64) float64 {
	t = math.Max(0, math.Min(1, t))
	return t * t * (3 - 2*t)
}
