package composition

import (
	"github.com/heimdex/heimdex-render/internal/design"
)

// Kind is the closed set of item kinds the renderer understands.
type Kind int

const (
	KindUnknown Kind = iota
	KindVideo
	KindImage
	KindText
	KindCaption
	KindAudio
)

// KindOf maps an editor item type to a Kind.
func KindOf(itemType string) Kind {
	switch itemType {
	case design.TypeVideo:
		return KindVideo
	case design.TypeImage:
		return KindImage
	case design.TypeText:
		return KindText
	case design.TypeCaption:
		return KindCaption
	case design.TypeAudio:
		return KindAudio
	default:
		return KindUnknown
	}
}

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return design.TypeVideo
	case KindImage:
		return design.TypeImage
	case KindText:
		return design.TypeText
	case KindCaption:
		return design.TypeCaption
	case KindAudio:
		return design.TypeAudio
	default:
		return "unknown"
	}
}

// Visual reports whether layers of this kind produce pixels.
func (k Kind) Visual() bool {
	switch k {
	case KindVideo, KindImage, KindText, KindCaption:
		return true
	default:
		return false
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	*k = KindOf(string(b))
	return nil
}

const (
	defaultFontSize  = 48
	defaultTextColor = "#ffffff"
)

// render builds the layer for one item of this kind. Unknown kinds render nothing.
func (k Kind) render(p *Plan, item *design.Item, timeMs float64) (Layer, bool) {
	switch k {
	case KindVideo:
		l := p.baseLayer(item, k)
		l.Src = item.Details.Src
		l.SourceTimeMs = sourceTime(item, timeMs)
		l.Volume = item.Details.Volume.Or(100)
		return l, true
	case KindImage:
		l := p.baseLayer(item, k)
		l.Src = item.Details.Src
		return l, true
	case KindText, KindCaption:
		l := p.baseLayer(item, k)
		l.Text = item.Details.Text
		l.FontSize = item.Details.FontSize.Or(defaultFontSize)
		l.Color = orString(item.Details.Color, defaultTextColor)
		l.Background = item.Details.BackgroundColor
		return l, true
	case KindAudio:
		return Layer{
			ItemID:       item.ID,
			Kind:         k,
			Src:          item.Details.Src,
			SourceTimeMs: sourceTime(item, timeMs),
			Volume:       item.Details.Volume.Or(100),
			Opacity:      1,
		}, true
	default:
		return Layer{}, false
	}
}

// sourceTime maps a timeline position to a position in the item's media,
// honoring the trim window.
func sourceTime(item *design.Item, timeMs float64) float64 {
	from, _ := item.Display.Span()
	offset := max(timeMs-from, 0)
	if item.Trim != nil {
		trimFrom, _ := item.Trim.Span()
		offset += trimFrom
	}
	return offset
}

func orString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
