package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"
	"sync"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/heimdex/heimdex-render/internal/composition"
)

// maxLayerScale bounds layer buffers relative to the canvas.
const maxLayerScale = 4

var (
	black       = color.RGBA{0, 0, 0, 255}
	white       = color.RGBA{255, 255, 255, 255}
	missingEdge = color.RGBA{64, 64, 64, 255}
)

// Rasterizer draws composition frames into RGBA buffers.
type Rasterizer struct {
	loader MediaLoader
	pool   *ImagePool
	logger *slog.Logger

	warned sync.Map
}

// NewRasterizer creates a rasterizer. A nil loader treats every media layer
// as missing.
func NewRasterizer(loader MediaLoader, pool *ImagePool, logger *slog.Logger) *Rasterizer {
	if pool == nil {
		pool = NewImagePool()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Rasterizer{loader: loader, pool: pool, logger: logger}
}

// Draw renders f into dst, which must match the frame size.
func (r *Rasterizer) Draw(ctx context.Context, f composition.Frame, dst *image.RGBA) {
	bg := ParseColor(f.Background, black)
	draw.Draw(dst, dst.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	limit := image.Rect(0, 0, dst.Bounds().Dx()*maxLayerScale, dst.Bounds().Dy()*maxLayerScale)
	for _, l := range f.Layers {
		if !l.Kind.Visual() || l.Opacity <= 0 {
			continue
		}
		rect := layerRect(l)
		if rect.Empty() || rect.Dx() > limit.Dx() || rect.Dy() > limit.Dy() {
			continue
		}

		switch l.Kind {
		case composition.KindText, composition.KindCaption:
			r.drawText(dst, l, rect)
		case composition.KindImage:
			r.drawMedia(ctx, dst, l, rect, func() (image.Image, error) {
				if r.loader == nil {
					return nil, errNoLoader
				}
				return r.loader.Image(ctx, l.Src)
			})
		case composition.KindVideo:
			r.drawMedia(ctx, dst, l, rect, func() (image.Image, error) {
				if r.loader == nil {
					return nil, errNoLoader
				}
				return r.loader.VideoFrame(ctx, l.Src, l.SourceTimeMs)
			})
		}
	}
}

var errNoLoader = errors.New("no media loader configured")

func layerRect(l composition.Layer) image.Rectangle {
	x := int(math.Round(l.X + l.TranslateX))
	y := int(math.Round(l.Y + l.TranslateY))
	return image.Rect(x, y, x+int(math.Round(l.W)), y+int(math.Round(l.H)))
}

func (r *Rasterizer) drawMedia(ctx context.Context, dst *image.RGBA, l composition.Layer, rect image.Rectangle, load func() (image.Image, error)) {
	if ctx.Err() != nil {
		return
	}
	img, err := load()
	if err != nil {
		r.mediaFailure(l, err)
		drawOutline(dst, rect, missingEdge)
		return
	}

	tmp := r.pool.Get(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	defer r.pool.Put(tmp)
	draw.ApproxBiLinear.Scale(tmp, tmp.Bounds(), img, img.Bounds(), draw.Src, nil)
	composite(dst, rect, tmp, l.Opacity)
}

// mediaFailure logs a failed source once per rasterizer.
func (r *Rasterizer) mediaFailure(l composition.Layer, err error) {
	if _, seen := r.warned.LoadOrStore(l.Src, struct{}{}); seen {
		return
	}
	r.logger.Warn("media unavailable, drawing placeholder",
		"item_id", l.ItemID,
		"kind", l.Kind.String(),
		"error", err,
	)
}

func (r *Rasterizer) drawText(dst *image.RGBA, l composition.Layer, rect image.Rectangle) {
	if l.Background != "" {
		bg := ParseColor(l.Background, color.RGBA{})
		draw.DrawMask(dst, rect, image.NewUniform(bg), image.Point{}, opacityMask(l.Opacity), image.Point{}, draw.Over)
	}
	if strings.TrimSpace(l.Text) == "" {
		return
	}

	face := basicfont.Face7x13
	lines := strings.Split(l.Text, "\n")
	lineHeight := face.Metrics().Height.Ceil()
	ascent := face.Metrics().Ascent.Ceil()

	width := 0
	for _, line := range lines {
		width = max(width, font.MeasureString(face, line).Ceil())
	}
	if width == 0 {
		return
	}

	glyphs := image.NewRGBA(image.Rect(0, 0, width, lineHeight*len(lines)))
	d := font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(ParseColor(l.Color, white)),
		Face: face,
	}
	for i, line := range lines {
		lw := font.MeasureString(face, line).Ceil()
		d.Dot = fixed.P((width-lw)/2, i*lineHeight+ascent)
		d.DrawString(line)
	}

	scale := l.FontSize / float64(lineHeight)
	if scale <= 0 {
		scale = 1
	}
	tw := int(math.Round(float64(width) * scale))
	th := int(math.Round(float64(glyphs.Bounds().Dy()) * scale))
	if tw <= 0 || th <= 0 {
		return
	}

	cx := rect.Min.X + (rect.Dx()-tw)/2
	cy := rect.Min.Y + (rect.Dy()-th)/2
	target := image.Rect(cx, cy, cx+tw, cy+th)

	scaled := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), glyphs, glyphs.Bounds(), draw.Src, nil)
	composite(dst, target, scaled, l.Opacity)
}

func composite(dst *image.RGBA, rect image.Rectangle, src image.Image, opacity float64) {
	if opacity >= 1 {
		draw.Draw(dst, rect, src, image.Point{}, draw.Over)
		return
	}
	draw.DrawMask(dst, rect, src, image.Point{}, opacityMask(opacity), image.Point{}, draw.Over)
}

func opacityMask(opacity float64) image.Image {
	return image.NewUniform(color.Alpha{A: clampByte(opacity * 255)})
}

func drawOutline(dst *image.RGBA, rect image.Rectangle, c color.RGBA) {
	const edge = 2
	src := image.NewUniform(c)
	for _, r := range []image.Rectangle{
		image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+edge),
		image.Rect(rect.Min.X, rect.Max.Y-edge, rect.Max.X, rect.Max.Y),
		image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+edge, rect.Max.Y),
		image.Rect(rect.Max.X-edge, rect.Min.Y, rect.Max.X, rect.Max.Y),
	} {
		draw.Draw(dst, r, src, image.Point{}, draw.Src)
	}
}
