package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/heimdex/heimdex-render/internal/composition"
	"github.com/heimdex/heimdex-render/internal/design"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseDesign(t *testing.T, raw string) *design.Design {
	t.Helper()
	d, err := design.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	return d
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatMP4, false},
		{"mp4", FormatMP4, false},
		{"GIF", FormatGIF, false},
		{"webm", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLocalEngine_BundleAndSelect(t *testing.T) {
	dir := t.TempDir()
	eng := NewLocalEngine(dir, NewStubExecutor(testLogger()), testLogger())

	d := parseDesign(t, `{
		"size": {"width": 640, "height": 360},
		"trackItemsMap": {
			"a": {"type": "image", "display": {"from": 0, "to": 2000}},
			"b": {"type": "text", "display": {"from": 2000, "to": "3000"}}
		},
		"trackItemDetailsMap": {"b": {"details": {"text": "hi"}}},
		"transitionsMap": {"t": {"fromId": "a", "toId": "b", "kind": "fade", "duration": 500}}
	}`)

	ctx := context.Background()
	b, err := eng.Bundle(ctx, "job-1", d, composition.Settings{FPS: 24})
	if err != nil {
		t.Fatalf("Bundle error: %v", err)
	}
	if _, err := os.Stat(b.DesignPath); err != nil {
		t.Fatalf("design not written: %v", err)
	}

	m, err := ReadManifest(b.ManifestPath)
	if err != nil {
		t.Fatalf("ReadManifest error: %v", err)
	}
	if m.JobID != "job-1" || m.Items != 2 || len(m.Groups) != 1 || m.Groups[0].Transition != "fade" {
		t.Errorf("manifest = %+v", m)
	}

	plan, err := eng.SelectComposition(ctx, b)
	if err != nil {
		t.Fatalf("SelectComposition error: %v", err)
	}
	want := composition.Metadata{ID: composition.CompositionID, Width: 640, Height: 360, FPS: 24, DurationInFrames: 72}
	if plan.Metadata != want {
		t.Errorf("metadata = %+v, want %+v", plan.Metadata, want)
	}

	if err := eng.Cleanup("job-1"); err != nil {
		t.Fatalf("Cleanup error: %v", err)
	}
	if _, err := os.Stat(b.Dir); !os.IsNotExist(err) {
		t.Errorf("bundle dir still present: %v", err)
	}
}

func TestLocalEngine_SelectRejectsTamperedManifest(t *testing.T) {
	eng := NewLocalEngine(t.TempDir(), nil, nil)
	d := parseDesign(t, `{"trackItemsMap": {}}`)

	b, err := eng.Bundle(context.Background(), "job-2", d, composition.Settings{})
	if err != nil {
		t.Fatalf("Bundle error: %v", err)
	}
	m, _ := ReadManifest(b.ManifestPath)
	m.Metadata.DurationInFrames = 1
	if err := WriteManifest(b.ManifestPath, m); err != nil {
		t.Fatalf("WriteManifest error: %v", err)
	}

	if _, err := eng.SelectComposition(context.Background(), b); err == nil {
		t.Error("expected metadata mismatch error")
	}
	if err := eng.RenderMedia(context.Background(), &composition.Plan{}, FormatMP4, "x", nil); err == nil {
		t.Error("expected error without executor")
	}
}

func TestStubExecutor_ReportsProgress(t *testing.T) {
	d := parseDesign(t, `{"trackItemsMap": {"a": {"type": "text", "display": {"from": 0, "to": 1000}}}}`)
	plan := composition.NewPlan(d, composition.Settings{FPS: 25})

	progress := make(chan float64, 64)
	out := filepath.Join(t.TempDir(), "renders", "x.mp4")
	if err := NewStubExecutor(nil).RenderMedia(context.Background(), plan, FormatMP4, out, progress); err != nil {
		t.Fatalf("RenderMedia error: %v", err)
	}
	close(progress)

	var got []float64
	for f := range progress {
		got = append(got, f)
	}
	if len(got) != 3 || got[len(got)-1] != 1 {
		t.Errorf("progress = %v, want 3 reports ending in 1", got)
	}
	if !slices.IsSorted(got) {
		t.Errorf("progress not monotonic: %v", got)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestStubExecutor_StopsOnCancel(t *testing.T) {
	d := parseDesign(t, `{"trackItemsMap": {}}`)
	plan := composition.NewPlan(d, composition.Settings{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewStubExecutor(nil).RenderMedia(ctx, plan, FormatGIF, filepath.Join(t.TempDir(), "x.gif"), make(chan float64))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGIFExecutor_EncodesFrames(t *testing.T) {
	d := parseDesign(t, `{"trackItemsMap": {"a": {"type": "text", "display": {"from": 0, "to": 1000}}}}`)
	plan := composition.NewPlan(d, composition.Settings{FPS: 30, Width: 1280, Height: 720})

	progress := make(chan float64, 64)
	out := filepath.Join(t.TempDir(), "renders", "x.gif")
	ex := NewGIFExecutor(NewRasterizer(nil, nil, nil), nil, testLogger())
	if err := ex.RenderMedia(context.Background(), plan, FormatGIF, out, progress); err != nil {
		t.Fatalf("RenderMedia error: %v", err)
	}
	close(progress)

	var got []float64
	for f := range progress {
		got = append(got, f)
	}
	if len(got) != 10 || got[len(got)-1] != 1 || !slices.IsSorted(got) {
		t.Errorf("progress = %v, want 10 increasing reports ending in 1", got)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open artifact: %v", err)
	}
	defer f.Close()
	anim, err := gif.DecodeAll(f)
	if err != nil {
		t.Fatalf("artifact is not a gif: %v", err)
	}
	if len(anim.Image) != 10 {
		t.Errorf("gif frames = %d, want 10", len(anim.Image))
	}
	if b := anim.Image[0].Bounds(); b.Dx() != 640 || b.Dy() != 360 {
		t.Errorf("gif size = %v, want 640x360", b)
	}
	if anim.Delay[0] != 10 {
		t.Errorf("gif delay = %d, want 10", anim.Delay[0])
	}
}

func TestGIFExecutor_RejectsMP4(t *testing.T) {
	plan := composition.NewPlan(parseDesign(t, `{"trackItemsMap": {}}`), composition.Settings{})
	out := filepath.Join(t.TempDir(), "x.mp4")

	err := NewGIFExecutor(NewRasterizer(nil, nil, nil), nil, nil).RenderMedia(context.Background(), plan, FormatMP4, out, nil)
	if !errors.Is(err, ErrNoEncoder) {
		t.Fatalf("err = %v, want ErrNoEncoder", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Errorf("mp4 artifact written without an encoder: %v", statErr)
	}
}

func TestGIFGeometry(t *testing.T) {
	tests := []struct {
		m                 composition.Metadata
		w, h, step, delay int
	}{
		{composition.Metadata{Width: 1920, Height: 1080, FPS: 30}, 640, 360, 3, 10},
		{composition.Metadata{Width: 320, Height: 240, FPS: 8}, 320, 240, 1, 13},
		{composition.Metadata{Width: 1280, Height: 720, FPS: 25}, 640, 360, 3, 12},
	}
	for _, tt := range tests {
		w, h, step, delay := GIFGeometry(tt.m)
		if w != tt.w || h != tt.h || step != tt.step || delay != tt.delay {
			t.Errorf("GIFGeometry(%+v) = %d %d %d %d, want %d %d %d %d",
				tt.m, w, h, step, delay, tt.w, tt.h, tt.step, tt.delay)
		}
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	m := composition.Metadata{Width: 1280, Height: 720, FPS: 29.97, DurationInFrames: 90}

	mp4 := strings.Join(BuildFFmpegArgs(m, FormatMP4, 20, "fast", "out.mp4"), " ")
	for _, want := range []string{"-f rawvideo", "-pixel_format rgba", "-video_size 1280x720", "-framerate 29.97", "-frames:v 90", "-c:v libx264", "-crf 20", "-preset fast"} {
		if !strings.Contains(mp4, want) {
			t.Errorf("mp4 args missing %q: %s", want, mp4)
		}
	}
	if !strings.HasSuffix(mp4, "out.mp4") {
		t.Errorf("mp4 args should end with output path: %s", mp4)
	}

	gif := strings.Join(BuildFFmpegArgs(m, FormatGIF, 20, "fast", "out.gif"), " ")
	if !strings.Contains(gif, "palettegen") || strings.Contains(gif, "libx264") {
		t.Errorf("gif args = %s", gif)
	}
}

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

func TestRasterizer_DrawsImageTextAndMissingMedia(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "red.png"), color.RGBA{255, 0, 0, 255})

	r := NewRasterizer(NewFileMediaLoader(dir, ""), NewImagePool(), testLogger())
	frame := composition.Frame{
		Width: 100, Height: 100, Background: "#000000",
		Layers: []composition.Layer{
			{ItemID: "img", Kind: composition.KindImage, X: 0, Y: 0, W: 20, H: 20, Opacity: 1, Src: "red.png"},
			{ItemID: "gone", Kind: composition.KindImage, X: 50, Y: 50, W: 20, H: 20, Opacity: 1, Src: "missing.png"},
			{ItemID: "txt", Kind: composition.KindText, X: 0, Y: 60, W: 40, H: 40, Opacity: 1, Text: "HI", FontSize: 26, Color: "#ffffff"},
			{ItemID: "snd", Kind: composition.KindAudio, Opacity: 1, Src: "x.mp3"},
		},
	}

	dst := image.NewRGBA(image.Rect(0, 0, 100, 100))
	r.Draw(context.Background(), frame, dst)

	if got := dst.RGBAAt(10, 10); got.R < 200 || got.G > 50 {
		t.Errorf("image pixel = %v, want red", got)
	}
	if got := dst.RGBAAt(50, 50); got == (color.RGBA{0, 0, 0, 255}) {
		t.Error("missing media should draw a placeholder outline")
	}
	if got := dst.RGBAAt(60, 60); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("inside missing media box = %v, want background", got)
	}

	lit := false
	for y := 60; y < 100 && !lit; y++ {
		for x := 0; x < 40; x++ {
			if dst.RGBAAt(x, y).R > 128 {
				lit = true
				break
			}
		}
	}
	if !lit {
		t.Error("text layer drew no pixels")
	}
}

func TestRasterizer_HalfOpacity(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "white.png"), color.RGBA{255, 255, 255, 255})

	r := NewRasterizer(NewFileMediaLoader(dir, ""), nil, nil)
	dst := image.NewRGBA(image.Rect(0, 0, 10, 10))
	r.Draw(context.Background(), composition.Frame{
		Background: "#000",
		Layers: []composition.Layer{
			{Kind: composition.KindImage, W: 10, H: 10, Opacity: 0.5, Src: "white.png"},
		},
	}, dst)

	if got := dst.RGBAAt(5, 5).R; got < 120 || got > 135 {
		t.Errorf("half opacity pixel R = %d, want ~128", got)
	}
}

func TestParseColor(t *testing.T) {
	def := color.RGBA{1, 2, 3, 255}
	tests := []struct {
		in   string
		want color.RGBA
	}{
		{"#fff", color.RGBA{255, 255, 255, 255}},
		{"#102030", color.RGBA{16, 32, 48, 255}},
		{"rgb(10, 20, 30)", color.RGBA{10, 20, 30, 255}},
		{"white", color.RGBA{255, 255, 255, 255}},
		{"#ff000080", color.RGBA{128, 0, 0, 128}},
		{"nonsense", def},
		{"", def},
	}
	for _, tt := range tests {
		if got := ParseColor(tt.in, def); got != tt.want {
			t.Errorf("ParseColor(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestImagePool_ReusesBySize(t *testing.T) {
	p := NewImagePool()
	a := p.Get(image.Rect(0, 0, 8, 8))
	if a.Bounds().Dx() != 8 {
		t.Fatalf("bounds = %v", a.Bounds())
	}
	p.Put(a)
	b := p.Get(image.Rect(0, 0, 16, 8))
	if b.Bounds().Dx() != 16 {
		t.Errorf("bounds = %v, want 16 wide", b.Bounds())
	}
	p.Put(nil)
}

type fakeProber struct {
	calls atomic.Int32
	err   error
}

func (f *fakeProber) Probe(ctx context.Context) (*Capabilities, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &Capabilities{CPUs: 4, ProbedAt: time.Now()}, nil
}

func TestCachedDoctor(t *testing.T) {
	prober := &fakeProber{}
	doc := NewCachedDoctor(prober, testLogger())
	ctx := context.Background()

	if doc.Peek() != nil {
		t.Fatal("Peek before probe should be nil")
	}
	if _, err := doc.Get(ctx); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if _, err := doc.Get(ctx); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got := prober.calls.Load(); got != 1 {
		t.Errorf("probe calls = %d, want 1 (cached)", got)
	}

	prober.err = errors.New("boom")
	caps, err := doc.Refresh(ctx)
	if err != nil || caps == nil {
		t.Errorf("Refresh with stale cache = (%v, %v), want stale caps", caps, err)
	}

	doc.Invalidate()
	if _, err := doc.Get(ctx); err == nil {
		t.Error("expected error without cache")
	}
}
