package timeline

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/heimdex/heimdex-render/internal/design"
)

func item(id string, from, to float64) *design.Item {
	return &design.Item{
		ID:      id,
		Type:    design.TypeImage,
		Display: design.Interval{From: design.N(from), To: design.N(to)},
	}
}

func TestDurationInFrames_MaxEnd(t *testing.T) {
	items := design.Items{
		"a": item("a", 0, 4000),
		"b": item("b", 4000, 7000),
	}
	if got := DurationInFrames(items, 0, 30); got != 210 {
		t.Errorf("DurationInFrames = %d, want 210", got)
	}
}

func TestDurationInFrames_Fallbacks(t *testing.T) {
	tests := []struct {
		name     string
		items    design.Items
		fallback float64
		fps      float64
		want     int
	}{
		{"empty uses default 10s", design.Items{}, 0, 30, 300},
		{"empty uses design duration", nil, 5000, 30, 150},
		{"zero ends use design duration", design.Items{"a": item("a", 0, 0)}, 2000, 25, 50},
		{"fps defaults to 30", design.Items{"a": item("a", 0, 1000)}, 0, 0, 30},
		{"rounds up partial frame", design.Items{"a": item("a", 0, 1001)}, 0, 30, 31},
		{"fractional fps", design.Items{"a": item("a", 0, 1000)}, 0, 29.97, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DurationInFrames(tt.items, tt.fallback, tt.fps); got != tt.want {
				t.Errorf("DurationInFrames = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDurationInFrames_NeverClips(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		end := float64(r.Intn(600000) + 1)
		fps := []float64{24, 25, 29.97, 30, 50, 60}[r.Intn(6)]
		items := design.Items{"x": item("x", 0, end)}
		frames := DurationInFrames(items, 0, fps)
		if float64(frames)*1000/fps < end-1e-6 {
			t.Fatalf("end %v fps %v: %d frames clips content", end, fps, frames)
		}
	}
}

func TestGroup_TransitionPair(t *testing.T) {
	items := design.Items{
		"a": item("a", 0, 3000),
		"b": item("b", 3000, 6000),
		"c": item("c", 6000, 9000),
	}
	transitions := map[string]design.Transition{
		"t1": {FromID: "b", ToID: "a", Kind: "fade", Duration: design.N(500)},
	}

	groups := GroupItems([]string{"c", "b", "a"}, items, transitions)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if !groups[0].IsTransition() || groups[0].Items[0] != "a" || groups[0].Items[1] != "b" {
		t.Errorf("groups[0] = %+v, want transition a,b", groups[0])
	}
	if groups[0].Transition.ID != "t1" {
		t.Errorf("transition id = %q, want t1", groups[0].Transition.ID)
	}
	if groups[1].IsTransition() || groups[1].Items[0] != "c" {
		t.Errorf("groups[1] = %+v, want singleton c", groups[1])
	}
}

func TestGroup_TieBreakByID(t *testing.T) {
	items := design.Items{
		"b": item("b", 0, 1000),
		"a": item("a", 0, 1000),
	}
	groups := GroupItems([]string{"b", "a"}, items, nil)
	if groups[0].Items[0] != "a" || groups[1].Items[0] != "b" {
		t.Errorf("groups = %+v, want a before b", groups)
	}
}

func TestGroup_ChainedTransitionsDoNotReuseItems(t *testing.T) {
	items := design.Items{
		"a": item("a", 0, 1000),
		"b": item("b", 1000, 2000),
		"c": item("c", 2000, 3000),
	}
	transitions := map[string]design.Transition{
		"t1": {FromID: "a", ToID: "b"},
		"t2": {FromID: "b", ToID: "c"},
	}
	groups := GroupItems([]string{"a", "b", "c"}, items, transitions)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if groups[1].Items[0] != "c" || groups[1].IsTransition() {
		t.Errorf("groups[1] = %+v, want singleton c", groups[1])
	}
}

func TestGroup_CoversEveryIDOnce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := r.Intn(12)
		items := design.Items{}
		var ids []string
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("i%d", i)
			from := float64(r.Intn(5) * 1000)
			items[id] = item(id, from, from+1000)
			ids = append(ids, id)
		}
		if n > 0 && r.Intn(2) == 0 {
			ids = append(ids, ids[0], "missing")
		}

		transitions := map[string]design.Transition{}
		for m := r.Intn(5); m > 0 && n > 1; m-- {
			a, b := r.Intn(n), r.Intn(n)
			transitions[fmt.Sprintf("t%d", m)] = design.Transition{FromID: ids[a], ToID: ids[b]}
		}

		groups := GroupItems(ids, items, transitions)

		want := map[string]bool{}
		for _, id := range ids {
			want[id] = true
		}
		got := map[string]int{}
		for _, g := range groups {
			if len(g.Items) < 1 || len(g.Items) > 2 {
				t.Fatalf("group size %d", len(g.Items))
			}
			for _, id := range g.Items {
				got[id]++
			}
		}
		if len(got) != len(want) {
			t.Fatalf("round %d: covered %d ids, want %d", round, len(got), len(want))
		}
		for id, c := range got {
			if !want[id] || c != 1 {
				t.Fatalf("round %d: id %s appears %d times", round, id, c)
			}
		}
	}
}

func TestMsToFrames(t *testing.T) {
	if got := MsToFrames(0, 30); got != 1 {
		t.Errorf("MsToFrames(0) = %d, want 1", got)
	}
	if got := MsToFrames(7000, 30); got != 210 {
		t.Errorf("MsToFrames(7000) = %d, want 210", got)
	}
	if got, want := MsToFrames(1e300, 30), design.MaxDurationMs*30/1000; got != want {
		t.Errorf("MsToFrames(1e300) = %d, want cap %d", got, want)
	}
	if got, want := MsToFrames(1000, 1e9), design.MaxFPS; got != want {
		t.Errorf("MsToFrames(1000, 1e9) = %d, want %d", got, want)
	}
	if got := MsToFrames(math.NaN(), 30); got != 1 {
		t.Errorf("MsToFrames(NaN) = %d, want 1", got)
	}
	if got := FrameToMs(15, 30); got != 500 {
		t.Errorf("FrameToMs(15) = %v, want 500", got)
	}
}
