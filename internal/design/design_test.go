package design

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestNumber_UnmarshalLoose(t *testing.T) {
	tests := []struct {
		input string
		want  Number
	}{
		{`12`, N(12)},
		{`12.5`, N(12.5)},
		{`"30"`, N(30)},
		{`"120px"`, N(120)},
		{`" 8 px"`, N(8)},
		{`""`, Number{}},
		{`null`, Number{}},
		{`"abc"`, Number{}},
		{`true`, Number{}},
		{`{}`, Number{}},
	}

	for _, tt := range tests {
		var n Number
		if err := json.Unmarshal([]byte(tt.input), &n); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", tt.input, err)
		}
		if n != tt.want {
			t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.input, n, tt.want)
		}
	}
}

func TestFlag_UnmarshalLoose(t *testing.T) {
	tests := map[string]bool{
		`true`:    true,
		`"true"`:  true,
		`1`:       true,
		`false`:   false,
		`null`:    false,
		`"maybe"`: false,
	}
	for input, want := range tests {
		var f Flag
		if err := json.Unmarshal([]byte(input), &f); err != nil {
			t.Fatalf("Unmarshal(%s) error: %v", input, err)
		}
		if bool(f) != want {
			t.Errorf("Unmarshal(%s) = %v, want %v", input, f, want)
		}
	}
}

func TestInterval_SpanSwapsInverted(t *testing.T) {
	iv := Interval{From: N(5000), To: N(1000)}
	from, to := iv.Span()
	if from != 1000 || to != 5000 {
		t.Errorf("Span() = (%v, %v), want (1000, 5000)", from, to)
	}
	if !iv.Contains(1000) || iv.Contains(5000) {
		t.Error("Contains should be half-open [from, to)")
	}
}

func TestMerge_DetailsOverrideItems(t *testing.T) {
	raw := `{
		"trackItemsMap": {
			"a": {"id": "a", "type": "image", "display": {"from": 0, "to": "4000"}, "details": {"width": 100, "src": "old.png"}},
			"b": {"type": "text", "display": {"from": 4000, "to": 7000}}
		},
		"trackItemDetailsMap": {
			"a": {"details": {"src": "new.png", "height": "50px", "animation": {"speed": "2", "direction": "left", "timing": "linear"}, "animationEnabled": true}}
		}
	}`

	d, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}

	items, issues := Merge(d)
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}

	a := items.Get("a")
	if a.Details.Src != "new.png" {
		t.Errorf("src = %q, want new.png", a.Details.Src)
	}
	if a.Details.Width.Or(0) != 100 {
		t.Errorf("width = %v, want 100 (kept from item)", a.Details.Width)
	}
	if a.Details.Height.Or(0) != 50 {
		t.Errorf("height = %v, want 50", a.Details.Height)
	}
	if a.Details.Animation == nil || a.Details.Animation.Speed == nil || a.Details.Animation.Speed.Or(0) != 2 || a.Details.Animation.Direction != "left" {
		t.Errorf("animation = %+v, want speed 2 left", a.Details.Animation)
	}
	if !a.Details.AnimationEnabled {
		t.Error("animationEnabled = false, want true")
	}
	if _, to := a.Display.Span(); to != 4000 {
		t.Errorf("display.to = %v, want 4000", to)
	}

	b := items.Get("b")
	if b.ID != "b" || b.Type != TypeText {
		t.Errorf("b = %+v, want id b type text", b)
	}
}

func TestMerge_DegradesUndecodableItem(t *testing.T) {
	raw := `{"trackItemsMap": {"x": {"type": "text", "name": 42, "display": {"from": 0, "to": 1000}}}}`

	d, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	items, issues := Merge(d)
	if len(issues) != 1 {
		t.Fatalf("len(issues) = %d, want 1", len(issues))
	}
	x := items.Get("x")
	if x == nil || x.Type != TypeText {
		t.Fatalf("x = %+v, want degraded text item", x)
	}
	if _, to := x.Display.Span(); to != 1000 {
		t.Errorf("display.to = %v, want 1000", to)
	}
}

func TestDesign_IDs(t *testing.T) {
	d := &Design{TrackItemsMap: map[string]json.RawMessage{"c": nil, "a": nil, "b": nil}}
	ids := d.IDs()
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("IDs() = %v, want sorted keys", ids)
	}

	d.TrackItemIDs = []string{"b", "a"}
	ids = d.IDs()
	if want := []string{"b", "a", "c"}; !slices.Equal(ids, want) {
		t.Errorf("IDs() = %v, want %v", ids, want)
	}

	d.TrackItemIDs = []string{"ghost", "c", "c"}
	ids = d.IDs()
	if want := []string{"c", "a", "b"}; !slices.Equal(ids, want) {
		t.Errorf("IDs() = %v, want %v", ids, want)
	}
}

func TestTransition_Links(t *testing.T) {
	tr := Transition{FromID: "a", ToID: "b"}
	if !tr.Links("a", "b") || !tr.Links("b", "a") {
		t.Error("Links should match either order")
	}
	if tr.Links("a", "c") {
		t.Error("Links(a, c) = true, want false")
	}
	if tr.Name() != "none" {
		t.Errorf("Name() = %q, want none", tr.Name())
	}
}
