// Package export converts a design timeline into interchange formats.
package export

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/heimdex/heimdex-render/internal/composition"
	"github.com/heimdex/heimdex-render/internal/design"
)

const defaultReel = "AX"

// EventsFromPlan lists one event per timed item in record order. Standalone
// items are cuts; the second item of a transition group dissolves in over
// the transition duration. Items without a source (text, captions) or with
// an empty display window are returned as skipped.
func EventsFromPlan(p *composition.Plan) (events []Event, skipped []string) {
	if p == nil || p.Empty {
		return nil, nil
	}

	for _, g := range p.Groups {
		for i, id := range g.Items {
			item := p.Items.Get(id)
			if item == nil || item.Details.Src == "" {
				skipped = append(skipped, id)
				continue
			}
			from, to := item.Display.Span()
			if to <= from {
				skipped = append(skipped, id)
				continue
			}

			ev := Event{
				ClipName:    clipName(item),
				MediaPath:   item.Details.Src,
				Track:       trackFor(item),
				Edit:        EditCut,
				RecordInMs:  int(math.Round(from)),
				RecordOutMs: int(math.Round(to)),
			}
			srcIn := 0.0
			if item.Trim != nil {
				srcIn, _ = item.Trim.Span()
			}
			ev.SourceInMs = int(math.Round(srcIn))
			ev.SourceOutMs = int(math.Round(srcIn + (to - from)))

			if i == 1 && g.IsTransition() {
				ms := g.Transition.Duration.Or(0)
				frames := int(math.Round(ms * p.FPS / 1000))
				if frames > 0 {
					ev.Edit = EditDissolve
					ev.EditFrames = min(frames, 999)
				}
			}
			events = append(events, ev)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].RecordInMs < events[j].RecordInMs
	})
	return events, skipped
}

func clipName(item *design.Item) string {
	name := SanitizeName(item.Name, 160)
	if name == "" {
		name = SanitizeName(item.ID, 160)
	}
	return name
}

func trackFor(item *design.Item) string {
	if composition.KindOf(item.Type) == composition.KindAudio {
		return "A"
	}
	return "V"
}

// GenerateEDL renders events as a CMX3600 style edit decision list.
func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	for i, ev := range events {
		track := ev.Track
		if track == "" {
			track = "V"
		}
		edit := "C       "
		if ev.Edit == EditDissolve {
			edit = fmt.Sprintf("D    %03d", ev.EditFrames)
		}
		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s %s %s %s %s %s", i+1, defaultReel, track, edit,
				msToTimecode(ev.SourceInMs, fps), msToTimecode(ev.SourceOutMs, fps),
				msToTimecode(ev.RecordInMs, fps), msToTimecode(ev.RecordOutMs, fps)),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
			fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath),
		)
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	if ms < 0 {
		ms = 0
	}
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
