package export

import "github.com/heimdex/heimdex-render/internal/design"

// EDLRequest asks for an edit decision list of a design's timeline.
type EDLRequest struct {
	Title     string         `json:"title"`
	FrameRate float64        `json:"frame_rate"`
	Design    *design.Design `json:"design"`
}

// Edit is how an event enters the record timeline.
type Edit string

const (
	EditCut      Edit = "C"
	EditDissolve Edit = "D"
)

// Event is one EDL line: a source window placed on the record timeline.
type Event struct {
	ClipName    string
	MediaPath   string
	Track       string
	Edit        Edit
	EditFrames  int
	SourceInMs  int
	SourceOutMs int
	RecordInMs  int
	RecordOutMs int
}

type EDLResponse struct {
	Status       string   `json:"status"`
	Format       string   `json:"format"`
	Title        string   `json:"title"`
	EventCount   int      `json:"event_count"`
	SkippedItems []string `json:"skipped_items"`
	EDL          string   `json:"edl"`
}
