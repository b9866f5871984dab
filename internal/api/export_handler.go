package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/heimdex/heimdex-render/internal/composition"
	"github.com/heimdex/heimdex-render/internal/export"
)

const defaultEDLTitle = "heimdex_render"

// exportEDLHandler returns the grouped timeline of a design as an EDL.
// With ?download=1 the EDL is sent as a text attachment instead of JSON.
func exportEDLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req export.EDLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "PAYLOAD_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		if req.Design == nil {
			WriteError(w, http.StatusBadRequest, "design is required", "BAD_REQUEST")
			return
		}

		title := export.SanitizeName(req.Title, 120)
		if title == "" {
			title = defaultEDLTitle
		}

		plan := composition.NewPlan(req.Design, composition.Settings{FPS: req.FrameRate})
		events, skipped := export.EventsFromPlan(plan)
		if len(events) == 0 {
			WriteError(w, http.StatusUnprocessableEntity, "design has no media items to export", "UNRESOLVABLE_CLIPS")
			return
		}
		if skipped == nil {
			skipped = []string{}
		}

		edl := export.GenerateEDL(events, title, plan.FPS)

		if r.URL.Query().Get("download") == "1" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("Content-Disposition", `attachment; filename="`+title+`.edl"`)
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(edl))
			return
		}

		WriteJSON(w, http.StatusOK, export.EDLResponse{
			Status:       "ok",
			Format:       "edl",
			Title:        title,
			EventCount:   len(events),
			SkippedItems: skipped,
			EDL:          edl,
		})
	}
}
