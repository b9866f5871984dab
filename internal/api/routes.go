package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/heimdex/heimdex-render/internal/logging"
	"github.com/heimdex/heimdex-render/internal/render"
)

const defaultVersion = "0.1.0"

func NewRouter(cfg ServerConfig) *chi.Mux {
	cfg.Logger = logging.OrDiscard(cfg.Logger)
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist(cfg.AllowedOrigins...))

	r.Get("/health", healthHandler(cfg))

	if cfg.PlaybackServer != nil {
		r.Get("/renders/{name}", rendersHandler(cfg))
		r.Head("/renders/{name}", rendersHandler(cfg))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.APIToken, cfg.Logger))

		r.With(BodyLimit(cfg.MaxBodyBytes)).Post("/render", submitRenderHandler(cfg))
		r.Get("/render", renderStatusHandler(cfg))
		r.With(BodyLimit(cfg.MaxBodyBytes)).Post("/export/edl", exportEDLHandler(cfg))

		r.Group(func(r chi.Router) {
			// Without a token, job administration stays on this machine.
			if cfg.APIToken == "" {
				r.Use(LoopbackGuard())
			}
			r.Get("/render/jobs", listRendersHandler(cfg))
			r.Delete("/render/{id}", cancelRenderHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		version := cfg.Version
		if version == "" {
			version = defaultVersion
		}
		resp := HealthResponse{
			Status:  "ok",
			Version: version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		}
		if cfg.Renders != nil {
			resp.ActiveJobs = cfg.Renders.Active()
		}
		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Engine = CapabilitiesToResponse(caps)
			}
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func submitRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req render.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "request body too large", "PAYLOAD_TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		job, err := cfg.Renders.Submit(r.Context(), req)
		if err != nil {
			writeRenderError(w, cfg, err)
			return
		}

		WriteJSON(w, http.StatusOK, RenderResponse{Video: VideoToResponse(job)})
	}
}

func renderStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		id := q.Get("id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "id is required", "BAD_REQUEST")
			return
		}
		if q.Get("type") != RenderStatusType {
			WriteError(w, http.StatusBadRequest, "type must be "+RenderStatusType, "BAD_REQUEST")
			return
		}

		job, err := cfg.Renders.Status(r.Context(), id)
		if err != nil {
			writeRenderError(w, cfg, err)
			return
		}

		WriteJSON(w, http.StatusOK, RenderResponse{Video: VideoToResponse(job)})
	}
}

func cancelRenderHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			WriteError(w, http.StatusBadRequest, "job id required", "BAD_REQUEST")
			return
		}

		job, err := cfg.Renders.Cancel(r.Context(), id)
		if err != nil {
			writeRenderError(w, cfg, err)
			return
		}

		WriteJSON(w, http.StatusOK, RenderResponse{Video: VideoToResponse(job)})
	}
}

func listRendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if s := r.URL.Query().Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 || n > 500 {
				WriteError(w, http.StatusBadRequest, "limit must be between 1 and 500", "BAD_REQUEST")
				return
			}
			limit = n
		}

		jobs, err := cfg.Renders.List(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func rendersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := cfg.PlaybackServer.ServeRender(w, r, name); err != nil {
			cfg.Logger.Error("render download error", "error", err, "name", name)
		}
	}
}

func writeRenderError(w http.ResponseWriter, cfg ServerConfig, err error) {
	var ve *render.ValidationError
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, ve.Error(), "BAD_REQUEST")
	case errors.Is(err, render.ErrNotFound):
		WriteError(w, http.StatusNotFound, "job not found", "NOT_FOUND")
	case errors.Is(err, render.ErrTerminal):
		WriteError(w, http.StatusConflict, "job already finished", "CONFLICT")
	case errors.Is(err, render.ErrShutdown):
		WriteError(w, http.StatusServiceUnavailable, "render service shutting down", "UNAVAILABLE")
	default:
		cfg.Logger.Error("render request failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
