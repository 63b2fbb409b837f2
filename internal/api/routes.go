package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/heimdex/chapter-agent/internal/config"
	"github.com/heimdex/chapter-agent/internal/fetch"
	"github.com/heimdex/chapter-agent/internal/session"
)

const maxJSONBodyBytes = 1 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = fetch.DefaultMaxBytes
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	// Exported documents link images by URL, so these are served without
	// a token to local clients only.
	r.Group(func(r chi.Router) {
		r.Use(LoopbackGuard())
		r.Get("/images/{name}", getImageHandler(cfg))
		r.Head("/images/{name}", getImageHandler(cfg))
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Get("/sessions", listSessionsHandler(cfg))
		r.Post("/sessions", createSessionHandler(cfg))

		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", getSessionHandler(cfg))
			r.Patch("/", updateSessionHandler(cfg))
			r.Delete("/", deleteSessionHandler(cfg))
			r.Put("/duration", setDurationHandler(cfg))
			r.Get("/chapters", getChaptersHandler(cfg))
			r.Put("/chapters", replaceChaptersHandler(cfg))
			r.Post("/chapters", addChapterHandler(cfg))
			r.Post("/import/{format}", importHandler(cfg))
			r.Get("/export/{format}", exportHandler(cfg))
			r.Get("/tags", tagPlanHandler(cfg))
			r.Post("/images", uploadImageHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		images, err := cfg.Repository.CountImages(r.Context())
		if err != nil {
			cfg.Logger.Warn("failed to count images", "error", err)
		}

		resp := StatusResponse{
			State:    "idle",
			Sessions: cfg.Sessions.Count(),
			Images:   images,
		}
		if resp.Sessions > 0 {
			resp.State = "editing"
		}
		if cfg.Reaper != nil {
			resp.ReaperPaused = cfg.Reaper.IsPaused()
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := cfg.Sessions.List()
		resp := SessionsResponse{Sessions: make([]SessionSummary, len(sessions))}
		for i, s := range sessions {
			resp.Sessions[i] = SessionToSummary(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if !decodeOptionalJSON(w, r, &req) {
			return
		}

		duration := -1.0
		if req.DurationS != nil {
			duration = *req.DurationS
		}

		s := cfg.Sessions.Create(req.MediaFilename, duration)
		if req.ExportOptions != nil {
			s.SetExportOptions(*req.ExportOptions)
		}

		WriteJSON(w, http.StatusCreated, SessionToResponse(s))
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, SessionToResponse(s))
	}
}

func updateSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		var req UpdateSessionRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if req.CoverImageID != nil && *req.CoverImageID != "" {
			img, err := cfg.Repository.GetImage(r.Context(), *req.CoverImageID)
			if err != nil {
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
				return
			}
			if img == nil || img.SessionID != s.ID {
				WriteError(w, http.StatusBadRequest, "unknown cover image", "BAD_REQUEST")
				return
			}
		}

		if req.MediaFilename != nil {
			s.SetMediaFilename(*req.MediaFilename)
		}
		if req.CoverImageID != nil {
			s.SetCoverImageID(*req.CoverImageID)
		}
		if req.ExportOptions != nil {
			s.SetExportOptions(*req.ExportOptions)
		}

		WriteJSON(w, http.StatusOK, SessionToResponse(s))
	}
}

func deleteSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := cfg.Sessions.Close(r.Context(), id); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func loadSession(cfg ServerConfig, w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "session id required", "BAD_REQUEST")
		return nil, false
	}

	s, err := cfg.Sessions.Get(id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
		return nil, false
	}
	return s, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
		return false
	}
	return true
}

// decodeOptionalJSON is decodeJSON for endpoints where an empty body is
// valid.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	return decodeJSON(w, r, dst)
}
