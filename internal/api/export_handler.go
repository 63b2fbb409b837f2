package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/heimdex/chapter-agent/internal/chapterfmt"
	"github.com/heimdex/chapter-agent/internal/logging"
)

const maxImportBytes = 5 << 20

func importHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		format := chi.URLParam(r, "format")
		if format != chapterfmt.FormatPodlove && format != chapterfmt.FormatJSON {
			WriteError(w, http.StatusBadRequest, "format must be podlove or json", "BAD_REQUEST")
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			WriteError(w, http.StatusRequestEntityTooLarge, "document too large", "TOO_LARGE")
			return
		}

		result, err := s.Import(r.Context(), format, data)
		if err != nil {
			switch {
			case errors.Is(err, chapterfmt.ErrInvalidDocument):
				WriteError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_DOCUMENT")
			case errors.Is(err, chapterfmt.ErrNoChapters):
				WriteError(w, http.StatusUnprocessableEntity, err.Error(), "NO_CHAPTERS")
			default:
				logging.WithFormat(cfg.Logger, format).Error("import failed", "session_id", s.ID, "error", err)
				WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			}
			return
		}

		WriteJSON(w, http.StatusOK, ImportResponse{
			Result:   *result,
			Chapters: StateToResponse(s.Timeline().State()),
		})
	}
}

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		format := chi.URLParam(r, "format")
		switch format {
		case chapterfmt.FormatPodlove, chapterfmt.FormatJSON, chapterfmt.FormatList:
		default:
			WriteError(w, http.StatusBadRequest, "format must be podlove, json or list", "BAD_REQUEST")
			return
		}

		opts, err := exportOptionsFromQuery(r, s.ExportOptions())
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		data, err := s.Export(format, &opts)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		disposition := mime.FormatMediaType("attachment", map[string]string{
			"filename": s.ExportFilename(format),
		})
		w.Header().Set("Content-Type", chapterfmt.ContentType(format))
		w.Header().Set("Content-Disposition", disposition)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}

// exportOptionsFromQuery overrides the session defaults with the images
// and base_url query parameters.
func exportOptionsFromQuery(r *http.Request, opts chapterfmt.ExportOptions) (chapterfmt.ExportOptions, error) {
	q := r.URL.Query()
	if v := q.Get("images"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("images must be a boolean")
		}
		opts.IncludeImageLinks = include
	}
	if q.Has("base_url") {
		opts.ImageBaseURL = q.Get("base_url")
	}
	return opts, nil
}

func tagPlanHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		plan, err := s.TagPlan()
		if err != nil {
			if errors.Is(err, chapterfmt.ErrDurationUnknown) {
				WriteError(w, http.StatusConflict, err.Error(), "DURATION_UNKNOWN")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, plan)
	}
}
