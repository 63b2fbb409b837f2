package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/heimdex/chapter-agent/internal/chapterfmt"
	"github.com/heimdex/chapter-agent/internal/store"
)

func uploadImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, cfg.MaxImageBytes))
		if err != nil {
			WriteError(w, http.StatusRequestEntityTooLarge, "image too large", "TOO_LARGE")
			return
		}

		img, err := s.AddImage(r.Context(), r.Header.Get("Content-Type"), data)
		if err != nil {
			if errors.Is(err, store.ErrEmptyImage) {
				WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		if cover, _ := strconv.ParseBool(r.URL.Query().Get("cover")); cover {
			s.SetCoverImageID(img.ID)
		}

		WriteJSON(w, http.StatusCreated, ImageToResponse(img))
	}
}

// getImageHandler serves an image by ID, also under the image-<id>.jpg
// name used for links in exported documents. Range and conditional
// requests are honoured.
func getImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := imageIDFromName(chi.URLParam(r, "name"))
		if id == "" {
			WriteError(w, http.StatusBadRequest, "image id required", "BAD_REQUEST")
			return
		}

		img, err := cfg.Repository.GetImage(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if img == nil {
			WriteError(w, http.StatusNotFound, "image not found", "NOT_FOUND")
			return
		}

		w.Header().Set("Content-Type", img.ContentType)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		http.ServeContent(w, r, chapterfmt.ImageFilename(img.ID), img.CreatedAt, bytes.NewReader(img.Data))
	}
}

func imageIDFromName(name string) string {
	name = strings.TrimPrefix(name, "image-")
	return strings.TrimSuffix(name, ".jpg")
}
