package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/heimdex/chapter-agent/internal/timecode"
	"github.com/heimdex/chapter-agent/internal/timeline"
)

func getChaptersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, StateToResponse(s.Timeline().State()))
	}
}

func setDurationHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		var req DurationRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		duration := timeline.UnknownDuration
		if req.DurationS != nil {
			duration = *req.DurationS
		}
		if math.IsNaN(duration) || math.IsInf(duration, 0) {
			WriteError(w, http.StatusBadRequest, "duration_s must be finite", "BAD_REQUEST")
			return
		}

		tl := s.Timeline()
		tl.SetDuration(duration)
		WriteJSON(w, http.StatusOK, StateToResponse(tl.State()))
	}
}

func replaceChaptersHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		var req ReplaceChaptersRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		chapters := make([]timeline.Chapter, 0, len(req.Chapters))
		for i, in := range req.Chapters {
			c, err := chapterFromInput(in)
			if err != nil {
				WriteError(w, http.StatusBadRequest, fmt.Sprintf("chapter %d: %v", i, err), "BAD_REQUEST")
				return
			}
			chapters = append(chapters, c)
		}

		tl := s.Timeline()
		if err := tl.ReplaceAll(chapters); err != nil {
			if errors.Is(err, timeline.ErrEmptyTimeline) {
				WriteError(w, http.StatusBadRequest, err.Error(), "EMPTY_TIMELINE")
				return
			}
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusOK, StateToResponse(tl.State()))
	}
}

func addChapterHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := loadSession(cfg, w, r)
		if !ok {
			return
		}

		var in ChapterInput
		if !decodeJSON(w, r, &in) {
			return
		}

		if err := validateTitle(in.Title); err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		startMs, err := inputStart(in)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		tl := s.Timeline()
		tl.AddChapter(in.Title, startMs)
		WriteJSON(w, http.StatusCreated, StateToResponse(tl.State()))
	}
}

func chapterFromInput(in ChapterInput) (timeline.Chapter, error) {
	if err := validateTitle(in.Title); err != nil {
		return timeline.Chapter{}, err
	}
	startMs, err := inputStart(in)
	if err != nil {
		return timeline.Chapter{}, err
	}

	c := timeline.NewChapter(in.Title, int64(math.Round(startMs)))
	c.URL = in.URL
	c.ImageID = in.ImageID
	if in.TOC != nil && !*in.TOC {
		c.ExcludeFromTOC = true
	}
	return c, nil
}

// validateTitle rejects titles that are empty once the table of contents
// marker is removed.
func validateTitle(title string) error {
	plain, _ := timeline.SplitTitle(title)
	if strings.TrimSpace(plain) == "" {
		return fmt.Errorf("title is required")
	}
	return nil
}

func inputStart(in ChapterInput) (float64, error) {
	if in.StartMs != nil {
		ms := *in.StartMs
		if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
			return 0, fmt.Errorf("start_ms must be a non-negative number")
		}
		return ms, nil
	}
	if in.Start != "" {
		ms, err := timecode.Parse(in.Start)
		if err != nil {
			return 0, err
		}
		return float64(ms), nil
	}
	return 0, fmt.Errorf("start or start_ms is required")
}
