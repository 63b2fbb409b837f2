package api

import (
	"time"

	"github.com/heimdex/chapter-agent/internal/chapterfmt"
	"github.com/heimdex/chapter-agent/internal/session"
	"github.com/heimdex/chapter-agent/internal/store"
	"github.com/heimdex/chapter-agent/internal/timeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State        string `json:"state"`
	Sessions     int    `json:"sessions"`
	Images       int    `json:"images"`
	ReaperPaused bool   `json:"reaper_paused"`
}

type CreateSessionRequest struct {
	MediaFilename string                    `json:"media_filename,omitempty"`
	DurationS     *float64                  `json:"duration_s,omitempty"`
	ExportOptions *chapterfmt.ExportOptions `json:"export_options,omitempty"`
}

type UpdateSessionRequest struct {
	MediaFilename *string                   `json:"media_filename,omitempty"`
	CoverImageID  *string                   `json:"cover_image_id,omitempty"`
	ExportOptions *chapterfmt.ExportOptions `json:"export_options,omitempty"`
}

type SessionResponse struct {
	ID            string                   `json:"id"`
	MediaFilename string                   `json:"media_filename,omitempty"`
	CoverImageID  string                   `json:"cover_image_id,omitempty"`
	DurationS     *float64                 `json:"duration_s"`
	UsesMs        bool                     `json:"uses_ms"`
	Chapters      []timeline.Chapter       `json:"chapters"`
	ExportOptions chapterfmt.ExportOptions `json:"export_options"`
	CreatedAt     string                   `json:"created_at"`
	LastActive    string                   `json:"last_active"`
}

type SessionSummary struct {
	ID            string `json:"id"`
	MediaFilename string `json:"media_filename,omitempty"`
	NumChapters   int    `json:"num_chapters"`
	LastActive    string `json:"last_active"`
}

type SessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// DurationRequest sets the media duration. A null or negative value marks
// it unknown.
type DurationRequest struct {
	DurationS *float64 `json:"duration_s"`
}

// ChapterInput is a chapter as sent by the editor. Start is either a
// display timecode or StartMs in milliseconds.
type ChapterInput struct {
	Title   string   `json:"title"`
	Start   string   `json:"start,omitempty"`
	StartMs *float64 `json:"start_ms,omitempty"`
	URL     string   `json:"url,omitempty"`
	ImageID string   `json:"image_id,omitempty"`
	TOC     *bool    `json:"toc,omitempty"`
}

type ReplaceChaptersRequest struct {
	Chapters []ChapterInput `json:"chapters"`
}

type ChaptersResponse struct {
	DurationS *float64           `json:"duration_s"`
	UsesMs    bool               `json:"uses_ms"`
	Chapters  []timeline.Chapter `json:"chapters"`
}

type ImportResponse struct {
	Result   session.ImportResult `json:"result"`
	Chapters ChaptersResponse     `json:"timeline"`
}

type ImageResponse struct {
	ImageID     string `json:"image_id"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func StateToResponse(state timeline.State) ChaptersResponse {
	resp := ChaptersResponse{
		UsesMs:   state.UsesMillisecondPrecision,
		Chapters: state.Chapters,
	}
	if state.DurationKnown() {
		d := state.Duration
		resp.DurationS = &d
	}
	if resp.Chapters == nil {
		resp.Chapters = []timeline.Chapter{}
	}
	return resp
}

func SessionToResponse(s *session.Session) SessionResponse {
	state := StateToResponse(s.Timeline().State())
	return SessionResponse{
		ID:            s.ID,
		MediaFilename: s.MediaFilename(),
		CoverImageID:  s.CoverImageID(),
		DurationS:     state.DurationS,
		UsesMs:        state.UsesMs,
		Chapters:      state.Chapters,
		ExportOptions: s.ExportOptions(),
		CreatedAt:     s.CreatedAt.Format(time.RFC3339),
		LastActive:    s.LastActive().Format(time.RFC3339),
	}
}

func SessionToSummary(s *session.Session) SessionSummary {
	return SessionSummary{
		ID:            s.ID,
		MediaFilename: s.MediaFilename(),
		NumChapters:   len(s.Timeline().Chapters()),
		LastActive:    s.LastActive().Format(time.RFC3339),
	}
}

func ImageToResponse(img *store.Image) ImageResponse {
	return ImageResponse{
		ImageID:     img.ID,
		ContentType: img.ContentType,
		Size:        img.Size,
	}
}
