// Package session holds the editing sessions served by the agent. A
// session owns one chapter timeline and the context that used to be
// ambient in the browser editor: media file name, cover image and export
// settings.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/heimdex/chapter-agent/internal/chapterfmt"
	"github.com/heimdex/chapter-agent/internal/export"
	"github.com/heimdex/chapter-agent/internal/fetch"
	"github.com/heimdex/chapter-agent/internal/store"
	"github.com/heimdex/chapter-agent/internal/timeline"
)

const (
	defaultExportName = "chapters"
	maxExportNameLen  = 120
)

var ErrNoImageStore = errors.New("session has no image store")

// ImportResult reports what an import brought in.
type ImportResult struct {
	Chapters     int `json:"chapters"`
	Images       int `json:"images"`
	ImagesFailed int `json:"images_failed"`
	Errored      int `json:"errored"`
}

type Session struct {
	ID        string
	CreatedAt time.Time

	timeline *timeline.Timeline
	images   store.ImageStore
	fetcher  fetch.Fetcher
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	mediaFilename string
	coverImageID  string
	exportOpts    chapterfmt.ExportOptions
	lastActive    time.Time
}

// Timeline returns the session's chapter timeline.
func (s *Session) Timeline() *timeline.Timeline {
	s.touch()
	return s.timeline
}

func (s *Session) MediaFilename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaFilename
}

func (s *Session) SetMediaFilename(name string) {
	s.mu.Lock()
	s.mediaFilename = name
	s.mu.Unlock()
	s.touch()
}

func (s *Session) CoverImageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coverImageID
}

func (s *Session) SetCoverImageID(id string) {
	s.mu.Lock()
	s.coverImageID = id
	s.mu.Unlock()
	s.touch()
}

func (s *Session) ExportOptions() chapterfmt.ExportOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exportOpts
}

func (s *Session) SetExportOptions(opts chapterfmt.ExportOptions) {
	s.mu.Lock()
	s.exportOpts = opts
	s.mu.Unlock()
	s.touch()
}

// LastActive returns the time of the last operation on the session.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.now()
	s.mu.Unlock()
}

// Import decodes a chapter document and replaces the timeline with its
// chapters. A malformed document leaves the timeline untouched. Images are
// fetched one chapter at a time; a chapter whose image cannot be fetched or
// stored is kept without it. Without a fetcher image references are
// dropped. A cancelled import discards the images it already stored.
func (s *Session) Import(ctx context.Context, format string, data []byte) (*ImportResult, error) {
	s.touch()

	imported, err := chapterfmt.Decode(format, data)
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", format, err)
	}

	result := &ImportResult{Chapters: len(imported)}
	chapters := make([]timeline.Chapter, 0, len(imported))
	var stored []string
	for i, item := range imported {
		c := item.Chapter
		if c.Error != "" {
			result.Errored++
		}
		if item.ImageURL != "" && s.fetcher != nil {
			if err := ctx.Err(); err != nil {
				s.discardImages(ctx, stored)
				return nil, fmt.Errorf("import %s: %w", format, err)
			}
			imageID, err := s.storeRemoteImage(ctx, item.ImageURL)
			switch {
			case err != nil && ctx.Err() != nil:
				s.discardImages(ctx, stored)
				return nil, fmt.Errorf("import %s: %w", format, ctx.Err())
			case err != nil:
				result.ImagesFailed++
				s.logger.Warn("failed to import chapter image",
					"chapter_index", i,
					"url", item.ImageURL,
					"error", err,
				)
			default:
				c.ImageID = imageID
				stored = append(stored, imageID)
				result.Images++
			}
		}
		chapters = append(chapters, c)
	}

	if err := s.timeline.ReplaceAll(chapters); err != nil {
		s.discardImages(ctx, stored)
		return nil, fmt.Errorf("import %s: %w", format, err)
	}

	s.logger.Info("chapters imported",
		"format", format,
		"chapters", result.Chapters,
		"images", result.Images,
		"images_failed", result.ImagesFailed,
		"errored", result.Errored,
	)
	return result, nil
}

func (s *Session) storeRemoteImage(ctx context.Context, rawURL string) (string, error) {
	if s.images == nil {
		return "", ErrNoImageStore
	}
	res, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	img, err := s.images.PutImage(ctx, s.ID, res.ContentType, rawURL, res.Data)
	if err != nil {
		return "", fmt.Errorf("store image: %w", err)
	}
	return img.ID, nil
}

// discardImages removes images stored by an import that did not complete.
func (s *Session) discardImages(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := s.images.DeleteImage(ctx, id); err != nil {
			s.logger.Warn("failed to discard image", "image_id", id, "error", err)
		}
	}
}

// AddImage stores an uploaded image for this session.
func (s *Session) AddImage(ctx context.Context, contentType string, data []byte) (*store.Image, error) {
	s.touch()
	if s.images == nil {
		return nil, ErrNoImageStore
	}
	return s.images.PutImage(ctx, s.ID, contentType, "", data)
}

// Export renders the timeline in format. A nil opts uses the session's
// export settings.
func (s *Session) Export(format string, opts *chapterfmt.ExportOptions) ([]byte, error) {
	s.touch()
	o := s.ExportOptions()
	if opts != nil {
		o = *opts
	}
	return chapterfmt.Encode(format, s.timeline.State(), o)
}

// TagPlan plans the ID3 chapter frames for the current timeline.
func (s *Session) TagPlan() (*chapterfmt.TagPlan, error) {
	s.touch()
	plan, summary, err := chapterfmt.BuildTagPlan(s.timeline.State())
	if err != nil {
		return nil, err
	}
	s.logger.Info("tag plan built",
		"duration_minutes", summary.DurationMinutes,
		"num_chapters", summary.NumChapters,
		"used_images", summary.UsedImages,
		"used_urls", summary.UsedURLs,
		"changed_cover_image", s.CoverImageID() != "",
	)
	return plan, nil
}

// ExportFilename derives a safe download name for format from the media
// file name.
func (s *Session) ExportFilename(format string) string {
	name := s.MediaFilename()
	if dot := strings.LastIndex(name, "."); dot > 0 {
		name = name[:dot]
	}
	name = export.SanitizeName(name, maxExportNameLen)
	if name == "" {
		name = defaultExportName
	}
	return name + chapterfmt.Extension(format)
}

func (s *Session) ImportPodlove(ctx context.Context, data []byte) (*ImportResult, error) {
	return s.Import(ctx, chapterfmt.FormatPodlove, data)
}

func (s *Session) ImportJSON(ctx context.Context, data []byte) (*ImportResult, error) {
	return s.Import(ctx, chapterfmt.FormatJSON, data)
}

func (s *Session) ExportPodlove(opts *chapterfmt.ExportOptions) ([]byte, error) {
	return s.Export(chapterfmt.FormatPodlove, opts)
}

func (s *Session) ExportJSON(opts *chapterfmt.ExportOptions) ([]byte, error) {
	return s.Export(chapterfmt.FormatJSON, opts)
}

func (s *Session) ExportList() ([]byte, error) {
	return s.Export(chapterfmt.FormatList, nil)
}
