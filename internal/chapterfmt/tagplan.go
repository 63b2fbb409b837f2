package chapterfmt

import (
	"errors"
	"fmt"
	"math"

	"github.com/heimdex/chapter-agent/internal/timeline"
)

const TOCElementID = "toc"

var ErrDurationUnknown = errors.New("media duration unknown")

// TagChapter describes one ID3 CHAP frame.
type TagChapter struct {
	ElementID string `json:"element_id"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	ImageID   string `json:"image_id,omitempty"`
}

// TagTOC describes the ID3 CTOC frame listing the chapters in order.
type TagTOC struct {
	ElementID string   `json:"element_id"`
	Ordered   bool     `json:"ordered"`
	Elements  []string `json:"elements"`
}

// TagPlan is the chapter part of an ID3 tag, ready for a binary encoder.
type TagPlan struct {
	Chapters []TagChapter `json:"chapters"`
	TOC      TagTOC       `json:"toc"`
}

// ExportSummary is the coarse usage record written when a file is tagged.
type ExportSummary struct {
	DurationMinutes int  `json:"duration_minutes"`
	NumChapters     int  `json:"num_chapters"`
	UsedImages      bool `json:"used_images"`
	UsedURLs        bool `json:"used_urls"`
}

// BuildTagPlan numbers the exportable chapters densely as chp0, chp1, ...
// and lists those included in the table of contents in the CTOC frame.
// Every chapter needs an end time, so the duration must be known.
func BuildTagPlan(state timeline.State) (*TagPlan, ExportSummary, error) {
	summary := ExportSummary{NumChapters: len(state.Chapters)}
	if !state.DurationKnown() {
		return nil, summary, ErrDurationUnknown
	}
	summary.DurationMinutes = int(math.Round(state.Duration / 60))

	plan := &TagPlan{
		Chapters: make([]TagChapter, 0, len(state.Chapters)),
		TOC:      TagTOC{ElementID: TOCElementID, Ordered: true, Elements: []string{}},
	}

	index := 0
	for _, c := range state.Chapters {
		if !c.Exportable() {
			continue
		}
		id := fmt.Sprintf("chp%d", index)
		plan.Chapters = append(plan.Chapters, TagChapter{
			ElementID: id,
			StartMs:   c.Start,
			EndMs:     c.End,
			Title:     c.LegacyTitle(),
			URL:       c.URL,
			ImageID:   c.ImageID,
		})
		if c.IncludeInTOC() {
			plan.TOC.Elements = append(plan.TOC.Elements, id)
		}
		if c.URL != "" {
			summary.UsedURLs = true
		}
		if c.HasImage() {
			summary.UsedImages = true
		}
		index++
	}

	return plan, summary, nil
}
