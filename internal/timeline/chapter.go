package timeline

import "strings"

const (
	// EndUnset marks a last chapter whose end is unknown because the media
	// duration has not been loaded yet.
	EndUnset int64 = -1

	// StartInvalid marks a chapter whose start could not be parsed on import.
	StartInvalid int64 = -1

	// tocExcludePrefix is the legacy title convention for chapters hidden
	// from the table of contents.
	tocExcludePrefix = "_"
)

// Chapter is one titled segment of the timeline. End and Warning are
// derived by normalization and ignored on input.
type Chapter struct {
	Title          string `json:"title"`
	Start          int64  `json:"start_ms"`
	End            int64  `json:"end_ms"`
	URL            string `json:"url,omitempty"`
	ImageID        string `json:"image_id,omitempty"`
	ExcludeFromTOC bool   `json:"exclude_from_toc,omitempty"`
	Warning        string `json:"warning,omitempty"`
	Error          string `json:"error,omitempty"`
}

// HasEnd reports whether End carries a derived value.
func (c Chapter) HasEnd() bool {
	return c.End != EndUnset
}

func (c Chapter) HasImage() bool {
	return c.ImageID != ""
}

// Exportable reports whether the chapter appears in export output.
// Chapters marked with a hard error are skipped.
func (c Chapter) Exportable() bool {
	return c.Error == ""
}

// IncludeInTOC reports whether the chapter belongs in a generated table of
// contents. Titles still carrying the legacy underscore prefix count as
// excluded.
func (c Chapter) IncludeInTOC() bool {
	return !c.ExcludeFromTOC && !strings.HasPrefix(c.Title, tocExcludePrefix)
}

// TOCTitle returns the title with any legacy underscore prefix removed.
func (c Chapter) TOCTitle() string {
	return strings.TrimPrefix(c.Title, tocExcludePrefix)
}

// LegacyTitle returns the title in the underscore convention, as written
// by plain chapter lists.
func (c Chapter) LegacyTitle() string {
	if c.IncludeInTOC() || strings.HasPrefix(c.Title, tocExcludePrefix) {
		return c.Title
	}
	return tocExcludePrefix + c.Title
}

// SplitTitle turns a title written in the underscore convention into a
// plain title and an explicit exclusion flag.
func SplitTitle(title string) (string, bool) {
	if strings.HasPrefix(title, tocExcludePrefix) {
		return strings.TrimPrefix(title, tocExcludePrefix), true
	}
	return title, false
}

// NewChapter builds a chapter from a title in the underscore convention.
func NewChapter(title string, start int64) Chapter {
	plain, excluded := SplitTitle(title)
	return Chapter{
		Title:          plain,
		Start:          start,
		End:            EndUnset,
		ExcludeFromTOC: excluded,
	}
}
