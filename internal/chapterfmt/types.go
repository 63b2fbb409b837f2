// Package chapterfmt serializes timeline chapters to and from the Podlove
// simple-chapters XML, the JSON chapter schema and the plain text list,
// and plans the ID3 chapter frames for tag writers.
package chapterfmt

import (
	"errors"
	"strings"

	"github.com/heimdex/chapter-agent/internal/timeline"
)

const (
	FormatPodlove = "podlove"
	FormatJSON    = "json"
	FormatList    = "list"

	invalidStartError = "Invalid start time"
)

var (
	ErrInvalidDocument = errors.New("invalid chapter document")
	ErrNoChapters      = errors.New("document contains no chapters")
	ErrUnknownFormat   = errors.New("unknown chapter format")
)

// ExportOptions controls image links in exported documents.
type ExportOptions struct {
	IncludeImageLinks bool   `json:"include_image_links" yaml:"include_image_links"`
	ImageBaseURL      string `json:"image_base_url" yaml:"image_base_url"`
}

// ImageLink returns the public URL of an image, or "" when links are
// disabled or the chapter has no image.
func (o ExportOptions) ImageLink(imageID string) string {
	if !o.IncludeImageLinks || imageID == "" {
		return ""
	}
	base := o.ImageBaseURL
	if base != "" && !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + ImageFilename(imageID)
}

// ImageFilename is the file name an exported image is published under.
func ImageFilename(imageID string) string {
	return "image-" + imageID + ".jpg"
}

// ImportedChapter is a decoded chapter plus the image it references, which
// the caller resolves into the image store.
type ImportedChapter struct {
	Chapter  timeline.Chapter
	ImageURL string
}

// Decode parses a document in the named import format.
func Decode(format string, data []byte) ([]ImportedChapter, error) {
	switch strings.ToLower(format) {
	case FormatPodlove, "xml":
		return DecodePodlove(data)
	case FormatJSON:
		return DecodeJSON(data)
	default:
		return nil, ErrUnknownFormat
	}
}

// Encode renders state in the named export format.
func Encode(format string, state timeline.State, opts ExportOptions) ([]byte, error) {
	switch strings.ToLower(format) {
	case FormatPodlove, "xml":
		return []byte(EncodePodlove(state, opts)), nil
	case FormatJSON:
		return EncodeJSON(state, opts)
	case FormatList, "txt":
		return []byte(EncodeList(state)), nil
	default:
		return nil, ErrUnknownFormat
	}
}

// ContentType returns the MIME type for an export format.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case FormatPodlove, "xml":
		return "application/xml; charset=utf-8"
	case FormatJSON:
		return "application/json; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the file extension for an export format.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case FormatPodlove, "xml":
		return ".xml"
	case FormatJSON:
		return ".json"
	default:
		return ".txt"
	}
}

func invalidStart(c timeline.Chapter) timeline.Chapter {
	c.Start = timeline.StartInvalid
	c.Error = invalidStartError
	return c
}
