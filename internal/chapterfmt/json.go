package chapterfmt

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/heimdex/chapter-agent/internal/timecode"
	"github.com/heimdex/chapter-agent/internal/timeline"
)

const JSONVersion = "1.2.0"

type jsonDocument struct {
	Version  string        `json:"version"`
	Chapters []jsonChapter `json:"chapters"`
}

type jsonChapter struct {
	StartTime float64 `json:"startTime"`
	Title     string  `json:"title"`
	URL       string  `json:"url,omitempty"`
	TOC       *bool   `json:"toc,omitempty"`
	Img       string  `json:"img,omitempty"`
}

// jsonChapterIn accepts startTime as a number of seconds or a display string.
type jsonChapterIn struct {
	StartTime json.RawMessage `json:"startTime"`
	Title     string          `json:"title"`
	URL       string          `json:"url"`
	TOC       *bool           `json:"toc"`
	Img       string          `json:"img"`
}

// EncodeJSON renders the exportable chapters as a JSON chapter document.
func EncodeJSON(state timeline.State, opts ExportOptions) ([]byte, error) {
	doc := jsonDocument{Version: JSONVersion, Chapters: make([]jsonChapter, 0, len(state.Chapters))}

	for _, c := range state.Chapters {
		if !c.Exportable() {
			continue
		}
		jc := jsonChapter{
			StartTime: timecode.ToSeconds(c.Start),
			Title:     c.TOCTitle(),
			URL:       c.URL,
			Img:       opts.ImageLink(c.ImageID),
		}
		if !c.IncludeInTOC() {
			toc := false
			jc.TOC = &toc
		}
		doc.Chapters = append(doc.Chapters, jc)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode json chapters: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeJSON reads a JSON chapter document. The chapters field must be
// present and be an array.
func DecodeJSON(data []byte) ([]ImportedChapter, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	raw, ok := envelope["chapters"]
	if !ok {
		return nil, fmt.Errorf("%w: chapters field missing", ErrInvalidDocument)
	}
	var items []jsonChapterIn
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil, fmt.Errorf("%w: chapters must be an array", ErrInvalidDocument)
	}
	if len(items) == 0 {
		return nil, ErrNoChapters
	}

	out := make([]ImportedChapter, 0, len(items))
	for _, item := range items {
		c := timeline.NewChapter(item.Title, 0)
		c.URL = item.URL
		if item.TOC != nil && !*item.TOC {
			c.ExcludeFromTOC = true
		}
		if ms, ok := jsonStart(item.StartTime); ok {
			c.Start = ms
		} else {
			c = invalidStart(c)
		}
		out = append(out, ImportedChapter{Chapter: c, ImageURL: item.Img})
	}
	return out, nil
}

func jsonStart(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	var seconds float64
	if err := json.Unmarshal(raw, &seconds); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return timecode.FromSeconds(seconds), true
	}

	var display string
	if err := json.Unmarshal(raw, &display); err == nil {
		ms, err := timecode.Parse(display)
		return ms, err == nil
	}
	return 0, false
}
