package chapterfmt

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/heimdex/chapter-agent/internal/timecode"
	"github.com/heimdex/chapter-agent/internal/timeline"
)

const (
	PodloveNamespace = "http://podlove.org/simple-chapters"
	PodloveVersion   = "1.2"

	podlovePrefix = "psc"
)

// EncodePodlove renders the exportable chapters as a psc:chapters fragment.
func EncodePodlove(state timeline.State, opts ExportOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<psc:chapters version=%q xmlns:psc=%q>\n", PodloveVersion, PodloveNamespace)

	for _, c := range state.Chapters {
		if !c.Exportable() {
			continue
		}
		b.WriteString("    <psc:chapter")
		writeAttr(&b, "start", timecode.Format(c.Start, state.UsesMillisecondPrecision))
		writeAttr(&b, "title", c.TOCTitle())
		if c.URL != "" {
			writeAttr(&b, "href", c.URL)
		}
		if link := opts.ImageLink(c.ImageID); link != "" {
			writeAttr(&b, "image", link)
		}
		b.WriteString(" />\n")
	}

	b.WriteString("</psc:chapters>")
	return b.String()
}

func writeAttr(b *strings.Builder, name, value string) {
	b.WriteString(" ")
	b.WriteString(name)
	b.WriteString(`="`)
	xml.EscapeText(b, []byte(value))
	b.WriteString(`"`)
}

// DecodePodlove reads every psc:chapter element of a document, wherever it
// is nested. A malformed document or one without chapters is rejected as a
// whole; an unreadable start time only marks that chapter as errored.
func DecodePodlove(data []byte) ([]ImportedChapter, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var out []ImportedChapter
	sawElement := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawElement = true
		if !isPodloveChapter(se.Name) {
			continue
		}
		out = append(out, podloveChapter(se.Attr))
	}

	if !sawElement {
		return nil, fmt.Errorf("%w: no root element", ErrInvalidDocument)
	}
	if len(out) == 0 {
		return nil, ErrNoChapters
	}
	return out, nil
}

// isPodloveChapter accepts the resolved namespace and, for documents that
// forgot to declare it, the bare psc prefix.
func isPodloveChapter(name xml.Name) bool {
	return name.Local == "chapter" && (name.Space == PodloveNamespace || name.Space == podlovePrefix)
}

func podloveChapter(attrs []xml.Attr) ImportedChapter {
	var start, title, href, image string
	for _, a := range attrs {
		switch a.Name.Local {
		case "start":
			start = a.Value
		case "title":
			title = a.Value
		case "href":
			href = a.Value
		case "image":
			image = a.Value
		}
	}

	c := timeline.NewChapter(title, 0)
	c.URL = href
	ms, err := timecode.Parse(start)
	if err != nil {
		c = invalidStart(c)
	} else {
		c.Start = ms
	}
	return ImportedChapter{Chapter: c, ImageURL: image}
}
