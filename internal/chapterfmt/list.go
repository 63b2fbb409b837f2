package chapterfmt

import (
	"strings"

	"github.com/heimdex/chapter-agent/internal/timecode"
	"github.com/heimdex/chapter-agent/internal/timeline"
)

// EncodeList renders one "<start> <title>" line per exportable chapter.
// Links and images are left out.
func EncodeList(state timeline.State) string {
	var b strings.Builder
	for _, c := range state.Chapters {
		if !c.Exportable() {
			continue
		}
		b.WriteString(timecode.Format(c.Start, state.UsesMillisecondPrecision))
		b.WriteString(" ")
		b.WriteString(c.LegacyTitle())
		b.WriteString("\n")
	}
	return b.String()
}
