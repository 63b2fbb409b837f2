// Package timeline holds the ordered chapter list of one media file and
// keeps its derived fields consistent.
//
// Every mutation flows through ReplaceAll, which sorts the chapters by
// start, derives each end from the next start (or from the media duration
// for the last chapter), recomputes advisory warnings and notifies
// subscribers.
package timeline

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
)

const (
	// UnknownDuration is the duration before the media has been loaded.
	UnknownDuration float64 = -1

	DefaultTitle = "Introduction"

	WarningOverflow  = "Warning: Chapter starts after the end of the file"
	WarningZeroStart = "Best practice: First chapter should start at 00:00"
)

var ErrEmptyTimeline = errors.New("timeline must contain at least one chapter")

// Listener receives the full ordered chapter sequence after a mutation.
// Listeners must not mutate the timeline they are subscribed to.
type Listener func(chapters []Chapter)

// State is a consistent snapshot of the timeline.
type State struct {
	Chapters                 []Chapter `json:"chapters"`
	Duration                 float64   `json:"duration_s"`
	UsesMillisecondPrecision bool      `json:"uses_ms"`
}

// DurationKnown reports whether the media duration has been set.
func (s State) DurationKnown() bool {
	return s.Duration >= 0
}

type subscription struct {
	id int
	fn Listener
}

type Timeline struct {
	mu        sync.Mutex
	chapters  []Chapter
	duration  float64
	usesMs    bool
	listeners []subscription
	nextSubID int
	logger    *slog.Logger
}

// New creates a timeline seeded with a single chapter at offset zero.
func New(logger *slog.Logger) *Timeline {
	t := &Timeline{
		duration: UnknownDuration,
		logger:   logger,
	}
	t.chapters, t.usesMs = Normalize([]Chapter{NewChapter(DefaultTitle, 0)}, t.duration)
	return t
}

// Duration returns the media duration in seconds, or UnknownDuration.
func (t *Timeline) Duration() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// SetDuration records the media duration in seconds. Any negative value
// is treated as unknown. The chapters are renormalized so that the last
// end and the overflow warnings track the new duration.
func (t *Timeline) SetDuration(seconds float64) {
	if seconds < 0 {
		seconds = UnknownDuration
	}

	t.mu.Lock()
	t.duration = seconds
	snapshot := t.applyLocked(t.chapters)
	listeners := t.listenersLocked()
	t.mu.Unlock()

	t.notify(listeners, snapshot)
}

// ReplaceAll replaces the chapter set with chapters in any order and
// normalizes it. An empty set is rejected and leaves the timeline as is.
func (t *Timeline) ReplaceAll(chapters []Chapter) error {
	if len(chapters) == 0 {
		return ErrEmptyTimeline
	}

	t.mu.Lock()
	snapshot := t.applyLocked(chapters)
	listeners := t.listenersLocked()
	t.mu.Unlock()

	t.notify(listeners, snapshot)
	return nil
}

// AddChapter appends a chapter starting at startMs, rounded to the nearest
// millisecond. A leading underscore in title excludes the chapter from the
// table of contents.
func (t *Timeline) AddChapter(title string, startMs float64) Chapter {
	c := NewChapter(title, int64(math.Round(startMs)))

	t.mu.Lock()
	next := make([]Chapter, len(t.chapters), len(t.chapters)+1)
	copy(next, t.chapters)
	snapshot := t.applyLocked(append(next, c))
	listeners := t.listenersLocked()
	t.mu.Unlock()

	t.notify(listeners, snapshot)
	return c
}

// Chapters returns a copy of the ordered chapter sequence.
func (t *Timeline) Chapters() []Chapter {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneChapters(t.chapters)
}

// UsesMillisecondPrecision reports whether any chapter starts off a whole
// second.
func (t *Timeline) UsesMillisecondPrecision() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usesMs
}

// State returns chapters, duration and precision from a single point in time.
func (t *Timeline) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Chapters:                 cloneChapters(t.chapters),
		Duration:                 t.duration,
		UsesMillisecondPrecision: t.usesMs,
	}
}

// Subscribe registers fn to run after every successful mutation, in
// registration order. The returned func removes the subscription.
func (t *Timeline) Subscribe(fn Listener) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSubID
	t.nextSubID++
	t.listeners = append(t.listeners, subscription{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.listeners {
			if s.id == id {
				t.listeners = append(t.listeners[:i:i], t.listeners[i+1:]...)
				return
			}
		}
	}
}

func (t *Timeline) applyLocked(chapters []Chapter) []Chapter {
	t.chapters, t.usesMs = Normalize(chapters, t.duration)
	return cloneChapters(t.chapters)
}

func (t *Timeline) listenersLocked() []subscription {
	out := make([]subscription, len(t.listeners))
	copy(out, t.listeners)
	return out
}

// notify runs outside the lock so listeners may read the timeline.
func (t *Timeline) notify(listeners []subscription, chapters []Chapter) {
	for _, s := range listeners {
		t.invoke(s.fn, cloneChapters(chapters))
	}
}

func (t *Timeline) invoke(fn Listener, chapters []Chapter) {
	defer func() {
		if r := recover(); r != nil && t.logger != nil {
			t.logger.Error("timeline listener panicked", "error", r)
		}
	}()
	fn(chapters)
}

// Normalize returns a sorted copy of chapters with ends, warnings and the
// millisecond-precision flag derived from duration. Titles in the
// underscore convention become plain titles excluded from the table of
// contents. Chapters sharing a start keep their input order. Empty input
// yields empty output.
func Normalize(chapters []Chapter, duration float64) ([]Chapter, bool) {
	out := cloneChapters(chapters)
	for i := range out {
		if title, excluded := SplitTitle(out[i].Title); excluded {
			out[i].Title = title
			out[i].ExcludeFromTOC = true
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start < out[j].Start
	})

	for i := range out {
		out[i].Warning = ""
		out[i].End = EndUnset
	}
	for i := 0; i < len(out)-1; i++ {
		out[i].End = out[i+1].Start
	}

	known := duration >= 0
	if known {
		limit := duration * 1000
		for i := range out {
			if float64(out[i].Start) > limit {
				out[i].Warning = WarningOverflow
			}
		}
	}

	if n := len(out); n > 0 {
		if known {
			out[n-1].End = int64(math.Round(duration * 1000))
		}
		if out[0].Start != 0 {
			out[0].Warning = WarningZeroStart
		}
	}

	return out, usesMilliseconds(out)
}

func usesMilliseconds(chapters []Chapter) bool {
	for _, c := range chapters {
		if c.Start != StartInvalid && c.Start%1000 != 0 {
			return true
		}
	}
	return false
}

func cloneChapters(chapters []Chapter) []Chapter {
	out := make([]Chapter, len(chapters))
	copy(out, chapters)
	return out
}
