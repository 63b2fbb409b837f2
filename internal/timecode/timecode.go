// Package timecode converts between millisecond offsets and the
// HH:MM:SS(.mmm) display strings used by the chapter exchange formats.
package timecode

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidTimecode = errors.New("invalid timecode")

// maxSeconds keeps the millisecond result, fraction included, within int64.
const maxSeconds = (math.MaxInt64 - 1000) / 1000

// Format renders ms as HH:MM:SS, or HH:MM:SS.mmm when withMillis is set.
// Negative offsets render as zero.
func Format(ms int64, withMillis bool) string {
	if ms < 0 {
		ms = 0
	}
	millis := ms % 1000
	totalSeconds := ms / 1000
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60

	if withMillis {
		return fmt.Sprintf("%02d:%02d:%02d.%03d", hours, minutes, seconds, millis)
	}
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Parse reads SS, MM:SS or HH:MM:SS, each with an optional fractional
// second, and returns the offset in milliseconds. Fractions finer than a
// millisecond are rounded.
func Parse(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidTimecode)
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	parts := strings.Split(whole, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q has too many fields", ErrInvalidTimecode, s)
	}

	var total int64
	for i, p := range parts {
		n, err := parseField(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
		}
		// everything after the leading field is a base-60 digit
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("%w: %q field out of range", ErrInvalidTimecode, s)
		}
		if n > maxSeconds || total > (maxSeconds-n)/60 {
			return 0, fmt.Errorf("%w: %q out of range", ErrInvalidTimecode, s)
		}
		total = total*60 + n
	}
	ms := total * 1000

	if hasFrac {
		f, err := parseFraction(frac)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTimecode, s)
		}
		ms += f
	}
	return ms, nil
}

// FromSeconds converts fractional seconds to the nearest millisecond.
func FromSeconds(seconds float64) int64 {
	return int64(math.Round(seconds * 1000))
}

// ToSeconds converts milliseconds to fractional seconds.
func ToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}

func parseField(p string) (int64, error) {
	if p == "" {
		return 0, ErrInvalidTimecode
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return 0, ErrInvalidTimecode
		}
	}
	return strconv.ParseInt(p, 10, 64)
}

func parseFraction(frac string) (int64, error) {
	if frac == "" || len(frac) > 9 {
		return 0, ErrInvalidTimecode
	}
	for _, c := range frac {
		if c < '0' || c > '9' {
			return 0, ErrInvalidTimecode
		}
	}
	f, err := strconv.ParseFloat("0."+frac, 64)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(f * 1000)), nil
}
