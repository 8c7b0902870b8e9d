// Package timeparsing resolves user supplied sync watermarks such as
// "--since -2w" or "--since 'last monday'" into absolute times.
//
// Parsing is layered:
//  1. Compact duration (2w, -36h). Unsigned values count backwards.
//  2. Absolute timestamp (RFC3339, "2006-01-02 15:04", date-only).
//  3. Natural language (yesterday, last friday, 3 days ago).
package timeparsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// compactDurationRe matches [+-]?(\d+)([hdwmy]).
var compactDurationRe = regexp.MustCompile(`^([+-]?)(\d+)([hdwmy])$`)

// absoluteLayouts are tried in order after the compact form.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseCompactDuration parses "2w", "-36h", "+1d" relative to now.
//
// Sync windows always look backwards, so an unsigned amount is treated as
// "ago": "2w" and "-2w" are equivalent. An explicit "+" moves forward and is
// only useful for tests.
func ParseCompactDuration(s string, now time.Time) (time.Time, error) {
	m := compactDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, fmt.Errorf("not a compact duration: %q", s)
	}
	amount, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid duration amount: %q", m[2])
	}
	if m[1] != "+" {
		amount = -amount
	}
	return applyDuration(now, amount, m[3]), nil
}

func applyDuration(base time.Time, amount int, unit string) time.Time {
	switch unit {
	case "h":
		return base.Add(time.Duration(amount) * time.Hour)
	case "d":
		return base.AddDate(0, 0, amount)
	case "w":
		return base.AddDate(0, 0, amount*7)
	case "m":
		return base.AddDate(0, amount, 0)
	case "y":
		return base.AddDate(amount, 0, 0)
	default:
		return base
	}
}

// IsCompactDuration reports whether s uses the compact duration syntax.
func IsCompactDuration(s string) bool {
	return compactDurationRe.MatchString(strings.TrimSpace(s))
}

// ParseAbsolute parses the supported absolute layouts in the location of now.
func ParseAbsolute(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("not an absolute timestamp: %q", s)
}

var parser = newParser()

func newParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseNaturalLanguage parses expressions like "yesterday" or "last monday".
func ParseNaturalLanguage(s string, now time.Time) (time.Time, error) {
	r, err := parser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("no time expression in %q", s)
	}
	return r.Time, nil
}

// ParseSince resolves a --since expression. The result must not lie in the
// future relative to now; a watermark ahead of the clock would skip every
// issue.
func ParseSince(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time expression")
	}

	var (
		t   time.Time
		err error
	)
	switch {
	case IsCompactDuration(s):
		t, err = ParseCompactDuration(s, now)
	default:
		t, err = ParseAbsolute(s, now)
		if err != nil {
			t, err = ParseNaturalLanguage(s, now)
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot interpret %q as a time (try -2w, 2024-05-01 or \"last monday\")", s)
	}
	if t.After(now) {
		return time.Time{}, fmt.Errorf("%q resolves to %s, which is in the future", s, t.Format(time.RFC3339))
	}
	return t, nil
}
