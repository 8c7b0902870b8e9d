package jira

import (
	"fmt"
	"time"
)

// timestampLayouts are the layouts Jira emits. Cloud and Server both use
// ISO 8601 with milliseconds and a colon-less offset; agile sprint dates use
// a Z suffix.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02",
}

// ParseTimestamp parses a Jira timestamp. Empty input yields the zero time.
func ParseTimestamp(ts string) (time.Time, error) {
	if ts == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}

// ParseOptionalTimestamp is ParseTimestamp for nullable fields: empty input
// yields nil.
func ParseOptionalTimestamp(ts string) (*time.Time, error) {
	if ts == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(ts)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
