package window

import (
	"fmt"
	"strings"
	"time"
)

// Calendar normalizes timestamps for comparison and formatting.
//
// Both sides of every comparison go through Normalize, which converts to the
// calendar's location and truncates to its precision, so a sub-second cursor
// value never compares unequal to a second-precision last-run time that
// formats identically.
type Calendar struct {
	Location  *time.Location
	Precision time.Duration
	Layout    string
}

// UTC is the calendar used for cursor windows: UTC, whole seconds,
// "2006-01-02T15:04:05Z" (the form the search backend expects in range filters).
func UTC() Calendar {
	return Calendar{Location: time.UTC, Precision: time.Second, Layout: "2006-01-02T15:04:05Z"}
}

// zone-less layouts are interpreted in the calendar location.
var parseLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (c Calendar) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Parse reads a raw cursor value. Values without a zone are taken to be in
// the calendar's location, never in time.Local.
func (c Calendar) Parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range parseLayouts {
		if t, err := time.ParseInLocation(layout, s, c.location()); err == nil {
			return c.Normalize(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

func (c Calendar) Normalize(t time.Time) time.Time {
	t = t.In(c.location())
	if c.Precision > 0 {
		t = t.Truncate(c.Precision)
	}
	return t
}

func (c Calendar) Format(t time.Time) string {
	layout := c.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	return c.Normalize(t).Format(layout)
}
