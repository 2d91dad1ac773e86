package window

import "strings"

// DefaultField is the cursor field used when none is configured.
const DefaultField = "first_indexed"

// CursorPolicy names the record field that both sorts results and bounds the
// notification window.
type CursorPolicy interface {
	Field() string
}

type DefaultCursor struct{}

func (DefaultCursor) Field() string { return DefaultField }

// ConfiguredCursor uses the configured field, or DefaultField when blank.
type ConfiguredCursor string

func (c ConfiguredCursor) Field() string {
	if f := strings.TrimSpace(string(c)); f != "" {
		return f
	}
	return DefaultField
}
