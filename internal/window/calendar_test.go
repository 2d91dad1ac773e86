package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalendarParse(t *testing.T) {
	t.Parallel()
	cal := UTC()
	want := time.Date(2021, 4, 16, 13, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{name: "utc", raw: "2021-04-16T13:00:00Z", want: want},
		{name: "fraction", raw: "2021-04-16T13:00:00.734Z", want: want},
		{name: "offset", raw: "2021-04-16T15:00:00+02:00", want: want},
		{name: "zoneless", raw: "2021-04-16T13:00:00", want: want},
		{name: "space", raw: " 2021-04-16 13:00:00 ", want: want},
		{name: "date only", raw: "2021-04-16", want: time.Date(2021, 4, 16, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := cal.Parse(tt.raw)
			require.NoError(t, err)
			require.True(t, tt.want.Equal(got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestCalendarParseInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "   ", "16.04.2021", "2021-13-45T00:00:00Z"} {
		_, err := UTC().Parse(raw)
		require.Error(t, err, raw)
	}
}

func TestCalendarFormat(t *testing.T) {
	t.Parallel()
	ts := time.Date(2021, 4, 16, 15, 0, 0, 999_000_000, time.FixedZone("CEST", 2*60*60))
	require.Equal(t, "2021-04-16T13:00:00Z", UTC().Format(ts))
}

func TestCursorPolicies(t *testing.T) {
	t.Parallel()
	require.Equal(t, "first_indexed", DefaultCursor{}.Field())
	require.Equal(t, "first_indexed", ConfiguredCursor("  ").Field())
	require.Equal(t, "publishDate", ConfiguredCursor("publishDate").Field())
}
