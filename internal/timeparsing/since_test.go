package timeparsing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// now is a Wednesday.
var now = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

func TestParseRelativeTime(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{in: "+6h", want: now.Add(6 * time.Hour)},
		{in: "-1d", want: now.AddDate(0, 0, -1)},
		{in: "2w", want: now.AddDate(0, 0, 14)},
		{in: "-3m", want: time.Date(2024, 10, 15, 10, 0, 0, 0, time.UTC)},
		{in: "1y", want: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)},
		{in: " -0d ", want: now},
		{in: "2024-12-01", want: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
		{in: "2024-12-01T08:30:00Z", want: time.Date(2024, 12, 1, 8, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRelativeTime(tt.in, now)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestCalendarMonths(t *testing.T) {
	endOfMarch := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	got, err := ParseRelativeTime("1m", endOfMarch)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), got)
}

func TestParseNaturalLanguage(t *testing.T) {
	got, err := ParseNaturalLanguage("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Day())

	got, err = ParseNaturalLanguage("3 days ago", now)
	require.NoError(t, err)
	assert.Equal(t, 12, got.Day())

	got, err = ParseNaturalLanguage("last monday", now)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, got.Weekday())
	assert.True(t, got.Before(now))

	for _, in := range []string{"", "   ", "whenever"} {
		_, err := ParseNaturalLanguage(in, now)
		assert.Error(t, err, "%q", in)
	}
}

func TestParseSince(t *testing.T) {
	got, err := ParseSince("2w", now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, -14), got, "unsigned durations count back")

	got, err = ParseSince("-6h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-6*time.Hour), got)

	got, err = ParseSince("2024-12-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseSince("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Day())

	_, err = ParseSince("+1d", now)
	assert.ErrorContains(t, err, "in the future")

	_, err = ParseSince("2030-01-01", now)
	assert.Error(t, err)

	_, err = ParseSince("whenever", now)
	assert.Error(t, err)
}
