package commands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	got, err := parseTime("2030-07-04 21:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 7, 5, 1, 30, 0, 0, time.UTC), got)

	got, err = parseTime("04/07/2030 21:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2030, 7, 5, 1, 30, 0, 0, time.UTC), got)

	_, err = parseTime("tomorrow", loc)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseReminder(t *testing.T) {
	start := time.Date(2030, 1, 7, 18, 0, 0, 0, time.UTC)
	cases := []struct {
		in   string
		want *time.Time
	}{
		{"30m", ptr(start.Add(-30 * time.Minute))},
		{"1h30m", ptr(start.Add(-90 * time.Minute))},
		{"2d", ptr(start.Add(-48 * time.Hour))},
		{"2030-01-07 17:15", ptr(time.Date(2030, 1, 7, 17, 15, 0, 0, time.UTC))},
		{"off", nil},
	}
	for _, tc := range cases {
		got, err := parseReminder(tc.in, start, time.UTC)
		require.NoError(t, err, tc.in)
		if tc.want == nil {
			assert.Nil(t, got, tc.in)
			continue
		}
		require.NotNil(t, got, tc.in)
		assert.True(t, tc.want.Equal(*got), tc.in)
	}
	_, err := parseReminder("-5m", start, time.UTC)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseMentions(t *testing.T) {
	assert.Equal(t, []string{"@alice", "@bob", "@carol"}, parseMentions("@alice, bob @carol,@Alice"))
	assert.Empty(t, parseMentions(" , @ "))
}

func ptr(t time.Time) *time.Time { return &t }
