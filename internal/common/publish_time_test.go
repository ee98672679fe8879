package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePublishTime(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)

	got, err := ParsePublishTime("2025-01-01 09:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 9, 30, 0, 0, loc), got)

	empty, err := ParsePublishTime("", loc)
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	for _, bad := range []string{"2025/01/01 09:30", "2025-01-01T09:30", "2025-13-01 09:30", "09:30"} {
		_, err := ParsePublishTime(bad, loc)
		assert.Error(t, err, bad)
	}
}

func TestDefaultPublishTime(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	now := time.Date(2025, 3, 4, 10, 12, 45, 500, loc)

	got := DefaultPublishTime(now, 5*time.Minute, loc)

	assert.Equal(t, time.Date(2025, 3, 4, 10, 17, 0, 0, loc), got)
	assert.Equal(t, "2025-03-04 10:17", FormatPublishTime(got))
}
