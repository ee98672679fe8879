package common

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/xhspub/internal/models"
)

// ParsePublishTime parses "YYYY-MM-DD HH:MM" in loc. An empty string yields the zero time.
func ParsePublishTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(models.PublishTimeLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("publish time must be in format \"YYYY-MM-DD HH:MM\": %w", err)
	}
	return t, nil
}

// DefaultPublishTime returns now+delay truncated to the minute in loc.
// Computed at execution time so a queued task never carries a stale default.
func DefaultPublishTime(now time.Time, delay time.Duration, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	return now.In(loc).Add(delay).Truncate(time.Minute)
}

// FormatPublishTime renders t in the portal's schedule field format
func FormatPublishTime(t time.Time) string {
	return t.Format(models.PublishTimeLayout)
}
