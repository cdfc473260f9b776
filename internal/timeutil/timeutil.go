package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// Clock returns the current instant. Operations read it once and pass the value down.
type Clock func() time.Time

func SystemClock() time.Time {
	return time.Now().UTC()
}

var clockLayouts = []string{"15:04", "15:04:05", "3:04 PM", "3:04PM", "03:04 PM"}

// ToUTC interprets a local calendar date and wall-clock time at a fixed
// offset east of UTC and returns the corresponding UTC instant.
func ToUTC(date, clock string, offset time.Duration) (time.Time, error) {
	day, err := time.Parse("2006-01-02", strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}

	clock = strings.ToUpper(strings.TrimSpace(clock))
	var tod time.Time
	parsed := false
	for _, layout := range clockLayouts {
		if tod, err = time.Parse(layout, clock); err == nil {
			parsed = true
			break
		}
	}
	if !parsed {
		return time.Time{}, fmt.Errorf("invalid time %q", clock)
	}

	zone := time.FixedZone("", int(offset/time.Second))
	local := time.Date(day.Year(), day.Month(), day.Day(), tod.Hour(), tod.Minute(), tod.Second(), 0, zone)
	return local.UTC(), nil
}
