package timeutil

import (
	"fmt"
	"time"
)

// Relative formats t relative to now.
func Relative(t time.Time) string {
	return RelativeTo(t, time.Now())
}

// RelativeTo formats t relative to now. Differences under a minute read
// "just now"; beyond a week the date is printed.
func RelativeTo(t, now time.Time) string {
	d := now.Sub(t)
	future := d < 0
	if future {
		d = -d
	}

	var n int
	var unit string
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		n, unit = int(d/time.Minute), "minute"
	case d < 24*time.Hour:
		n, unit = int(d/time.Hour), "hour"
	case d < 7*24*time.Hour:
		n, unit = int(d/(24*time.Hour)), "day"
	default:
		return t.Format("2006-01-02")
	}
	if n != 1 {
		unit += "s"
	}
	if future {
		return fmt.Sprintf("in %d %s", n, unit)
	}
	return fmt.Sprintf("%d %s ago", n, unit)
}
