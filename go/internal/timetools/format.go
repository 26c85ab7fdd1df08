package timetools

import (
	"fmt"
	"math"
	"time"
)

// FormatHMS renders seconds as "h:mm:ss", or "m:ss" when the hour is zero.
// Negative values get a leading "-".
func FormatHMS(seconds float64) string {
	if seconds <= -0.5 {
		return "-" + FormatHMS(-seconds)
	}
	total := int64(math.Round(seconds))
	hours := total / 3600
	minutes := total % 3600 / 60
	secs := total % 60
	if hours == 0 {
		return fmt.Sprintf("%d:%02d", minutes, secs)
	}
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
}

// FormatHM renders seconds rounded to the minute as "h:mm".
func FormatHM(seconds float64) string {
	if seconds <= -30 {
		return "-" + FormatHM(-seconds)
	}
	total := int64(math.Round(seconds / 60))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// FormatMS renders seconds as "m:ss" with minutes unbounded, used for short
// countdowns.
func FormatMS(seconds float64) string {
	return FormatHM(seconds * 60)
}

// FormatDuration is FormatHMS for a time.Duration.
func FormatDuration(d time.Duration) string {
	return FormatHMS(d.Seconds())
}

// FormatClock renders the wall-clock hour and minute of t as "h:mm".
func FormatClock(t time.Time) string {
	return fmt.Sprintf("%d:%02d", t.Hour(), t.Minute())
}
