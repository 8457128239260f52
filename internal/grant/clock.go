package grant

import "time"

// Remaining reports the time left on a grant that started at start and
// runs for duration. expired is true once now >= start+duration; the
// boundary instant belongs to "expired". remaining is zero when expired
// and is never negative.
func Remaining(start time.Time, duration time.Duration, now time.Time) (remaining time.Duration, expired bool) {
	return RemainingUntil(start.Add(duration), now)
}

// RemainingUntil is Remaining for grants that carry a frozen end time.
func RemainingUntil(end time.Time, now time.Time) (remaining time.Duration, expired bool) {
	if !now.Before(end) {
		return 0, true
	}
	return end.Sub(now), false
}

// DaysDuration converts a whole-day grant length into a Duration.
func DaysDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
