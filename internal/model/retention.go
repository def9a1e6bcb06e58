package model

import "time"

// RetentionCutoff converts a retention value in days into the timestamp before
// which stored data is eligible for deletion. 0 keeps forever (ok=false), a
// positive value keeps that many days, a negative value keeps nothing.
func RetentionCutoff(now time.Time, days int) (cutoff time.Time, ok bool) {
	switch {
	case days == 0:
		return time.Time{}, false
	case days < 0:
		return now.Add(100 * 365 * 24 * time.Hour), true
	default:
		return now.Add(-time.Duration(days) * 24 * time.Hour), true
	}
}
