package scheduler

import "time"

// Batch window arithmetic. The free tier is processed once a week at a
// fixed weekday and minute; everything here is pure so the edge cases
// (already past today's window, exactly on the minute) are directly
// testable.

// NextBatchWindow returns the next occurrence of the weekly window
// strictly in the future relative to now, at minute granularity.
//
// If today is the window weekday and the window minute has not yet
// begun, today's window is returned; once the minute has started the
// window rolls forward exactly seven days.
func NextBatchWindow(now time.Time, weekday time.Weekday, hour, minute int) time.Time {
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location()).
		AddDate(0, 0, days)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}

// inBatchWindow reports whether now falls inside the window minute.
func inBatchWindow(now time.Time, weekday time.Weekday, hour, minute int) bool {
	return now.Weekday() == weekday && now.Hour() == hour && now.Minute() == minute
}
