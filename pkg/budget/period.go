package budget

import "time"

// MonthStart returns the first instant of the calendar month containing t,
// in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// MonthEnd returns the last instant of the calendar month that starts at
// start.
func MonthEnd(start time.Time) time.Time {
	return start.AddDate(0, 1, 0).Add(-time.Nanosecond)
}

// DayStart returns midnight of the calendar day containing t, in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DayKey formats the calendar day of t in loc as yyyy-mm-dd.
func DayKey(t time.Time, loc *time.Location) string {
	return DayStart(t, loc).Format(time.DateOnly)
}
