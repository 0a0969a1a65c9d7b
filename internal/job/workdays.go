package job

import "time"

// AddWorkingDays returns t advanced by n working days. Saturdays and
// Sundays do not count; public holidays do. A job marked done on a Friday
// with a 3-day policy is due the following Wednesday.
func AddWorkingDays(t time.Time, n int) time.Time {
	d := t
	for counted := 0; counted < n; {
		d = d.AddDate(0, 0, 1)
		if isWorkingDay(d) {
			counted++
		}
	}
	return d
}

func isWorkingDay(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}
