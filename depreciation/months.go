package depreciation

import "time"

// =============================================================================
// MONTH ARITHMETIC - Elapsed months and month stepping
// =============================================================================
//
// Boundary rule: a month counts once the purchase day-of-month has been
// reached. When the target date is the last day of its month, the month also
// counts even if the purchase day is larger (Jan 31 -> Feb 28 is one month).
// AddMonths clamps to the month end with the same rule, so
// ElapsedMonths(t, AddMonths(t, n)) == n for every t and n >= 0.

// ElapsedMonths returns the whole calendar months from `from` to `to`.
// Returns 0 when `to` is not after `from`.
func ElapsedMonths(from, to time.Time) int {
	from, to = dateOnly(from), dateOnly(to)
	if !to.After(from) {
		return 0
	}

	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() && !isLastDayOfMonth(to) {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// AddMonths steps n months forward, clamping to the last day of the target
// month instead of overflowing into the next one.
func AddMonths(t time.Time, n int) time.Time {
	t = dateOnly(t)
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	day := t.Day()
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// AddYears is AddMonths in whole years (Feb 29 clamps to Feb 28).
func AddYears(t time.Time, n int) time.Time {
	return AddMonths(t, n*12)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func isLastDayOfMonth(t time.Time) bool {
	return t.Day() == daysIn(t.Year(), t.Month())
}
