// Package recurrence computes occurrence dates for recurring task templates.
//
// A series is anchored at its start date: the start is the first occurrence and
// each later one is produced by stepping from the previous occurrence. NextAfter
// returns the first occurrence strictly after a reference date.
package recurrence

import (
	"fmt"
	"sort"
	"time"

	"taskflow/internal/domain"
)

// maxSteps bounds the walk from the start date to the reference date.
const maxSteps = 100000

type Spec struct {
	Frequency          domain.Frequency
	Interval           int
	DaysOfWeek         []time.Weekday
	DayOfMonth         int // 0 means anchor on the start date's day
	MonthOfYear        time.Month
	Start              time.Time
	End                *time.Time
	MaxOccurrences     int // 0 means unbounded
	OccurrencesCreated int
}

// ParseDate parses a calendar date into UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(domain.DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", domain.ErrRecurrenceInvalid, s)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return t.UTC().Format(domain.DateLayout)
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// FromRecord converts a stored recurrence into a Spec.
func FromRecord(rec domain.Recurrence) (Spec, error) {
	start, err := ParseDate(rec.StartDate)
	if err != nil {
		return Spec{}, err
	}
	s := Spec{
		Frequency:          rec.Frequency,
		Interval:           rec.Interval,
		Start:              start,
		OccurrencesCreated: rec.OccurrencesCreated,
	}
	for _, d := range rec.DaysOfWeek {
		s.DaysOfWeek = append(s.DaysOfWeek, time.Weekday(d))
	}
	if rec.DayOfMonth != nil {
		s.DayOfMonth = *rec.DayOfMonth
	}
	if rec.MonthOfYear != nil {
		s.MonthOfYear = time.Month(*rec.MonthOfYear)
	}
	if rec.EndDate != nil {
		end, err := ParseDate(*rec.EndDate)
		if err != nil {
			return Spec{}, err
		}
		s.End = &end
	}
	if rec.MaxOccurrences != nil {
		s.MaxOccurrences = *rec.MaxOccurrences
	}
	return s, s.Validate()
}

func (s Spec) Validate() error {
	if !s.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", domain.ErrRecurrenceInvalid, s.Frequency)
	}
	if s.Interval < 1 {
		return fmt.Errorf("%w: interval must be positive", domain.ErrRecurrenceInvalid)
	}
	seen := map[time.Weekday]bool{}
	for _, d := range s.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: day of week %d out of range", domain.ErrRecurrenceInvalid, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: duplicate day of week %d", domain.ErrRecurrenceInvalid, d)
		}
		seen[d] = true
	}
	if s.DayOfMonth < 0 || s.DayOfMonth > 31 {
		return fmt.Errorf("%w: day of month %d out of range", domain.ErrRecurrenceInvalid, s.DayOfMonth)
	}
	if s.MonthOfYear < 0 || s.MonthOfYear > 12 {
		return fmt.Errorf("%w: month of year %d out of range", domain.ErrRecurrenceInvalid, s.MonthOfYear)
	}
	if s.Start.IsZero() {
		return fmt.Errorf("%w: start date required", domain.ErrRecurrenceInvalid)
	}
	if s.End != nil && s.End.Before(Day(s.Start)) {
		return fmt.Errorf("%w: end date before start date", domain.ErrRecurrenceInvalid)
	}
	if s.MaxOccurrences < 0 {
		return fmt.Errorf("%w: max occurrences must be positive", domain.ErrRecurrenceInvalid)
	}
	return nil
}

// Exhausted reports whether the occurrence budget is spent.
func (s Spec) Exhausted() bool {
	return s.MaxOccurrences > 0 && s.OccurrencesCreated >= s.MaxOccurrences
}

// NextAfter returns the first occurrence strictly after now, or false when the
// series has ended.
func NextAfter(now time.Time, s Spec) (time.Time, bool) {
	if s.Validate() != nil || s.Exhausted() {
		return time.Time{}, false
	}
	ref := Day(now)
	cur := Day(s.Start)
	for i := 0; !cur.After(ref); i++ {
		if i >= maxSteps {
			return time.Time{}, false
		}
		cur = s.step(cur)
	}
	if s.End != nil && cur.After(Day(*s.End)) {
		return time.Time{}, false
	}
	return cur, true
}

// Upcoming lists up to n occurrences after now, honouring the stop conditions as
// if each listed occurrence were materialized.
func Upcoming(now time.Time, s Spec, n int) []time.Time {
	var out []time.Time
	for len(out) < n {
		next, ok := NextAfter(now, s)
		if !ok {
			break
		}
		out = append(out, next)
		now = next
		s.OccurrencesCreated++
	}
	return out
}

func (s Spec) step(d time.Time) time.Time {
	switch s.Frequency {
	case domain.Daily, domain.Custom:
		return d.AddDate(0, 0, s.Interval)
	case domain.Weekly:
		if len(s.DaysOfWeek) == 0 {
			return d.AddDate(0, 0, 7*s.Interval)
		}
		return s.stepWeekdays(d)
	case domain.Biweekly:
		return d.AddDate(0, 0, 14*s.Interval)
	case domain.Monthly:
		return addMonths(d, s.Interval, s.anchorDay())
	case domain.Quarterly:
		return addMonths(d, 3*s.Interval, s.anchorDay())
	case domain.Yearly:
		month := d.Month()
		if s.MonthOfYear != 0 {
			month = s.MonthOfYear
		}
		return clampDate(d.Year()+s.Interval, month, s.anchorDay())
	}
	return d.AddDate(0, 0, s.Interval)
}

// stepWeekdays moves to the next listed weekday in the current Sunday-based week,
// or to the first listed weekday interval weeks later.
func (s Spec) stepWeekdays(d time.Time) time.Time {
	days := make([]int, 0, len(s.DaysOfWeek))
	for _, w := range s.DaysOfWeek {
		days = append(days, int(w))
	}
	sort.Ints(days)
	cur := int(d.Weekday())
	for _, w := range days {
		if w > cur {
			return d.AddDate(0, 0, w-cur)
		}
	}
	weekStart := d.AddDate(0, 0, -cur)
	return weekStart.AddDate(0, 0, 7*s.Interval+days[0])
}

func (s Spec) anchorDay() int {
	if s.DayOfMonth > 0 {
		return s.DayOfMonth
	}
	return s.Start.Day()
}

func addMonths(d time.Time, n, day int) time.Time {
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	return clampDate(first.Year(), first.Month(), day)
}

// clampDate builds the date, clamping day to the month's last day.
func clampDate(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
