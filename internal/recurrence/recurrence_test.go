package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/domain"
)

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := ParseDate(s)
	require.NoError(t, err)
	return d
}

func next(t *testing.T, now string, s Spec) string {
	t.Helper()
	d, ok := NextAfter(date(t, now), s)
	if !ok {
		return "none"
	}
	return FormatDate(d)
}

func TestWeeklyDaysOfWeek(t *testing.T) {
	s := Spec{
		Frequency:  domain.Weekly,
		Interval:   1,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		Start:      date(t, "2025-01-06"),
	}
	assert.Equal(t, "2025-01-08", next(t, "2025-01-07", s))
	assert.Equal(t, "2025-01-13", next(t, "2025-01-10", s))

	end := date(t, "2025-01-12")
	s.End = &end
	assert.Equal(t, "none", next(t, "2025-01-10", s))
	assert.Equal(t, "2025-01-10", next(t, "2025-01-08", s))
}

func TestWeeklyIntervalJumpsWeeks(t *testing.T) {
	s := Spec{
		Frequency:  domain.Weekly,
		Interval:   2,
		DaysOfWeek: []time.Weekday{time.Monday},
		Start:      date(t, "2025-01-06"),
	}
	assert.Equal(t, "2025-01-20", next(t, "2025-01-06", s))
	assert.Equal(t, "2025-02-03", next(t, "2025-01-20", s))
}

func TestFrequencies(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		now  string
		want string
	}{
		{"daily", Spec{Frequency: domain.Daily, Interval: 3}, "2025-01-01", "2025-01-04"},
		{"daily mid interval", Spec{Frequency: domain.Daily, Interval: 3}, "2025-01-02", "2025-01-04"},
		{"custom", Spec{Frequency: domain.Custom, Interval: 10}, "2025-01-01", "2025-01-11"},
		{"weekly plain", Spec{Frequency: domain.Weekly, Interval: 1}, "2025-01-01", "2025-01-08"},
		{"biweekly", Spec{Frequency: domain.Biweekly, Interval: 1}, "2025-01-01", "2025-01-15"},
		{"weekly interval 2", Spec{Frequency: domain.Weekly, Interval: 2}, "2025-01-01", "2025-01-15"},
		{"monthly", Spec{Frequency: domain.Monthly, Interval: 1}, "2025-01-01", "2025-02-01"},
		{"monthly day", Spec{Frequency: domain.Monthly, Interval: 1, DayOfMonth: 15}, "2025-01-01", "2025-02-15"},
		{"quarterly", Spec{Frequency: domain.Quarterly, Interval: 1}, "2025-01-01", "2025-04-01"},
		{"yearly", Spec{Frequency: domain.Yearly, Interval: 1}, "2025-01-01", "2026-01-01"},
		{"yearly month", Spec{Frequency: domain.Yearly, Interval: 1, MonthOfYear: time.June}, "2025-01-01", "2026-06-01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.spec.Start = date(t, "2025-01-01")
			assert.Equal(t, tc.want, next(t, tc.now, tc.spec))
		})
	}
}

func TestMonthlyClampsToLastDay(t *testing.T) {
	s := Spec{Frequency: domain.Monthly, Interval: 1, Start: date(t, "2025-01-31")}
	assert.Equal(t, "2025-02-28", next(t, "2025-01-31", s))
	assert.Equal(t, "2025-03-31", next(t, "2025-02-28", s))
	assert.Equal(t, "2025-04-30", next(t, "2025-03-31", s))
}

func TestQuarterlyClamp(t *testing.T) {
	s := Spec{Frequency: domain.Quarterly, Interval: 1, Start: date(t, "2024-11-30")}
	assert.Equal(t, "2025-02-28", next(t, "2024-11-30", s))
	assert.Equal(t, "2025-05-30", next(t, "2025-02-28", s))
}

func TestYearlyLeapDay(t *testing.T) {
	s := Spec{Frequency: domain.Yearly, Interval: 1, Start: date(t, "2024-02-29")}
	got := Upcoming(date(t, "2024-02-29"), s, 4)
	var out []string
	for _, d := range got {
		out = append(out, FormatDate(d))
	}
	assert.Equal(t, []string{"2025-02-28", "2026-02-28", "2027-02-28", "2028-02-29"}, out)
}

func TestBeforeStartReturnsStart(t *testing.T) {
	s := Spec{Frequency: domain.Daily, Interval: 1, Start: date(t, "2025-01-06")}
	assert.Equal(t, "2025-01-06", next(t, "2024-12-01", s))
}

func TestMaxOccurrences(t *testing.T) {
	s := Spec{Frequency: domain.Daily, Interval: 1, Start: date(t, "2025-01-01"), MaxOccurrences: 2}
	got := Upcoming(date(t, "2025-01-01"), s, 10)
	require.Len(t, got, 2)

	s.OccurrencesCreated = 2
	_, ok := NextAfter(date(t, "2025-01-01"), s)
	assert.False(t, ok)
}

func TestStrictlyIncreasingAndTerminates(t *testing.T) {
	end := date(t, "2027-12-31")
	specs := []Spec{
		{Frequency: domain.Daily, Interval: 5},
		{Frequency: domain.Weekly, Interval: 1, DaysOfWeek: []time.Weekday{time.Saturday, time.Sunday}},
		{Frequency: domain.Weekly, Interval: 3, DaysOfWeek: []time.Weekday{time.Tuesday}},
		{Frequency: domain.Biweekly, Interval: 1},
		{Frequency: domain.Monthly, Interval: 1, DayOfMonth: 31},
		{Frequency: domain.Quarterly, Interval: 2, DayOfMonth: 30},
		{Frequency: domain.Yearly, Interval: 1, MonthOfYear: time.February, DayOfMonth: 29},
	}
	for _, s := range specs {
		s.Start = date(t, "2025-01-31")
		s.End = &end
		got := Upcoming(s.Start, s, 10000)
		require.NotEmpty(t, got, string(s.Frequency))
		prev := s.Start
		for _, d := range got {
			require.True(t, d.After(prev), "%s: %s not after %s", s.Frequency, FormatDate(d), FormatDate(prev))
			require.False(t, d.After(end))
			prev = d
		}
	}
}

func TestValidate(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	before := start.AddDate(0, 0, -1)
	bad := []Spec{
		{Frequency: "hourly", Interval: 1, Start: start},
		{Frequency: domain.Daily, Interval: 0, Start: start},
		{Frequency: domain.Weekly, Interval: 1, Start: start, DaysOfWeek: []time.Weekday{7}},
		{Frequency: domain.Weekly, Interval: 1, Start: start, DaysOfWeek: []time.Weekday{1, 1}},
		{Frequency: domain.Monthly, Interval: 1, Start: start, DayOfMonth: 32},
		{Frequency: domain.Yearly, Interval: 1, Start: start, MonthOfYear: 13},
		{Frequency: domain.Daily, Interval: 1},
		{Frequency: domain.Daily, Interval: 1, Start: start, End: &before},
	}
	for i, s := range bad {
		err := s.Validate()
		require.Error(t, err, "case %d", i)
		assert.True(t, errors.Is(err, domain.ErrRecurrenceInvalid), "case %d", i)
	}
	require.NoError(t, Spec{Frequency: domain.Daily, Interval: 1, Start: start}.Validate())
}

func TestFromRecord(t *testing.T) {
	dom := 15
	end := "2025-12-31"
	s, err := FromRecord(domain.Recurrence{
		Frequency:  domain.Weekly,
		Interval:   1,
		DaysOfWeek: []int{1, 3},
		DayOfMonth: &dom,
		StartDate:  "2025-01-06",
		EndDate:    &end,
	})
	require.NoError(t, err)
	assert.Equal(t, []time.Weekday{time.Monday, time.Wednesday}, s.DaysOfWeek)
	assert.Equal(t, 15, s.DayOfMonth)
	require.NotNil(t, s.End)
	assert.Equal(t, "2025-12-31", FormatDate(*s.End))

	_, err = FromRecord(domain.Recurrence{Frequency: domain.Daily, Interval: 1, StartDate: "01/06/2025"})
	assert.ErrorIs(t, err, domain.ErrRecurrenceInvalid)
}
