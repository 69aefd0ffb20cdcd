package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// 2024-12-23 is a Monday.
var monday = time.Date(2024, 12, 23, 0, 0, 0, 0, time.UTC)

func on(day time.Time, h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func weekdays(t *testing.T, start, end string, days ...int) WeeklyAvailability {
	t.Helper()
	var entries []ScheduleEntry
	for _, d := range days {
		entries = append(entries, ScheduleEntry{DayOfWeek: d, Start: MustClock(start), End: MustClock(end)})
	}
	w, err := NewWeekly(entries)
	require.NoError(t, err)
	return w
}

func newTestCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal := NewCalendar()
	require.NoError(t, cal.Register("d1", Schedule{Weekly: weekdays(t, "08:00", "18:00", 1, 2, 3, 4, 5)}))
	return cal
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		in      string
		want    Clock
		wantErr bool
	}{
		{"08:00", 480, false},
		{"17:30", 1050, false},
		{"24:00", EndOfDay, false},
		{"24:30", 0, true},
		{"8:00", 0, true},
		{"12:60", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClock(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestNewWeeklyRejectsOverlap(t *testing.T) {
	_, err := NewWeekly([]ScheduleEntry{
		{DayOfWeek: 1, Start: MustClock("08:00"), End: MustClock("12:00")},
		{DayOfWeek: 1, Start: MustClock("11:00"), End: MustClock("14:00")},
	})
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	w, err := NewWeekly([]ScheduleEntry{
		{DayOfWeek: 1, Start: MustClock("14:00"), End: MustClock("18:00")},
		{DayOfWeek: 1, Start: MustClock("08:00"), End: MustClock("12:00")},
	})
	require.NoError(t, err)
	assert.Equal(t, MustClock("08:00"), w[time.Monday][0].Start)
}

func TestIsAvailable(t *testing.T) {
	cal := newTestCalendar(t)
	ctx := context.Background()

	tests := []struct {
		name string
		iv   interval.Interval
		want bool
	}{
		{"inside", interval.Interval{Start: on(monday, 9, 0), End: on(monday, 9, 30)}, true},
		{"flush with open", interval.Interval{Start: on(monday, 8, 0), End: on(monday, 8, 30)}, true},
		{"flush with close", interval.Interval{Start: on(monday, 17, 30), End: on(monday, 18, 0)}, true},
		{"past close", interval.Interval{Start: on(monday, 17, 45), End: on(monday, 18, 15)}, false},
		{"before open", interval.Interval{Start: on(monday, 7, 30), End: on(monday, 8, 0)}, false},
		{"sunday", interval.Interval{Start: on(monday.AddDate(0, 0, -1), 9, 0), End: on(monday.AddDate(0, 0, -1), 9, 30)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := cal.IsAvailable(ctx, "d1", tt.iv)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsAvailableErrors(t *testing.T) {
	cal := newTestCalendar(t)
	ctx := context.Background()

	_, err := cal.IsAvailable(ctx, "d1", interval.Interval{Start: on(monday, 9, 0), End: on(monday, 9, 0)})
	assert.ErrorIs(t, err, interval.ErrInvalidInterval)

	_, err = cal.IsAvailable(ctx, "d1", interval.Interval{Start: on(monday, 23, 30), End: on(monday, 24, 30)})
	assert.ErrorIs(t, err, ErrCrossesDayBoundary)

	_, err = cal.IsAvailable(ctx, "nobody", interval.Interval{Start: on(monday, 9, 0), End: on(monday, 9, 30)})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestIntervalEndingAtMidnightIsSameDay(t *testing.T) {
	cal := NewCalendar()
	require.NoError(t, cal.Register("night", Schedule{Weekly: weekdays(t, "20:00", "24:00", 1)}))

	ok, err := cal.IsAvailable(context.Background(), "night", interval.Interval{Start: on(monday, 23, 30), End: on(monday, 24, 0)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExceptionsApplyInInsertionOrder(t *testing.T) {
	cal := newTestCalendar(t)
	ctx := context.Background()
	date := monday.Format("2006-01-02")

	// Block the morning, then add back 10:00-11:00.
	require.NoError(t, cal.AddException(ctx, "d1", Exception{Date: date, Kind: ExceptionBlocked, Range: ClockRange{MustClock("08:00"), MustClock("12:00")}}))
	require.NoError(t, cal.AddException(ctx, "d1", Exception{Date: date, Kind: ExceptionAdded, Range: ClockRange{MustClock("10:00"), MustClock("11:00")}}))

	windows, err := cal.Windows(ctx, "d1", monday)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.True(t, windows[0].Start.Equal(on(monday, 10, 0)))
	assert.True(t, windows[0].End.Equal(on(monday, 11, 0)))
	assert.True(t, windows[1].Start.Equal(on(monday, 12, 0)))

	ok, err := cal.IsAvailable(ctx, "d1", interval.Interval{Start: on(monday, 9, 0), End: on(monday, 9, 30)})
	require.NoError(t, err)
	assert.False(t, ok)

	// Reversed order on the next day: the later block wins over the added hours.
	tuesday := monday.AddDate(0, 0, 1)
	tdate := tuesday.Format("2006-01-02")
	require.NoError(t, cal.AddException(ctx, "d1", Exception{Date: tdate, Kind: ExceptionAdded, Range: ClockRange{MustClock("18:00"), MustClock("20:00")}}))
	require.NoError(t, cal.AddException(ctx, "d1", Exception{Date: tdate, Kind: ExceptionBlocked, Range: ClockRange{MustClock("17:00"), MustClock("19:00")}}))

	windows, err = cal.Windows(ctx, "d1", tuesday)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.True(t, windows[0].End.Equal(on(tuesday, 17, 0)))
	assert.True(t, windows[1].Start.Equal(on(tuesday, 19, 0)))
	assert.True(t, windows[1].End.Equal(on(tuesday, 20, 0)))
}

func TestAddedHoursOnClosedDay(t *testing.T) {
	cal := newTestCalendar(t)
	ctx := context.Background()
	sunday := monday.AddDate(0, 0, -1)

	require.NoError(t, cal.AddException(ctx, "d1", Exception{Date: sunday.Format("2006-01-02"), Kind: ExceptionAdded, Range: ClockRange{MustClock("10:00"), MustClock("12:00")}}))
	ok, err := cal.IsAvailable(ctx, "d1", interval.Interval{Start: on(sunday, 10, 0), End: on(sunday, 11, 0)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNextAvailableSlot(t *testing.T) {
	cal := newTestCalendar(t)
	ctx := context.Background()

	slot, err := cal.NextAvailableSlot(ctx, "d1", monday, 30)
	require.NoError(t, err)
	assert.True(t, slot.Start.Equal(on(monday, 8, 0)))
	assert.True(t, slot.End.Equal(on(monday, 8, 30)))

	// Clipped to from on the first day.
	slot, err = cal.NextAvailableSlot(ctx, "d1", on(monday, 10, 10), 30)
	require.NoError(t, err)
	assert.True(t, slot.Start.Equal(on(monday, 10, 10)))

	// Too late today, rolls to Tuesday's opening.
	slot, err = cal.NextAvailableSlot(ctx, "d1", on(monday, 17, 45), 30)
	require.NoError(t, err)
	assert.True(t, slot.Start.Equal(on(monday.AddDate(0, 0, 1), 8, 0)))

	// Friday evening skips the weekend.
	friday := monday.AddDate(0, 0, 4)
	slot, err = cal.NextAvailableSlot(ctx, "d1", on(friday, 19, 0), 60)
	require.NoError(t, err)
	assert.True(t, slot.Start.Equal(on(monday.AddDate(0, 0, 7), 8, 0)))
}

func TestNextAvailableSlotExhaustsHorizon(t *testing.T) {
	cal := NewCalendar(WithHorizonDays(3))
	require.NoError(t, cal.Register("d1", Schedule{Weekly: weekdays(t, "08:00", "18:00", 1)}))
	ctx := context.Background()

	// Tuesday + 3 days never reaches the next Monday.
	_, err := cal.NextAvailableSlot(ctx, "d1", monday.AddDate(0, 0, 1), 30)
	assert.ErrorIs(t, err, ErrNoSlot)

	// A window shorter than the duration never fits.
	_, err = cal.NextAvailableSlot(ctx, "d1", monday, 11*60)
	assert.ErrorIs(t, err, ErrNoSlot)

	_, err = cal.NextAvailableSlot(ctx, "d1", monday, 0)
	assert.ErrorIs(t, err, interval.ErrInvalidInterval)
}

type stubSource struct {
	calls     int
	schedules map[string]Schedule
}

func (s *stubSource) DoctorSchedule(ctx context.Context, doctorID string) (Schedule, error) {
	s.calls++
	sched, ok := s.schedules[doctorID]
	if !ok {
		return Schedule{}, ErrDoctorNotFound
	}
	return sched, nil
}

func TestCalendarLoadsFromSourceOnce(t *testing.T) {
	src := &stubSource{schedules: map[string]Schedule{"d9": {Weekly: weekdays(t, "09:00", "17:00", 1)}}}
	cal := NewCalendar(WithSource(src))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := cal.IsAvailable(ctx, "d9", interval.Interval{Start: on(monday, 9, 0), End: on(monday, 10, 0)})
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, src.calls)

	_, err := cal.IsAvailable(ctx, "ghost", interval.Interval{Start: on(monday, 9, 0), End: on(monday, 10, 0)})
	assert.ErrorIs(t, err, ErrDoctorNotFound)
}

func TestCalendarHonoursLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	cal := NewCalendar(WithLocation(paris))
	require.NoError(t, cal.Register("d1", Schedule{Weekly: weekdays(t, "08:00", "18:00", 1)}))

	// 07:30 UTC on Monday is 08:30 in Paris in December.
	start := time.Date(2024, 12, 23, 7, 30, 0, 0, time.UTC)
	ok, err := cal.IsAvailable(context.Background(), "d1", interval.Interval{Start: start, End: start.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncExceptionReloadsSourcedSchedule(t *testing.T) {
	date := monday.Format("2006-01-02")
	src := &stubSource{schedules: map[string]Schedule{"d9": {Weekly: weekdays(t, "09:00", "17:00", 1)}}}
	cal := NewCalendar(WithSource(src))
	ctx := context.Background()

	windows, err := cal.Windows(ctx, "d9", monday)
	require.NoError(t, err)
	require.Len(t, windows, 1)

	exc := Exception{Date: date, Kind: ExceptionBlocked, Range: ClockRange{MustClock("12:00"), MustClock("13:00")}}
	sched := src.schedules["d9"]
	sched.Exceptions = append(sched.Exceptions, exc)
	src.schedules["d9"] = sched
	require.NoError(t, cal.SyncException("d9", exc))

	windows, err = cal.Windows(ctx, "d9", monday)
	require.NoError(t, err)
	require.Len(t, windows, 2, "exception applied once, from the source")
	assert.Equal(t, on(monday, 12, 0), windows[0].End)
	assert.Equal(t, on(monday, 13, 0), windows[1].Start)
	assert.Equal(t, 2, src.calls)
}

func TestSyncExceptionAppendsToRegisteredSchedule(t *testing.T) {
	cal := newTestCalendar(t)
	ctx := context.Background()

	exc := Exception{Date: monday.Format("2006-01-02"), Kind: ExceptionBlocked, Range: ClockRange{MustClock("08:00"), MustClock("12:00")}}
	require.NoError(t, cal.SyncException("d1", exc))

	windows, err := cal.Windows(ctx, "d1", monday)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, on(monday, 12, 0), windows[0].Start)

	err = cal.SyncException("d1", Exception{Date: "23/12/2024", Kind: ExceptionBlocked})
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

func TestSyncExceptionIgnoresUnloadedDoctor(t *testing.T) {
	src := &stubSource{schedules: map[string]Schedule{"d9": {Weekly: weekdays(t, "09:00", "17:00", 1)}}}
	cal := NewCalendar(WithSource(src))

	exc := Exception{Date: monday.Format("2006-01-02"), Kind: ExceptionBlocked, Range: ClockRange{MustClock("09:00"), MustClock("17:00")}}
	require.NoError(t, cal.SyncException("d9", exc))
	assert.Zero(t, src.calls)

	windows, err := cal.Windows(context.Background(), "d9", monday)
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}

func TestCalendarCacheTTL(t *testing.T) {
	now := monday
	src := &stubSource{schedules: map[string]Schedule{"d9": {Weekly: weekdays(t, "09:00", "17:00", 1)}}}
	cal := NewCalendar(
		WithSource(src),
		WithCacheTTL(time.Minute),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	_, err := cal.Windows(ctx, "d9", monday)
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = cal.Windows(ctx, "d9", monday)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	src.schedules["d9"] = Schedule{Weekly: weekdays(t, "10:00", "12:00", 1)}
	now = now.Add(time.Minute)
	windows, err := cal.Windows(ctx, "d9", monday)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
	require.Len(t, windows, 1)
	assert.Equal(t, on(monday, 10, 0), windows[0].Start)
}

func TestCalendarForget(t *testing.T) {
	src := &stubSource{schedules: map[string]Schedule{"d9": {Weekly: weekdays(t, "09:00", "17:00", 1)}}}
	cal := NewCalendar(WithSource(src))
	ctx := context.Background()

	_, err := cal.Windows(ctx, "d9", monday)
	require.NoError(t, err)
	cal.Forget("d9")
	_, err = cal.Windows(ctx, "d9", monday)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestRegisteredSchedulesNeverExpire(t *testing.T) {
	now := monday
	cal := NewCalendar(WithCacheTTL(time.Second), WithClock(func() time.Time { return now }))
	require.NoError(t, cal.Register("d1", Schedule{Weekly: weekdays(t, "08:00", "18:00", 1)}))

	now = now.Add(time.Hour)
	windows, err := cal.Windows(context.Background(), "d1", monday)
	require.NoError(t, err)
	assert.Len(t, windows, 1)
}
