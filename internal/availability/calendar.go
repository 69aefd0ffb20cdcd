package availability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

const DefaultHorizonDays = 90

// Source loads a doctor's schedule on demand. Implementations return
// ErrDoctorNotFound for unknown doctors.
type Source interface {
	DoctorSchedule(ctx context.Context, doctorID string) (Schedule, error)
}

type doctorSchedule struct {
	weekly     WeeklyAvailability
	exceptions map[string][]Exception // keyed by YYYY-MM-DD, insertion order kept
	loadedAt   time.Time              // zero for schedules set through Register
}

// Calendar answers availability questions for doctors from their weekly
// template plus date-specific exceptions. It never looks at bookings.
type Calendar struct {
	mu          sync.RWMutex
	schedules   map[string]*doctorSchedule
	source      Source
	loc         *time.Location
	horizonDays int
	cacheTTL    time.Duration
	now         func() time.Time
	generation  uint64 // bumped when cached schedules are dropped
}

type Option func(*Calendar)

func WithLocation(loc *time.Location) Option {
	return func(c *Calendar) {
		if loc != nil {
			c.loc = loc
		}
	}
}

func WithHorizonDays(days int) Option {
	return func(c *Calendar) {
		if days > 0 {
			c.horizonDays = days
		}
	}
}

// WithCacheTTL makes schedules fetched from the source expire after ttl, so
// changes written by other processes show up. Zero keeps them until Forget.
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *Calendar) {
		if ttl > 0 {
			c.cacheTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Calendar) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSource lets the calendar fetch schedules for doctors it has not seen yet.
func WithSource(src Source) Option {
	return func(c *Calendar) {
		c.source = src
	}
}

func NewCalendar(opts ...Option) *Calendar {
	c := &Calendar{
		schedules:   make(map[string]*doctorSchedule),
		loc:         time.UTC,
		horizonDays: DefaultHorizonDays,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

func (c *Calendar) HorizonDays() int {
	return c.horizonDays
}

// Register replaces everything known about a doctor.
func (c *Calendar) Register(doctorID string, s Schedule) error {
	ds, err := buildSchedule(s)
	if err != nil {
		return fmt.Errorf("doctor %s: %w", doctorID, err)
	}
	c.mu.Lock()
	c.schedules[doctorID] = ds
	c.mu.Unlock()
	return nil
}

// SetWeekly replaces a doctor's weekly template and keeps existing exceptions.
func (c *Calendar) SetWeekly(doctorID string, w WeeklyAvailability) error {
	w = w.clone()
	if err := w.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.schedules[doctorID]
	if !ok {
		c.schedules[doctorID] = &doctorSchedule{weekly: w, exceptions: make(map[string][]Exception)}
		return nil
	}
	ds.weekly = w
	return nil
}

// AddException appends an override for one date. Order of insertion is the order of application.
// It changes only this calendar; callers that persist exceptions to the source use SyncException.
func (c *Calendar) AddException(ctx context.Context, doctorID string, e Exception) error {
	if err := e.Validate(); err != nil {
		return err
	}
	ds, err := c.load(ctx, doctorID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ds.exceptions[e.Date] = append(ds.exceptions[e.Date], e)
	return nil
}

// SyncException updates the cache after e was persisted for doctorID. A
// schedule that came from the source is dropped and reloaded on next use, since
// the source already holds e. A registered schedule gets e appended.
func (c *Calendar) SyncException(doctorID string, e Exception) error {
	if err := e.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ds, ok := c.schedules[doctorID]
	if !ok {
		c.generation++
		return nil
	}
	if !ds.loadedAt.IsZero() {
		delete(c.schedules, doctorID)
		c.generation++
		return nil
	}
	ds.exceptions[e.Date] = append(ds.exceptions[e.Date], e)
	return nil
}

// Forget drops the cached schedule of doctorID.
func (c *Calendar) Forget(doctorID string) {
	c.mu.Lock()
	delete(c.schedules, doctorID)
	c.generation++
	c.mu.Unlock()
}

func (c *Calendar) expired(ds *doctorSchedule) bool {
	if c.cacheTTL <= 0 || ds.loadedAt.IsZero() {
		return false
	}
	return c.now().Sub(ds.loadedAt) >= c.cacheTTL
}

func buildSchedule(s Schedule) (*doctorSchedule, error) {
	weekly := s.Weekly.clone()
	if err := weekly.Validate(); err != nil {
		return nil, err
	}
	ds := &doctorSchedule{weekly: weekly, exceptions: make(map[string][]Exception)}
	for _, e := range s.Exceptions {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		ds.exceptions[e.Date] = append(ds.exceptions[e.Date], e)
	}
	return ds, nil
}

func (c *Calendar) load(ctx context.Context, doctorID string) (*doctorSchedule, error) {
	c.mu.RLock()
	ds, ok := c.schedules[doctorID]
	gen := c.generation
	c.mu.RUnlock()
	if ok && !c.expired(ds) {
		return ds, nil
	}
	if c.source == nil {
		return nil, fmt.Errorf("%w: %s", ErrDoctorNotFound, doctorID)
	}

	s, err := c.source.DoctorSchedule(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load schedule for doctor %s: %w", doctorID, err)
	}
	built, err := buildSchedule(s)
	if err != nil {
		return nil, fmt.Errorf("doctor %s: %w", doctorID, err)
	}
	built.loadedAt = c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.schedules[doctorID]; ok && !c.expired(existing) {
		return existing, nil
	}
	if gen != c.generation {
		// An exception landed while loading; the source may predate it.
		return built, nil
	}
	c.schedules[doctorID] = built
	return built, nil
}

// dayRanges resolves the available wall-clock ranges for one date.
func (c *Calendar) dayRanges(ctx context.Context, doctorID string, year int, month time.Month, day int) ([]ClockRange, error) {
	ds, err := c.load(ctx, doctorID)
	if err != nil {
		return nil, err
	}

	date := time.Date(year, month, day, 0, 0, 0, 0, c.loc)

	c.mu.RLock()
	defer c.mu.RUnlock()

	ranges := normalize(ds.weekly[date.Weekday()])
	for _, e := range ds.exceptions[date.Format(dateLayout)] {
		switch e.Kind {
		case ExceptionAdded:
			ranges = union(ranges, e.Range)
		case ExceptionBlocked:
			ranges = subtract(ranges, e.Range)
		}
	}
	return ranges, nil
}

// Windows returns the absolute availability windows for the calendar day containing date.
func (c *Calendar) Windows(ctx context.Context, doctorID string, date time.Time) ([]interval.Interval, error) {
	y, m, d := date.In(c.loc).Date()
	ranges, err := c.dayRanges(ctx, doctorID, y, m, d)
	if err != nil {
		return nil, err
	}
	out := make([]interval.Interval, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, interval.Interval{Start: r.Start.On(y, m, d, c.loc), End: r.End.On(y, m, d, c.loc)})
	}
	return out, nil
}

// IsAvailable reports whether iv falls entirely inside one of the doctor's windows.
func (c *Calendar) IsAvailable(ctx context.Context, doctorID string, iv interval.Interval) (bool, error) {
	if err := iv.Validate(); err != nil {
		return false, err
	}
	if c.crossesDay(iv) {
		return false, fmt.Errorf("%w: %s", ErrCrossesDayBoundary, iv)
	}
	windows, err := c.Windows(ctx, doctorID, iv.Start)
	if err != nil {
		return false, err
	}
	for _, w := range windows {
		if interval.Contains(w, iv) {
			return true, nil
		}
	}
	return false, nil
}

// crossesDay is true when iv ends after the midnight that follows its start.
func (c *Calendar) crossesDay(iv interval.Interval) bool {
	y, m, d := iv.Start.In(c.loc).Date()
	nextMidnight := time.Date(y, m, d+1, 0, 0, 0, 0, c.loc)
	return iv.End.After(nextMidnight)
}

// NextAvailableSlot finds the earliest window start at or after from that fits
// durationMinutes, scanning at most the configured horizon of days.
func (c *Calendar) NextAvailableSlot(ctx context.Context, doctorID string, from time.Time, durationMinutes int) (interval.Interval, error) {
	return c.NextAvailableSlotBefore(ctx, doctorID, from, durationMinutes, c.HorizonEnd(from))
}

// HorizonEnd is the exclusive end of the day range scanned from the day of from.
func (c *Calendar) HorizonEnd(from time.Time) time.Time {
	y, m, d := from.In(c.loc).Date()
	return time.Date(y, m, d+c.horizonDays, 0, 0, 0, 0, c.loc)
}

// NextAvailableSlotBefore is NextAvailableSlot with an explicit bound; slots must start before until.
func (c *Calendar) NextAvailableSlotBefore(ctx context.Context, doctorID string, from time.Time, durationMinutes int, until time.Time) (interval.Interval, error) {
	if durationMinutes <= 0 {
		return interval.Interval{}, fmt.Errorf("%w: duration %d minutes", interval.ErrInvalidInterval, durationMinutes)
	}
	need := time.Duration(durationMinutes) * time.Minute

	local := from.In(c.loc)
	y, m, d := local.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, c.loc); day.Before(until); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return interval.Interval{}, err
		}
		windows, err := c.Windows(ctx, doctorID, day)
		if err != nil {
			return interval.Interval{}, err
		}
		for _, w := range windows {
			start := w.Start
			if start.Before(local) {
				start = local
			}
			if !start.Before(until) {
				return interval.Interval{}, ErrNoSlot
			}
			if w.End.Sub(start) >= need {
				return interval.Interval{Start: start, End: start.Add(need)}, nil
			}
		}
	}
	return interval.Interval{}, ErrNoSlot
}
