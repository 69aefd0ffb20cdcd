package availability

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Clock is a wall-clock time expressed as minutes after midnight.
// EndOfDay (24:00) is valid only as the end of a range.
type Clock int

const EndOfDay Clock = 24 * 60

// ParseClock parses "HH:MM" in 24-hour format. "24:00" is accepted.
func ParseClock(s string) (Clock, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid time format %q: expected HH:MM", s)
	}
	hour, err := strconv.Atoi(s[:2])
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(s[3:])
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if hour == 24 && minute == 0 {
		return EndOfDay, nil
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time out of range in %q", s)
	}
	return Clock(hour*60 + minute), nil
}

func MustClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// On returns the instant this clock time falls on for the given calendar day.
func (c Clock) On(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, day, int(c)/60, int(c)%60, 0, 0, loc)
}

// ClockRange is a half-open wall-clock range within one day.
type ClockRange struct {
	Start Clock `json:"start" yaml:"start"`
	End   Clock `json:"end" yaml:"end"`
}

func (r ClockRange) Validate() error {
	if r.Start < 0 || r.End > EndOfDay || r.Start >= r.End {
		return fmt.Errorf("%w: range %s-%s", ErrInvalidSchedule, r.Start, r.End)
	}
	return nil
}

func (r ClockRange) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// normalize sorts ranges and merges overlapping or touching ones.
func normalize(rs []ClockRange) []ClockRange {
	if len(rs) == 0 {
		return nil
	}
	sorted := make([]ClockRange, len(rs))
	copy(sorted, rs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := []ClockRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}

func union(rs []ClockRange, add ClockRange) []ClockRange {
	return normalize(append(append([]ClockRange(nil), rs...), add))
}

func subtract(rs []ClockRange, cut ClockRange) []ClockRange {
	var out []ClockRange
	for _, r := range rs {
		if cut.End <= r.Start || r.End <= cut.Start {
			out = append(out, r)
			continue
		}
		if r.Start < cut.Start {
			out = append(out, ClockRange{Start: r.Start, End: cut.Start})
		}
		if cut.End < r.End {
			out = append(out, ClockRange{Start: cut.End, End: r.End})
		}
	}
	return out
}
