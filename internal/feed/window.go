package feed

import (
	"fmt"
	"time"
)

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return Clock{}, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// ReminderWindow is the daily interval [Start, End) in which pickup reminders
// are shown. Times are evaluated in Location.
type ReminderWindow struct {
	Start    Clock
	End      Clock
	Location *time.Location
}

func DefaultReminderWindow(loc *time.Location) ReminderWindow {
	if loc == nil {
		loc = time.Local
	}
	return ReminderWindow{
		Start:    Clock{Hour: 12, Minute: 30},
		End:      Clock{Hour: 21},
		Location: loc,
	}
}

func NewReminderWindow(start, end, timezone string) (ReminderWindow, error) {
	loc := time.Local
	if timezone != "" && timezone != "Local" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return ReminderWindow{}, fmt.Errorf("load timezone: %w", err)
		}
		loc = l
	}
	s, err := ParseClock(start)
	if err != nil {
		return ReminderWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return ReminderWindow{}, err
	}
	if s == e {
		return ReminderWindow{}, fmt.Errorf("empty reminder window %s-%s", start, end)
	}
	return ReminderWindow{Start: s, End: e, Location: loc}, nil
}

func (w ReminderWindow) location() *time.Location {
	if w.Location == nil {
		return time.Local
	}
	return w.Location
}

// Contains reports whether t falls inside the window. A window whose end is
// before its start wraps past midnight.
func (w ReminderWindow) Contains(t time.Time) bool {
	local := t.In(w.location())
	m := local.Hour()*60 + local.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

// Day returns the local calendar day of t, used to scope pickup completion.
func (w ReminderWindow) Day(t time.Time) string {
	return t.In(w.location()).Format("2006-01-02")
}
