package appointment

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"

	slotLayout = DateLayout + " " + ClockLayout
)

// Slot is a validated time range on a single calendar date.
type Slot struct {
	Start time.Time
	End   time.Time
}

func (s Slot) Date() string       { return s.Start.Format(DateLayout) }
func (s Slot) StartClock() string { return s.Start.Format(ClockLayout) }
func (s Slot) EndClock() string   { return s.End.Format(ClockLayout) }

// TimeValidator turns date and clock strings into a Slot on the clinic's wall clock.
type TimeValidator struct {
	loc *time.Location
}

func NewTimeValidator(loc *time.Location) TimeValidator {
	if loc == nil {
		loc = time.Local
	}
	return TimeValidator{loc: loc}
}

func (v TimeValidator) Location() *time.Location {
	return v.loc
}

// Validate checks format, then that the start is not before now, then that
// end is strictly after start. The order matters: a past slot with an
// inverted range reports ErrPastAppointment.
func (v TimeValidator) Validate(date, start, end string, now time.Time) (Slot, error) {
	startAt, err := v.parse(date, start)
	if err != nil {
		return Slot{}, err
	}
	endAt, err := v.parse(date, end)
	if err != nil {
		return Slot{}, err
	}

	if startAt.Before(now) {
		return Slot{}, fmt.Errorf("%w: %s %s", ErrPastAppointment, date, start)
	}
	if !endAt.After(startAt) {
		return Slot{}, fmt.Errorf("%w: %s-%s", ErrInvalidRange, start, end)
	}

	return Slot{Start: startAt, End: endAt}, nil
}

// StartOf returns the start instant of a stored appointment.
func (v TimeValidator) StartOf(a Appointment) (time.Time, error) {
	return v.parse(a.Date, a.StartTime)
}

// parse reads a wall-clock time in the clinic zone. A clock that does not
// exist on that date, such as one inside a spring-forward gap, is rejected
// rather than shifted.
func (v TimeValidator) parse(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(slotLayout, date+" "+clock, v.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidFormat, date, clock)
	}

	// UTC has no gaps, so it holds the wall clock exactly as written.
	wall, err := time.Parse(slotLayout, date+" "+clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q %q", ErrInvalidFormat, date, clock)
	}
	if t.Format(slotLayout) != wall.Format(slotLayout) {
		return time.Time{}, fmt.Errorf("%w: %s %s does not exist in %s", ErrInvalidFormat, date, clock, v.loc)
	}
	return t, nil
}
