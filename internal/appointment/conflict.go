package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether the half-open intervals [s1,e1) and [s2,e2)
// intersect. Touching intervals do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// DetectConflict scans existing for an appointment of the same doctor on the
// same date whose range overlaps candidate. The candidate's own record is
// skipped so that an update never conflicts with itself.
func DetectConflict(candidate Appointment, existing []Appointment) (*Appointment, error) {
	s1, e1, err := clockRange(candidate)
	if err != nil {
		return nil, err
	}

	for i := range existing {
		other := existing[i]
		if other.DoctorID != candidate.DoctorID || other.Date != candidate.Date {
			continue
		}
		if candidate.ID != uuid.Nil && other.ID == candidate.ID {
			continue
		}

		s2, e2, err := clockRange(other)
		if err != nil {
			return nil, fmt.Errorf("appointment %s: %w", other.ID, err)
		}
		if Overlaps(s1, e1, s2, e2) {
			return &existing[i], nil
		}
	}

	return nil, nil
}

func clockRange(a Appointment) (time.Time, time.Time, error) {
	start, err := time.Parse(ClockLayout, a.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start %q", ErrInvalidFormat, a.StartTime)
	}
	end, err := time.Parse(ClockLayout, a.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end %q", ErrInvalidFormat, a.EndTime)
	}
	return start, end, nil
}
