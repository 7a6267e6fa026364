package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Appointment is a booked visit. Date is YYYY-MM-DD and the times are HH:MM
// on the clinic's wall clock, always in canonical zero padded form.
type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	Date       string
	StartTime  string
	EndTime    string
	Comment    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	RemindedAt *time.Time
}

// BookingRequest carries the fields a patient supplies when booking.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      string
	StartTime string
	EndTime   string
	Comment   string
}

// UpdateFields is a partial update. Nil fields keep their stored value.
type UpdateFields struct {
	DoctorID  *uuid.UUID
	Date      *string
	StartTime *string
	EndTime   *string
	Comment   *string
}

func (f UpdateFields) apply(a Appointment) Appointment {
	if f.DoctorID != nil {
		a.DoctorID = *f.DoctorID
	}
	if f.Date != nil {
		a.Date = *f.Date
	}
	if f.StartTime != nil {
		a.StartTime = *f.StartTime
	}
	if f.EndTime != nil {
		a.EndTime = *f.EndTime
	}
	if f.Comment != nil {
		a.Comment = *f.Comment
	}
	return a
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// ScopeKey names the (doctor, date) pair inside which bookings may conflict.
func ScopeKey(doctorID uuid.UUID, date string) string {
	return fmt.Sprintf("schedule:%s:%s", doctorID, date)
}
