package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidFormat   = errors.New("invalid date or time format")
	ErrPastAppointment = errors.New("appointment starts in the past")
	ErrInvalidRange    = errors.New("appointment must end after it starts")
	ErrConflict        = errors.New("doctor is already booked for this time")
	ErrNotFound        = errors.New("appointment not found")
	ErrInvalidDoctor   = errors.New("doctor not found")
	ErrStoreFailure    = errors.New("appointment store failure")

	// ErrOverlap is returned by a Repository when its own constraint rejects
	// a write that would double book a doctor.
	ErrOverlap = errors.New("overlapping appointment rejected by store")

	// ErrStale is returned by Repository.Update when the record changed after
	// the caller read it.
	ErrStale = errors.New("appointment changed since it was read")
)

// Repository contains all persistence needed by the service.
type Repository interface {
	Insert(ctx context.Context, a *Appointment) error
	// Update rewrites the record matching a.ID and a.PatientID, provided its
	// updated_at still equals a.UpdatedAt. Otherwise it returns ErrStale.
	Update(ctx context.Context, a *Appointment) error
	Delete(ctx context.Context, id, patientID uuid.UUID) error

	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error)
	FindByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	FindByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error)

	// Reminder worker. from and to are clinic wall clock instants.
	FindUpcomingUnreminded(ctx context.Context, from, to time.Time) ([]Appointment, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error

	InsertEvent(ctx context.Context, ev EventLog) error
}

// DirectoryLookup resolves doctors. It is implemented by the directory service.
type DirectoryLookup interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	DoctorsBySpecialization(ctx context.Context, specialization string) ([]uuid.UUID, error)
}

// ScopeLocker serialises critical sections that share a key.
type ScopeLocker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}
