package appointment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps appointments in process. Like the Postgres schema it
// refuses writes that would overlap another booking of the same doctor.
type MemoryRepository struct {
	mu     sync.RWMutex
	appts  map[uuid.UUID]Appointment
	events []EventLog
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appts: make(map[uuid.UUID]Appointment),
		now:   time.Now,
	}
}

func (r *MemoryRepository) Insert(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a.ID = uuid.New()
	if err := r.checkOverlap(*a); err != nil {
		return err
	}

	now := r.now()
	a.CreatedAt = now
	a.UpdatedAt = now
	a.RemindedAt = nil
	r.appts[a.ID] = *a
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, a *Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appts[a.ID]
	if !ok || current.PatientID != a.PatientID {
		return ErrNotFound
	}
	if !current.UpdatedAt.Equal(a.UpdatedAt) {
		return ErrStale
	}
	if err := r.checkOverlap(*a); err != nil {
		return err
	}

	// every write must move updated_at, even on a coarse clock
	now := r.now()
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Microsecond)
	}
	a.CreatedAt = current.CreatedAt
	a.UpdatedAt = now
	a.RemindedAt = current.RemindedAt
	if a.Date != current.Date || a.StartTime != current.StartTime {
		a.RemindedAt = nil
	}
	r.appts[a.ID] = *a
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id, patientID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.appts[id]
	if !ok || current.PatientID != patientID {
		return ErrNotFound
	}
	delete(r.appts, id)
	return nil
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindByDoctorAndDate(_ context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.Date == date
	}), nil
}

func (r *MemoryRepository) FindByPatient(_ context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.PatientID == patientID }), nil
}

func (r *MemoryRepository) FindByDoctor(_ context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return r.filter(func(a Appointment) bool { return a.DoctorID == doctorID }), nil
}

func (r *MemoryRepository) FindUpcomingUnreminded(_ context.Context, from, to time.Time) ([]Appointment, error) {
	validator := NewTimeValidator(from.Location())
	var parseErr error

	out := r.filter(func(a Appointment) bool {
		if a.RemindedAt != nil {
			return false
		}
		start, err := validator.StartOf(a)
		if err != nil {
			parseErr = err
			return false
		}
		return !start.Before(from) && start.Before(to)
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

func (r *MemoryRepository) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appts[id]
	if !ok || a.RemindedAt != nil {
		return ErrNotFound
	}
	a.RemindedAt = &at
	r.appts[id] = a
	return nil
}

func (r *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the recorded audit events.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]EventLog, len(r.events))
	copy(out, r.events)
	return out
}

func (r *MemoryRepository) filter(keep func(Appointment) bool) []Appointment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Appointment{}
	for _, a := range r.appts {
		if keep(a) {
			out = append(out, a)
		}
	}
	SortChronologically(out)
	return out
}

// checkOverlap must be called with r.mu held.
func (r *MemoryRepository) checkOverlap(a Appointment) error {
	var sameScope []Appointment
	for _, other := range r.appts {
		if other.DoctorID == a.DoctorID && other.Date == a.Date {
			sameScope = append(sameScope, other)
		}
	}

	clash, err := DetectConflict(a, sameScope)
	if err != nil {
		return err
	}
	if clash != nil {
		return ErrOverlap
	}
	return nil
}
