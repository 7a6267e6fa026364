package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentUpdated     = "APPOINTMENT_UPDATED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentReminderDue = "APPOINTMENT_REMINDER_DUE"
)

const maxUpdateAttempts = 3

// Deps are the collaborators a Service is built from.
type Deps struct {
	Repo      Repository
	Directory DirectoryLookup
	Locker    ScopeLocker
	Logger    zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	repo      Repository
	directory DirectoryLookup
	locker    ScopeLocker
	validator TimeValidator
	log       zerolog.Logger
	now       func() time.Time
	cfg       config.Config
}

func NewService(deps Deps, cfg config.Config) *Service {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      deps.Repo,
		directory: deps.Directory,
		locker:    deps.Locker,
		validator: NewTimeValidator(cfg.Location),
		log:       deps.Logger.With().Str("service", "appointment").Logger(),
		now:       now,
		cfg:       cfg,
	}
}

// CreateAppointment books req.DoctorID for the patient. Time checks run
// first, then the doctor lookup, then the conflict check and insert under
// the (doctor, date) scope lock.
func (s *Service) CreateAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	slot, err := s.validator.Validate(req.Date, req.StartTime, req.EndTime, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.ensureDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}

	appt := &Appointment{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		Date:      slot.Date(),
		StartTime: slot.StartClock(),
		EndTime:   slot.EndClock(),
		Comment:   req.Comment,
	}

	if err := s.checkAndWrite(ctx, appt, s.repo.Insert); err != nil {
		return nil, err
	}

	s.logEvent(ctx, appt.ID, EventAppointmentCreated, map[string]any{
		"patient_id": appt.PatientID.String(),
		"doctor_id":  appt.DoctorID.String(),
		"date":       appt.Date,
		"start_time": appt.StartTime,
		"end_time":   appt.EndTime,
	})

	return appt, nil
}

// BookBySpecialization books the first doctor with the given specialization
// who is free for the requested range.
func (s *Service) BookBySpecialization(ctx context.Context, req BookingRequest, specialization string) (*Appointment, error) {
	slot, err := s.validator.Validate(req.Date, req.StartTime, req.EndTime, s.now())
	if err != nil {
		return nil, err
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	doctors, err := s.directory.DoctorsBySpecialization(lookupCtx, specialization)
	cancel()
	if err != nil {
		return nil, storeFailure("list doctors by specialization", err)
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("%w: no doctor with specialization %q", ErrInvalidDoctor, specialization)
	}

	for _, doctorID := range doctors {
		appt := &Appointment{
			PatientID: req.PatientID,
			DoctorID:  doctorID,
			Date:      slot.Date(),
			StartTime: slot.StartClock(),
			EndTime:   slot.EndClock(),
			Comment:   req.Comment,
		}

		err := s.checkAndWrite(ctx, appt, s.repo.Insert)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logEvent(ctx, appt.ID, EventAppointmentCreated, map[string]any{
			"patient_id":     appt.PatientID.String(),
			"doctor_id":      appt.DoctorID.String(),
			"specialization": specialization,
			"date":           appt.Date,
			"start_time":     appt.StartTime,
			"end_time":       appt.EndTime,
		})
		return appt, nil
	}

	return nil, fmt.Errorf("%w: every %s is booked %s %s-%s", ErrConflict, specialization, slot.Date(), slot.StartClock(), slot.EndClock())
}

// UpdateAppointment merges fields over the patient's appointment and
// re-validates the result. On any failure the stored record is unchanged.
// When another write lands between the read and the write the merge is
// redone on the fresh record, up to maxUpdateAttempts times.
func (s *Service) UpdateAppointment(ctx context.Context, id, patientID uuid.UUID, fields UpdateFields) (*Appointment, error) {
	for attempt := 1; ; attempt++ {
		updated, err := s.updateOnce(ctx, id, patientID, fields)
		if !errors.Is(err, ErrStale) || attempt == maxUpdateAttempts {
			return updated, err
		}
		s.log.Debug().Str("appointment_id", id.String()).Int("attempt", attempt).Msg("appointment changed during update, retrying")
	}
}

func (s *Service) updateOnce(ctx context.Context, id, patientID uuid.UUID, fields UpdateFields) (*Appointment, error) {
	existing, err := s.loadOwned(ctx, id, patientID)
	if err != nil {
		return nil, err
	}

	merged := fields.apply(*existing)

	slot, err := s.validator.Validate(merged.Date, merged.StartTime, merged.EndTime, s.now())
	if err != nil {
		return nil, err
	}
	merged.Date = slot.Date()
	merged.StartTime = slot.StartClock()
	merged.EndTime = slot.EndClock()

	if merged.DoctorID != existing.DoctorID {
		if err := s.ensureDoctor(ctx, merged.DoctorID); err != nil {
			return nil, err
		}
	}

	// Only the target scope can gain a conflict, so only it is locked.
	if err := s.checkAndWrite(ctx, &merged, s.repo.Update); err != nil {
		return nil, err
	}

	s.logEvent(ctx, merged.ID, EventAppointmentUpdated, diff(*existing, merged))

	return &merged, nil
}

// CancelAppointment removes the patient's appointment.
func (s *Service) CancelAppointment(ctx context.Context, id, patientID uuid.UUID) error {
	existing, err := s.loadOwned(ctx, id, patientID)
	if err != nil {
		return err
	}

	storeCtx, cancel := s.storeCtx(ctx)
	err = s.repo.Delete(storeCtx, id, patientID)
	cancel()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return storeFailure("delete appointment", err)
	}

	s.logEvent(ctx, id, EventAppointmentCancelled, map[string]any{
		"doctor_id":  existing.DoctorID.String(),
		"date":       existing.Date,
		"start_time": existing.StartTime,
		"end_time":   existing.EndTime,
	})

	return nil
}

// GetAppointment returns the appointment when callerID is its patient or
// its doctor. Anyone else gets ErrNotFound.
func (s *Service) GetAppointment(ctx context.Context, id, callerID uuid.UUID) (*Appointment, error) {
	appt, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != callerID && appt.DoctorID != callerID {
		return nil, ErrNotFound
	}
	return appt, nil
}

func (s *Service) ListAppointmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	appts, err := s.repo.FindByPatient(storeCtx, patientID)
	if err != nil {
		return nil, storeFailure("list appointments by patient", err)
	}
	SortChronologically(appts)
	return appts, nil
}

func (s *Service) ListAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	appts, err := s.repo.FindByDoctor(storeCtx, doctorID)
	if err != nil {
		return nil, storeFailure("list appointments by doctor", err)
	}
	SortChronologically(appts)
	return appts, nil
}

// DispatchReminders records a reminder event for every appointment starting
// within lead from now that has not been reminded yet. It is intended to be
// called by the worker periodically.
func (s *Service) DispatchReminders(ctx context.Context, lead time.Duration) (int, error) {
	now := s.now().In(s.validator.Location())

	storeCtx, cancel := s.storeCtx(ctx)
	due, err := s.repo.FindUpcomingUnreminded(storeCtx, now, now.Add(lead))
	cancel()
	if err != nil {
		return 0, storeFailure("find upcoming appointments", err)
	}

	sent := 0
	for _, appt := range due {
		markCtx, cancel := s.storeCtx(ctx)
		err := s.repo.MarkReminded(markCtx, appt.ID, now)
		cancel()
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to mark appointment reminded")
			}
			continue
		}

		s.logEvent(ctx, appt.ID, EventAppointmentReminderDue, map[string]any{
			"patient_id": appt.PatientID.String(),
			"doctor_id":  appt.DoctorID.String(),
			"date":       appt.Date,
			"start_time": appt.StartTime,
		})
		sent++
	}

	return sent, nil
}

// checkAndWrite runs the conflict scan and the write as one unit under the
// appointment's (doctor, date) scope lock. A store level overlap rejection
// is reported as ErrConflict.
func (s *Service) checkAndWrite(ctx context.Context, appt *Appointment, write func(context.Context, *Appointment) error) error {
	var inner error
	lockErr := s.locker.WithLock(ctx, ScopeKey(appt.DoctorID, appt.Date), func(lockCtx context.Context) error {
		inner = s.scanAndWrite(lockCtx, appt, write)
		return inner
	})
	if inner != nil {
		return inner
	}
	if lockErr != nil {
		return storeFailure("lock doctor schedule", lockErr)
	}
	return nil
}

func (s *Service) scanAndWrite(ctx context.Context, appt *Appointment, write func(context.Context, *Appointment) error) error {
	scanCtx, cancel := s.storeCtx(ctx)
	existing, err := s.repo.FindByDoctorAndDate(scanCtx, appt.DoctorID, appt.Date)
	cancel()
	if err != nil {
		return storeFailure("load doctor schedule", err)
	}

	clash, err := DetectConflict(*appt, existing)
	if err != nil {
		return storeFailure("scan doctor schedule", err)
	}
	if clash != nil {
		return fmt.Errorf("%w: %s %s-%s overlaps %s-%s", ErrConflict, appt.Date, appt.StartTime, appt.EndTime, clash.StartTime, clash.EndTime)
	}

	writeCtx, cancel := s.storeCtx(ctx)
	err = write(writeCtx, appt)
	cancel()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrOverlap):
		return fmt.Errorf("%w: %s %s-%s", ErrConflict, appt.Date, appt.StartTime, appt.EndTime)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrStale):
		return err
	default:
		return storeFailure("write appointment", err)
	}
}

func (s *Service) ensureDoctor(ctx context.Context, doctorID uuid.UUID) error {
	if doctorID == uuid.Nil {
		return fmt.Errorf("%w: doctor id is required", ErrInvalidDoctor)
	}

	lookupCtx, cancel := s.storeCtx(ctx)
	ok, err := s.directory.DoctorExists(lookupCtx, doctorID)
	cancel()
	if err != nil {
		return storeFailure("look up doctor", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidDoctor, doctorID)
	}
	return nil
}

// loadOwned is the owner-scoped lookup: a record owned by someone else is
// indistinguishable from a missing one.
func (s *Service) loadOwned(ctx context.Context, id, patientID uuid.UUID) (*Appointment, error) {
	appt, err := s.findByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.PatientID != patientID {
		return nil, ErrNotFound
	}
	return appt, nil
}

func (s *Service) findByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	appt, err := s.repo.FindByID(storeCtx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, storeFailure("load appointment", err)
	}
	return appt, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.repo.InsertEvent(storeCtx, ev); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}

func storeFailure(op string, err error) error {
	if errors.Is(err, ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

func diff(before, after Appointment) map[string]any {
	changes := map[string]any{}
	if before.DoctorID != after.DoctorID {
		changes["doctor_id"] = after.DoctorID.String()
	}
	if before.Date != after.Date {
		changes["date"] = after.Date
	}
	if before.StartTime != after.StartTime {
		changes["start_time"] = after.StartTime
	}
	if before.EndTime != after.EndTime {
		changes["end_time"] = after.EndTime
	}
	if before.Comment != after.Comment {
		changes["comment"] = after.Comment
	}
	return changes
}

// SortChronologically orders appointments by (date, start time).
func SortChronologically(appts []Appointment) {
	slices.SortStableFunc(appts, func(a, b Appointment) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.StartTime, b.StartTime)
	})
}
