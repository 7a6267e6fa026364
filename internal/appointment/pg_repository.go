package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	// SQLSTATE exclusion_violation, raised by appointments_no_overlap.
	pgExclusionViolation = "23P01"

	wallClockLayout = "2006-01-02 15:04:05"

	appointmentColumns = `id, patient_id, doctor_id,
		to_char(appt_date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		comment, created_at, updated_at, reminded_at`
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var remindedAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.Date,
		&a.StartTime,
		&a.EndTime,
		&a.Comment,
		&a.CreatedAt,
		&a.UpdatedAt,
		&remindedAt,
	)
	if err != nil {
		return nil, mapPgError(err)
	}

	a.RemindedAt = remindedAt
	return &a, nil
}

func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return fmt.Errorf("%w: %s", ErrOverlap, pgErr.ConstraintName)
	}
	return err
}

func (r *PgRepository) queryAppointments(ctx context.Context, sql string, args ...any) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (r *PgRepository) Insert(ctx context.Context, a *Appointment) error {
	id := uuid.New()

	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, appt_date, start_time, end_time, comment, created_at, updated_at)
		VALUES ($1, $2, $3, $4::date, $5::time, $6::time, $7, now(), now())
		RETURNING `+appointmentColumns,
		id, a.PatientID, a.DoctorID, a.Date, a.StartTime, a.EndTime, a.Comment)

	created, err := scanAppointment(row)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}

	*a = *created
	return nil
}

func (r *PgRepository) Update(ctx context.Context, a *Appointment) error {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $3,
		    appt_date = $4::date,
		    start_time = $5::time,
		    end_time = $6::time,
		    comment = $7,
		    reminded_at = CASE
		        WHEN appt_date = $4::date AND start_time = $5::time THEN reminded_at
		        ELSE NULL
		    END,
		    updated_at = clock_timestamp()
		WHERE id = $1
		  AND patient_id = $2
		  AND updated_at = $8
		RETURNING `+appointmentColumns,
		a.ID, a.PatientID, a.DoctorID, a.Date, a.StartTime, a.EndTime, a.Comment, a.UpdatedAt)

	updated, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		return r.missOrStale(ctx, a.ID, a.PatientID)
	}
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}

	*a = *updated
	return nil
}

// missOrStale tells apart the two reasons an owner scoped update can match
// no row.
func (r *PgRepository) missOrStale(ctx context.Context, id, patientID uuid.UUID) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments WHERE id = $1 AND patient_id = $2
		)
	`, id, patientID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if exists {
		return ErrStale
	}
	return ErrNotFound
}

func (r *PgRepository) Delete(ctx context.Context, id, patientID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM appointments
		WHERE id = $1
		  AND patient_id = $2
	`, id, patientID)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date string) ([]Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND appt_date = $2::date
		ORDER BY start_time
	`, doctorID, date)
}

func (r *PgRepository) FindByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY appt_date, start_time
	`, patientID)
}

func (r *PgRepository) FindByDoctor(ctx context.Context, doctorID uuid.UUID) ([]Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY appt_date, start_time
	`, doctorID)
}

// FindUpcomingUnreminded compares wall clock values: appt_date + start_time
// is a timestamp without time zone, so the bounds are sent the same way.
func (r *PgRepository) FindUpcomingUnreminded(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	return r.queryAppointments(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE reminded_at IS NULL
		  AND appt_date + start_time >= $1::timestamp
		  AND appt_date + start_time < $2::timestamp
		ORDER BY appt_date, start_time
	`, from.Format(wallClockLayout), to.Format(wallClockLayout))
}

func (r *PgRepository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminded_at = $2
		WHERE id = $1
		  AND reminded_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark appointment reminded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
