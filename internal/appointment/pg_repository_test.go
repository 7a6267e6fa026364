package appointment_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/db"
	"github.com/hackgods/clinic-appointment-scheduling/internal/directory"
)

// newTestPool connects to POSTGRES_DSN and applies the schema. Tests that
// need a real database are skipped when it is unset.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx := context.Background()
	pool, err := db.ConnectPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.ApplySchema(ctx, pool))
	return pool
}

func createPerson(t *testing.T, repo *directory.PgRepository, role directory.Role) uuid.UUID {
	t.Helper()

	handle := "t-" + uuid.NewString()
	p := &directory.Person{
		Role:         role,
		Name:         handle,
		Handle:       handle,
		Email:        handle + "@example.com",
		PasswordHash: "x",
	}
	if role == directory.RoleDoctor {
		p.Specialization = "Neurologist"
	}
	require.NoError(t, repo.Create(context.Background(), p))
	return p.ID
}

func TestPgRepository(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()

	people := directory.NewPgRepository(pool)
	repo := appointment.NewPgRepository(pool)

	doctor := createPerson(t, people, directory.RoleDoctor)
	patient := createPerson(t, people, directory.RolePatient)

	a := &appointment.Appointment{PatientID: patient, DoctorID: doctor, Date: "2099-05-01", StartTime: "09:00", EndTime: "10:00", Comment: "pg"}
	require.NoError(t, repo.Insert(ctx, a))
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.False(t, a.CreatedAt.IsZero())

	got, err := repo.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "2099-05-01", got.Date)
	assert.Equal(t, "09:00", got.StartTime)
	assert.Equal(t, "10:00", got.EndTime)
	assert.Equal(t, "pg", got.Comment)

	t.Run("exclusion constraint reports overlap", func(t *testing.T) {
		clash := &appointment.Appointment{PatientID: patient, DoctorID: doctor, Date: "2099-05-01", StartTime: "09:30", EndTime: "10:30"}
		assert.ErrorIs(t, repo.Insert(ctx, clash), appointment.ErrOverlap)

		adjacent := &appointment.Appointment{PatientID: patient, DoctorID: doctor, Date: "2099-05-01", StartTime: "10:00", EndTime: "10:30"}
		require.NoError(t, repo.Insert(ctx, adjacent))
	})

	t.Run("scope and lists are chronological", func(t *testing.T) {
		scope, err := repo.FindByDoctorAndDate(ctx, doctor, "2099-05-01")
		require.NoError(t, err)
		require.Len(t, scope, 2)
		assert.Equal(t, "09:00", scope[0].StartTime)
		assert.Equal(t, "10:00", scope[1].StartTime)

		mine, err := repo.FindByPatient(ctx, patient)
		require.NoError(t, err)
		assert.Len(t, mine, 2)
	})

	t.Run("update is owner scoped", func(t *testing.T) {
		moved := *got
		moved.EndTime = "09:45"
		require.NoError(t, repo.Update(ctx, &moved))
		assert.Equal(t, "09:45", moved.EndTime)

		stale := *got
		stale.Comment = "overwrites the new end time"
		assert.ErrorIs(t, repo.Update(ctx, &stale), appointment.ErrStale)

		moved.PatientID = uuid.New()
		assert.ErrorIs(t, repo.Update(ctx, &moved), appointment.ErrNotFound)
	})

	t.Run("reminders", func(t *testing.T) {
		from := time.Date(2099, 5, 1, 8, 0, 0, 0, time.UTC)
		due, err := repo.FindUpcomingUnreminded(ctx, from, from.Add(90*time.Minute))
		require.NoError(t, err)
		ids := make([]uuid.UUID, 0, len(due))
		for _, d := range due {
			ids = append(ids, d.ID)
		}
		assert.Contains(t, ids, a.ID)

		require.NoError(t, repo.MarkReminded(ctx, a.ID, from))
		assert.ErrorIs(t, repo.MarkReminded(ctx, a.ID, from), appointment.ErrNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		assert.ErrorIs(t, repo.Delete(ctx, a.ID, uuid.New()), appointment.ErrNotFound)
		require.NoError(t, repo.Delete(ctx, a.ID, patient))
		_, err := repo.FindByID(ctx, a.ID)
		assert.ErrorIs(t, err, appointment.ErrNotFound)
	})
}

func TestPgServiceConcurrentCreates(t *testing.T) {
	pool := newTestPool(t)
	people := directory.NewPgRepository(pool)
	doctor := createPerson(t, people, directory.RoleDoctor)
	patient := createPerson(t, people, directory.RolePatient)

	dirSvc := directory.NewService(people, zerolog.Nop(), time.Second)

	// separate lockers stand in for separate api-server instances, so only
	// the exclusion constraint stops the double booking
	const n = 8
	results := make(chan error, n)
	for range n {
		svc := appointment.NewService(appointment.Deps{
			Repo:      appointment.NewPgRepository(pool),
			Directory: dirSvc,
			Locker:    appointment.NewLocalLocker(),
			Logger:    zerolog.Nop(),
		}, config.Config{Location: time.UTC, StoreTimeout: 5 * time.Second})

		go func() {
			_, err := svc.CreateAppointment(context.Background(), appointment.BookingRequest{
				PatientID: patient, DoctorID: doctor, Date: "2099-06-01", StartTime: "09:00", EndTime: "10:00",
			})
			results <- err
		}()
	}

	successes := 0
	for range n {
		err := <-results
		if err == nil {
			successes++
			continue
		}
		assert.ErrorIs(t, err, appointment.ErrConflict)
	}
	assert.Equal(t, 1, successes)
}
