package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation = "23505"

	personColumns = `id, role, name, handle, email, password_hash, COALESCE(specialization, ''), created_at, updated_at`
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanPerson(row pgx.Row) (*Person, error) {
	var p Person

	err := row.Scan(
		&p.ID,
		&p.Role,
		&p.Name,
		&p.Handle,
		&p.Email,
		&p.PasswordHash,
		&p.Specialization,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPersonNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) Create(ctx context.Context, p *Person) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}

	var specialization *string
	if p.Role == RoleDoctor {
		specialization = &p.Specialization
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO persons (id, role, name, handle, email, password_hash, specialization, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING `+personColumns,
		p.ID, p.Role, p.Name, p.Handle, p.Email, p.PasswordHash, specialization)

	created, err := scanPerson(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return r.duplicateError(ctx, pgErr, p.Email)
		}
		return fmt.Errorf("insert person: %w", err)
	}

	*p = *created
	return nil
}

// duplicateError reports a taken email ahead of a taken handle. Postgres
// only names the first unique index it trips over, so the email is looked
// up rather than trusting that order.
func (r *PgRepository) duplicateError(ctx context.Context, pgErr *pgconn.PgError, email string) error {
	if pgErr.ConstraintName == "persons_email_key" {
		return ErrEmailTaken
	}

	var emailTaken bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM persons WHERE lower(email) = lower($1))
	`, email).Scan(&emailTaken)
	if err != nil {
		return fmt.Errorf("insert person: %w", err)
	}
	if emailTaken {
		return ErrEmailTaken
	}
	if pgErr.ConstraintName == "persons_handle_key" {
		return ErrHandleTaken
	}
	return fmt.Errorf("insert person: %w", pgErr)
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Person, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE id = $1
	`, id)
	return scanPerson(row)
}

func (r *PgRepository) GetByLogin(ctx context.Context, login string) (*Person, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE handle = $1
		   OR lower(email) = lower($1)
		LIMIT 1
	`, login)
	return scanPerson(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context, specialization string) ([]Person, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+personColumns+`
		FROM persons
		WHERE role = 'doctor'
		  AND ($1 = '' OR lower(specialization) = lower($1))
		ORDER BY name, id
	`, specialization)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()

	result := []Person{}
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
