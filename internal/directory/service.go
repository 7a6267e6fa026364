package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/auth"
)

type RegisterInput struct {
	Role           Role
	Name           string
	Handle         string
	Email          string
	Password       string
	Specialization string
}

type Service struct {
	repo    Repository
	log     zerolog.Logger
	timeout time.Duration
}

// NewService builds the directory service. A zero timeout leaves store calls
// bounded only by the caller's context.
func NewService(repo Repository, logger zerolog.Logger, timeout time.Duration) *Service {
	return &Service{
		repo:    repo,
		log:     logger.With().Str("service", "directory").Logger(),
		timeout: timeout,
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Person, error) {
	role := in.Role
	if role == "" {
		role = RolePatient
	}

	p := &Person{
		Role:           role,
		Name:           strings.TrimSpace(in.Name),
		Handle:         strings.TrimSpace(in.Handle),
		Email:          strings.TrimSpace(in.Email),
		Specialization: strings.TrimSpace(in.Specialization),
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(in.Password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidPerson)
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	p.PasswordHash = hash

	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.repo.Create(storeCtx, p); err != nil {
		if errors.Is(err, ErrEmailTaken) || errors.Is(err, ErrHandleTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("create person: %w", err)
	}

	s.log.Info().
		Str("person_id", p.ID.String()).
		Str("role", string(p.Role)).
		Msg("person registered")

	return p, nil
}

// Authenticate checks the password for a handle or email. Unknown logins and
// wrong passwords both report ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*Person, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	p, err := s.repo.GetByLogin(storeCtx, strings.TrimSpace(login))
	if err != nil {
		if errors.Is(err, ErrPersonNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("load person: %w", err)
	}

	if !auth.CheckPassword(p.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return p, nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Person, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.repo.GetByID(storeCtx, id)
}

func (s *Service) ListDoctors(ctx context.Context, specialization string) ([]Person, error) {
	storeCtx, cancel := s.storeCtx(ctx)
	defer cancel()

	return s.repo.ListDoctors(storeCtx, strings.TrimSpace(specialization))
}

// DoctorExists reports whether id names a registered doctor. Patients and
// unknown ids are both false.
func (s *Service) DoctorExists(ctx context.Context, id uuid.UUID) (bool, error) {
	p, err := s.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPersonNotFound) {
			return false, nil
		}
		return false, err
	}
	return p.IsDoctor(), nil
}

func (s *Service) DoctorsBySpecialization(ctx context.Context, specialization string) ([]uuid.UUID, error) {
	if strings.TrimSpace(specialization) == "" {
		return nil, nil
	}

	doctors, err := s.ListDoctors(ctx, specialization)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(doctors))
	for _, d := range doctors {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
