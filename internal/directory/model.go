package directory

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

var (
	ErrPersonNotFound     = errors.New("person not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrHandleTaken        = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPerson      = errors.New("invalid person")
)

// Person is a patient or a doctor, discriminated by Role. Specialization is
// only meaningful for doctors and must be empty for patients.
type Person struct {
	ID             uuid.UUID
	Role           Role
	Name           string
	Handle         string
	Email          string
	PasswordHash   string
	Specialization string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (p Person) IsDoctor() bool { return p.Role == RoleDoctor }

func (p Person) Validate() error {
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidPerson, p.Role)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPerson)
	}
	if strings.TrimSpace(p.Handle) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidPerson)
	}
	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("%w: email %q", ErrInvalidPerson, p.Email)
	}
	switch p.Role {
	case RoleDoctor:
		if strings.TrimSpace(p.Specialization) == "" {
			return fmt.Errorf("%w: doctors need a specialization", ErrInvalidPerson)
		}
	case RolePatient:
		if p.Specialization != "" {
			return fmt.Errorf("%w: patients have no specialization", ErrInvalidPerson)
		}
	}
	return nil
}
