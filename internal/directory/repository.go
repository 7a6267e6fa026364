package directory

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Person) error
	GetByID(ctx context.Context, id uuid.UUID) (*Person, error)
	// GetByLogin matches either the handle or the email.
	GetByLogin(ctx context.Context, login string) (*Person, error)
	// ListDoctors returns doctors ordered by name then id. An empty
	// specialization lists every doctor.
	ListDoctors(ctx context.Context, specialization string) ([]Person, error)
}
