package directory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	persons map[uuid.UUID]Person
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{persons: make(map[uuid.UUID]Person)}
}

func (r *MemoryRepository) Create(_ context.Context, p *Person) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// a taken email is reported ahead of a taken handle, whoever holds them
	for _, other := range r.persons {
		if strings.EqualFold(other.Email, p.Email) {
			return ErrEmailTaken
		}
	}
	for _, other := range r.persons {
		if other.Handle == p.Handle {
			return ErrHandleTaken
		}
	}

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	r.persons[p.ID] = *p
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.persons[id]
	if !ok {
		return nil, ErrPersonNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) GetByLogin(_ context.Context, login string) (*Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.persons {
		if p.Handle == login || strings.EqualFold(p.Email, login) {
			return &p, nil
		}
	}
	return nil, ErrPersonNotFound
}

func (r *MemoryRepository) ListDoctors(_ context.Context, specialization string) ([]Person, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Person{}
	for _, p := range r.persons {
		if p.Role != RoleDoctor {
			continue
		}
		if specialization != "" && !strings.EqualFold(p.Specialization, specialization) {
			continue
		}
		out = append(out, p)
	}

	slices.SortFunc(out, func(a, b Person) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}
