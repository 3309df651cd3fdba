package dataset

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is an in-memory Repository used in dev mode and by
// tests. Single-key operations are atomic under the mutex, matching the
// consistency the postgres implementation provides per statement.
type MemoryRepository struct {
	mu       sync.RWMutex
	datasets map[string]*Dataset
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		datasets: make(map[string]*Dataset),
	}
}

// Create stores a copy of the record.
func (r *MemoryRepository) Create(_ context.Context, d *Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *d
	r.datasets[d.ID] = &stored
	return nil
}

// FindByID returns a copy of the record, or ErrNotFound.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.datasets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *d
	return &out, nil
}

// UpdateByID merges the patch into the stored record.
func (r *MemoryRepository) UpdateByID(_ context.Context, id string, p Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.datasets[id]
	if !ok {
		return ErrNotFound
	}

	if p.Title != nil {
		d.Title = *p.Title
	}
	if p.Editors != nil {
		d.Visibility.Editors = append([]string(nil), (*p.Editors)...)
	}
	if p.Viewers != nil {
		d.Visibility.Viewers = append([]string(nil), (*p.Viewers)...)
	}
	if p.IsPublic != nil {
		d.Visibility.IsPublic = *p.IsPublic
	}
	if p.IsProcessing != nil {
		d.IsProcessing = *p.IsProcessing
	}
	d.UpdatedAt = time.Now()
	return nil
}

// DeleteByID removes the record.
func (r *MemoryRepository) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.datasets[id]; !ok {
		return ErrNotFound
	}
	delete(r.datasets, id)
	return nil
}

// ListByOwner returns copies of all records owned by the given user,
// newest first.
func (r *MemoryRepository) ListByOwner(_ context.Context, ownerID string) ([]*Dataset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Dataset
	for _, d := range r.datasets {
		if d.OwnerID == ownerID {
			record := *d
			out = append(out, &record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}
