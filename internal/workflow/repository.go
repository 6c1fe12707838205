package workflow

import (
	"context"
	"sort"
	"sync"

	apperrors "revguard/pkg/errors"
)

// Repository stores workflow snapshots keyed by id plus the append-only
// action log. Create and Update write the snapshot and its log entry
// atomically.
type Repository interface {
	Create(ctx context.Context, wf *Workflow, entry ActionEntry) error
	// Update replaces the snapshot if the stored version equals
	// expectedVersion and returns CONFLICT otherwise. wf.Version is set to
	// expectedVersion+1 on success.
	Update(ctx context.Context, wf *Workflow, expectedVersion int, entry ActionEntry) error
	// Get returns NOT_FOUND for unknown ids.
	Get(ctx context.Context, id string) (*Workflow, error)
	List(ctx context.Context, filter ListFilter) ([]Workflow, error)
	Actions(ctx context.Context, workflowID string) ([]ActionEntry, error)
	// LatestAction returns NOT_FOUND when the workflow has no log entry.
	LatestAction(ctx context.Context, workflowID string) (*ActionEntry, error)
}

func notFound(id string) error {
	return apperrors.ErrNotFound.WithMessage("workflow %s not found", id)
}

func notFoundAction(workflowID string) error {
	return apperrors.ErrNotFound.WithMessage("no actions recorded for workflow %s", workflowID)
}

func versionConflict(id string, expected int) error {
	return apperrors.ErrConflict.WithMessage("workflow %s was modified concurrently (expected version %d)", id, expected)
}

// MemoryRepository keeps workflows in process.
type MemoryRepository struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	actions   map[string][]ActionEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		workflows: make(map[string]*Workflow),
		actions:   make(map[string][]ActionEntry),
	}
}

func (r *MemoryRepository) Create(_ context.Context, wf *Workflow, entry ActionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workflows[wf.ID]; exists {
		return apperrors.ErrConflict.WithMessage("workflow %s already exists", wf.ID)
	}
	r.workflows[wf.ID] = wf.clone()
	r.actions[wf.ID] = append(r.actions[wf.ID], entry)
	return nil
}

func (r *MemoryRepository) Update(_ context.Context, wf *Workflow, expectedVersion int, entry ActionEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.workflows[wf.ID]
	if !ok {
		return notFound(wf.ID)
	}
	if current.Version != expectedVersion {
		return versionConflict(wf.ID, expectedVersion)
	}
	wf.Version = expectedVersion + 1
	r.workflows[wf.ID] = wf.clone()
	r.actions[wf.ID] = append(r.actions[wf.ID], entry)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wf, ok := r.workflows[id]
	if !ok {
		return nil, notFound(id)
	}
	return wf.clone(), nil
}

func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Workflow
	for _, wf := range r.workflows {
		if filter.DeclarationID != "" && wf.DeclarationID != filter.DeclarationID {
			continue
		}
		if len(filter.Statuses) > 0 && !hasStatus(filter.Statuses, wf.Status) {
			continue
		}
		out = append(out, *wf.clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Actions(_ context.Context, workflowID string) ([]ActionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.workflows[workflowID]; !ok {
		return nil, notFound(workflowID)
	}
	return append([]ActionEntry(nil), r.actions[workflowID]...), nil
}

func (r *MemoryRepository) LatestAction(_ context.Context, workflowID string) (*ActionEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	log := r.actions[workflowID]
	if len(log) == 0 {
		return nil, notFoundAction(workflowID)
	}
	entry := log[len(log)-1]
	return &entry, nil
}

func hasStatus(statuses []Status, s Status) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
