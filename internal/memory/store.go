package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/city-engagement/internal/domain"
)

// ProfileStore is an in-process profile store for development and tests
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*domain.Profile
	actions  map[string]domain.ActionRecord
	log      []domain.ActionRecord
}

// NewProfileStore creates an empty store
func NewProfileStore() *ProfileStore {
	return &ProfileStore{
		profiles: make(map[string]*domain.Profile),
		actions:  make(map[string]domain.ActionRecord),
	}
}

// Get returns a copy of the stored profile
func (s *ProfileStore) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return nil, domain.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// Save commits p if its version matches the stored one
func (s *ProfileStore) Save(ctx context.Context, p *domain.Profile, rec *domain.ActionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.profiles[p.UserID]
	switch {
	case p.Version == 0 && exists:
		return domain.ErrConcurrentModification
	case p.Version != 0 && (!exists || current.Version != p.Version):
		return domain.ErrConcurrentModification
	}
	if rec != nil && rec.IdempotencyKey != "" {
		if _, dup := s.actions[rec.IdempotencyKey]; dup {
			return domain.ErrDuplicateAction
		}
	}

	stored := p.Clone()
	stored.Version = p.Version + 1
	s.profiles[p.UserID] = stored
	if rec != nil {
		if rec.IdempotencyKey != "" {
			s.actions[rec.IdempotencyKey] = *rec
		}
		s.log = append(s.log, *rec)
	}
	p.Version = stored.Version
	return nil
}

// HasAction reports whether an action with the key was committed
func (s *ProfileStore) HasAction(ctx context.Context, idempotencyKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.actions[idempotencyKey]
	return ok, nil
}

// GetAction returns a copy of the committed record for the key
func (s *ProfileStore) GetAction(ctx context.Context, idempotencyKey string) (*domain.ActionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.actions[idempotencyKey]
	if !ok {
		return nil, domain.ErrActionNotFound
	}
	rec.NewBadges = append([]string(nil), rec.NewBadges...)
	return &rec, nil
}

// List returns up to limit profiles ordered by user id, starting after afterUserID
func (s *ProfileStore) List(ctx context.Context, afterUserID string, limit int) ([]*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.profiles))
	for id := range s.profiles {
		if id > afterUserID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	profiles := make([]*domain.Profile, len(ids))
	for i, id := range ids {
		profiles[i] = s.profiles[id].Clone()
	}
	return profiles, nil
}

// Actions returns the committed action log in commit order
func (s *ProfileStore) Actions() []domain.ActionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ActionRecord(nil), s.log...)
}
