package service

import (
	"context"
	"time"

	"github.com/city-engagement/internal/domain"
)

// ProfileStore persists engagement profiles and the action audit log.
//
// Save commits p with optimistic concurrency: a zero Version inserts and any
// other Version must match the stored row. On success p.Version is advanced.
// A conflicting write returns domain.ErrConcurrentModification and a reused
// idempotency key returns domain.ErrDuplicateAction; neither changes state.
type ProfileStore interface {
	Get(ctx context.Context, userID string) (*domain.Profile, error)
	Save(ctx context.Context, p *domain.Profile, rec *domain.ActionRecord) error
	HasAction(ctx context.Context, idempotencyKey string) (bool, error)
	// GetAction returns the committed record for a key or domain.ErrActionNotFound
	GetAction(ctx context.Context, idempotencyKey string) (*domain.ActionRecord, error)
	List(ctx context.Context, afterUserID string, limit int) ([]*domain.Profile, error)
}

// RankIndex keeps users ordered by points desc, userID asc within named buckets
type RankIndex interface {
	Upsert(ctx context.Context, bucket string, m domain.RankMutation) (domain.RankChange, error)
	Top(ctx context.Context, bucket string, offset, limit int) ([]domain.LeaderboardEntry, error)
	Entry(ctx context.Context, bucket, userID string) (*domain.LeaderboardEntry, error)
	Count(ctx context.Context, bucket string) (int64, error)
	UpdatedAt(ctx context.Context, bucket string) (time.Time, error)
	// Reconcile raises entries whose stored points are missing or lower and
	// returns how many were written
	Reconcile(ctx context.Context, bucket string, entries []domain.LeaderboardEntry, at time.Time) (int, error)
}

// Notifier receives committed changes for live delivery
type Notifier interface {
	PublishProfile(p *domain.Profile, result *domain.RecordResult)
	PublishRanks(entry domain.LeaderboardEntry, ranks map[domain.Period]domain.RankChange)
}
