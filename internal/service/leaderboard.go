package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/metrics"
)

// LeaderboardManager maintains the ranked views of user points
type LeaderboardManager struct {
	index    RankIndex
	periods  []domain.Period
	config   *config.LeaderboardConfig
	location *time.Location
	strict   bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewLeaderboardManager creates a manager for the configured periods.
// strict turns invariant violations into panics.
func NewLeaderboardManager(
	index RankIndex,
	cfg *config.LeaderboardConfig,
	location *time.Location,
	strict bool,
	logger *slog.Logger,
) (*LeaderboardManager, error) {
	periods := make([]domain.Period, 0, len(cfg.Periods))
	seen := make(map[domain.Period]bool)
	for _, name := range cfg.Periods {
		p := domain.Period(name)
		if !p.Valid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPeriod, name)
		}
		if !seen[p] {
			seen[p] = true
			periods = append(periods, p)
		}
	}
	if !seen[domain.PeriodAllTime] {
		periods = append([]domain.Period{domain.PeriodAllTime}, periods...)
	}
	if location == nil {
		location = time.UTC
	}

	return &LeaderboardManager{
		index:    index,
		periods:  periods,
		config:   cfg,
		location: location,
		strict:   strict,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Periods returns the maintained periods, all_time first
func (m *LeaderboardManager) Periods() []domain.Period {
	return append([]domain.Period(nil), m.periods...)
}

func (m *LeaderboardManager) hasPeriod(p domain.Period) bool {
	for _, known := range m.periods {
		if known == p {
			return true
		}
	}
	return false
}

func (m *LeaderboardManager) bucket(p domain.Period, at time.Time) string {
	return p.BucketKey(at.In(m.location))
}

// Upsert writes a profile into every board. delta is the points gained by the
// triggering change and feeds the periodic boards. Failures on one board do
// not stop the others; the returned error joins them.
func (m *LeaderboardManager) Upsert(ctx context.Context, p *domain.Profile, delta int64, at time.Time) (map[domain.Period]domain.RankChange, error) {
	if p == nil {
		return nil, m.violation("nil_profile", "leaderboard upsert without a profile")
	}
	if delta < 0 {
		return nil, m.violation("negative_delta", fmt.Sprintf("leaderboard delta %d for %s", delta, p.UserID))
	}

	entry := domain.EntryFromProfile(p)
	changes := make(map[domain.Period]domain.RankChange, len(m.periods))
	var errs []error
	for _, period := range m.periods {
		mutation := domain.RankMutation{Entry: entry, At: at}
		if period != domain.PeriodAllTime {
			if delta == 0 {
				continue
			}
			mutation.Increment = true
			mutation.Delta = delta
			mutation.TTL = period.BucketTTL()
		}

		change, err := m.index.Upsert(ctx, m.bucket(period, at), mutation)
		if err != nil {
			metrics.LeaderboardUpsertErrors.WithLabelValues(string(period)).Inc()
			errs = append(errs, fmt.Errorf("upserting %s board: %w", period, err))
			continue
		}
		changes[period] = change
	}
	return changes, errors.Join(errs...)
}

// violation reports a broken invariant. It panics in strict mode.
func (m *LeaderboardManager) violation(kind, detail string) error {
	metrics.InvariantViolations.WithLabelValues(kind).Inc()
	err := fmt.Errorf("%w: %s", domain.ErrInvariantViolation, detail)
	if m.strict {
		panic(err)
	}
	m.logger.Error("invariant violation, mutation skipped", "kind", kind, "error", err)
	return err
}

// clampLimit applies the default and maximum page sizes
func (m *LeaderboardManager) clampLimit(limit int) int {
	if limit <= 0 {
		limit = m.config.DefaultLimit
	}
	if limit > m.config.MaxLimit {
		limit = m.config.MaxLimit
	}
	return limit
}

// GetLeaderboard returns the current top entries of a period
func (m *LeaderboardManager) GetLeaderboard(ctx context.Context, period domain.Period, limit int) (*domain.Leaderboard, error) {
	if !m.hasPeriod(period) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPeriod, period)
	}
	bucket := m.bucket(period, m.now())

	entries, err := m.index.Top(ctx, bucket, 0, m.clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("getting top entries: %w", err)
	}
	total, err := m.index.Count(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("getting entry count: %w", err)
	}
	updatedAt, err := m.index.UpdatedAt(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("getting update time: %w", err)
	}

	return &domain.Leaderboard{
		Period:       period,
		Bucket:       bucket,
		Entries:      entries,
		TotalEntries: total,
		UpdatedAt:    updatedAt,
	}, nil
}

// GetUserEntry returns a user's entry or domain.ErrUserNotRanked
func (m *LeaderboardManager) GetUserEntry(ctx context.Context, period domain.Period, userID string) (*domain.LeaderboardEntry, error) {
	if !m.hasPeriod(period) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPeriod, period)
	}
	return m.index.Entry(ctx, m.bucket(period, m.now()), userID)
}

// GetUserRank returns a user's 1-based rank, or 0 when unranked
func (m *LeaderboardManager) GetUserRank(ctx context.Context, period domain.Period, userID string) (int64, error) {
	entry, err := m.GetUserEntry(ctx, period, userID)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotRanked) {
			return 0, nil
		}
		return 0, err
	}
	return entry.Rank, nil
}

// GetAroundUser returns the entries within count ranks of a user
func (m *LeaderboardManager) GetAroundUser(ctx context.Context, period domain.Period, userID string, count int) ([]domain.LeaderboardEntry, error) {
	if count <= 0 {
		count = m.config.DefaultAround
	}
	if count > m.config.MaxAround {
		count = m.config.MaxAround
	}

	entry, err := m.GetUserEntry(ctx, period, userID)
	if err != nil {
		return nil, err
	}

	// Calculate range around the user
	start := entry.Rank - int64(count) - 1 // -1 because rank is 1-indexed
	if start < 0 {
		start = 0
	}
	end := entry.Rank + int64(count) // exclusive, 0-indexed
	return m.index.Top(ctx, m.bucket(period, m.now()), int(start), int(end-start))
}

// Reconcile raises all_time entries that lag behind the stored profiles
func (m *LeaderboardManager) Reconcile(ctx context.Context, profiles []*domain.Profile) (int, error) {
	entries := make([]domain.LeaderboardEntry, 0, len(profiles))
	for _, p := range profiles {
		if p == nil {
			m.violation("nil_profile", "reconcile received a nil profile")
			continue
		}
		entries = append(entries, domain.EntryFromProfile(p))
	}
	written, err := m.index.Reconcile(ctx, m.bucket(domain.PeriodAllTime, m.now()), entries, m.now())
	if err != nil {
		return 0, fmt.Errorf("reconciling all_time board: %w", err)
	}
	return written, nil
}
