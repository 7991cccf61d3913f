package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/city-engagement/internal/engine"
	"github.com/city-engagement/internal/metrics"
)

const maxUserIDLength = 64

// EngagementService records user actions and serves profiles
type EngagementService struct {
	pipeline *engine.Pipeline
	store    ProfileStore
	boards   *LeaderboardManager
	hub      Notifier
	locks    *stripedLock
	config   *config.EngineConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngagementService creates a new engagement service
func NewEngagementService(
	pipeline *engine.Pipeline,
	store ProfileStore,
	boards *LeaderboardManager,
	cfg *config.EngineConfig,
	logger *slog.Logger,
) *EngagementService {
	return &EngagementService{
		pipeline: pipeline,
		store:    store,
		boards:   boards,
		locks:    newStripedLock(cfg.LockStripes),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// SetHub sets the notifier that receives committed changes
func (s *EngagementService) SetHub(hub Notifier) {
	s.hub = hub
}

// Catalog returns the active catalog
func (s *EngagementService) Catalog() *catalog.Catalog {
	return s.pipeline.Catalog()
}

// Leaderboards returns the leaderboard manager
func (s *EngagementService) Leaderboards() *LeaderboardManager {
	return s.boards
}

// commit is the result of one successful attempt
type commit struct {
	profile   *domain.Profile
	outcome   domain.Outcome
	saved     bool
	duplicate bool
}

// mutation applies a change to a loaded profile. A nil record means there is
// nothing to persist.
type mutation func(p *domain.Profile) (domain.Outcome, *domain.ActionRecord, error)

func withRetry[T any](ctx context.Context, cfg *config.EngineConfig, op backoff.Operation[T]) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInitialInterval
	b.MaxInterval = cfg.RetryMaxInterval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxAttempts)),
	)
}

func validateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidRequest)
	}
	if len(userID) > maxUserIDLength {
		return fmt.Errorf("%w: user id longer than %d bytes", domain.ErrInvalidRequest, maxUserIDLength)
	}
	return nil
}

// RecordAction runs one action through the pipeline and commits it
func (s *EngagementService) RecordAction(ctx context.Context, ev domain.ActionEvent) (*domain.RecordResult, error) {
	start := time.Now()
	defer func() { metrics.RecordDuration.Observe(time.Since(start).Seconds()) }()

	if err := s.pipeline.Validate(ev); err != nil {
		metrics.ActionsTotal.WithLabelValues(string(ev.Action), metrics.OutcomeRejected).Inc()
		return nil, err
	}
	if err := validateUserID(ev.UserID); err != nil {
		metrics.ActionsTotal.WithLabelValues(string(ev.Action), metrics.OutcomeRejected).Inc()
		return nil, err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}

	unlock := s.locks.lock(ev.UserID)
	defer unlock()

	fresh := func() *domain.Profile {
		return domain.NewProfile(ev.UserID, ev.DisplayName, ev.OccurredAt)
	}
	c, err := s.commit(ctx, ev.UserID, ev.IdempotencyKey, fresh, func(p *domain.Profile) (domain.Outcome, *domain.ActionRecord, error) {
		outcome, err := s.pipeline.Apply(p, ev)
		if err != nil {
			return outcome, nil, err
		}
		return outcome, &domain.ActionRecord{
			IdempotencyKey: ev.IdempotencyKey,
			UserID:         ev.UserID,
			Action:         ev.Action,
			PointsAwarded:  outcome.PointsAwarded,
			NewBadges:      outcome.NewBadges,
			OccurredAt:     ev.OccurredAt,
		}, nil
	})
	if err != nil {
		err = s.classify(ev.UserID, err)
		outcome := metrics.OutcomeRejected
		if domain.IsUnavailableError(err) {
			outcome = metrics.OutcomeUnavailable
		}
		metrics.ActionsTotal.WithLabelValues(string(ev.Action), outcome).Inc()
		return nil, err
	}

	if c.duplicate {
		metrics.ActionsTotal.WithLabelValues(string(ev.Action), metrics.OutcomeDuplicate).Inc()
		s.logger.Debug("duplicate action ignored", "user_id", ev.UserID, "idempotency_key", ev.IdempotencyKey)
		return duplicateResult(c.profile), nil
	}

	metrics.ActionsTotal.WithLabelValues(string(ev.Action), metrics.OutcomeRecorded).Inc()
	s.observe(c.outcome)
	return s.publish(ctx, c, ev.OccurredAt), nil
}

// GrantSpecialEvent unlocks the badges tied to an out-of-band event
func (s *EngagementService) GrantSpecialEvent(ctx context.Context, userID, eventID string) (*domain.RecordResult, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	if !s.pipeline.Catalog().HasSpecialEvent(eventID) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownSpecialEvent, eventID)
	}
	at := s.now()

	unlock := s.locks.lock(userID)
	defer unlock()

	fresh := func() *domain.Profile {
		p := domain.EmptyProfile(userID)
		p.JoinedAt = at
		p.LastActive = at
		return p
	}
	c, err := s.commit(ctx, userID, "", fresh, func(p *domain.Profile) (domain.Outcome, *domain.ActionRecord, error) {
		outcome, err := s.pipeline.ApplySpecialEvent(p, eventID, at)
		if err != nil || len(outcome.NewBadges) == 0 {
			return outcome, nil, err
		}
		return outcome, &domain.ActionRecord{
			UserID:        userID,
			Action:        domain.ActionType("special_event:" + eventID),
			PointsAwarded: outcome.PointsAwarded,
			NewBadges:     outcome.NewBadges,
			OccurredAt:    at,
		}, nil
	})
	if err != nil {
		return nil, s.classify(userID, err)
	}
	if !c.saved {
		return s.result(c.profile, c.outcome, nil), nil
	}

	s.observe(c.outcome)
	return s.publish(ctx, c, at), nil
}

// commit loads the profile, applies fn and saves it, retrying conflicts and
// storage errors with backoff. The caller holds the user's lock.
func (s *EngagementService) commit(ctx context.Context, userID, idempotencyKey string, fresh func() *domain.Profile, fn mutation) (*commit, error) {
	// pending is the last save that failed without a definite answer; it may
	// have been committed anyway
	var pending *commit

	return withRetry(ctx, s.config, func() (*commit, error) {
		if idempotencyKey != "" {
			seen, err := s.store.HasAction(ctx, idempotencyKey)
			if err != nil {
				return nil, s.retrying("storage", userID, err)
			}
			if seen {
				return s.settle(ctx, userID, idempotencyKey, pending)
			}
		}

		p, err := s.store.Get(ctx, userID)
		switch {
		case errors.Is(err, domain.ErrProfileNotFound):
			p = fresh()
		case err != nil:
			return nil, s.retrying("storage", userID, err)
		default:
			s.normalize(p)
		}

		outcome, rec, err := fn(p)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if rec == nil {
			if pending != nil {
				// Nothing left to apply, so the earlier save went through
				return &commit{profile: p, outcome: pending.outcome, saved: true}, nil
			}
			return &commit{profile: p, outcome: outcome}, nil
		}

		if err := s.store.Save(ctx, p, rec); err != nil {
			switch {
			case errors.Is(err, domain.ErrDuplicateAction):
				return s.settle(ctx, userID, idempotencyKey, pending)
			case errors.Is(err, domain.ErrConcurrentModification):
				return nil, s.retrying("conflict", userID, err)
			default:
				pending = &commit{profile: p, outcome: outcome}
				return nil, s.retrying("storage", userID, err)
			}
		}
		return &commit{profile: p, outcome: outcome, saved: true}, nil
	})
}

// settle resolves a key that is already committed. When this call has a
// pending save for the user, the stored record is ours and the commit is
// rebuilt from it so the boards still see the change.
func (s *EngagementService) settle(ctx context.Context, userID, idempotencyKey string, pending *commit) (*commit, error) {
	if pending == nil {
		return s.duplicate(ctx, userID)
	}
	rec, err := s.store.GetAction(ctx, idempotencyKey)
	if err != nil {
		return nil, s.retrying("storage", userID, err)
	}
	if rec.UserID != userID {
		return s.duplicate(ctx, userID)
	}
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, s.retrying("storage", userID, err)
	}
	s.normalize(p)

	outcome := pending.outcome
	outcome.PointsAwarded = rec.PointsAwarded
	outcome.NewBadges = rec.NewBadges
	s.logger.Info("recovered committed action after failed save", "user_id", userID, "idempotency_key", idempotencyKey)
	return &commit{profile: p, outcome: outcome, saved: true}, nil
}

func (s *EngagementService) retrying(reason, userID string, err error) error {
	metrics.CommitRetriesTotal.WithLabelValues(reason).Inc()
	s.logger.Debug("profile commit failed, retrying", "user_id", userID, "reason", reason, "error", err)
	return err
}

func (s *EngagementService) duplicate(ctx context.Context, userID string) (*commit, error) {
	p, err := s.store.Get(ctx, userID)
	if errors.Is(err, domain.ErrProfileNotFound) {
		p, err = domain.EmptyProfile(userID), nil
	}
	if err != nil {
		return nil, s.retrying("storage", userID, err)
	}
	return &commit{profile: p, duplicate: true}, nil
}

// classify maps an exhausted or permanent failure to the public error set
func (s *EngagementService) classify(userID string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case domain.IsClientError(err), errors.Is(err, domain.ErrInvariantViolation):
		return err
	case errors.Is(err, domain.ErrConcurrentModification):
		s.logger.Warn("profile commit conflicts exhausted", "user_id", userID, "error", err)
		return fmt.Errorf("%w: profile %s: %v", domain.ErrServiceUnavailable, userID, err)
	default:
		s.logger.Error("profile storage unavailable", "user_id", userID, "error", err)
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
}

// normalize repairs a stored profile and reports anything it had to fix
func (s *EngagementService) normalize(p *domain.Profile) {
	if dropped := s.pipeline.Normalize(p); len(dropped) > 0 {
		metrics.InvariantViolations.WithLabelValues("duplicate_badge").Add(float64(len(dropped)))
		s.logger.Error("duplicate badges in stored profile", "user_id", p.UserID, "badges", dropped)
	}
}

func (s *EngagementService) observe(o domain.Outcome) {
	metrics.PointsAwardedTotal.WithLabelValues("base").Add(float64(o.BasePoints))
	metrics.PointsAwardedTotal.WithLabelValues("streak").Add(float64(o.StreakBonus))
	metrics.PointsAwardedTotal.WithLabelValues("badge").Add(float64(o.BadgePoints))
	for _, id := range o.NewBadges {
		metrics.BadgesUnlockedTotal.WithLabelValues(id).Inc()
	}
	if o.LeveledUp {
		metrics.LevelUpsTotal.WithLabelValues(string(o.Level)).Inc()
	}
}

// publish updates the boards and notifies subscribers. Both are best effort.
// It runs under the user's lock so one user's board writes cannot reorder.
func (s *EngagementService) publish(ctx context.Context, c *commit, at time.Time) *domain.RecordResult {
	ranks, err := s.boards.Upsert(ctx, c.profile, c.outcome.PointsAwarded, at)
	if err != nil {
		s.logger.Warn("leaderboard update failed", "user_id", c.profile.UserID, "error", err)
	}

	result := s.result(c.profile, c.outcome, ranks)
	if s.hub != nil {
		s.hub.PublishProfile(c.profile, result)
		if len(ranks) > 0 {
			s.hub.PublishRanks(domain.EntryFromProfile(c.profile), ranks)
		}
	}
	return result
}

func (s *EngagementService) result(p *domain.Profile, o domain.Outcome, ranks map[domain.Period]domain.RankChange) *domain.RecordResult {
	newBadges := o.NewBadges
	if newBadges == nil {
		newBadges = []string{}
	}
	return &domain.RecordResult{
		UserID:        p.UserID,
		PointsAwarded: o.PointsAwarded,
		TotalPoints:   p.Points,
		Level:         p.Level,
		NewBadges:     newBadges,
		LeveledUp:     o.LeveledUp,
		Streak:        p.Streak,
		Ranks:         ranks,
	}
}

func duplicateResult(p *domain.Profile) *domain.RecordResult {
	return &domain.RecordResult{
		UserID:      p.UserID,
		TotalPoints: p.Points,
		Level:       p.Level,
		NewBadges:   []string{},
		Streak:      p.Streak,
		Duplicate:   true,
	}
}

// GetProfile returns a user's profile, or the zero-state profile for users
// with no recorded activity
func (s *EngagementService) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	p, err := withRetry(ctx, s.config, func() (*domain.Profile, error) {
		p, err := s.store.Get(ctx, userID)
		if errors.Is(err, domain.ErrProfileNotFound) {
			return nil, backoff.Permanent(err)
		}
		return p, err
	})
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) {
			return domain.EmptyProfile(userID), nil
		}
		return nil, s.classify(userID, err)
	}
	s.normalize(p)
	return p, nil
}
