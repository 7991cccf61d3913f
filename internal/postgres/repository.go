package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL-based profile storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Migrations lists the schema statements in execution order
var Migrations = []string{
	`CREATE TABLE IF NOT EXISTS engagement_profiles (
		user_id VARCHAR(64) PRIMARY KEY,
		display_name VARCHAR(255) NOT NULL DEFAULT '',
		points BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
		level VARCHAR(32) NOT NULL,
		streak_current INT NOT NULL DEFAULT 0,
		streak_longest INT NOT NULL DEFAULT 0,
		last_activity_date TIMESTAMPTZ,
		stats JSONB NOT NULL DEFAULT '{}',
		badges JSONB NOT NULL DEFAULT '[]',
		daily_actions JSONB NOT NULL DEFAULT '{}',
		joined_at TIMESTAMPTZ NOT NULL,
		last_active TIMESTAMPTZ NOT NULL,
		version BIGINT NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS engagement_action_events (
		id BIGSERIAL PRIMARY KEY,
		idempotency_key VARCHAR(255) UNIQUE,
		user_id VARCHAR(64) NOT NULL,
		action VARCHAR(64) NOT NULL,
		points_awarded BIGINT NOT NULL,
		new_badges JSONB NOT NULL DEFAULT '[]',
		occurred_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_engagement_profiles_points ON engagement_profiles(points DESC, user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_engagement_events_user ON engagement_action_events(user_id, occurred_at DESC)`,
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	for _, migration := range Migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

const profileColumns = `user_id, display_name, points, level, streak_current, streak_longest,
	last_activity_date, stats, badges, daily_actions, joined_at, last_active, version`

// profileArgs returns column values in profileColumns order
func profileArgs(p *domain.Profile, version int64) ([]interface{}, error) {
	stats, err := json.Marshal(p.Stats)
	if err != nil {
		return nil, fmt.Errorf("marshaling stats: %w", err)
	}
	badges, err := json.Marshal(p.Badges)
	if err != nil {
		return nil, fmt.Errorf("marshaling badges: %w", err)
	}
	daily, err := json.Marshal(p.DailyActions)
	if err != nil {
		return nil, fmt.Errorf("marshaling daily actions: %w", err)
	}
	var lastActivity *time.Time
	if !p.Streak.LastActivityDate.IsZero() {
		t := p.Streak.LastActivityDate
		lastActivity = &t
	}
	return []interface{}{
		p.UserID,
		p.DisplayName,
		p.Points,
		string(p.Level),
		p.Streak.Current,
		p.Streak.Longest,
		lastActivity,
		stats,
		badges,
		daily,
		p.JoinedAt,
		p.LastActive,
		version,
	}, nil
}

func scanProfile(row pgx.Row) (*domain.Profile, error) {
	var (
		p                    domain.Profile
		level                string
		lastActivity         *time.Time
		stats, badges, daily []byte
	)
	err := row.Scan(
		&p.UserID,
		&p.DisplayName,
		&p.Points,
		&level,
		&p.Streak.Current,
		&p.Streak.Longest,
		&lastActivity,
		&stats,
		&badges,
		&daily,
		&p.JoinedAt,
		&p.LastActive,
		&p.Version,
	)
	if err != nil {
		return nil, err
	}
	p.Level = domain.Level(level)
	if lastActivity != nil {
		p.Streak.LastActivityDate = *lastActivity
	}
	if err := json.Unmarshal(stats, &p.Stats); err != nil {
		return nil, fmt.Errorf("unmarshaling stats: %w", err)
	}
	if err := json.Unmarshal(badges, &p.Badges); err != nil {
		return nil, fmt.Errorf("unmarshaling badges: %w", err)
	}
	if p.Badges == nil {
		p.Badges = []domain.UnlockedBadge{}
	}
	if err := json.Unmarshal(daily, &p.DailyActions); err != nil {
		return nil, fmt.Errorf("unmarshaling daily actions: %w", err)
	}
	return &p, nil
}

// Get retrieves a profile by user ID
func (r *Repository) Get(ctx context.Context, userID string) (*domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM engagement_profiles WHERE user_id = $1`
	p, err := scanProfile(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrProfileNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}
	return p, nil
}

// Save commits a profile and its action record in one transaction
func (r *Repository) Save(ctx context.Context, p *domain.Profile, rec *domain.ActionRecord) error {
	next := p.Version + 1
	args, err := profileArgs(p, next)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if rec != nil {
		if err := r.recordAction(ctx, tx, rec); err != nil {
			return err
		}
	}

	var query string
	if p.Version == 0 {
		query = `
			INSERT INTO engagement_profiles (` + profileColumns + `, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
			ON CONFLICT (user_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE engagement_profiles SET
				display_name = $2, points = $3, level = $4,
				streak_current = $5, streak_longest = $6, last_activity_date = $7,
				stats = $8, badges = $9, daily_actions = $10,
				joined_at = $11, last_active = $12, version = $13, updated_at = NOW()
			WHERE user_id = $1 AND version = $14
		`
		args = append(args, p.Version)
	}

	result, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrConcurrentModification
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing profile: %w", err)
	}
	p.Version = next
	return nil
}

// recordAction inserts the audit row; a repeated idempotency key is a duplicate
func (r *Repository) recordAction(ctx context.Context, tx pgx.Tx, rec *domain.ActionRecord) error {
	badges, err := json.Marshal(rec.NewBadges)
	if err != nil {
		return fmt.Errorf("marshaling badges: %w", err)
	}
	var key *string
	if rec.IdempotencyKey != "" {
		key = &rec.IdempotencyKey
	}

	query := `
		INSERT INTO engagement_action_events (idempotency_key, user_id, action, points_awarded, new_badges, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	result, err := tx.Exec(ctx, query, key, rec.UserID, string(rec.Action), rec.PointsAwarded, badges, rec.OccurredAt)
	if err != nil {
		return fmt.Errorf("recording action: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrDuplicateAction
	}
	return nil
}

// HasAction reports whether an action with the key was committed
func (r *Repository) HasAction(ctx context.Context, idempotencyKey string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM engagement_action_events WHERE idempotency_key = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, idempotencyKey).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking action existence: %w", err)
	}
	return exists, nil
}

// GetAction returns the committed record for the key
func (r *Repository) GetAction(ctx context.Context, idempotencyKey string) (*domain.ActionRecord, error) {
	query := `
		SELECT idempotency_key, user_id, action, points_awarded, new_badges, occurred_at
		FROM engagement_action_events WHERE idempotency_key = $1
	`
	var (
		rec    domain.ActionRecord
		action string
		badges []byte
	)
	err := r.pool.QueryRow(ctx, query, idempotencyKey).Scan(
		&rec.IdempotencyKey, &rec.UserID, &action, &rec.PointsAwarded, &badges, &rec.OccurredAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActionNotFound
		}
		return nil, fmt.Errorf("getting action: %w", err)
	}
	rec.Action = domain.ActionType(action)
	if err := json.Unmarshal(badges, &rec.NewBadges); err != nil {
		return nil, fmt.Errorf("unmarshaling badges: %w", err)
	}
	return &rec, nil
}

// List returns up to limit profiles ordered by user id, starting after afterUserID
func (r *Repository) List(ctx context.Context, afterUserID string, limit int) ([]*domain.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM engagement_profiles
		WHERE user_id > $1 ORDER BY user_id LIMIT $2`
	rows, err := r.pool.Query(ctx, query, afterUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*domain.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating profiles: %w", err)
	}
	return profiles, nil
}
