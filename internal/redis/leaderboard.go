package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/city-engagement/internal/config"
	"github.com/city-engagement/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RankIndex stores leaderboard buckets in Redis sorted sets.
// Scores are negated points so that ascending ZRANGE order is points desc
// with ties broken by member (user id) asc.
type RankIndex struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRankIndex connects to Redis and returns a ranking index
func NewRankIndex(cfg *config.RedisConfig, logger *slog.Logger) (*RankIndex, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRankIndexWithClient(client, logger), nil
}

// NewRankIndexWithClient wraps an existing client
func NewRankIndexWithClient(client *redis.Client, logger *slog.Logger) *RankIndex {
	return &RankIndex{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (s *RankIndex) Close() error {
	return s.client.Close()
}

// Ping checks the connection
func (s *RankIndex) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// rankKey returns the Redis key for a bucket's sorted set
func (s *RankIndex) rankKey(bucket string) string {
	return fmt.Sprintf("engagement:board:%s:rank", bucket)
}

// entriesKey returns the Redis key for a bucket's entry metadata hash
func (s *RankIndex) entriesKey(bucket string) string {
	return fmt.Sprintf("engagement:board:%s:entries", bucket)
}

// metaKey returns the Redis key for bucket metadata
func (s *RankIndex) metaKey(bucket string) string {
	return fmt.Sprintf("engagement:board:%s:meta", bucket)
}

// entryMeta is the per-user metadata kept next to the sorted set. BaseRank
// is set on the user's own writes; rank_delta is derived from it on read.
type entryMeta struct {
	DisplayName string       `json:"display_name,omitempty"`
	Level       domain.Level `json:"level"`
	BaseRank    int64        `json:"base_rank,omitempty"`
	BadgeCount  int          `json:"badge_count"`
}

func encodeMeta(e domain.LeaderboardEntry, baseRank int64) (string, error) {
	data, err := json.Marshal(entryMeta{
		DisplayName: e.DisplayName,
		Level:       e.Level,
		BaseRank:    baseRank,
		BadgeCount:  e.BadgeCount,
	})
	if err != nil {
		return "", fmt.Errorf("encoding entry metadata: %w", err)
	}
	return string(data), nil
}

// decodeEntry builds a ranked entry from its sorted set score and metadata
func (s *RankIndex) decodeEntry(userID string, score float64, rank int64, raw interface{}) domain.LeaderboardEntry {
	entry := domain.LeaderboardEntry{
		UserID: userID,
		Points: int64(-score),
		Rank:   rank,
	}
	str, ok := raw.(string)
	if !ok || str == "" {
		return entry
	}
	var meta entryMeta
	if err := json.Unmarshal([]byte(str), &meta); err != nil {
		s.logger.Warn("invalid entry metadata", "user_id", userID, "error", err)
		return entry
	}
	entry.DisplayName = meta.DisplayName
	entry.Level = meta.Level
	entry.RankDelta = domain.RankMovement(meta.BaseRank, rank)
	entry.BadgeCount = meta.BadgeCount
	return entry
}

// rankOf converts a ZRANK result to a 1-indexed rank, 0 when absent
func rankOf(cmd *redis.IntCmd) (int64, error) {
	rank, err := cmd.Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rank + 1, nil
}

// Upsert writes one mutation and reports the rank movement
func (s *RankIndex) Upsert(ctx context.Context, bucket string, m domain.RankMutation) (domain.RankChange, error) {
	key := s.rankKey(bucket)
	member := m.Entry.UserID

	pipe := s.client.TxPipeline()
	prevCmd := pipe.ZRank(ctx, key, member)
	if m.Increment {
		pipe.ZIncrBy(ctx, key, float64(-m.Delta), member)
	} else {
		// LT on negated scores only ever raises points
		pipe.ZAddLT(ctx, key, redis.Z{Score: float64(-m.Entry.Points), Member: member})
	}
	newCmd := pipe.ZRank(ctx, key, member)
	scoreCmd := pipe.ZScore(ctx, key, member)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.RankChange{}, fmt.Errorf("updating rank: %w", err)
	}

	previous, err := rankOf(prevCmd)
	if err != nil {
		return domain.RankChange{}, fmt.Errorf("getting previous rank: %w", err)
	}
	current, err := rankOf(newCmd)
	if err != nil {
		return domain.RankChange{}, fmt.Errorf("getting new rank: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return domain.RankChange{}, fmt.Errorf("getting score: %w", err)
	}

	change := domain.NewRankChange(previous, current, int64(-score))
	encoded, err := encodeMeta(m.Entry, change.BaseRank())
	if err != nil {
		return change, err
	}
	if err := s.writeMeta(ctx, bucket, []interface{}{member, encoded}, m.At, m.TTL); err != nil {
		return change, err
	}
	return change, nil
}

// writeMeta stores user/metadata pairs and the bucket's updated_at marker
func (s *RankIndex) writeMeta(ctx context.Context, bucket string, values []interface{}, at time.Time, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	if len(values) > 0 {
		pipe.HSet(ctx, s.entriesKey(bucket), values...)
	}
	pipe.HSet(ctx, s.metaKey(bucket), "updated_at", at.UTC().Format(time.RFC3339Nano))
	if ttl > 0 {
		pipe.Expire(ctx, s.rankKey(bucket), ttl)
		pipe.Expire(ctx, s.entriesKey(bucket), ttl)
		pipe.Expire(ctx, s.metaKey(bucket), ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing entry metadata: %w", err)
	}
	return nil
}

// Top returns up to limit entries starting at offset (0-indexed)
func (s *RankIndex) Top(ctx context.Context, bucket string, offset, limit int) ([]domain.LeaderboardEntry, error) {
	if limit <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	results, err := s.client.ZRangeWithScores(ctx, s.rankKey(bucket), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}
	if len(results) == 0 {
		return []domain.LeaderboardEntry{}, nil
	}

	members := make([]string, len(results))
	for i, result := range results {
		members[i] = result.Member.(string)
	}
	metas, err := s.client.HMGet(ctx, s.entriesKey(bucket), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("getting entry metadata: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, len(results))
	for i, result := range results {
		entries[i] = s.decodeEntry(members[i], result.Score, int64(offset+i+1), metas[i])
	}
	return entries, nil
}

// Entry returns a user's ranked entry or domain.ErrUserNotRanked
func (s *RankIndex) Entry(ctx context.Context, bucket, userID string) (*domain.LeaderboardEntry, error) {
	pipe := s.client.Pipeline()
	rankCmd := pipe.ZRank(ctx, s.rankKey(bucket), userID)
	scoreCmd := pipe.ZScore(ctx, s.rankKey(bucket), userID)
	metaCmd := pipe.HGet(ctx, s.entriesKey(bucket), userID)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("getting user rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrUserNotRanked
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}
	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}
	meta, err := metaCmd.Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("getting entry metadata: %w", err)
	}

	entry := s.decodeEntry(userID, score, rank+1, meta)
	return &entry, nil
}

// Count returns the number of ranked users in a bucket
func (s *RankIndex) Count(ctx context.Context, bucket string) (int64, error) {
	count, err := s.client.ZCard(ctx, s.rankKey(bucket)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// UpdatedAt returns the time of the latest write to a bucket
func (s *RankIndex) UpdatedAt(ctx context.Context, bucket string) (time.Time, error) {
	raw, err := s.client.HGet(ctx, s.metaKey(bucket), "updated_at").Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("getting bucket meta: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return at, nil
}

// Reconcile writes entries that are missing or behind the given points
func (s *RankIndex) Reconcile(ctx context.Context, bucket string, entries []domain.LeaderboardEntry, at time.Time) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	key := s.rankKey(bucket)

	pipe := s.client.Pipeline()
	scores := make([]*redis.FloatCmd, len(entries))
	for i, e := range entries {
		scores[i] = pipe.ZScore(ctx, key, e.UserID)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return 0, fmt.Errorf("reading scores: %w", err)
	}

	stale := make([]domain.LeaderboardEntry, 0, len(entries))
	for i, e := range entries {
		score, err := scores[i].Result()
		if err != nil && err != redis.Nil {
			return 0, fmt.Errorf("reading score: %w", err)
		}
		if err == nil && int64(-score) >= e.Points {
			continue
		}
		stale = append(stale, e)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	// Batch update scores using pipelining
	pipe = s.client.Pipeline()
	for _, e := range stale {
		pipe.ZAddLT(ctx, key, redis.Z{Score: float64(-e.Points), Member: e.UserID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("batch setting scores: %w", err)
	}
	// Repaired entries carry no movement until their owner's next write
	values := make([]interface{}, 0, len(stale)*2)
	for _, e := range stale {
		encoded, err := encodeMeta(e, 0)
		if err != nil {
			return 0, err
		}
		values = append(values, e.UserID, encoded)
	}
	if err := s.writeMeta(ctx, bucket, values, at, 0); err != nil {
		return 0, err
	}
	return len(stale), nil
}
