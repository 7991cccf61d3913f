package redis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/city-engagement/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestIndex(t *testing.T) (*RankIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRankIndexWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil))), mr
}

func set(t *testing.T, idx *RankIndex, userID string, points int64) domain.RankChange {
	t.Helper()
	change, err := idx.Upsert(context.Background(), "all_time", domain.RankMutation{
		Entry: domain.LeaderboardEntry{UserID: userID, DisplayName: "User " + userID, Points: points, Level: domain.LevelExplorer, BadgeCount: 1},
		At:    at,
	})
	require.NoError(t, err)
	return change
}

func TestRankIndex_OrderingAndTies(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)
	set(t, idx, "b", 50)
	set(t, idx, "a", 120)
	set(t, idx, "c", 120)

	entries, err := idx.Top(ctx, "all_time", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "a", entries[0].UserID)
	assert.Equal(t, "c", entries[1].UserID)
	assert.Equal(t, "b", entries[2].UserID)
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Rank)
	}
	assert.Equal(t, int64(120), entries[0].Points)
	assert.Equal(t, "User a", entries[0].DisplayName)
	assert.Equal(t, 1, entries[0].BadgeCount)

	count, err := idx.Count(ctx, "all_time")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	updated, err := idx.UpdatedAt(ctx, "all_time")
	require.NoError(t, err)
	assert.True(t, updated.Equal(at))
}

func TestRankIndex_RankChange(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)
	for i, points := range []int64{500, 400, 300, 200} {
		set(t, idx, fmt.Sprintf("u%d", i), points)
	}

	first := set(t, idx, "climber", 100)
	assert.Equal(t, domain.RankChange{PreviousRank: 0, NewRank: 5, RankDelta: 0, Points: 100}, first)

	moved := set(t, idx, "climber", 450)
	assert.Equal(t, domain.RankChange{PreviousRank: 5, NewRank: 2, RankDelta: 3, Points: 450}, moved)

	entry, err := idx.Entry(ctx, "all_time", "climber")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Rank)
	assert.Equal(t, int64(3), entry.RankDelta)

	// replace mode never lowers the stored total
	stale := set(t, idx, "climber", 10)
	assert.Equal(t, int64(450), stale.Points)
	assert.Equal(t, int64(2), stale.NewRank)
}

func TestRankIndex_DisplacedEntriesReportMovement(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)
	set(t, idx, "a", 100)
	set(t, idx, "b", 50)
	set(t, idx, "a", 110)
	set(t, idx, "b", 150)

	entries, err := idx.Top(ctx, "all_time", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].UserID)
	assert.Equal(t, int64(1), entries[0].RankDelta)
	assert.Equal(t, "a", entries[1].UserID)
	assert.Equal(t, int64(-1), entries[1].RankDelta)

	entry, err := idx.Entry(ctx, "all_time", "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Rank)
	assert.Equal(t, int64(-1), entry.RankDelta)
}

func TestRankIndex_IncrementBucket(t *testing.T) {
	ctx := context.Background()
	idx, mr := newTestIndex(t)
	bucket := domain.PeriodWeekly.BucketKey(at)

	for _, delta := range []int64{10, 15} {
		_, err := idx.Upsert(ctx, bucket, domain.RankMutation{
			Entry:     domain.LeaderboardEntry{UserID: "a", Points: 5000},
			Delta:     delta,
			Increment: true,
			TTL:       domain.PeriodWeekly.BucketTTL(),
			At:        at,
		})
		require.NoError(t, err)
	}

	entry, err := idx.Entry(ctx, bucket, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(25), entry.Points)
	assert.Equal(t, domain.PeriodWeekly.BucketTTL(), mr.TTL(idx.rankKey(bucket)))
}

func TestRankIndex_NotRanked(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)

	_, err := idx.Entry(ctx, "all_time", "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotRanked)

	entries, err := idx.Top(ctx, "all_time", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	updated, err := idx.UpdatedAt(ctx, "all_time")
	require.NoError(t, err)
	assert.True(t, updated.IsZero())
}

func TestRankIndex_Reconcile(t *testing.T) {
	ctx := context.Background()
	idx, _ := newTestIndex(t)
	set(t, idx, "a", 100)
	set(t, idx, "b", 80)

	written, err := idx.Reconcile(ctx, "all_time", []domain.LeaderboardEntry{
		{UserID: "a", Points: 100},
		{UserID: "b", Points: 150},
		{UserID: "c", Points: 5},
	}, at)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	entries, err := idx.Top(ctx, "all_time", 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "b", entries[0].UserID)
	assert.Equal(t, int64(150), entries[0].Points)
	assert.Equal(t, "c", entries[2].UserID)
}

func TestRankIndex_Unavailable(t *testing.T) {
	idx, mr := newTestIndex(t)
	mr.Close()

	_, err := idx.Upsert(context.Background(), "all_time", domain.RankMutation{
		Entry: domain.LeaderboardEntry{UserID: "a", Points: 1},
		At:    at,
	})
	assert.Error(t, err)
}
