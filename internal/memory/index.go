package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/city-engagement/internal/domain"
)

// RankIndex is an in-process ranking index. Each bucket keeps its entries in
// a slice sorted by points desc, userID asc, so rank lookups are a binary
// search and reads are served under the read lock. Writes shift the slice
// and are O(n); the Redis index is the O(log n) path.
type RankIndex struct {
	mu     sync.RWMutex
	boards map[string]*board
	now    func() time.Time
}

type board struct {
	order     []*domain.LeaderboardEntry
	byUser    map[string]*domain.LeaderboardEntry
	baseRank  map[string]int64
	updatedAt time.Time
	expiresAt time.Time
}

// NewRankIndex creates an empty index
func NewRankIndex() *RankIndex {
	return &RankIndex{
		boards: make(map[string]*board),
		now:    time.Now,
	}
}

func ranksBefore(a, b *domain.LeaderboardEntry) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	return a.UserID < b.UserID
}

// position is the index of e, or where e would be inserted
func (b *board) position(e *domain.LeaderboardEntry) int {
	return sort.Search(len(b.order), func(i int) bool {
		return !ranksBefore(b.order[i], e)
	})
}

func (b *board) remove(e *domain.LeaderboardEntry) int {
	i := b.position(e)
	b.order = append(b.order[:i], b.order[i+1:]...)
	delete(b.byUser, e.UserID)
	return i
}

func (b *board) insert(e *domain.LeaderboardEntry) int {
	i := b.position(e)
	b.order = append(b.order, nil)
	copy(b.order[i+1:], b.order[i:])
	b.order[i] = e
	b.byUser[e.UserID] = e
	return i
}

func (b *board) expired(now time.Time) bool {
	return !b.expiresAt.IsZero() && now.After(b.expiresAt)
}

// lookup returns a live board or nil
func (idx *RankIndex) lookup(bucket string) *board {
	b, ok := idx.boards[bucket]
	if !ok || b.expired(idx.now()) {
		return nil
	}
	return b
}

// writable returns the bucket's board, creating it if needed. Creating a
// board also drops every expired one, so past periods do not accumulate.
func (idx *RankIndex) writable(bucket string) *board {
	if b := idx.lookup(bucket); b != nil {
		return b
	}
	now := idx.now()
	for key, old := range idx.boards {
		if old.expired(now) {
			delete(idx.boards, key)
		}
	}
	b := &board{
		byUser:   make(map[string]*domain.LeaderboardEntry),
		baseRank: make(map[string]int64),
	}
	idx.boards[bucket] = b
	return b
}

func (idx *RankIndex) upsertLocked(bucket string, m domain.RankMutation) domain.RankChange {
	b := idx.writable(bucket)

	points := m.Entry.Points
	if m.Increment {
		points = m.Delta
	}
	var previous int64
	if existing, ok := b.byUser[m.Entry.UserID]; ok {
		previous = int64(b.remove(existing) + 1)
		switch {
		case m.Increment:
			points = existing.Points + m.Delta
		case points < existing.Points:
			points = existing.Points
		}
	}

	entry := m.Entry
	entry.Points = points
	entry.Rank = 0
	entry.RankDelta = 0
	current := int64(b.insert(&entry) + 1)

	change := domain.NewRankChange(previous, current, points)
	b.baseRank[entry.UserID] = change.BaseRank()
	if m.At.After(b.updatedAt) {
		b.updatedAt = m.At
	}
	if m.TTL > 0 {
		b.expiresAt = idx.now().Add(m.TTL)
	}
	return change
}

// Upsert applies one mutation and reports the rank movement
func (idx *RankIndex) Upsert(ctx context.Context, bucket string, m domain.RankMutation) (domain.RankChange, error) {
	if err := ctx.Err(); err != nil {
		return domain.RankChange{}, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.upsertLocked(bucket, m), nil
}

// Top returns up to limit entries starting at offset (0-indexed)
func (idx *RankIndex) Top(ctx context.Context, bucket string, offset, limit int) ([]domain.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	b := idx.lookup(bucket)
	if b == nil || offset >= len(b.order) || limit <= 0 {
		return []domain.LeaderboardEntry{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(b.order) {
		end = len(b.order)
	}

	entries := make([]domain.LeaderboardEntry, 0, end-offset)
	for i := offset; i < end; i++ {
		e := *b.order[i]
		e.Rank = int64(i + 1)
		e.RankDelta = domain.RankMovement(b.baseRank[e.UserID], e.Rank)
		entries = append(entries, e)
	}
	return entries, nil
}

// Entry returns a user's ranked entry or domain.ErrUserNotRanked
func (idx *RankIndex) Entry(ctx context.Context, bucket, userID string) (*domain.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	b := idx.lookup(bucket)
	if b == nil {
		return nil, domain.ErrUserNotRanked
	}
	existing, ok := b.byUser[userID]
	if !ok {
		return nil, domain.ErrUserNotRanked
	}
	e := *existing
	e.Rank = int64(b.position(existing) + 1)
	e.RankDelta = domain.RankMovement(b.baseRank[userID], e.Rank)
	return &e, nil
}

// Count returns the number of ranked users in a bucket
func (idx *RankIndex) Count(ctx context.Context, bucket string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if b := idx.lookup(bucket); b != nil {
		return int64(len(b.order)), nil
	}
	return 0, nil
}

// UpdatedAt returns the time of the latest write to a bucket
func (idx *RankIndex) UpdatedAt(ctx context.Context, bucket string) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if b := idx.lookup(bucket); b != nil {
		return b.updatedAt, nil
	}
	return time.Time{}, nil
}

// Reconcile writes entries that are missing or behind the given points
func (idx *RankIndex) Reconcile(ctx context.Context, bucket string, entries []domain.LeaderboardEntry, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	b := idx.writable(bucket)
	written := 0
	for _, e := range entries {
		if existing, ok := b.byUser[e.UserID]; ok && existing.Points >= e.Points {
			continue
		}
		idx.upsertLocked(bucket, domain.RankMutation{Entry: e, At: at})
		written++
	}
	return written, nil
}
