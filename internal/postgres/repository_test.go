package postgres

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/city-engagement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRow replays column values the way pgx would scan them
type fakeRow struct {
	values []interface{}
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(r.values))
	}
	for i, v := range r.values {
		target := reflect.ValueOf(dest[i]).Elem()
		value := reflect.ValueOf(v)
		switch {
		case !value.IsValid() || (value.Kind() == reflect.Ptr && value.IsNil()):
			target.Set(reflect.Zero(target.Type()))
		case value.Type().AssignableTo(target.Type()):
			target.Set(value)
		case value.Type().ConvertibleTo(target.Type()):
			target.Set(value.Convert(target.Type()))
		default:
			return fmt.Errorf("scan: column %d: cannot assign %T to %s", i, v, target.Type())
		}
	}
	return nil
}

func TestProfileColumns(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	p := domain.NewProfile("alice", "Alice", at)
	p.Points = 230
	p.Level = domain.LevelExpert
	p.Stats.Reviews = 3
	p.Badges = []domain.UnlockedBadge{{BadgeID: "first_review", UnlockedAt: at}}
	p.DailyActions = domain.DailyActions{Day: "2026-03-02", Counts: map[domain.ActionType]int{domain.ActionReview: 3}}

	args, err := profileArgs(p, 4)
	require.NoError(t, err)
	assert.Len(t, args, len(strings.Split(profileColumns, ",")))

	got, err := scanProfile(fakeRow{values: args})
	require.NoError(t, err)

	p.Version = 4
	assert.Equal(t, p, got)
}

func TestProfileColumns_NeverActive(t *testing.T) {
	p := domain.EmptyProfile("bob")
	p.JoinedAt = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	p.LastActive = p.JoinedAt

	args, err := profileArgs(p, 1)
	require.NoError(t, err)
	assert.Nil(t, args[6])

	got, err := scanProfile(fakeRow{values: args})
	require.NoError(t, err)
	assert.True(t, got.Streak.LastActivityDate.IsZero())
	assert.Equal(t, []domain.UnlockedBadge{}, got.Badges)
}

func TestMigrations(t *testing.T) {
	schema := strings.Join(Migrations, "\n")
	assert.Contains(t, schema, "idempotency_key VARCHAR(255) UNIQUE")
	assert.Contains(t, schema, "version BIGINT")
}
