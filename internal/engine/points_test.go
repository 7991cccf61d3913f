package engine

import (
	"testing"
	"time"

	"github.com/city-engagement/internal/catalog"
	"github.com/city-engagement/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ApplyAction(t *testing.T) {
	c := catalog.Default()

	t.Run("BasePointsAndStat", func(t *testing.T) {
		ledger := NewLedger(c, time.UTC, false)
		p := domain.NewProfile("u1", "", day(1))

		award, err := ledger.ApplyAction(p, domain.ActionShare, nil, day(1))
		require.NoError(t, err)
		assert.Equal(t, int64(3), award.Points)
		assert.Equal(t, int64(3), p.Points)
		assert.Equal(t, int64(1), p.Stats.Shares)
		assert.Zero(t, p.Stats.Reviews)
	})

	t.Run("Override", func(t *testing.T) {
		ledger := NewLedger(c, time.UTC, false)
		p := domain.NewProfile("u1", "", day(1))

		bonus := int64(42)
		award, err := ledger.ApplyAction(p, domain.ActionReview, &bonus, day(1))
		require.NoError(t, err)
		assert.Equal(t, int64(42), award.Points)
		assert.Equal(t, int64(1), p.Stats.Reviews)

		zero := int64(0)
		_, err = ledger.ApplyAction(p, domain.ActionReview, &zero, day(1))
		require.NoError(t, err)
		assert.Equal(t, int64(42), p.Points)
		assert.Equal(t, int64(2), p.Stats.Reviews)
	})

	t.Run("RejectedActionsDoNotMutate", func(t *testing.T) {
		ledger := NewLedger(c, time.UTC, true)
		p := domain.NewProfile("u1", "", day(1))
		p.Points = 17
		before := p.Clone()

		_, err := ledger.ApplyAction(p, domain.ActionType("check_in"), nil, day(1))
		assert.ErrorIs(t, err, domain.ErrUnknownActionType)

		negative := int64(-5)
		_, err = ledger.ApplyAction(p, domain.ActionReview, &negative, day(1))
		assert.ErrorIs(t, err, domain.ErrInvalidPoints)

		assert.Equal(t, before, p)
	})

	t.Run("DailyLimitNotEnforcedByDefault", func(t *testing.T) {
		ledger := NewLedger(c, time.UTC, false)
		p := domain.NewProfile("u1", "", day(1))
		for i := 0; i < 8; i++ {
			award, err := ledger.ApplyAction(p, domain.ActionReview, nil, day(1))
			require.NoError(t, err)
			assert.False(t, award.Limited)
		}
		assert.Equal(t, int64(80), p.Points)
		assert.Equal(t, 8, p.DailyActions.Counts[domain.ActionReview])
	})

	t.Run("DailyLimitEnforced", func(t *testing.T) {
		ledger := NewLedger(c, time.UTC, true)
		p := domain.NewProfile("u1", "", day(1))
		for i := 0; i < 5; i++ {
			_, err := ledger.ApplyAction(p, domain.ActionReview, nil, day(1))
			require.NoError(t, err)
		}

		award, err := ledger.ApplyAction(p, domain.ActionReview, nil, day(1))
		require.NoError(t, err)
		assert.True(t, award.Limited)
		assert.Zero(t, award.Points)
		assert.Equal(t, int64(50), p.Points)
		assert.Equal(t, int64(6), p.Stats.Reviews)

		award, err = ledger.ApplyAction(p, domain.ActionReview, nil, day(2))
		require.NoError(t, err)
		assert.False(t, award.Limited)
		assert.Equal(t, int64(60), p.Points)
		assert.Equal(t, "2026-03-02", p.DailyActions.Day)
		assert.Equal(t, 1, p.DailyActions.Counts[domain.ActionReview])
	})
}

func TestLedger_Grant(t *testing.T) {
	ledger := NewLedger(catalog.Default(), time.UTC, false)
	p := domain.NewProfile("u1", "", day(1))

	require.NoError(t, ledger.Grant(p, 25))
	assert.Equal(t, int64(25), p.Points)
	assert.ErrorIs(t, ledger.Grant(p, -1), domain.ErrInvalidPoints)
	assert.Equal(t, int64(25), p.Points)
}
