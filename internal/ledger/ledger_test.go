package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/internal/store/memory"
)

func TestDebitNeverGoesNegative(t *testing.T) {
	for _, amount := range []int64{0, -5, 51, 1000} {
		u := &domain.User{ID: "u1", Points: 50}
		err := Debit(u, amount)
		assert.ErrorIs(t, err, domain.ErrInsufficientFunds, "amount %d", amount)
		assert.Equal(t, int64(50), u.Points)
	}

	u := &domain.User{ID: "u1", Points: 50}
	require.NoError(t, Debit(u, 50))
	assert.Zero(t, u.Points)
}

func TestCredit(t *testing.T) {
	u := &domain.User{ID: "u1"}
	assert.ErrorIs(t, Credit(u, 0), domain.ErrInvalidAmount)
	require.NoError(t, Credit(u, 7))
	assert.Equal(t, int64(7), u.Points)
}

func TestHoldAndRelease(t *testing.T) {
	u := &domain.User{ID: "u1", Points: 30}
	require.NoError(t, Hold(u, 20))
	assert.Equal(t, int64(10), u.Points)
	assert.Equal(t, int64(20), u.PendingBalance)

	assert.ErrorIs(t, Hold(u, 11), domain.ErrInsufficientFunds)
	assert.ErrorIs(t, Release(u, 21), domain.ErrInvalidAmount)
	require.NoError(t, Release(u, 20))
	assert.Zero(t, u.PendingBalance)
}

func TestApplyWritesEntryInSameTransaction(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	now := time.Now().UTC()
	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		_, err := tx.Users().Add(ctx, &domain.User{ID: "u1", Points: 5})
		return err
	}))

	err := s.Within(ctx, func(tx store.Tx) error {
		_, err := Apply(ctx, tx, Op{UserID: "u1", Type: domain.EntryDebit, Amount: 6, Reason: "bet"}, now)
		return err
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		u, err := Apply(ctx, tx, Op{UserID: "u1", Type: domain.EntryCredit, Amount: 10, Reason: "reward", Reference: "tx-9"}, now)
		require.NoError(t, err)
		assert.Equal(t, int64(15), u.Points)
		return nil
	}))

	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		entries, err := tx.Ledger().ByUser(ctx, "u1", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, domain.EntryCredit, entries[0].Type)
		assert.Equal(t, int64(15), entries[0].Balance)
		assert.Equal(t, "tx-9", entries[0].Reference)
		return nil
	}))
}

func TestApplyUnknownUser(t *testing.T) {
	ctx := context.Background()
	err := memory.New().Within(ctx, func(tx store.Tx) error {
		_, err := Apply(ctx, tx, Op{UserID: "ghost", Type: domain.EntryCredit, Amount: 1}, time.Now())
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
