package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func validZone() ZoneParams {
	return ZoneParams{
		Ticker:      "btc",
		Currency:    CurrencyUSD,
		TargetValue: 50000,
		BetMargin:   2,
		StartDate:   t0,
		EndDate:     t0.Add(time.Hour),
		TargetOdds:  1.9,
		BetType:     BetOutside,
		Timeframe:   Timeframe1h,
	}
}

func TestNewBetZone(t *testing.T) {
	z, err := NewBetZone(validZone())
	require.NoError(t, err)
	assert.Equal(t, "BTC", z.Ticker)
	assert.True(t, z.Active)
	assert.Empty(t, z.ID)

	bad := []func(p *ZoneParams){
		func(p *ZoneParams) { p.Ticker = " " },
		func(p *ZoneParams) { p.Currency = "GBP" },
		func(p *ZoneParams) { p.TargetValue = 0 },
		func(p *ZoneParams) { p.BetMargin = 0 },
		func(p *ZoneParams) { p.EndDate = p.StartDate },
		func(p *ZoneParams) { p.TargetOdds = 0 },
		func(p *ZoneParams) { p.BetType = "ABOVE" },
		func(p *ZoneParams) { p.Timeframe = "5m" },
	}
	for i, mutate := range bad {
		p := validZone()
		mutate(&p)
		_, err := NewBetZone(p)
		assert.ErrorIs(t, err, ErrValidation, "case %d", i)
	}
}

func TestZoneBandAndWinningSide(t *testing.T) {
	z, err := NewBetZone(validZone())
	require.NoError(t, err)

	bottom, top := z.Band()
	assert.InDelta(t, 49500, bottom, 1e-9)
	assert.InDelta(t, 50500, top, 1e-9)

	assert.Equal(t, BetOutside, z.WinningSide(51500))
	assert.Equal(t, BetInside, z.WinningSide(50500))
	assert.Equal(t, BetInside, z.WinningSide(49500))
	assert.Equal(t, BetOutside, z.WinningSide(49499.99))
}

func TestZoneSetOddsRejectsClosedZone(t *testing.T) {
	z, _ := NewBetZone(validZone())
	require.NoError(t, z.SetOdds(2.5, t0))
	assert.Equal(t, 2.5, z.TargetOdds)

	assert.ErrorIs(t, z.SetOdds(3, z.EndDate), ErrConflict)
	z.Deactivate()
	assert.ErrorIs(t, z.SetOdds(3, t0), ErrConflict)
	assert.Equal(t, 2.5, z.TargetOdds)
}

func TestBetStateMachine(t *testing.T) {
	b := &Bet{ID: "b1", BetAmount: 100, OriginOdds: 1.85}
	assert.Equal(t, BetOpen, b.Status())
	assert.ErrorIs(t, b.MarkAsPaid(), ErrConflict)
	assert.ErrorIs(t, b.Archive(), ErrConflict)

	require.NoError(t, b.MarkAsWon(t0))
	assert.Equal(t, BetWon, b.Status())
	assert.ErrorIs(t, b.MarkAsLost(t0), ErrConflict)

	require.NoError(t, b.MarkAsPaid())
	assert.Equal(t, BetPaid, b.Status())
	assert.ErrorIs(t, b.MarkAsPaid(), ErrConflict)

	require.NoError(t, b.Archive())
	assert.ErrorIs(t, b.Archive(), ErrConflict)
	assert.Equal(t, int64(185), b.Payout())
}

func TestLostBetCannotBePaid(t *testing.T) {
	b := &Bet{ID: "b2"}
	require.NoError(t, b.MarkAsLost(t0))
	assert.Equal(t, BetLost, b.Status())
	assert.ErrorIs(t, b.MarkAsPaid(), ErrConflict)
}

func TestVoidBet(t *testing.T) {
	b := &Bet{ID: "b3", BetAmount: 60}
	require.NoError(t, b.Void(t0))
	assert.Equal(t, BetVoid, b.Status())
	assert.True(t, b.Finished)
	assert.ErrorIs(t, b.MarkAsPaid(), ErrConflict)
	assert.ErrorIs(t, b.Void(t0), ErrConflict)
	require.NoError(t, b.Archive())

	settled := &Bet{ID: "b4"}
	require.NoError(t, settled.MarkAsLost(t0))
	assert.ErrorIs(t, settled.Void(t0), ErrConflict)
	assert.False(t, settled.Voided)
}

func TestPriceBetWithin(t *testing.T) {
	p := &PriceBet{ID: "p1", PriceBetValue: 200, Margin: 1}
	assert.True(t, p.Within(202))
	assert.True(t, p.Within(198))
	assert.False(t, p.Within(202.01))

	won, err := p.Settle(201)
	require.NoError(t, err)
	assert.True(t, won)
	_, err = p.Settle(201)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, p.MarkAsPaid())
	assert.ErrorIs(t, p.MarkAsPaid(), ErrConflict)
}

func TestNonceClaim(t *testing.T) {
	n := &RewardNonce{UserID: "u1", CreatedAt: t0, ExpiresAt: t0.Add(5 * time.Minute)}
	assert.True(t, n.Outstanding(t0))
	assert.NoError(t, n.CheckClaim("u1", t0.Add(4*time.Minute)))
	assert.ErrorIs(t, n.CheckClaim("u2", t0), ErrInvalidNonce)
	assert.ErrorIs(t, n.CheckClaim("u1", t0.Add(5*time.Minute)), ErrInvalidNonce)

	require.NoError(t, n.MarkAsUsed(t0))
	assert.False(t, n.Outstanding(t0))
	assert.ErrorIs(t, n.CheckClaim("u1", t0), ErrInvalidNonce)
	assert.ErrorIs(t, n.MarkAsUsed(t0), ErrConflict)
}

func TestApplyVerifiedKYC(t *testing.T) {
	u := &User{ID: "u1"}
	assert.ErrorIs(t, u.ApplyVerifiedKYC("pt", "Ana"), ErrConflict)

	u.Verified = true
	assert.ErrorIs(t, u.ApplyVerifiedKYC("portugal", "Ana"), ErrValidation)
	require.NoError(t, u.ApplyVerifiedKYC(" pt", " Ana Souza "))
	assert.Equal(t, "PT", u.Country)
	assert.Equal(t, "Ana Souza", u.Fullname)
}

func TestFailHidesUnexpectedDetails(t *testing.T) {
	r := Fail(errors.New("pq: connection refused on 10.0.0.3"))
	assert.False(t, r.Success)
	assert.Equal(t, CodeUnexpected, r.Code)
	assert.Equal(t, "internal error", r.Message)

	r = Fail(fmt.Errorf("verify: %w", ErrInvalidSignature))
	assert.Equal(t, CodeInvalidSignature, r.Code)

	r = Fail(Wrap(ErrTransientStore, errors.New("deadlock detected")))
	assert.Equal(t, CodeTransientStore, r.Code)
	assert.NotContains(t, r.Message, "deadlock")

	assert.True(t, OK().Success)
}
