package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/internal/store/memory"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

var deadline = time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)

type feed struct {
	mu     sync.Mutex
	prices map[string]float64
	calls  int
}

func (f *feed) GetCurrentPrice(_ context.Context, ticker string, _ domain.Currency) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	p, ok := f.prices[ticker]
	if !ok {
		return 0, errors.New("timeout")
	}
	return p, nil
}

type recorder struct {
	mu     sync.Mutex
	bets   []events.BetSettled
	prices []events.PriceBetSettled
}

func (r *recorder) PublishBetSettled(_ context.Context, e events.BetSettled) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bets = append(r.bets, e)
	return nil
}

func (r *recorder) PublishPriceBetSettled(_ context.Context, e events.PriceBetSettled) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, e)
	return nil
}

type fixture struct {
	store  *memory.Store
	zoneID string
	bets   map[string]string // userID -> betID
}

// zona BTC 50000 ±1% (banda [49500, 50500]) já vencida em deadline
func seed(t *testing.T, ticker string) fixture {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	f := fixture{store: s, bets: map[string]string{}}

	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		for _, id := range []string{"u1", "u2", "u3"} {
			if _, err := tx.Users().Add(ctx, &domain.User{ID: id, Points: 1000}); err != nil {
				return err
			}
		}
		z, err := tx.Zones().Add(ctx, &domain.BetZone{
			Ticker: ticker, Currency: domain.CurrencyUSD, Timeframe: domain.Timeframe1h,
			TargetValue: 50000, BetMargin: 2, TargetOdds: 1.85, BetType: domain.BetOutside, Active: true,
			StartDate: deadline.Add(-time.Hour), EndDate: deadline,
		})
		if err != nil {
			return err
		}
		f.zoneID = z.ID
		for _, b := range []domain.Bet{
			{UserID: "u1", Side: domain.BetOutside, BetAmount: 100, OriginOdds: 1.85},
			{UserID: "u2", Side: "", BetAmount: 40, OriginOdds: 2.5},
			{UserID: "u3", Side: domain.BetInside, BetAmount: 50, OriginOdds: 2},
		} {
			b.ZoneID, b.Ticker, b.Currency = z.ID, ticker, domain.CurrencyUSD
			added, err := tx.Bets().Add(ctx, &b)
			if err != nil {
				return err
			}
			f.bets[b.UserID] = added.ID
		}
		return nil
	}))
	return f
}

func newChecker(f fixture, prices map[string]float64) (*Checker, *recorder, *feed) {
	rec := &recorder{}
	fd := &feed{prices: prices}
	c := NewChecker(zap.NewNop(), f.store, fd, rec)
	c.Now = func() time.Time { return deadline.Add(time.Minute) }
	return c, rec, fd
}

func points(t *testing.T, s store.UnitOfWork, userID string) int64 {
	t.Helper()
	var p int64
	require.NoError(t, s.Within(context.Background(), func(tx store.Tx) error {
		u, err := tx.Users().Get(context.Background(), userID)
		if err != nil {
			return err
		}
		p = u.Points
		return nil
	}))
	return p
}

func TestSettlementOutsideWins(t *testing.T) {
	ctx := context.Background()
	f := seed(t, "BTC")
	c, rec, _ := newChecker(f, map[string]float64{"BTC": 51500})

	rep, err := c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Zones)
	assert.Equal(t, 2, rep.Won)
	assert.Equal(t, 1, rep.Lost)
	assert.EqualValues(t, 285, rep.Paid)

	assert.EqualValues(t, 1185, points(t, f.store, "u1"))
	assert.EqualValues(t, 1100, points(t, f.store, "u2"))
	assert.EqualValues(t, 1000, points(t, f.store, "u3"))

	require.NoError(t, f.store.Within(ctx, func(tx store.Tx) error {
		z, err := tx.Zones().Get(ctx, f.zoneID)
		require.NoError(t, err)
		assert.False(t, z.Active)

		for user, id := range f.bets {
			b, err := tx.Bets().Get(ctx, id)
			require.NoError(t, err)
			assert.True(t, b.Finished, user)
			if user == "u3" {
				assert.Equal(t, domain.BetLost, b.Status())
			} else {
				assert.Equal(t, domain.BetPaid, b.Status())
			}
		}

		entries, err := tx.Ledger().ByUser(ctx, "u1", 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, domain.EntryCredit, entries[0].Type)
		assert.Equal(t, f.bets["u1"], entries[0].Reference)
		return nil
	}))

	assert.Len(t, rec.bets, 3)
}

func TestSettlementInsideWins(t *testing.T) {
	f := seed(t, "BTC")
	c, _, _ := newChecker(f, map[string]float64{"BTC": 50500}) // borda superior inclusa

	_, err := c.RunSettlementTick(context.Background(), true)
	require.NoError(t, err)
	assert.EqualValues(t, 1000, points(t, f.store, "u1"))
	assert.EqualValues(t, 1100, points(t, f.store, "u3"))
}

func TestSettlementTwiceDoesNotDoublePay(t *testing.T) {
	ctx := context.Background()
	f := seed(t, "BTC")
	c, rec, _ := newChecker(f, map[string]float64{"BTC": 51500})

	_, err := c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	rep, err := c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, rep.Zones)
	assert.Zero(t, rep.Paid)

	assert.EqualValues(t, 1185, points(t, f.store, "u1"))
	assert.Len(t, rec.bets, 3)
}

func TestConcurrentSettlementTicks(t *testing.T) {
	ctx := context.Background()
	f := seed(t, "BTC")
	c1, _, _ := newChecker(f, map[string]float64{"BTC": 51500})
	c2, _, _ := newChecker(f, map[string]float64{"BTC": 51500})

	var wg sync.WaitGroup
	reps := make([]Report, 2)
	for i, c := range []*Checker{c1, c2} {
		wg.Add(1)
		go func(i int, c *Checker) {
			defer wg.Done()
			r, err := c.RunSettlementTick(ctx, true)
			assert.NoError(t, err)
			reps[i] = r
		}(i, c)
	}
	wg.Wait()

	assert.Equal(t, 1, reps[0].Zones+reps[1].Zones)
	assert.EqualValues(t, 285, reps[0].Paid+reps[1].Paid)
	assert.EqualValues(t, 1185, points(t, f.store, "u1"))
	assert.EqualValues(t, 1100, points(t, f.store, "u2"))
}

func TestSettlementDeferredOnPriceFailure(t *testing.T) {
	ctx := context.Background()
	f := seed(t, "BTC")
	c, _, _ := newChecker(f, map[string]float64{})

	rep, err := c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deferred)
	assert.Zero(t, rep.Zones)

	require.NoError(t, f.store.Within(ctx, func(tx store.Tx) error {
		z, err := tx.Zones().Get(ctx, f.zoneID)
		require.NoError(t, err)
		assert.True(t, z.Active)
		return nil
	}))

	// próximo tick com cotação liquida normalmente
	c.Prices = &feed{prices: map[string]float64{"BTC": 51500}}
	rep, err = c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Zones)
}

func TestSettlementOutsideMarketHoursSkipsStocks(t *testing.T) {
	f := seed(t, "AAPL")
	c, _, fd := newChecker(f, map[string]float64{"AAPL": 1})
	c.Continuous = func(ticker string) bool { return ticker == "BTC" }

	rep, err := c.RunSettlementTick(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deferred)
	assert.Zero(t, fd.calls)
}

func TestPriceBetSettlement(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	var winID, loseID, futureID string
	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		if _, err := tx.Users().Add(ctx, &domain.User{ID: "p1", Points: 0, PendingBalance: 30}); err != nil {
			return err
		}
		w, err := tx.PriceBets().Add(ctx, &domain.PriceBet{UserID: "p1", Ticker: "ETH", Currency: domain.CurrencyUSD,
			PriceBetValue: 3000, Margin: 1, Cost: 10, Prize: 500, EndDate: deadline})
		if err != nil {
			return err
		}
		l, err := tx.PriceBets().Add(ctx, &domain.PriceBet{UserID: "p1", Ticker: "ETH", Currency: domain.CurrencyUSD,
			PriceBetValue: 2000, Margin: 1, Cost: 10, Prize: 500, EndDate: deadline})
		if err != nil {
			return err
		}
		fu, err := tx.PriceBets().Add(ctx, &domain.PriceBet{UserID: "p1", Ticker: "ETH", Currency: domain.CurrencyUSD,
			PriceBetValue: 3000, Margin: 1, Cost: 10, Prize: 500, EndDate: deadline.Add(time.Hour)})
		winID, loseID, futureID = w.ID, l.ID, fu.ID
		return err
	}))

	rec := &recorder{}
	c := NewChecker(zap.NewNop(), s, &feed{prices: map[string]float64{"ETH": 3029}}, rec)
	c.Now = func() time.Time { return deadline }

	rep, err := c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.PriceBets)
	assert.EqualValues(t, 500, rep.Paid)

	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		u, err := tx.Users().Get(ctx, "p1")
		require.NoError(t, err)
		assert.EqualValues(t, 500, u.Points)
		assert.EqualValues(t, 10, u.PendingBalance)

		w, _ := tx.PriceBets().Get(ctx, winID)
		assert.True(t, w.Won)
		assert.True(t, w.Paid)
		assert.Equal(t, 3029.0, w.SettledValue)

		l, _ := tx.PriceBets().Get(ctx, loseID)
		assert.True(t, l.Finished)
		assert.False(t, l.Won)

		fu, _ := tx.PriceBets().Get(ctx, futureID)
		assert.False(t, fu.Finished)
		return nil
	}))
	assert.Len(t, rec.prices, 2)

	rep, err = c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, rep.PriceBets)
}

func TestZoneSettlementIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	f := seed(t, "BTC")
	var ghostID string
	require.NoError(t, f.store.Within(ctx, func(tx store.Tx) error {
		// vencedora de um usuário inexistente: o crédito falha no meio da zona
		b, err := tx.Bets().Add(ctx, &domain.Bet{UserID: "ghost", ZoneID: f.zoneID, Ticker: "BTC",
			Currency: domain.CurrencyUSD, Side: domain.BetOutside, BetAmount: 10, OriginOdds: 2})
		if err != nil {
			return err
		}
		ghostID = b.ID
		return nil
	}))
	c, rec, _ := newChecker(f, map[string]float64{"BTC": 51500})

	rep, err := c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Deferred)
	assert.Zero(t, rep.Zones)
	assert.Zero(t, rep.Paid)
	assert.Empty(t, rec.bets)

	for _, u := range []string{"u1", "u2", "u3"} {
		assert.EqualValues(t, 1000, points(t, f.store, u), u)
	}
	require.NoError(t, f.store.Within(ctx, func(tx store.Tx) error {
		z, err := tx.Zones().Get(ctx, f.zoneID)
		require.NoError(t, err)
		assert.True(t, z.Active)

		for _, id := range append([]string{ghostID}, f.bets["u1"], f.bets["u2"], f.bets["u3"]) {
			b, err := tx.Bets().Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.BetOpen, b.Status(), id)
		}
		entries, err := tx.Ledger().ByUser(ctx, "u1", 0)
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	}))
}

func TestPriceBetFailureDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	var badID, goodID string
	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		// pendente zerado: o Release do custo falha
		if _, err := tx.Users().Add(ctx, &domain.User{ID: "bad", PendingBalance: 0}); err != nil {
			return err
		}
		if _, err := tx.Users().Add(ctx, &domain.User{ID: "good", PendingBalance: 10}); err != nil {
			return err
		}
		b, err := tx.PriceBets().Add(ctx, &domain.PriceBet{UserID: "bad", Ticker: "ETH", Currency: domain.CurrencyUSD,
			PriceBetValue: 3000, Margin: 1, Cost: 10, Prize: 500, EndDate: deadline})
		if err != nil {
			return err
		}
		g, err := tx.PriceBets().Add(ctx, &domain.PriceBet{UserID: "good", Ticker: "ETH", Currency: domain.CurrencyUSD,
			PriceBetValue: 3000, Margin: 1, Cost: 10, Prize: 500, EndDate: deadline})
		if err != nil {
			return err
		}
		badID, goodID = b.ID, g.ID
		return nil
	}))

	rec := &recorder{}
	c := NewChecker(zap.NewNop(), s, &feed{prices: map[string]float64{"ETH": 3010}}, rec)
	c.Now = func() time.Time { return deadline }
	var failures []string
	c.OnError = func(stage string) { failures = append(failures, stage) }

	rep, err := c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.PriceBets)
	assert.Equal(t, 1, rep.Deferred)
	assert.EqualValues(t, 500, rep.Paid)
	assert.Equal(t, []string{"settle_price_bet"}, failures)
	require.Len(t, rec.prices, 1)
	assert.Equal(t, goodID, rec.prices[0].PriceBetID)

	// o próximo tick tenta só a que falhou
	rep, err = c.RunSettlementTick(ctx, true)
	require.NoError(t, err)
	assert.Zero(t, rep.PriceBets)
	assert.Equal(t, 1, rep.Deferred)

	require.NoError(t, s.Within(ctx, func(tx store.Tx) error {
		g, err := tx.PriceBets().Get(ctx, goodID)
		require.NoError(t, err)
		assert.True(t, g.Finished)
		assert.True(t, g.Paid)

		b, err := tx.PriceBets().Get(ctx, badID)
		require.NoError(t, err)
		assert.False(t, b.Finished)

		u, err := tx.Users().Get(ctx, "good")
		require.NoError(t, err)
		assert.EqualValues(t, 500, u.Points)
		assert.Zero(t, u.PendingBalance)
		return nil
	}))
}
