// Package settlement liquida zonas vencidas e price bets contra a cotação corrente.
package settlement

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/ledger"
	"github.com/radieske/wager-settlement-engine/internal/odds"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

// Publisher recebe os resultados depois do commit (notificação, e-mail)
type Publisher interface {
	PublishBetSettled(ctx context.Context, e events.BetSettled) error
	PublishPriceBetSettled(ctx context.Context, e events.PriceBetSettled) error
}

// Report resume um tick de liquidação
type Report struct {
	Zones     int // zonas liquidadas
	Deferred  int // zonas e price bets adiadas: cotação, pregão fechado ou falha de escrita
	Won       int
	Lost      int
	Paid      int64 // pontos creditados
	PriceBets int
}

type Checker struct {
	Log    *zap.Logger
	UoW    store.UnitOfWork
	Prices odds.PriceFeed
	Events Publisher // opcional
	Now    func() time.Time

	// Continuous diz se o ticker tem cotação fora do pregão; nil trata todos como contínuos
	Continuous func(ticker string) bool

	OnSettled func(outcome string, n int) // métricas
	OnPaid    func(points int64)
	OnError   func(stage string)
}

func NewChecker(log *zap.Logger, uow store.UnitOfWork, prices odds.PriceFeed, pub Publisher) *Checker {
	return &Checker{Log: log, UoW: uow, Prices: prices, Events: pub, Now: time.Now}
}

// RunSettlementTick liquida as zonas ativas vencidas e as price bets devidas.
// Cada zona é liquidada numa transação própria; rodar duas vezes seguidas não paga
// de novo porque o segundo tick só encontra apostas já finalizadas.
func (c *Checker) RunSettlementTick(ctx context.Context, marketHours bool) (Report, error) {
	var rep Report
	now := c.Now().UTC()

	var due []*domain.BetZone
	if err := c.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.Zones().ActiveExpired(ctx, now)
		return err
	}); err != nil {
		c.fail("load_zones")
		return rep, fmt.Errorf("load expired zones: %w", err)
	}

	itemCtx := context.WithoutCancel(ctx)
	prices := map[string]float64{}
	for _, z := range due {
		if ctx.Err() != nil {
			return rep, nil
		}
		if !marketHours && !c.continuous(z.Ticker) {
			rep.Deferred++
			continue
		}
		price, err := c.price(itemCtx, prices, z.Ticker, z.Currency)
		if err != nil {
			// fica ativa e volta no próximo tick
			rep.Deferred++
			c.Log.Warn("zone settlement deferred", zap.String("zoneId", z.ID), zap.String("ticker", z.Ticker), zap.Error(err))
			continue
		}
		if err := c.settleZone(itemCtx, z.ID, price, &rep); err != nil {
			rep.Deferred++
			c.fail("settle_zone")
			c.Log.Error("zone settlement failed", zap.String("zoneId", z.ID), zap.Error(err))
		}
	}

	if ctx.Err() != nil {
		return rep, nil
	}
	if err := c.settlePriceBets(itemCtx, now, marketHours, prices, &rep); err != nil {
		c.fail("settle_price_bets")
		return rep, err
	}
	return rep, nil
}

func (c *Checker) continuous(ticker string) bool {
	return c.Continuous == nil || c.Continuous(ticker)
}

// price busca fora de transação e memoriza por tick
func (c *Checker) price(ctx context.Context, memo map[string]float64, ticker string, cur domain.Currency) (float64, error) {
	k := ticker + "/" + string(cur)
	if p, ok := memo[k]; ok {
		return p, nil
	}
	p, err := c.Prices.GetCurrentPrice(ctx, ticker, cur)
	if err != nil {
		c.fail("price")
		return 0, err
	}
	memo[k] = p
	return p, nil
}

func (c *Checker) settleZone(ctx context.Context, zoneID string, price float64, rep *Report) error {
	now := c.Now().UTC()
	var out []events.BetSettled
	var won, lost int
	var paid int64
	done := false

	err := c.UoW.Within(ctx, func(tx store.Tx) error {
		z, err := tx.Zones().GetForUpdate(ctx, zoneID)
		if err != nil {
			return err
		}
		// outro tick chegou primeiro
		if !z.Active {
			return nil
		}
		bets, err := tx.Bets().OpenByZone(ctx, z.ID)
		if err != nil {
			return err
		}
		winner := z.WinningSide(price)

		for _, b := range bets {
			side := b.Side
			if side == "" {
				side = z.BetType
			}
			ev := events.BetSettled{
				BetID: b.ID, UserID: b.UserID, ZoneID: z.ID, Ticker: z.Ticker,
				Amount: b.BetAmount, Price: price, Ts: now,
			}
			if side != winner {
				if err := b.MarkAsLost(now); err != nil {
					return err
				}
				ev.Status = string(domain.BetLost)
				lost++
			} else {
				if err := b.MarkAsWon(now); err != nil {
					return err
				}
				payout := b.Payout()
				if _, err := ledger.Apply(ctx, tx, ledger.Op{
					UserID:    b.UserID,
					Type:      domain.EntryCredit,
					Amount:    payout,
					Reason:    "bet_won",
					Reference: b.ID,
				}, now); err != nil {
					return fmt.Errorf("pay bet %s: %w", b.ID, err)
				}
				if err := b.MarkAsPaid(); err != nil {
					return err
				}
				ev.Status = string(domain.BetPaid)
				ev.Payout = payout
				paid += payout
				won++
			}
			if err := tx.Bets().Update(ctx, b); err != nil {
				return err
			}
			out = append(out, ev)
		}

		z.Deactivate()
		if err := tx.Zones().Update(ctx, z); err != nil {
			return err
		}
		done = true
		c.Log.Info("zone settled",
			zap.String("zoneId", z.ID),
			zap.String("ticker", z.Ticker),
			zap.Float64("price", price),
			zap.String("winner", string(winner)),
			zap.Int("bets", len(bets)),
		)
		return nil
	})
	if err != nil {
		return err
	}
	if !done {
		return nil
	}

	rep.Zones++
	rep.Won += won
	rep.Lost += lost
	rep.Paid += paid
	c.settled(won, lost, paid)
	for _, ev := range out {
		c.publishBet(ctx, ev)
	}
	return nil
}

// settlePriceBets liquida cada price bet devida numa transação própria; a falha de
// uma fica adiada sem bloquear as demais
func (c *Checker) settlePriceBets(ctx context.Context, now time.Time, marketHours bool, memo map[string]float64, rep *Report) error {
	var due []*domain.PriceBet
	if err := c.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		due, err = tx.PriceBets().OpenDue(ctx, now)
		return err
	}); err != nil {
		return fmt.Errorf("load due price bets: %w", err)
	}

	for _, p := range due {
		if !marketHours && !c.continuous(p.Ticker) {
			rep.Deferred++
			continue
		}
		price, err := c.price(ctx, memo, p.Ticker, p.Currency)
		if err != nil {
			rep.Deferred++
			c.Log.Warn("price bet settlement deferred", zap.String("priceBetId", p.ID), zap.String("ticker", p.Ticker), zap.Error(err))
			continue
		}
		ev, ok, err := c.settlePriceBet(ctx, p.ID, price, now)
		if err != nil {
			rep.Deferred++
			c.fail("settle_price_bet")
			c.Log.Error("price bet settlement failed", zap.String("priceBetId", p.ID), zap.String("userId", p.UserID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}

		rep.PriceBets++
		rep.Paid += ev.Prize
		if ev.Won {
			c.settled(1, 0, ev.Prize)
		} else {
			c.settled(0, 1, 0)
		}
		if c.Events == nil {
			continue
		}
		if err := c.Events.PublishPriceBetSettled(ctx, ev); err != nil {
			c.fail("publish")
			c.Log.Warn("price bet settled publish failed", zap.String("priceBetId", ev.PriceBetID), zap.Error(err))
		}
	}
	return nil
}

// settlePriceBet trava a price bet por id; ok=false se outro tick já a liquidou
func (c *Checker) settlePriceBet(ctx context.Context, id string, price float64, now time.Time) (ev events.PriceBetSettled, ok bool, err error) {
	err = c.UoW.Within(ctx, func(tx store.Tx) error {
		p, err := tx.PriceBets().GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if p.Finished {
			return nil
		}
		hit, err := p.Settle(price)
		if err != nil {
			return err
		}
		if p.Cost > 0 {
			if _, err := ledger.Apply(ctx, tx, ledger.Op{
				UserID: p.UserID, Type: domain.EntryRelease, Amount: p.Cost,
				Reason: "price_bet_settled", Reference: p.ID,
			}, now); err != nil {
				return fmt.Errorf("release price bet %s: %w", p.ID, err)
			}
		}
		ev = events.PriceBetSettled{
			PriceBetID: p.ID, UserID: p.UserID, Ticker: p.Ticker,
			Won: hit, Value: p.PriceBetValue, Price: price, Ts: now,
		}
		if hit {
			if p.Prize > 0 {
				if _, err := ledger.Apply(ctx, tx, ledger.Op{
					UserID: p.UserID, Type: domain.EntryCredit, Amount: p.Prize,
					Reason: "price_bet_won", Reference: p.ID,
				}, now); err != nil {
					return fmt.Errorf("pay price bet %s: %w", p.ID, err)
				}
				ev.Prize = p.Prize
			}
			if err := p.MarkAsPaid(); err != nil {
				return err
			}
		}
		if err := tx.PriceBets().Update(ctx, p); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return events.PriceBetSettled{}, false, err
	}
	return ev, ok, nil
}

func (c *Checker) publishBet(ctx context.Context, ev events.BetSettled) {
	if c.Events == nil {
		return
	}
	if err := c.Events.PublishBetSettled(ctx, ev); err != nil {
		// o commit já aconteceu; a notificação se perde mas o saldo está certo
		c.fail("publish")
		c.Log.Warn("bet settled publish failed", zap.String("betId", ev.BetID), zap.Error(err))
	}
}

func (c *Checker) settled(won, lost int, paid int64) {
	if c.OnSettled != nil {
		if won > 0 {
			c.OnSettled("won", won)
		}
		if lost > 0 {
			c.OnSettled("lost", lost)
		}
	}
	if c.OnPaid != nil && paid > 0 {
		c.OnPaid(paid)
	}
}

func (c *Checker) fail(stage string) {
	if c.OnError != nil {
		c.OnError(stage)
	}
}
