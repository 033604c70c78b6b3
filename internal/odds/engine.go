package odds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

// PriceFeed é o colaborador de cotações
type PriceFeed interface {
	GetCurrentPrice(ctx context.Context, ticker string, cur domain.Currency) (float64, error)
}

// Sink recebe as odds recalculadas (cache + broadcast)
type Sink interface {
	PublishOdds(ctx context.Context, u events.ZoneOddsUpdate) error
}

// Sinks publica em todos; o primeiro erro é devolvido depois de tentar os demais
type Sinks []Sink

func (s Sinks) PublishOdds(ctx context.Context, u events.ZoneOddsUpdate) error {
	var first error
	for _, sink := range s {
		if err := sink.PublishOdds(ctx, u); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Engine recalcula periodicamente as odds das zonas abertas.
// Ticks sobrepostos enfileiram no mutex interno em vez de intercalar.
type Engine struct {
	Log    *zap.Logger
	UoW    store.UnitOfWork
	Prices PriceFeed
	Sink   Sink // opcional
	Cfg    Config
	Now    func() time.Time

	OnAdjusted func()       // métricas
	OnError    func(string) // métricas por fase

	mu sync.Mutex
}

func NewEngine(log *zap.Logger, uow store.UnitOfWork, prices PriceFeed, sink Sink, cfg Config) *Engine {
	return &Engine{Log: log, UoW: uow, Prices: prices, Sink: sink, Cfg: cfg, Now: time.Now}
}

// RunOddsAdjustmentTick recalcula as odds de todas as zonas ativas e não expiradas.
// Devolve quantas zonas tiveram a odd alterada.
func (e *Engine) RunOddsAdjustmentTick(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.Now().UTC()
	var zones []*domain.BetZone
	if err := e.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		zones, err = tx.Zones().ActiveFuture(ctx, now)
		return err
	}); err != nil {
		e.fail("load_zones")
		return 0, fmt.Errorf("load open zones: %w", err)
	}

	// cada zona termina sua transação mesmo se ctx for cancelado no meio
	itemCtx := context.WithoutCancel(ctx)
	adjusted := 0
	for _, z := range zones {
		if ctx.Err() != nil {
			break
		}
		changed, err := e.adjustZone(itemCtx, z.ID, z.Ticker, z.Currency)
		if err != nil {
			e.Log.Warn("odds adjustment failed", zap.String("zoneId", z.ID), zap.String("ticker", z.Ticker), zap.Error(err))
			continue
		}
		if changed {
			adjusted++
		}
	}
	return adjusted, nil
}

func (e *Engine) adjustZone(ctx context.Context, zoneID, ticker string, cur domain.Currency) (bool, error) {
	// cotação fora da transação: I/O externo não segura lock
	price, err := e.Prices.GetCurrentPrice(ctx, ticker, cur)
	if err != nil {
		e.fail("price")
		return false, fmt.Errorf("price %s/%s: %w", ticker, cur, err)
	}

	now := e.Now().UTC()
	var update *events.ZoneOddsUpdate
	changed := false
	err = e.UoW.Within(ctx, func(tx store.Tx) error {
		z, err := tx.Zones().GetForUpdate(ctx, zoneID)
		if err != nil {
			return err
		}
		// zona liquidada/desativada entre a leitura e o lock
		if !z.Active || z.Expired(now) {
			return nil
		}
		pool, err := tx.Bets().StakeByZone(ctx, z.ID)
		if err != nil {
			return err
		}
		next := Compute(z, pool, price, e.Cfg)
		if next != z.TargetOdds {
			if err := z.SetOdds(next, now); err != nil {
				return err
			}
			if err := tx.Zones().Update(ctx, z); err != nil {
				return err
			}
			changed = true
		}
		update = &events.ZoneOddsUpdate{
			ZoneID:        z.ID,
			Ticker:        z.Ticker,
			Currency:      string(z.Currency),
			Timeframe:     string(z.Timeframe),
			BetType:       string(z.BetType),
			TargetValue:   z.TargetValue,
			BetMargin:     z.BetMargin,
			TargetOdds:    z.TargetOdds,
			OppositeOdds:  SideOdds(z, z.BetType.Opposite(), e.Cfg),
			Price:         price,
			NecessaryGain: NecessaryGain(price, z.TargetValue, z.BetMargin),
			EndDate:       z.EndDate,
			UpdatedAt:     now,
		}
		return nil
	})
	if err != nil {
		e.fail("update")
		return false, err
	}
	if changed && e.OnAdjusted != nil {
		e.OnAdjusted()
	}

	if update != nil && e.Sink != nil {
		if err := e.Sink.PublishOdds(ctx, *update); err != nil {
			// cache/broadcast não desfaz o commit
			e.Log.Warn("odds publish failed", zap.String("zoneId", zoneID), zap.Error(err))
			e.fail("publish")
		}
	}
	return changed, nil
}

func (e *Engine) fail(stage string) {
	if e.OnError != nil {
		e.OnError(stage)
	}
}
