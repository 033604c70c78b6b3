// Package zones cria, desativa e consulta as zonas de aposta.
package zones

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/ledger"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

// SettledSink recebe as apostas anuladas depois do commit
type SettledSink interface {
	PublishBetSettled(ctx context.Context, e events.BetSettled) error
}

// Manager não faz análise de mercado: alvo, margem e cadência vêm de quem chama
type Manager struct {
	Log    *zap.Logger
	UoW    store.UnitOfWork
	Events SettledSink // opcional
	Now    func() time.Time
}

func NewManager(log *zap.Logger, uow store.UnitOfWork) *Manager {
	return &Manager{Log: log, UoW: uow, Now: time.Now}
}

// CreateZone devolve a zona persistida já com ID.
// ErrConflict se já existir zona ativa para (ticker, timeframe, currency).
func (m *Manager) CreateZone(ctx context.Context, p domain.ZoneParams) (*domain.BetZone, error) {
	z, err := domain.NewBetZone(p)
	if err != nil {
		return nil, err
	}
	z.CreatedAt = m.Now().UTC()

	var created *domain.BetZone
	err = m.UoW.Within(ctx, func(tx store.Tx) error {
		created, err = tx.Zones().Add(ctx, z)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create zone %s/%s/%s: %w", z.Ticker, z.Timeframe, z.Currency, err)
	}
	m.Log.Info("zone created",
		zap.String("zoneId", created.ID),
		zap.String("ticker", created.Ticker),
		zap.String("currency", string(created.Currency)),
		zap.String("timeframe", string(created.Timeframe)),
		zap.Float64("target", created.TargetValue),
		zap.Time("endDate", created.EndDate),
	)
	return created, nil
}

// DeactivateZonesByTicker cancela todas as zonas ativas do ticker e devolve quantas mudaram.
// Apostas abertas nessas zonas viram VOID e o stake volta ao usuário na mesma transação.
func (m *Manager) DeactivateZonesByTicker(ctx context.Context, ticker string) (int64, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return 0, domain.Invalid("ticker required")
	}
	now := m.Now().UTC()
	var n int64
	var voided []events.BetSettled
	err := m.UoW.Within(ctx, func(tx store.Tx) error {
		n, voided = 0, nil
		active, err := tx.Zones().ActiveByTickers(ctx, []string{ticker})
		if err != nil {
			return err
		}
		for _, a := range active {
			z, err := tx.Zones().GetForUpdate(ctx, a.ID)
			if err != nil {
				return err
			}
			if !z.Active {
				continue
			}
			bets, err := tx.Bets().OpenByZone(ctx, z.ID)
			if err != nil {
				return err
			}
			for _, b := range bets {
				if err := b.Void(now); err != nil {
					return err
				}
				if _, err := ledger.Apply(ctx, tx, ledger.Op{
					UserID:    b.UserID,
					Type:      domain.EntryCredit,
					Amount:    b.BetAmount,
					Reason:    "zone_cancelled",
					Reference: b.ID,
				}, now); err != nil {
					return fmt.Errorf("refund bet %s: %w", b.ID, err)
				}
				if err := tx.Bets().Update(ctx, b); err != nil {
					return err
				}
				voided = append(voided, events.BetSettled{
					BetID: b.ID, UserID: b.UserID, ZoneID: z.ID, Ticker: z.Ticker,
					Amount: b.BetAmount, Status: string(domain.BetVoid), Payout: b.BetAmount, Ts: now,
				})
			}
			z.Deactivate()
			if err := tx.Zones().Update(ctx, z); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate zones %s: %w", ticker, err)
	}
	if n > 0 {
		m.Log.Info("zones deactivated",
			zap.String("ticker", ticker), zap.Int64("count", n), zap.Int("refunded", len(voided)))
	}
	for _, ev := range voided {
		if m.Events == nil {
			break
		}
		if err := m.Events.PublishBetSettled(ctx, ev); err != nil {
			m.Log.Warn("bet voided publish failed", zap.String("betId", ev.BetID), zap.Error(err))
		}
	}
	return n, nil
}

func (m *Manager) GetActiveZonesByTicker(ctx context.Context, ticker string, tf domain.Timeframe, cur domain.Currency) ([]*domain.BetZone, error) {
	var out []*domain.BetZone
	err := m.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Zones().ActiveByTicker(ctx, strings.ToUpper(ticker), tf, cur)
		return err
	})
	return out, err
}

// GetActiveFutureZones lista zonas ativas que ainda não venceram em before
func (m *Manager) GetActiveFutureZones(ctx context.Context, before time.Time) ([]*domain.BetZone, error) {
	var out []*domain.BetZone
	err := m.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Zones().ActiveFuture(ctx, before)
		return err
	})
	return out, err
}
