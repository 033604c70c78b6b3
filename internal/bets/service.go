// Package bets registra apostas em zonas e price bets, debitando o ledger na mesma transação.
package bets

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/ledger"
	"github.com/radieske/wager-settlement-engine/internal/odds"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

// Publisher recebe BetPlaced depois do commit
type Publisher interface {
	PublishBetPlaced(ctx context.Context, e events.BetPlaced) error
}

// CostTable mapeia margem (%) da price bet para custo em pontos
type CostTable map[float64]int64

// ParseCostTable lê "0.5:50,1:25,2:10"
func ParseCostTable(s string) (CostTable, error) {
	t := CostTable{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		m, c, ok := strings.Cut(part, ":")
		margin, err1 := strconv.ParseFloat(strings.TrimSpace(m), 64)
		cost, err2 := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		if !ok || err1 != nil || err2 != nil || margin <= 0 || cost <= 0 {
			return nil, domain.Invalid("invalid cost tier %q", part)
		}
		t[margin] = cost
	}
	if len(t) == 0 {
		return nil, domain.Invalid("empty cost table")
	}
	return t, nil
}

// Cost devolve o custo da margem; margem desconhecida cai no tier mais barato (known=false)
func (t CostTable) Cost(margin float64) (cost int64, known bool) {
	if c, ok := t[margin]; ok {
		return c, true
	}
	cheapest := int64(math.MaxInt64)
	for _, c := range t {
		if c < cheapest {
			cheapest = c
		}
	}
	return cheapest, false
}

// Margins lista as margens do tier em ordem crescente
func (t CostTable) Margins() []float64 {
	out := make([]float64, 0, len(t))
	for m := range t {
		out = append(out, m)
	}
	sort.Float64s(out)
	return out
}

type Config struct {
	Odds          odds.Config
	PriceBetPrize int64
	Costs         CostTable
}

type Service struct {
	Log    *zap.Logger
	UoW    store.UnitOfWork
	Prices odds.PriceFeed
	Events Publisher // opcional
	Cfg    Config
	Now    func() time.Time
}

func NewService(log *zap.Logger, uow store.UnitOfWork, prices odds.PriceFeed, pub Publisher, cfg Config) *Service {
	return &Service{Log: log, UoW: uow, Prices: prices, Events: pub, Cfg: cfg, Now: time.Now}
}

type PlaceBetInput struct {
	UserID string
	ZoneID string
	Amount int64
	Side   domain.BetType // vazio = lado da zona
	// ExpectedOdds > 0 rejeita a aposta se a odd mudou desde que o cliente a viu
	ExpectedOdds float64
}

// PlaceBet debita o stake e trava a odd corrente do lado escolhido
func (s *Service) PlaceBet(ctx context.Context, in PlaceBetInput) (*domain.Bet, error) {
	if in.UserID == "" || in.ZoneID == "" {
		return nil, domain.Invalid("userId and zoneId required")
	}
	if in.Amount <= 0 {
		return nil, fmt.Errorf("%w: bet of %d", domain.ErrInvalidAmount, in.Amount)
	}
	if in.Side != "" && !in.Side.Valid() {
		return nil, domain.Invalid("unsupported side %q", string(in.Side))
	}

	var zone *domain.BetZone
	if err := s.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		zone, err = tx.Zones().Get(ctx, in.ZoneID)
		return err
	}); err != nil {
		return nil, err
	}
	price, err := s.Prices.GetCurrentPrice(ctx, zone.Ticker, zone.Currency)
	if err != nil {
		return nil, fmt.Errorf("price %s: %w", zone.Ticker, err)
	}

	now := s.Now().UTC()
	var placed *domain.Bet
	err = s.UoW.Within(ctx, func(tx store.Tx) error {
		z, err := tx.Zones().GetForUpdate(ctx, in.ZoneID)
		if err != nil {
			return err
		}
		if !z.Active || z.Expired(now) {
			return fmt.Errorf("%w: zone %s is closed", domain.ErrConflict, z.ID)
		}
		side := in.Side
		if side == "" {
			side = z.BetType
		}
		locked := odds.SideOdds(z, side, s.Cfg.Odds)
		if in.ExpectedOdds > 0 && math.Abs(in.ExpectedOdds-locked) >= 0.005 {
			return fmt.Errorf("%w: odds moved from %.2f to %.2f", domain.ErrConflict, in.ExpectedOdds, locked)
		}

		if _, err := ledger.Apply(ctx, tx, ledger.Op{
			UserID: in.UserID, Type: domain.EntryDebit, Amount: in.Amount,
			Reason: "bet_placed", Reference: z.ID,
		}, now); err != nil {
			return err
		}
		placed, err = tx.Bets().Add(ctx, &domain.Bet{
			UserID:       in.UserID,
			Ticker:       z.Ticker,
			Currency:     z.Currency,
			BetAmount:    in.Amount,
			OriginValue:  price,
			OriginOdds:   locked,
			TargetValue:  z.TargetValue,
			TargetMargin: z.BetMargin,
			ZoneID:       z.ID,
			Side:         side,
			CreatedAt:    now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Log.Info("bet placed",
		zap.String("betId", placed.ID),
		zap.String("userId", placed.UserID),
		zap.String("zoneId", placed.ZoneID),
		zap.Int64("amount", placed.BetAmount),
		zap.Float64("odds", placed.OriginOdds),
	)
	s.publish(ctx, events.BetPlaced{
		BetID: placed.ID, UserID: placed.UserID, ZoneID: placed.ZoneID, Ticker: placed.Ticker,
		Currency: string(placed.Currency), Side: string(placed.Side), Amount: placed.BetAmount,
		OriginOdds: placed.OriginOdds,
	})
	return placed, nil
}

type PlacePriceBetInput struct {
	UserID   string
	Ticker   string
	Currency domain.Currency
	Value    float64
	Margin   float64
	EndDate  time.Time
}

// PlacePriceBet bloqueia o custo no saldo pendente até a liquidação
func (s *Service) PlacePriceBet(ctx context.Context, in PlacePriceBetInput) (*domain.PriceBet, error) {
	now := s.Now().UTC()
	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	switch {
	case in.UserID == "" || ticker == "":
		return nil, domain.Invalid("userId and ticker required")
	case !in.Currency.Valid():
		return nil, domain.Invalid("unsupported currency %q", string(in.Currency))
	case in.Value <= 0 || math.IsInf(in.Value, 0) || math.IsNaN(in.Value):
		return nil, domain.Invalid("priceBetValue must be positive")
	case in.Margin <= 0:
		return nil, domain.Invalid("margin must be positive")
	case !in.EndDate.After(now):
		return nil, domain.Invalid("endDate must be in the future")
	}

	cost, known := s.Cfg.Costs.Cost(in.Margin)
	if !known {
		s.Log.Warn("unknown price bet margin, charging cheapest tier",
			zap.Float64("margin", in.Margin), zap.Int64("cost", cost), zap.Float64s("tiers", s.Cfg.Costs.Margins()))
	}

	endDate := in.EndDate.UTC()
	var placed *domain.PriceBet
	err := s.UoW.Within(ctx, func(tx store.Tx) error {
		dup, err := tx.PriceBets().Exists(ctx, in.UserID, ticker, in.Currency, endDate)
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%w: price bet for %s/%s at %s already placed", domain.ErrConflict, ticker, in.Currency, endDate.Format(time.RFC3339))
		}
		if _, err := ledger.Apply(ctx, tx, ledger.Op{
			UserID: in.UserID, Type: domain.EntryHold, Amount: cost,
			Reason: "price_bet_placed", Reference: ticker,
		}, now); err != nil {
			return err
		}
		placed, err = tx.PriceBets().Add(ctx, &domain.PriceBet{
			UserID:        in.UserID,
			Ticker:        ticker,
			Currency:      in.Currency,
			PriceBetValue: in.Value,
			Margin:        in.Margin,
			Cost:          cost,
			Prize:         s.Cfg.PriceBetPrize,
			BetDate:       now,
			EndDate:       endDate,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.BetPlaced{
		BetID: placed.ID, UserID: placed.UserID, Ticker: placed.Ticker,
		Currency: string(placed.Currency), Amount: placed.Cost, PriceBet: true,
	})
	return placed, nil
}

// ArchiveBet só vale para o dono e para apostas finalizadas
func (s *Service) ArchiveBet(ctx context.Context, userID, betID string) error {
	return s.UoW.Within(ctx, func(tx store.Tx) error {
		b, err := tx.Bets().Get(ctx, betID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return fmt.Errorf("%w: bet %s", domain.ErrNotFound, betID)
		}
		if err := b.Archive(); err != nil {
			return err
		}
		return tx.Bets().Update(ctx, b)
	})
}

func (s *Service) ArchivePriceBet(ctx context.Context, userID, priceBetID string) error {
	return s.UoW.Within(ctx, func(tx store.Tx) error {
		p, err := tx.PriceBets().Get(ctx, priceBetID)
		if err != nil {
			return err
		}
		if p.UserID != userID {
			return fmt.Errorf("%w: price bet %s", domain.ErrNotFound, priceBetID)
		}
		if err := p.Archive(); err != nil {
			return err
		}
		return tx.PriceBets().Update(ctx, p)
	})
}

// Balance devolve o usuário com saldo e pendente atuais
func (s *Service) Balance(ctx context.Context, userID string) (*domain.User, error) {
	var u *domain.User
	err := s.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.Users().Get(ctx, userID)
		return err
	})
	return u, err
}

// History devolve os lançamentos mais recentes do usuário; ErrNotFound se ele não existir
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	err := s.UoW.Within(ctx, func(tx store.Tx) error {
		if _, err := tx.Users().Get(ctx, userID); err != nil {
			return err
		}
		var err error
		out, err = tx.Ledger().ByUser(ctx, userID, limit)
		return err
	})
	return out, err
}

func (s *Service) publish(ctx context.Context, e events.BetPlaced) {
	if s.Events == nil {
		return
	}
	e.TsUnixMs = s.Now().UnixMilli()
	if err := s.Events.PublishBetPlaced(ctx, e); err != nil {
		s.Log.Warn("bet placed publish failed", zap.String("betId", e.BetID), zap.Error(err))
	}
}
