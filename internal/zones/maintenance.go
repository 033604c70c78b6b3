package zones

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/odds"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

// AssetKind decide se o ativo negocia 24x7 ou só no pregão
type AssetKind string

const (
	AssetCrypto AssetKind = "crypto"
	AssetStock  AssetKind = "stock"
)

type Asset struct {
	Ticker string
	Kind   AssetKind
}

// Continuous: ativos que abrem zonas fora do horário de mercado
func (a Asset) Continuous() bool { return a.Kind == AssetCrypto }

// ParseAssets lê "BTC:crypto,AAPL:stock"; sem tipo assume stock
func ParseAssets(s string) ([]Asset, error) {
	var out []Asset
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ticker, kind, _ := strings.Cut(part, ":")
		a := Asset{Ticker: strings.ToUpper(strings.TrimSpace(ticker)), Kind: AssetKind(strings.ToLower(strings.TrimSpace(kind)))}
		if a.Kind == "" {
			a.Kind = AssetStock
		}
		if a.Ticker == "" || (a.Kind != AssetCrypto && a.Kind != AssetStock) {
			return nil, domain.Invalid("invalid asset %q", part)
		}
		out = append(out, a)
	}
	return out, nil
}

// MaintenanceConfig é a política de abertura de zonas
type MaintenanceConfig struct {
	Assets     []Asset
	Currencies []domain.Currency
	Timeframes []domain.Timeframe
	Margin     float64 // betMargin das novas zonas
	Offset     float64 // target = price * (1 + Offset)
	BaseOdds   float64
	BetType    domain.BetType
	Delist     bool // cancela zonas de tickers que saíram de Assets
}

// OpenedSink recebe as zonas abertas depois do commit
type OpenedSink interface {
	PublishZoneOpened(ctx context.Context, e events.ZoneOpened) error
}

// Maintainer abre zonas novas a cada tick para os ativos configurados
type Maintainer struct {
	Manager *Manager
	Prices  odds.PriceFeed
	Sink    OpenedSink // opcional
	Cfg     MaintenanceConfig
}

func NewMaintainer(m *Manager, prices odds.PriceFeed, sink OpenedSink, cfg MaintenanceConfig) *Maintainer {
	if cfg.BetType == "" {
		cfg.BetType = domain.BetOutside
	}
	return &Maintainer{Manager: m, Prices: prices, Sink: sink, Cfg: cfg}
}

// RunZoneMaintenanceTick abre uma zona para cada (ativo, moeda, timeframe) sem zona ativa.
// Fora do pregão (marketHours=false) só os ativos contínuos são considerados.
// Devolve quantas zonas foram abertas.
func (mt *Maintainer) RunZoneMaintenanceTick(ctx context.Context, marketHours bool) (int, error) {
	log := mt.Manager.Log
	itemCtx := context.WithoutCancel(ctx)
	opened := 0

	if mt.Cfg.Delist {
		mt.delistRemoved(itemCtx)
	}

	for _, a := range mt.Cfg.Assets {
		if !marketHours && !a.Continuous() {
			continue
		}
		for _, cur := range mt.Cfg.Currencies {
			if ctx.Err() != nil {
				return opened, nil
			}
			n, err := mt.openMissing(itemCtx, a.Ticker, cur)
			opened += n
			if err != nil {
				log.Warn("zone maintenance skipped asset",
					zap.String("ticker", a.Ticker), zap.String("currency", string(cur)), zap.Error(err))
			}
		}
	}
	return opened, nil
}

// delistRemoved cancela as zonas ativas de tickers fora de Assets; lista vazia não cancela nada
func (mt *Maintainer) delistRemoved(ctx context.Context) int64 {
	if len(mt.Cfg.Assets) == 0 {
		return 0
	}
	listed := make(map[string]bool, len(mt.Cfg.Assets))
	for _, a := range mt.Cfg.Assets {
		listed[a.Ticker] = true
	}
	active, err := mt.Manager.GetActiveFutureZones(ctx, mt.Manager.Now().UTC())
	if err != nil {
		mt.Manager.Log.Warn("zone delisting skipped", zap.Error(err))
		return 0
	}

	var total int64
	done := map[string]bool{}
	for _, z := range active {
		if listed[z.Ticker] || done[z.Ticker] {
			continue
		}
		done[z.Ticker] = true
		n, err := mt.Manager.DeactivateZonesByTicker(ctx, z.Ticker)
		if err != nil {
			mt.Manager.Log.Warn("zone delisting failed", zap.String("ticker", z.Ticker), zap.Error(err))
			continue
		}
		total += n
	}
	return total
}

func (mt *Maintainer) openMissing(ctx context.Context, ticker string, cur domain.Currency) (int, error) {
	var missing []domain.Timeframe
	for _, tf := range mt.Cfg.Timeframes {
		active, err := mt.Manager.GetActiveZonesByTicker(ctx, ticker, tf, cur)
		if err != nil {
			return 0, err
		}
		// zona vencida ainda ativa aguarda o settlement antes de ser substituída
		if len(active) == 0 {
			missing = append(missing, tf)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	price, err := mt.Prices.GetCurrentPrice(ctx, ticker, cur)
	if err != nil {
		return 0, fmt.Errorf("price: %w", err)
	}
	target := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(1 + mt.Cfg.Offset)).
		Round(2).
		InexactFloat64()

	opened := 0
	for _, tf := range missing {
		d, err := tf.Duration()
		if err != nil {
			return opened, err
		}
		now := mt.Manager.Now().UTC()
		z, err := mt.Manager.CreateZone(ctx, domain.ZoneParams{
			Ticker:      ticker,
			Currency:    cur,
			TargetValue: target,
			BetMargin:   mt.Cfg.Margin,
			StartDate:   now,
			EndDate:     now.Add(d),
			TargetOdds:  mt.Cfg.BaseOdds,
			BetType:     mt.Cfg.BetType,
			Timeframe:   tf,
		})
		if errors.Is(err, domain.ErrConflict) {
			// outra instância abriu primeiro
			continue
		}
		if err != nil {
			return opened, err
		}
		opened++
		mt.publish(ctx, z)
	}
	return opened, nil
}

func (mt *Maintainer) publish(ctx context.Context, z *domain.BetZone) {
	if mt.Sink == nil {
		return
	}
	err := mt.Sink.PublishZoneOpened(ctx, events.ZoneOpened{
		ZoneID:      z.ID,
		Ticker:      z.Ticker,
		Currency:    string(z.Currency),
		Timeframe:   string(z.Timeframe),
		BetType:     string(z.BetType),
		TargetValue: z.TargetValue,
		BetMargin:   z.BetMargin,
		TargetOdds:  z.TargetOdds,
		StartDate:   z.StartDate,
		EndDate:     z.EndDate,
	})
	if err != nil {
		mt.Manager.Log.Warn("zone opened publish failed", zap.String("zoneId", z.ID), zap.Error(err))
	}
}
