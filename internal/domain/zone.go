package domain

import (
	"fmt"
	"strings"
	"time"
)

// BetZone é uma banda de preço com janela de tempo sobre um ticker
type BetZone struct {
	ID          string
	Ticker      string
	Currency    Currency
	TargetValue float64
	BetMargin   float64 // percentual total da banda, metade para cada lado
	StartDate   time.Time
	EndDate     time.Time
	TargetOdds  float64
	BetType     BetType
	Timeframe   Timeframe
	Active      bool
	CreatedAt   time.Time
}

// ZoneParams agrupa os campos de criação de uma zona
type ZoneParams struct {
	Ticker      string
	Currency    Currency
	TargetValue float64
	BetMargin   float64
	StartDate   time.Time
	EndDate     time.Time
	TargetOdds  float64
	BetType     BetType
	Timeframe   Timeframe
}

// NewBetZone valida os parâmetros e devolve uma zona ativa ainda sem ID.
// O ID vem do insert no store.
func NewBetZone(p ZoneParams) (*BetZone, error) {
	ticker := strings.ToUpper(strings.TrimSpace(p.Ticker))
	switch {
	case ticker == "":
		return nil, Invalid("ticker required")
	case !p.Currency.Valid():
		return nil, Invalid("unsupported currency %q", string(p.Currency))
	case p.TargetValue <= 0:
		return nil, Invalid("targetValue must be positive")
	case p.BetMargin <= 0 || p.BetMargin >= 200:
		return nil, Invalid("betMargin must be in (0, 200)")
	case !p.EndDate.After(p.StartDate):
		return nil, Invalid("endDate must be after startDate")
	case p.TargetOdds <= 0:
		return nil, Invalid("targetOdds must be positive")
	case !p.BetType.Valid():
		return nil, Invalid("unsupported betType %q", string(p.BetType))
	}
	if _, err := p.Timeframe.Duration(); err != nil {
		return nil, err
	}
	return &BetZone{
		Ticker:      ticker,
		Currency:    p.Currency,
		TargetValue: p.TargetValue,
		BetMargin:   p.BetMargin,
		StartDate:   p.StartDate,
		EndDate:     p.EndDate,
		TargetOdds:  p.TargetOdds,
		BetType:     p.BetType,
		Timeframe:   p.Timeframe,
		Active:      true,
	}, nil
}

// Band devolve [bottom, top] com meia margem de cada lado do alvo
func Band(target, margin float64) (bottom, top float64) {
	half := target * margin / 200
	return target - half, target + half
}

func (z *BetZone) Band() (bottom, top float64) { return Band(z.TargetValue, z.BetMargin) }

// Inside diz se o preço está dentro da banda, bordas inclusive
func (z *BetZone) Inside(price float64) bool {
	bottom, top := z.Band()
	return price >= bottom && price <= top
}

// WinningSide é o lado vencedor dado o preço de liquidação
func (z *BetZone) WinningSide(price float64) BetType {
	if z.Inside(price) {
		return BetInside
	}
	return BetOutside
}

func (z *BetZone) Expired(now time.Time) bool { return !now.Before(z.EndDate) }

// SetOdds só é permitido em zonas ativas e não expiradas
func (z *BetZone) SetOdds(odds float64, now time.Time) error {
	if !z.Active || z.Expired(now) {
		return fmt.Errorf("%w: zone %s is closed", ErrConflict, z.ID)
	}
	if odds <= 0 {
		return Invalid("odds must be positive")
	}
	z.TargetOdds = odds
	return nil
}

func (z *BetZone) Deactivate() { z.Active = false }
