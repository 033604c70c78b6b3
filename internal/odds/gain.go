package odds

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
)

// NecessaryGain é a variação percentual que o preço precisa fazer para entrar na banda.
// Positivo: precisa subir até bottom. Negativo: precisa cair até top. Zero: já está dentro.
// Usa o mesmo domain.Band da liquidação.
func NecessaryGain(price, target, margin float64) float64 {
	bottom, top := domain.Band(target, margin)
	switch {
	case price < bottom:
		return (bottom - price) / price * 100
	case price > top:
		return (top - price) / price * 100
	}
	return 0
}

// Config parametriza o cálculo de odds
type Config struct {
	BaseOdds   float64 // odds de uma zona sem volume apostado
	RiskMargin float64 // fração retida pela casa, ex.: 0.05
	MinOdds    float64
	MaxOdds    float64
}

// Compute recalcula a odd do lado zone.BetType a partir do volume por lado.
// O vencedor recebe total/lado, descontada a margem de risco; sem volume parte de BaseOdds.
// Para zonas INSIDE o ganho necessário até a banda encarece a odd proporcionalmente.
func Compute(z *domain.BetZone, pool store.StakePool, price float64, cfg Config) float64 {
	side := pool[z.BetType]
	total := side + pool[z.BetType.Opposite()]

	odds := cfg.BaseOdds
	switch {
	case total > 0 && side == 0:
		odds = cfg.MaxOdds
	case total > 0:
		raw := float64(total) / float64(side)
		odds = 1 + (raw-1)*(1-cfg.RiskMargin)
	}

	if z.BetType == domain.BetInside && price > 0 {
		gain := math.Abs(NecessaryGain(price, z.TargetValue, z.BetMargin))
		odds *= 1 + gain/100
	}
	return clamp(odds, cfg)
}

// SideOdds devolve a odd de um lado da zona. O lado oposto usa a odd complementar
// (mesma probabilidade implícita restante).
func SideOdds(z *domain.BetZone, side domain.BetType, cfg Config) float64 {
	if side == z.BetType {
		return clamp(z.TargetOdds, cfg)
	}
	if z.TargetOdds <= 1 {
		return clamp(cfg.MaxOdds, cfg)
	}
	return clamp(z.TargetOdds/(z.TargetOdds-1), cfg)
}

func clamp(odds float64, cfg Config) float64 {
	if cfg.MinOdds > 0 && odds < cfg.MinOdds {
		odds = cfg.MinOdds
	}
	if cfg.MaxOdds > 0 && odds > cfg.MaxOdds {
		odds = cfg.MaxOdds
	}
	return decimal.NewFromFloat(odds).Round(2).InexactFloat64()
}
