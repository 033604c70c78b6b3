package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status derivado de uma Bet: OPEN -> WON|LOST -> PAID, ou OPEN -> VOID quando a zona é cancelada
type BetStatus string

const (
	BetOpen BetStatus = "OPEN"
	BetWon  BetStatus = "WON"
	BetLost BetStatus = "LOST"
	BetPaid BetStatus = "PAID"
	BetVoid BetStatus = "VOID"
)

// Bet é uma aposta sobre uma zona. OriginOdds fica travada no momento da aposta.
type Bet struct {
	ID           string
	UserID       string
	Ticker       string
	Currency     Currency
	BetAmount    int64
	OriginValue  float64
	OriginOdds   float64
	TargetValue  float64
	TargetMargin float64
	ZoneID       string
	Side         BetType
	TargetWon    bool
	Finished     bool
	Paid         bool
	Archived     bool
	Voided       bool
	CreatedAt    time.Time
	SettledAt    *time.Time
}

func (b *Bet) Status() BetStatus {
	switch {
	case !b.Finished:
		return BetOpen
	case b.Voided:
		return BetVoid
	case b.Paid:
		return BetPaid
	case b.TargetWon:
		return BetWon
	}
	return BetLost
}

func (b *Bet) finish(won bool, now time.Time) error {
	if b.Finished {
		return fmt.Errorf("%w: bet %s already finished", ErrConflict, b.ID)
	}
	b.Finished = true
	b.TargetWon = won
	b.SettledAt = &now
	return nil
}

func (b *Bet) MarkAsWon(now time.Time) error  { return b.finish(true, now) }
func (b *Bet) MarkAsLost(now time.Time) error { return b.finish(false, now) }

// Void finaliza a aposta sem resultado; o stake volta ao usuário fora daqui
func (b *Bet) Void(now time.Time) error {
	if err := b.finish(false, now); err != nil {
		return err
	}
	b.Voided = true
	return nil
}

// MarkAsPaid exige aposta finalizada, vencedora e ainda não paga
func (b *Bet) MarkAsPaid() error {
	switch {
	case !b.Finished:
		return fmt.Errorf("%w: bet %s is not finished", ErrConflict, b.ID)
	case !b.TargetWon:
		return fmt.Errorf("%w: bet %s did not win", ErrConflict, b.ID)
	case b.Paid:
		return fmt.Errorf("%w: bet %s already paid", ErrConflict, b.ID)
	}
	b.Paid = true
	return nil
}

// Archive é ortogonal ao pagamento: só exige aposta finalizada
func (b *Bet) Archive() error {
	if !b.Finished {
		return fmt.Errorf("%w: bet %s is still open", ErrConflict, b.ID)
	}
	if b.Archived {
		return fmt.Errorf("%w: bet %s already archived", ErrConflict, b.ID)
	}
	b.Archived = true
	return nil
}

// Payout = betAmount * originOdds, truncado para pontos inteiros
func (b *Bet) Payout() int64 {
	return decimal.NewFromInt(b.BetAmount).
		Mul(decimal.NewFromFloat(b.OriginOdds)).
		Floor().
		IntPart()
}

// PriceBet é uma aposta no preço bruto de um ticker numa data
type PriceBet struct {
	ID            string
	UserID        string
	Ticker        string
	Currency      Currency
	PriceBetValue float64
	Margin        float64 // percentual de tolerância em torno do valor apostado
	Cost          int64
	Prize         int64
	BetDate       time.Time
	EndDate       time.Time
	Finished      bool
	Won           bool
	SettledValue  float64
	Paid          bool
	Archived      bool
}

// Within compara o preço de liquidação com o valor apostado dentro da margem
func (p *PriceBet) Within(price float64) bool {
	value := decimal.NewFromFloat(p.PriceBetValue)
	tolerance := value.Mul(decimal.NewFromFloat(p.Margin)).Div(decimal.NewFromInt(100))
	return decimal.NewFromFloat(price).Sub(value).Abs().LessThanOrEqual(tolerance)
}

// Settle registra o resultado; falha se já finalizada
func (p *PriceBet) Settle(price float64) (won bool, err error) {
	if p.Finished {
		return false, fmt.Errorf("%w: price bet %s already finished", ErrConflict, p.ID)
	}
	p.Finished = true
	p.SettledValue = price
	p.Won = p.Within(price)
	return p.Won, nil
}

func (p *PriceBet) MarkAsPaid() error {
	if !p.Finished || !p.Won || p.Paid {
		return fmt.Errorf("%w: price bet %s cannot be paid", ErrConflict, p.ID)
	}
	p.Paid = true
	return nil
}

func (p *PriceBet) Archive() error {
	if !p.Finished || p.Archived {
		return fmt.Errorf("%w: price bet %s cannot be archived", ErrConflict, p.ID)
	}
	p.Archived = true
	return nil
}
