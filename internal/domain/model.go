package domain

import (
	"fmt"
	"strings"
	"time"
)

// Currency é a moeda em que zonas, price bets e cotações são expressas
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

func (c Currency) Valid() bool { return c == CurrencyUSD || c == CurrencyEUR }

// ParseCurrency aceita "usd"/"USD"/" eur "
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", Invalid("unsupported currency %q", s)
	}
	return c, nil
}

// BetType define o lado da banda: INSIDE ganha se o preço terminar dentro, OUTSIDE se terminar fora
type BetType string

const (
	BetInside  BetType = "INSIDE"
	BetOutside BetType = "OUTSIDE"
)

func (b BetType) Valid() bool { return b == BetInside || b == BetOutside }

// Opposite devolve o outro lado da banda
func (b BetType) Opposite() BetType {
	if b == BetInside {
		return BetOutside
	}
	return BetInside
}

// Timeframe é a duração de vida de uma zona
type Timeframe string

const (
	Timeframe1h Timeframe = "1h"
	Timeframe4h Timeframe = "4h"
	Timeframe1d Timeframe = "1d"
	Timeframe1w Timeframe = "1w"
)

func (t Timeframe) Duration() (time.Duration, error) {
	switch t {
	case Timeframe1h:
		return time.Hour, nil
	case Timeframe4h:
		return 4 * time.Hour, nil
	case Timeframe1d:
		return 24 * time.Hour, nil
	case Timeframe1w:
		return 7 * 24 * time.Hour, nil
	}
	return 0, Invalid("unsupported timeframe %q", string(t))
}

// User é o agregado do ledger. Points e PendingBalance só mudam via pacote ledger.
type User struct {
	ID             string
	Points         int64
	PendingBalance int64
	Verified       bool
	Country        string
	Fullname       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApplyVerifiedKYC é o único caminho para gravar país e nome: exige usuário verificado
func (u *User) ApplyVerifiedKYC(country, fullname string) error {
	if !u.Verified {
		return fmt.Errorf("%w: user %s is not KYC verified", ErrConflict, u.ID)
	}
	country = strings.ToUpper(strings.TrimSpace(country))
	if len(country) != 2 {
		return Invalid("country must be an ISO-3166 alpha-2 code")
	}
	if strings.TrimSpace(fullname) == "" {
		return Invalid("fullname required")
	}
	u.Country = country
	u.Fullname = strings.TrimSpace(fullname)
	return nil
}

// EntryType representa o lado contábil de um lançamento
type EntryType string

const (
	EntryDebit   EntryType = "DEBIT"
	EntryCredit  EntryType = "CREDIT"
	EntryHold    EntryType = "HOLD"
	EntryRelease EntryType = "RELEASE"
)

// LedgerEntry é uma linha do extrato de pontos, gravada na mesma transação da mutação
type LedgerEntry struct {
	ID        string
	UserID    string
	Type      EntryType
	Amount    int64
	Balance   int64
	Reason    string
	Reference string
	CreatedAt time.Time
}

// RewardTransaction testemunha o crédito de um transaction_id externo
type RewardTransaction struct {
	ID              string
	TransactionID   string
	UserID          string
	Coins           int64
	AdUnitID        string
	RewardItem      string
	RewardAmountRaw string
	SSVKeyID        string
	RawQuery        string
	CreatedAt       time.Time
}
