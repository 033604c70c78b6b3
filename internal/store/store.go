// Package store define a unit of work e os repositórios que o engine consome.
package store

import (
	"context"
	"time"

	"github.com/radieske/wager-settlement-engine/internal/domain"
)

// UnitOfWork executa fn numa única transação.
// Erro ou panic dentro de fn causa rollback antes do retorno.
type UnitOfWork interface {
	Within(ctx context.Context, fn func(tx Tx) error) error
}

// Tx expõe os repositórios ligados a uma transação aberta
type Tx interface {
	Users() UserRepo
	Ledger() LedgerRepo
	Zones() ZoneRepo
	Bets() BetRepo
	PriceBets() PriceBetRepo
	Nonces() NonceRepo
	Rewards() RewardRepo
}

type UserRepo interface {
	Add(ctx context.Context, u *domain.User) (*domain.User, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	// GetForUpdate trava a linha do usuário até o fim da transação
	GetForUpdate(ctx context.Context, id string) (*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
}

type LedgerRepo interface {
	Append(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error)
	ByUser(ctx context.Context, userID string, limit int) ([]*domain.LedgerEntry, error)
}

type ZoneRepo interface {
	// Add devolve a zona com o ID gerado; ErrConflict se já houver zona ativa
	// para (ticker, timeframe, currency)
	Add(ctx context.Context, z *domain.BetZone) (*domain.BetZone, error)
	Get(ctx context.Context, id string) (*domain.BetZone, error)
	GetForUpdate(ctx context.Context, id string) (*domain.BetZone, error)
	Update(ctx context.Context, z *domain.BetZone) error
	ActiveByTicker(ctx context.Context, ticker string, tf domain.Timeframe, cur domain.Currency) ([]*domain.BetZone, error)
	ActiveByTickers(ctx context.Context, tickers []string) ([]*domain.BetZone, error)
	// ActiveFuture: zonas ativas cujo endDate ainda não chegou em at
	ActiveFuture(ctx context.Context, at time.Time) ([]*domain.BetZone, error)
	// ActiveExpired: zonas ativas com endDate <= at
	ActiveExpired(ctx context.Context, at time.Time) ([]*domain.BetZone, error)
}

// StakePool é o volume apostado por lado numa zona
type StakePool map[domain.BetType]int64

type BetRepo interface {
	Add(ctx context.Context, b *domain.Bet) (*domain.Bet, error)
	Get(ctx context.Context, id string) (*domain.Bet, error)
	// OpenByZone devolve (e trava) as apostas não finalizadas de uma zona
	OpenByZone(ctx context.Context, zoneID string) ([]*domain.Bet, error)
	StakeByZone(ctx context.Context, zoneID string) (StakePool, error)
	Update(ctx context.Context, b *domain.Bet) error
}

type PriceBetRepo interface {
	Add(ctx context.Context, p *domain.PriceBet) (*domain.PriceBet, error)
	Get(ctx context.Context, id string) (*domain.PriceBet, error)
	GetForUpdate(ctx context.Context, id string) (*domain.PriceBet, error)
	Exists(ctx context.Context, userID, ticker string, cur domain.Currency, endDate time.Time) (bool, error)
	// OpenDue lista price bets não finalizadas com endDate <= at; pula linhas travadas
	OpenDue(ctx context.Context, at time.Time) ([]*domain.PriceBet, error)
	Update(ctx context.Context, p *domain.PriceBet) error
}

type NonceRepo interface {
	Add(ctx context.Context, n *domain.RewardNonce) error
	GetForUpdate(ctx context.Context, nonce string) (*domain.RewardNonce, error)
	Update(ctx context.Context, n *domain.RewardNonce) error
	CountOutstanding(ctx context.Context, userID string, now time.Time) (int, error)
	// PurgeExpired remove nonces expirados e não usados do usuário
	PurgeExpired(ctx context.Context, userID string, now time.Time) (int64, error)
}

type RewardRepo interface {
	Exists(ctx context.Context, transactionID string) (bool, error)
	// Add grava a testemunha de crédito; ErrConflict se o transaction_id já existir
	Add(ctx context.Context, t *domain.RewardTransaction) (*domain.RewardTransaction, error)
}
