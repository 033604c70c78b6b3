// Package postgres implementa store.UnitOfWork sobre database/sql + lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
)

// Store abre uma transação Postgres por unit of work
type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

var _ store.UnitOfWork = (*Store)(nil)

// Within garante rollback em erro ou panic; o commit só acontece se fn retornar nil
func (s *Store) Within(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Wrap(domain.ErrTransientStore, fmt.Errorf("begin tx: %w", err))
	}
	defer func() {
		if r := recover(); r != nil {
			_ = sqlTx.Rollback()
			err = domain.Wrap(domain.ErrUnexpected, fmt.Errorf("panic in unit of work: %v", r))
		}
	}()

	if err = fn(&tx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return mapErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct{ q querier }

func (t *tx) Users() store.UserRepo         { return &userRepo{q: t.q} }
func (t *tx) Ledger() store.LedgerRepo      { return &ledgerRepo{q: t.q} }
func (t *tx) Zones() store.ZoneRepo         { return &zoneRepo{q: t.q} }
func (t *tx) Bets() store.BetRepo           { return &betRepo{q: t.q} }
func (t *tx) PriceBets() store.PriceBetRepo { return &priceBetRepo{q: t.q} }
func (t *tx) Nonces() store.NonceRepo       { return &nonceRepo{q: t.q} }
func (t *tx) Rewards() store.RewardRepo     { return &rewardRepo{q: t.q} }

// mapErr traduz erros do driver para a taxonomia do domínio
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Wrap(domain.ErrNotFound, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return domain.Wrap(domain.ErrConflict, err)
		case "23514": // check_violation (saldo negativo, datas)
			return domain.Wrap(domain.ErrConflict, err)
		case "40001", "40P01", "55P03": // serialization, deadlock, lock_not_available
			return domain.Wrap(domain.ErrTransientStore, err)
		}
		if pqErr.Code.Class() == "08" { // connection exception
			return domain.Wrap(domain.ErrTransientStore, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return domain.Wrap(domain.ErrTransientStore, err)
	}
	return err
}

// expectOne converte "0 linhas afetadas" em NotFound
func expectOne(res sql.Result, err error, kind, id string) error {
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
	}
	return nil
}
