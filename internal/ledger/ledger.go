// Package ledger aplica as mutações de saldo sobre o agregado User.
// Durabilidade e atomicidade ficam com a unit of work de quem chama.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
)

// Debit subtrai pontos; nunca deixa saldo negativo
func Debit(u *domain.User, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: debit of %d", domain.ErrInsufficientFunds, amount)
	}
	if u.Points < amount {
		return fmt.Errorf("%w: user %s has %d, needs %d", domain.ErrInsufficientFunds, u.ID, u.Points, amount)
	}
	u.Points -= amount
	return nil
}

// Credit soma pontos incondicionalmente
func Credit(u *domain.User, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: credit of %d", domain.ErrInvalidAmount, amount)
	}
	u.Points += amount
	return nil
}

// Hold move pontos para o saldo pendente (stake bloqueado até a liquidação)
func Hold(u *domain.User, amount int64) error {
	if err := Debit(u, amount); err != nil {
		return err
	}
	u.PendingBalance += amount
	return nil
}

// Release consome um valor do saldo pendente
func Release(u *domain.User, amount int64) error {
	if amount <= 0 || u.PendingBalance < amount {
		return fmt.Errorf("%w: release of %d from pending %d", domain.ErrInvalidAmount, amount, u.PendingBalance)
	}
	u.PendingBalance -= amount
	return nil
}

// Op descreve uma mutação a ser aplicada dentro de uma transação
type Op struct {
	UserID    string
	Type      domain.EntryType
	Amount    int64
	Reason    string
	Reference string
}

// Apply trava o usuário, aplica a mutação, persiste e grava o lançamento no extrato.
// Tudo na transação tx: se qualquer passo falhar, nada é gravado.
func Apply(ctx context.Context, tx store.Tx, op Op, now time.Time) (*domain.User, error) {
	u, err := tx.Users().GetForUpdate(ctx, op.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", op.UserID, err)
	}

	switch op.Type {
	case domain.EntryDebit:
		err = Debit(u, op.Amount)
	case domain.EntryCredit:
		err = Credit(u, op.Amount)
	case domain.EntryHold:
		err = Hold(u, op.Amount)
	case domain.EntryRelease:
		err = Release(u, op.Amount)
	default:
		err = domain.Invalid("unknown ledger operation %q", string(op.Type))
	}
	if err != nil {
		return nil, err
	}

	u.UpdatedAt = now
	if err := tx.Users().Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user %s: %w", u.ID, err)
	}
	if _, err := tx.Ledger().Append(ctx, &domain.LedgerEntry{
		UserID:    u.ID,
		Type:      op.Type,
		Amount:    op.Amount,
		Balance:   u.Points,
		Reason:    op.Reason,
		Reference: op.Reference,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}
	return u, nil
}
