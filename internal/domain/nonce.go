package domain

import (
	"fmt"
	"time"
)

// RewardNonce amarra uma sessão de anúncio a um único claim futuro
type RewardNonce struct {
	Nonce     string
	UserID    string
	AdUnitID  string
	Purpose   string
	Coins     int64 // 0 = não definido na emissão
	Used      bool
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
}

// Outstanding: não usado e não expirado
func (n *RewardNonce) Outstanding(now time.Time) bool {
	return !n.Used && now.Before(n.ExpiresAt)
}

// CheckClaim valida o nonce para o usuário no instante now
func (n *RewardNonce) CheckClaim(userID string, now time.Time) error {
	switch {
	case n.Used:
		return fmt.Errorf("%w: nonce already used", ErrInvalidNonce)
	case !now.Before(n.ExpiresAt):
		return fmt.Errorf("%w: nonce expired", ErrInvalidNonce)
	case n.UserID != userID:
		return fmt.Errorf("%w: nonce bound to another user", ErrInvalidNonce)
	}
	return nil
}

func (n *RewardNonce) MarkAsUsed(now time.Time) error {
	if n.Used {
		return fmt.Errorf("%w: nonce already used", ErrConflict)
	}
	n.Used = true
	n.UsedAt = &now
	return nil
}
