package events

import "time"

// Evento emitido após o crédito de uma recompensa de anúncio
type RewardCredited struct {
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Coins         int64     `json:"coins"`
	AdUnitID      string    `json:"adUnitId,omitempty"`
	Balance       int64     `json:"balance"`
	Ts            time.Time `json:"ts"`
}
