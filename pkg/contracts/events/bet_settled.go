package events

import "time"

// Evento emitido pelo settlement checker após o commit da liquidação de uma aposta.
// Consumido pelos serviços de notificação/e-mail.
type BetSettled struct {
	BetID  string    `json:"betId"`
	UserID string    `json:"userId"`
	ZoneID string    `json:"zoneId"`
	Ticker string    `json:"ticker"`
	Status string    `json:"status"` // "PAID" | "LOST" | "VOID"
	Amount int64     `json:"amount"`
	Payout int64     `json:"payout,omitempty"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

type PriceBetSettled struct {
	PriceBetID string    `json:"priceBetId"`
	UserID     string    `json:"userId"`
	Ticker     string    `json:"ticker"`
	Won        bool      `json:"won"`
	Prize      int64     `json:"prize,omitempty"`
	Value      float64   `json:"value"`
	Price      float64   `json:"price"`
	Ts         time.Time `json:"ts"`
}
