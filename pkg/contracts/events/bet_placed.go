package events

// Evento emitido após o débito da aposta ser commitado
type BetPlaced struct {
	BetID      string  `json:"bet_id"`
	UserID     string  `json:"user_id"`
	ZoneID     string  `json:"zone_id,omitempty"`
	Ticker     string  `json:"ticker"`
	Currency   string  `json:"currency"`
	Side       string  `json:"side,omitempty"`
	Amount     int64   `json:"amount"`
	OriginOdds float64 `json:"origin_odds,omitempty"`
	PriceBet   bool    `json:"price_bet"`
	TsUnixMs   int64   `json:"ts_unix_ms"`
}
