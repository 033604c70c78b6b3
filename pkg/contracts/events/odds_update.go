package events

import "time"

// Evento publicado no canal de broadcast a cada recálculo de odds de uma zona
type ZoneOddsUpdate struct {
	ZoneID        string    `json:"zone_id"`
	Ticker        string    `json:"ticker"`
	Currency      string    `json:"currency"`
	Timeframe     string    `json:"timeframe"`
	BetType       string    `json:"bet_type"`
	TargetValue   float64   `json:"target_value"`
	BetMargin     float64   `json:"bet_margin"`
	TargetOdds    float64   `json:"target_odds"`
	OppositeOdds  float64   `json:"opposite_odds"`
	Price         float64   `json:"price"`
	NecessaryGain float64   `json:"necessary_gain"`
	EndDate       time.Time `json:"end_date"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Evento publicado quando o job de manutenção abre uma zona
type ZoneOpened struct {
	ZoneID      string    `json:"zone_id"`
	Ticker      string    `json:"ticker"`
	Currency    string    `json:"currency"`
	Timeframe   string    `json:"timeframe"`
	BetType     string    `json:"bet_type"`
	TargetValue float64   `json:"target_value"`
	BetMargin   float64   `json:"bet_margin"`
	TargetOdds  float64   `json:"target_odds"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
}
