package topics

const (
	// Zonas e odds
	ZoneOpened  = "zone_opened"
	OddsUpdates = "zone_odds_updates"

	// Apostas
	BetPlaced       = "bet_placed"
	BetSettled      = "bet_settled"
	PriceBetSettled = "price_bet_settled"

	// Recompensas
	RewardCredited = "reward_credited"
)
