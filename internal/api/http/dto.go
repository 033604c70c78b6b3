package httpapi

import (
	"time"

	"github.com/radieske/wager-settlement-engine/internal/domain"
)

// NonceRequest é o corpo de POST /rewards/nonce
type NonceRequest struct {
	UserID   string `json:"userId" validate:"required,max=64"`
	AdUnitID string `json:"adUnitId" validate:"required,max=128"`
	Purpose  string `json:"purpose,omitempty" validate:"max=64"`
	Coins    int64  `json:"coins,omitempty" validate:"gte=0"`
}

// VerifyRequest é o corpo de POST /rewards/verify
type VerifyRequest struct {
	UserID        string `json:"userId" validate:"required,max=64"`
	TransactionID string `json:"transactionId" validate:"required,max=128"`
	Nonce         string `json:"nonce" validate:"required"`
	Coins         int64  `json:"coins,omitempty" validate:"gte=0"`
	Signature     string `json:"signature,omitempty"`
	KeyID         string `json:"keyId,omitempty" validate:"required_with=Signature"`
	RawQuery      string `json:"rawQuery,omitempty" validate:"required_with=Signature"`
	AdUnitID      string `json:"adUnitId,omitempty"`
	RewardItem    string `json:"rewardItem,omitempty"`
}

type PlaceBetRequest struct {
	UserID       string  `json:"userId" validate:"required"`
	ZoneID       string  `json:"zoneId" validate:"required"`
	Amount       int64   `json:"amount" validate:"gt=0"`
	Side         string  `json:"side,omitempty" validate:"omitempty,oneof=INSIDE OUTSIDE"`
	ExpectedOdds float64 `json:"expectedOdds,omitempty" validate:"gte=0"`
}

type PlacePriceBetRequest struct {
	UserID   string    `json:"userId" validate:"required"`
	Ticker   string    `json:"ticker" validate:"required,max=16"`
	Currency string    `json:"currency" validate:"required"`
	Value    float64   `json:"value" validate:"gt=0"`
	Margin   float64   `json:"margin" validate:"gt=0"`
	EndDate  time.Time `json:"endDate" validate:"required"`
}

type ArchiveRequest struct {
	UserID string `json:"userId" validate:"required"`
}

type BetResponse struct {
	domain.Result
	BetID      string  `json:"betId,omitempty"`
	ZoneID     string  `json:"zoneId,omitempty"`
	Side       string  `json:"side,omitempty"`
	Amount     int64   `json:"amount,omitempty"`
	OriginOdds float64 `json:"originOdds,omitempty"`
	Status     string  `json:"status,omitempty"`
}

type PriceBetResponse struct {
	domain.Result
	PriceBetID string    `json:"priceBetId,omitempty"`
	Cost       int64     `json:"cost,omitempty"`
	Prize      int64     `json:"prize,omitempty"`
	EndDate    time.Time `json:"endDate,omitempty"`
}

type WalletResponse struct {
	domain.Result
	UserID         string `json:"userId,omitempty"`
	Points         int64  `json:"points"`
	PendingBalance int64  `json:"pendingBalance"`
}

type LedgerEntryResponse struct {
	Type      string    `json:"type"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Reason    string    `json:"reason,omitempty"`
	Reference string    `json:"reference,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type ZoneResponse struct {
	ZoneID      string    `json:"zoneId"`
	Ticker      string    `json:"ticker"`
	Currency    string    `json:"currency"`
	Timeframe   string    `json:"timeframe"`
	BetType     string    `json:"betType"`
	TargetValue float64   `json:"targetValue"`
	BetMargin   float64   `json:"betMargin"`
	Bottom      float64   `json:"bottom"`
	Top         float64   `json:"top"`
	TargetOdds  float64   `json:"targetOdds"`
	StartDate   time.Time `json:"startDate"`
	EndDate     time.Time `json:"endDate"`
}

func zoneResponse(z *domain.BetZone) ZoneResponse {
	bottom, top := z.Band()
	return ZoneResponse{
		ZoneID: z.ID, Ticker: z.Ticker, Currency: string(z.Currency), Timeframe: string(z.Timeframe),
		BetType: string(z.BetType), TargetValue: z.TargetValue, BetMargin: z.BetMargin,
		Bottom: bottom, Top: top, TargetOdds: z.TargetOdds, StartDate: z.StartDate, EndDate: z.EndDate,
	}
}
