// Package httpapi expõe o engine para a camada web: recompensas de anúncio,
// apostas, price bets, carteira e consulta de zonas/odds.
package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/bets"
	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/reward"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

const codeRateLimited domain.Code = "RATE_LIMITED"

const maxBody = 1 << 20

const (
	defaultLedgerLimit = 50
	maxLedgerLimit     = 200
)

// ReadHeaderTimeout padrão do servidor público
const ReadHeaderTimeout = 5 * time.Second

type Rewards interface {
	RequestAdNonce(ctx context.Context, req reward.NonceRequest) reward.NonceResult
	VerifyAdReward(ctx context.Context, req reward.VerifyRequest) domain.Result
}

type Bets interface {
	PlaceBet(ctx context.Context, in bets.PlaceBetInput) (*domain.Bet, error)
	PlacePriceBet(ctx context.Context, in bets.PlacePriceBetInput) (*domain.PriceBet, error)
	ArchiveBet(ctx context.Context, userID, betID string) error
	ArchivePriceBet(ctx context.Context, userID, priceBetID string) error
	Balance(ctx context.Context, userID string) (*domain.User, error)
	History(ctx context.Context, userID string, limit int) ([]*domain.LedgerEntry, error)
}

type Zones interface {
	GetActiveZonesByTicker(ctx context.Context, ticker string, tf domain.Timeframe, cur domain.Currency) ([]*domain.BetZone, error)
}

// OddsReader lê a última odd publicada de uma zona (cache Redis)
type OddsReader interface {
	GetCurrent(ctx context.Context, zoneID string) (events.ZoneOddsUpdate, bool, error)
}

type Deps struct {
	Rewards Rewards
	Bets    Bets
	Zones   Zones
	Odds    OddsReader   // opcional
	WS      http.Handler // opcional, montado em /ws/odds
}

type Config struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

type Server struct {
	log      *zap.Logger
	deps     Deps
	validate *validator.Validate
	limiter  *userLimiter
}

func NewServer(log *zap.Logger, deps Deps, cfg Config) *Server {
	return &Server{
		log:      log,
		deps:     deps,
		validate: validator.New(),
		limiter:  newUserLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/rewards", func(r chi.Router) {
		r.Post("/nonce", s.requestNonce)
		r.Post("/verify", s.verifyReward)
		r.Get("/ssv", s.ssvCallback) // callback GET da rede de anúncios
	})
	r.Post("/bets", s.placeBet)
	r.Post("/bets/{id}/archive", s.archiveBet)
	r.Post("/price-bets", s.placePriceBet)
	r.Post("/price-bets/{id}/archive", s.archivePriceBet)
	r.Get("/wallet/{userId}", s.wallet)
	r.Get("/wallet/{userId}/ledger", s.walletLedger)
	r.Get("/zones", s.listZones)
	r.Get("/zones/{id}/odds", s.zoneOdds)
	if s.deps.WS != nil {
		r.Handle("/ws/odds", s.deps.WS)
	}
	return r
}

func (s *Server) requestNonce(w http.ResponseWriter, r *http.Request) {
	var req NonceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.allow(w, req.UserID) {
		return
	}
	res := s.deps.Rewards.RequestAdNonce(r.Context(), reward.NonceRequest{
		UserID: req.UserID, AdUnitID: req.AdUnitID, Purpose: req.Purpose, Coins: req.Coins,
	})
	writeJSON(w, statusFor(res.Result), res)
}

func (s *Server) verifyReward(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.allow(w, req.UserID) {
		return
	}
	res := s.deps.Rewards.VerifyAdReward(r.Context(), reward.VerifyRequest{
		UserID: req.UserID, TransactionID: req.TransactionID, Nonce: req.Nonce, CoinsHint: req.Coins,
		Signature: req.Signature, KeyID: req.KeyID, RawQuery: req.RawQuery,
		AdUnitID: req.AdUnitID, RewardItem: req.RewardItem,
	})
	writeJSON(w, statusFor(res), res)
}

// ssvCallback traduz a query do callback SSV; rawQuery é assinada como veio
func (s *Server) ssvCallback(w http.ResponseWriter, r *http.Request) {
	// rota pública: limite por IP de origem
	if !s.allow(w, "ip:"+clientIP(r)) {
		return
	}
	q := r.URL.Query()
	hint, _ := strconv.ParseInt(q.Get("reward_amount"), 10, 64)
	res := s.deps.Rewards.VerifyAdReward(r.Context(), reward.VerifyRequest{
		UserID:          q.Get("user_id"),
		TransactionID:   q.Get("transaction_id"),
		Nonce:           q.Get("custom_data"),
		CoinsHint:       hint,
		Signature:       q.Get("signature"),
		KeyID:           q.Get("key_id"),
		RawQuery:        r.URL.RawQuery,
		AdUnitID:        q.Get("ad_unit"),
		RewardItem:      q.Get("reward_item"),
		RewardAmountRaw: q.Get("reward_amount"),
	})
	writeJSON(w, statusFor(res), res)
}

func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	b, err := s.deps.Bets.PlaceBet(r.Context(), bets.PlaceBetInput{
		UserID: req.UserID, ZoneID: req.ZoneID, Amount: req.Amount,
		Side: domain.BetType(req.Side), ExpectedOdds: req.ExpectedOdds,
	})
	if err != nil {
		s.fail(w, "place bet failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, BetResponse{
		Result: domain.OK(), BetID: b.ID, ZoneID: b.ZoneID, Side: string(b.Side),
		Amount: b.BetAmount, OriginOdds: b.OriginOdds, Status: string(b.Status()),
	})
}

func (s *Server) placePriceBet(w http.ResponseWriter, r *http.Request) {
	var req PlacePriceBetRequest
	if !s.decode(w, r, &req) {
		return
	}
	cur, err := domain.ParseCurrency(req.Currency)
	if err != nil {
		s.fail(w, "place price bet failed", err)
		return
	}
	p, err := s.deps.Bets.PlacePriceBet(r.Context(), bets.PlacePriceBetInput{
		UserID: req.UserID, Ticker: req.Ticker, Currency: cur,
		Value: req.Value, Margin: req.Margin, EndDate: req.EndDate,
	})
	if err != nil {
		s.fail(w, "place price bet failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, PriceBetResponse{
		Result: domain.OK(), PriceBetID: p.ID, Cost: p.Cost, Prize: p.Prize, EndDate: p.EndDate,
	})
}

func (s *Server) archiveBet(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Bets.ArchiveBet(r.Context(), req.UserID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, "archive bet failed", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.OK())
}

func (s *Server) archivePriceBet(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Bets.ArchivePriceBet(r.Context(), req.UserID, chi.URLParam(r, "id")); err != nil {
		s.fail(w, "archive price bet failed", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.OK())
}

func (s *Server) wallet(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Bets.Balance(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		s.fail(w, "wallet lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, WalletResponse{
		Result: domain.OK(), UserID: u.ID, Points: u.Points, PendingBalance: u.PendingBalance,
	})
}

// walletLedger: GET /wallet/{userId}/ledger?limit=50, mais recentes primeiro
func (s *Server) walletLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLedgerLimit {
			s.fail(w, "wallet ledger failed", domain.Invalid("limit must be between 1 and %d", maxLedgerLimit))
			return
		}
		limit = n
	}
	entries, err := s.deps.Bets.History(r.Context(), chi.URLParam(r, "userId"), limit)
	if err != nil {
		s.fail(w, "wallet ledger failed", err)
		return
	}
	out := make([]LedgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LedgerEntryResponse{
			Type: string(e.Type), Amount: e.Amount, Balance: e.Balance,
			Reason: e.Reason, Reference: e.Reference, CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// listZones: GET /zones?ticker=BTC&timeframe=1h&currency=USD
func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ticker := strings.ToUpper(strings.TrimSpace(q.Get("ticker")))
	if ticker == "" {
		s.fail(w, "list zones failed", domain.Invalid("ticker required"))
		return
	}
	tf := domain.Timeframe(q.Get("timeframe"))
	if _, err := tf.Duration(); err != nil {
		s.fail(w, "list zones failed", err)
		return
	}
	curRaw := q.Get("currency")
	if curRaw == "" {
		curRaw = string(domain.CurrencyUSD)
	}
	cur, err := domain.ParseCurrency(curRaw)
	if err != nil {
		s.fail(w, "list zones failed", err)
		return
	}

	zs, err := s.deps.Zones.GetActiveZonesByTicker(r.Context(), ticker, tf, cur)
	if err != nil {
		s.fail(w, "list zones failed", err)
		return
	}
	out := make([]ZoneResponse, 0, len(zs))
	for _, z := range zs {
		out = append(out, zoneResponse(z))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) zoneOdds(w http.ResponseWriter, r *http.Request) {
	if s.deps.Odds == nil {
		writeJSON(w, http.StatusNotFound, domain.Fail(domain.ErrNotFound))
		return
	}
	u, found, err := s.deps.Odds.GetCurrent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Warn("odds cache read failed", zap.String("zoneId", chi.URLParam(r, "id")), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, domain.Fail(domain.Wrap(domain.ErrTransientStore, err)))
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, domain.Fail(domain.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// decode lê e valida o corpo JSON; em falha já responde 400
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Fail(domain.Invalid("bad json")))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.Fail(domain.Invalid("%s", validationMessage(err))))
		return false
	}
	return true
}

func (s *Server) allow(w http.ResponseWriter, userID string) bool {
	if s.limiter.Allow(userID) {
		return true
	}
	s.log.Warn("rate limit exceeded", zap.String("userId", userID))
	w.Header().Set("Retry-After", "1")
	writeJSON(w, http.StatusTooManyRequests, domain.Result{Code: codeRateLimited, Message: "too many requests"})
	return false
}

// clientIP usa o RemoteAddr já reescrito pelo middleware RealIP
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	res := domain.Fail(err)
	if res.Code == domain.CodeUnexpected || res.Code == domain.CodeTransientStore {
		s.log.Error(msg, zap.Error(err))
	} else {
		s.log.Info(msg, zap.String("code", string(res.Code)), zap.Error(err))
	}
	writeJSON(w, statusFor(res), res)
}

// validationMessage resume os campos inválidos sem expor a struct interna
func validationMessage(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return "invalid payload"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field()+":"+fe.Tag())
	}
	return "invalid fields " + strings.Join(fields, ",")
}

// statusFor mapeia o código do Result para o status HTTP
func statusFor(res domain.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Code {
	case domain.CodeValidation, domain.CodeInvalidAmount:
		return http.StatusBadRequest
	case domain.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeConflict, domain.CodeInvalidNonce:
		return http.StatusConflict
	case domain.CodeTooManyPending, codeRateLimited:
		return http.StatusTooManyRequests
	case domain.CodeInvalidSignature:
		return http.StatusUnauthorized
	case domain.CodeTransientStore:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
