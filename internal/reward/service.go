// Package reward implementa o protocolo de recompensa por anúncio:
// nonce de uso único na abertura do anúncio e crédito idempotente por transaction id.
package reward

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/ledger"
	"github.com/radieske/wager-settlement-engine/internal/store"
	"github.com/radieske/wager-settlement-engine/pkg/contracts/events"
)

const nonceBytes = 32

// errReplay marca um transaction id já creditado
var errReplay = errors.New("reward transaction already credited")

// SignatureVerifier valida a atestação da rede de anúncios
type SignatureVerifier interface {
	Verify(ctx context.Context, rawQuery, signature, keyID string) error
}

type Publisher interface {
	PublishRewardCredited(ctx context.Context, e events.RewardCredited) error
}

type Config struct {
	NonceTTL     time.Duration
	MaxPending   int
	DefaultCoins int64
	MaxCoins     int64
	// RequireSignature recusa claims sem assinatura (callback SSV obrigatório)
	RequireSignature bool
}

type Service struct {
	Log      *zap.Logger
	UoW      store.UnitOfWork
	Verifier SignatureVerifier
	Events   Publisher // opcional
	Cfg      Config
	Now      func() time.Time
	Rand     io.Reader

	OnCredited func(coins int64)
	OnReplay   func()
	OnRejected func(code domain.Code)
}

func NewService(log *zap.Logger, uow store.UnitOfWork, v SignatureVerifier, pub Publisher, cfg Config) *Service {
	if cfg.NonceTTL <= 0 {
		cfg.NonceTTL = 5 * time.Minute
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 3
	}
	return &Service{Log: log, UoW: uow, Verifier: v, Events: pub, Cfg: cfg, Now: time.Now, Rand: rand.Reader}
}

type NonceRequest struct {
	UserID   string
	AdUnitID string
	Purpose  string
	Coins    int64 // 0 = usa o default na verificação
}

// RequestNonce emite um nonce novo com TTL fixo.
// ErrTooManyPending se o usuário já tem MaxPending nonces em aberto.
func (s *Service) RequestNonce(ctx context.Context, req NonceRequest) (*domain.RewardNonce, error) {
	switch {
	case strings.TrimSpace(req.UserID) == "":
		return nil, domain.Invalid("userId required")
	case strings.TrimSpace(req.AdUnitID) == "":
		return nil, domain.Invalid("adUnitId required")
	case req.Coins < 0:
		return nil, domain.Invalid("coins must not be negative")
	case s.Cfg.MaxCoins > 0 && req.Coins > s.Cfg.MaxCoins:
		return nil, domain.Invalid("coins above the %d limit", s.Cfg.MaxCoins)
	}

	token, err := s.token()
	if err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	now := s.Now().UTC()
	n := &domain.RewardNonce{
		Nonce:     token,
		UserID:    req.UserID,
		AdUnitID:  req.AdUnitID,
		Purpose:   req.Purpose,
		Coins:     req.Coins,
		CreatedAt: now,
		ExpiresAt: now.Add(s.Cfg.NonceTTL),
	}

	err = s.UoW.Within(ctx, func(tx store.Tx) error {
		// lock no usuário serializa emissões concorrentes do mesmo usuário
		if _, err := tx.Users().GetForUpdate(ctx, req.UserID); err != nil {
			return err
		}
		if _, err := tx.Nonces().PurgeExpired(ctx, req.UserID, now); err != nil {
			return err
		}
		pending, err := tx.Nonces().CountOutstanding(ctx, req.UserID, now)
		if err != nil {
			return err
		}
		if pending >= s.Cfg.MaxPending {
			return fmt.Errorf("%w: %d outstanding", domain.ErrTooManyPending, pending)
		}
		return tx.Nonces().Add(ctx, n)
	})
	if err != nil {
		s.reject(err)
		return nil, err
	}
	return n, nil
}

func (s *Service) token() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := io.ReadFull(s.Rand, b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type VerifyRequest struct {
	UserID        string
	TransactionID string
	Nonce         string
	CoinsHint     int64
	Signature     string
	KeyID         string
	RawQuery      string

	AdUnitID        string
	RewardItem      string
	RewardAmountRaw string
}

// VerifyReward credita a recompensa exatamente uma vez por TransactionID.
// credited=false com err=nil é um replay de uma transação já creditada.
func (s *Service) VerifyReward(ctx context.Context, req VerifyRequest) (credited bool, err error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.TransactionID) == "" {
		return false, domain.Invalid("userId and transactionId required")
	}

	// replay antes de qualquer validação: um retry legítimo traz nonce já usado
	var seen bool
	if err := s.UoW.Within(ctx, func(tx store.Tx) error {
		var err error
		seen, err = tx.Rewards().Exists(ctx, req.TransactionID)
		return err
	}); err != nil {
		return false, err
	}
	if seen {
		s.replay(req.TransactionID)
		return false, nil
	}

	// assinatura fora da transação: o fetch de chaves não segura lock
	if req.Signature != "" || req.KeyID != "" {
		if s.Verifier == nil {
			return false, s.reject(fmt.Errorf("%w: no verifier configured", domain.ErrInvalidSignature))
		}
		if err := s.Verifier.Verify(ctx, req.RawQuery, req.Signature, req.KeyID); err != nil {
			s.Log.Warn("ssv signature rejected", zap.String("transactionId", req.TransactionID), zap.String("keyId", req.KeyID), zap.Error(err))
			return false, s.reject(domain.Wrap(domain.ErrInvalidSignature, err))
		}
	} else if s.Cfg.RequireSignature {
		return false, s.reject(fmt.Errorf("%w: signature required", domain.ErrInvalidSignature))
	}

	now := s.Now().UTC()
	var ev events.RewardCredited
	err = s.UoW.Within(ctx, func(tx store.Tx) error {
		n, nerr := tx.Nonces().GetForUpdate(ctx, req.Nonce)
		// releitura depois do lock no nonce: o claim concorrente já pode ter commitado
		dup, err := tx.Rewards().Exists(ctx, req.TransactionID)
		if err != nil {
			return err
		}
		if dup {
			return errReplay
		}
		if errors.Is(nerr, domain.ErrNotFound) {
			return fmt.Errorf("%w: unknown nonce", domain.ErrInvalidNonce)
		}
		if nerr != nil {
			return nerr
		}
		if err := n.CheckClaim(req.UserID, now); err != nil {
			return err
		}

		coins := s.coins(n, req.CoinsHint)
		u, err := ledger.Apply(ctx, tx, ledger.Op{
			UserID: req.UserID, Type: domain.EntryCredit, Amount: coins,
			Reason: "ad_reward", Reference: req.TransactionID,
		}, now)
		if err != nil {
			return err
		}
		if err := n.MarkAsUsed(now); err != nil {
			return err
		}
		if err := tx.Nonces().Update(ctx, n); err != nil {
			return err
		}

		adUnit := req.AdUnitID
		if adUnit == "" {
			adUnit = n.AdUnitID
		}
		if _, err := tx.Rewards().Add(ctx, &domain.RewardTransaction{
			TransactionID:   req.TransactionID,
			UserID:          req.UserID,
			Coins:           coins,
			AdUnitID:        adUnit,
			RewardItem:      req.RewardItem,
			RewardAmountRaw: req.RewardAmountRaw,
			SSVKeyID:        req.KeyID,
			RawQuery:        req.RawQuery,
			CreatedAt:       now,
		}); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return errReplay
			}
			return err
		}

		ev = events.RewardCredited{
			TransactionID: req.TransactionID, UserID: req.UserID, Coins: coins,
			AdUnitID: adUnit, Balance: u.Points, Ts: now,
		}
		return nil
	})
	if errors.Is(err, errReplay) {
		s.replay(req.TransactionID)
		return false, nil
	}
	if err != nil {
		return false, s.reject(err)
	}

	s.Log.Info("ad reward credited",
		zap.String("userId", ev.UserID),
		zap.String("transactionId", ev.TransactionID),
		zap.Int64("coins", ev.Coins),
	)
	if s.OnCredited != nil {
		s.OnCredited(ev.Coins)
	}
	if s.Events != nil {
		if err := s.Events.PublishRewardCredited(ctx, ev); err != nil {
			s.Log.Warn("reward credited publish failed", zap.String("transactionId", ev.TransactionID), zap.Error(err))
		}
	}
	return true, nil
}

// coins prefere o valor fixado na emissão do nonce ao informado por quem chama
func (s *Service) coins(n *domain.RewardNonce, hint int64) int64 {
	c := n.Coins
	if c <= 0 {
		c = hint
	}
	if c <= 0 {
		c = s.Cfg.DefaultCoins
	}
	if s.Cfg.MaxCoins > 0 && c > s.Cfg.MaxCoins {
		c = s.Cfg.MaxCoins
	}
	return c
}

func (s *Service) replay(txID string) {
	s.Log.Info("ad reward replay ignored", zap.String("transactionId", txID))
	if s.OnReplay != nil {
		s.OnReplay()
	}
}

func (s *Service) reject(err error) error {
	if s.OnRejected != nil {
		s.OnRejected(domain.CodeOf(err))
	}
	return err
}

// NonceResult é a resposta de RequestAdNonce para a camada web
type NonceResult struct {
	domain.Result
	Nonce     string     `json:"nonce,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// RequestAdNonce é a borda declarativa de RequestNonce: nunca devolve erro cru
func (s *Service) RequestAdNonce(ctx context.Context, req NonceRequest) NonceResult {
	n, err := s.RequestNonce(ctx, req)
	if err != nil {
		s.logFailure("request nonce failed", req.UserID, err)
		return NonceResult{Result: domain.Fail(err)}
	}
	return NonceResult{Result: domain.OK(), Nonce: n.Nonce, ExpiresAt: &n.ExpiresAt}
}

// VerifyAdReward é a borda declarativa de VerifyReward; replay também é sucesso
func (s *Service) VerifyAdReward(ctx context.Context, req VerifyRequest) domain.Result {
	if _, err := s.VerifyReward(ctx, req); err != nil {
		s.logFailure("verify reward failed", req.UserID, err)
		return domain.Fail(err)
	}
	return domain.OK()
}

func (s *Service) logFailure(msg, userID string, err error) {
	code := domain.CodeOf(err)
	if code == domain.CodeUnexpected || code == domain.CodeTransientStore {
		s.Log.Error(msg, zap.String("userId", userID), zap.Error(err))
		return
	}
	s.Log.Info(msg, zap.String("userId", userID), zap.String("code", string(code)), zap.Error(err))
}
