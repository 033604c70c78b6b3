// Package memory implementa store.UnitOfWork em memória.
// Cada transação trabalha numa cópia do estado e só a publica no commit;
// as transações são serializadas por um mutex, o que equivale a travar todas as linhas.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
)

type state struct {
	users     map[string]domain.User
	ledger    []domain.LedgerEntry
	zones     map[string]domain.BetZone
	bets      map[string]domain.Bet
	priceBets map[string]domain.PriceBet
	nonces    map[string]domain.RewardNonce
	rewards   map[string]domain.RewardTransaction // por transaction_id
}

func newState() *state {
	return &state{
		users:     map[string]domain.User{},
		zones:     map[string]domain.BetZone{},
		bets:      map[string]domain.Bet{},
		priceBets: map[string]domain.PriceBet{},
		nonces:    map[string]domain.RewardNonce{},
		rewards:   map[string]domain.RewardTransaction{},
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	c.ledger = append([]domain.LedgerEntry(nil), s.ledger...)
	for k, v := range s.zones {
		c.zones[k] = v
	}
	for k, v := range s.bets {
		c.bets[k] = v
	}
	for k, v := range s.priceBets {
		c.priceBets[k] = v
	}
	for k, v := range s.nonces {
		c.nonces[k] = v
	}
	for k, v := range s.rewards {
		c.rewards[k] = v
	}
	return c
}

// Store é seguro para uso concorrente
type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store { return &Store{st: newState()} }

var _ store.UnitOfWork = (*Store)(nil)

func (s *Store) Within(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	if cerr := ctx.Err(); cerr != nil {
		return domain.Wrap(domain.ErrTransientStore, cerr)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	defer func() {
		if r := recover(); r != nil {
			err = domain.Wrap(domain.ErrUnexpected, fmt.Errorf("panic in unit of work: %v", r))
		}
	}()

	if err = fn(&tx{st: work}); err != nil {
		return err // rollback: work é descartado
	}
	s.st = work
	return nil
}

type tx struct{ st *state }

func (t *tx) Users() store.UserRepo         { return userRepo{t.st} }
func (t *tx) Ledger() store.LedgerRepo      { return ledgerRepo{t.st} }
func (t *tx) Zones() store.ZoneRepo         { return zoneRepo{t.st} }
func (t *tx) Bets() store.BetRepo           { return betRepo{t.st} }
func (t *tx) PriceBets() store.PriceBetRepo { return priceBetRepo{t.st} }
func (t *tx) Nonces() store.NonceRepo       { return nonceRepo{t.st} }
func (t *tx) Rewards() store.RewardRepo     { return rewardRepo{t.st} }

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, id)
}

// ---- users

type userRepo struct{ st *state }

func (r userRepo) Add(_ context.Context, u *domain.User) (*domain.User, error) {
	c := *u
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, ok := r.st.users[c.ID]; ok {
		return nil, fmt.Errorf("%w: user %s exists", domain.ErrConflict, c.ID)
	}
	r.st.users[c.ID] = c
	return &c, nil
}

func (r userRepo) Get(_ context.Context, id string) (*domain.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (r userRepo) GetForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return r.Get(ctx, id)
}

func (r userRepo) Update(_ context.Context, u *domain.User) error {
	if _, ok := r.st.users[u.ID]; !ok {
		return notFound("user", u.ID)
	}
	r.st.users[u.ID] = *u
	return nil
}

// ---- ledger

type ledgerRepo struct{ st *state }

func (r ledgerRepo) Append(_ context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	c := *e
	c.ID = uuid.NewString()
	r.st.ledger = append(r.st.ledger, c)
	return &c, nil
}

func (r ledgerRepo) ByUser(_ context.Context, userID string, limit int) ([]*domain.LedgerEntry, error) {
	var out []*domain.LedgerEntry
	for i := len(r.st.ledger) - 1; i >= 0; i-- {
		if r.st.ledger[i].UserID != userID {
			continue
		}
		e := r.st.ledger[i]
		out = append(out, &e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---- zones

type zoneRepo struct{ st *state }

func (r zoneRepo) Add(_ context.Context, z *domain.BetZone) (*domain.BetZone, error) {
	for _, other := range r.st.zones {
		if other.Active && other.Ticker == z.Ticker && other.Timeframe == z.Timeframe && other.Currency == z.Currency {
			return nil, fmt.Errorf("%w: active zone %s already open for %s/%s/%s",
				domain.ErrConflict, other.ID, z.Ticker, z.Timeframe, z.Currency)
		}
	}
	c := *z
	c.ID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.st.zones[c.ID] = c
	return &c, nil
}

func (r zoneRepo) Get(_ context.Context, id string) (*domain.BetZone, error) {
	z, ok := r.st.zones[id]
	if !ok {
		return nil, notFound("zone", id)
	}
	return &z, nil
}

func (r zoneRepo) GetForUpdate(ctx context.Context, id string) (*domain.BetZone, error) {
	return r.Get(ctx, id)
}

func (r zoneRepo) Update(_ context.Context, z *domain.BetZone) error {
	if _, ok := r.st.zones[z.ID]; !ok {
		return notFound("zone", z.ID)
	}
	r.st.zones[z.ID] = *z
	return nil
}

func (r zoneRepo) filter(keep func(z domain.BetZone) bool) []*domain.BetZone {
	var out []*domain.BetZone
	for _, z := range r.st.zones {
		if keep(z) {
			c := z
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EndDate.Equal(out[j].EndDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].EndDate.Before(out[j].EndDate)
	})
	return out
}

func (r zoneRepo) ActiveByTicker(_ context.Context, ticker string, tf domain.Timeframe, cur domain.Currency) ([]*domain.BetZone, error) {
	ticker = strings.ToUpper(ticker)
	return r.filter(func(z domain.BetZone) bool {
		return z.Active && z.Ticker == ticker && z.Timeframe == tf && z.Currency == cur
	}), nil
}

func (r zoneRepo) ActiveByTickers(_ context.Context, tickers []string) ([]*domain.BetZone, error) {
	set := make(map[string]struct{}, len(tickers))
	for _, t := range tickers {
		set[strings.ToUpper(t)] = struct{}{}
	}
	return r.filter(func(z domain.BetZone) bool {
		_, ok := set[z.Ticker]
		return z.Active && ok
	}), nil
}

func (r zoneRepo) ActiveFuture(_ context.Context, at time.Time) ([]*domain.BetZone, error) {
	return r.filter(func(z domain.BetZone) bool { return z.Active && z.EndDate.After(at) }), nil
}

func (r zoneRepo) ActiveExpired(_ context.Context, at time.Time) ([]*domain.BetZone, error) {
	return r.filter(func(z domain.BetZone) bool { return z.Active && !z.EndDate.After(at) }), nil
}

// ---- bets

type betRepo struct{ st *state }

func (r betRepo) Add(_ context.Context, b *domain.Bet) (*domain.Bet, error) {
	c := *b
	c.ID = uuid.NewString()
	r.st.bets[c.ID] = c
	return &c, nil
}

func (r betRepo) Get(_ context.Context, id string) (*domain.Bet, error) {
	b, ok := r.st.bets[id]
	if !ok {
		return nil, notFound("bet", id)
	}
	return &b, nil
}

func (r betRepo) OpenByZone(_ context.Context, zoneID string) ([]*domain.Bet, error) {
	var out []*domain.Bet
	for _, b := range r.st.bets {
		if b.ZoneID == zoneID && !b.Finished {
			c := b
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r betRepo) StakeByZone(_ context.Context, zoneID string) (store.StakePool, error) {
	pool := store.StakePool{}
	for _, b := range r.st.bets {
		if b.ZoneID == zoneID {
			pool[b.Side] += b.BetAmount
		}
	}
	return pool, nil
}

func (r betRepo) Update(_ context.Context, b *domain.Bet) error {
	if _, ok := r.st.bets[b.ID]; !ok {
		return notFound("bet", b.ID)
	}
	r.st.bets[b.ID] = *b
	return nil
}

// ---- price bets

type priceBetRepo struct{ st *state }

func (r priceBetRepo) Add(_ context.Context, p *domain.PriceBet) (*domain.PriceBet, error) {
	c := *p
	c.ID = uuid.NewString()
	r.st.priceBets[c.ID] = c
	return &c, nil
}

func (r priceBetRepo) Get(_ context.Context, id string) (*domain.PriceBet, error) {
	p, ok := r.st.priceBets[id]
	if !ok {
		return nil, notFound("price bet", id)
	}
	return &p, nil
}

func (r priceBetRepo) GetForUpdate(ctx context.Context, id string) (*domain.PriceBet, error) {
	return r.Get(ctx, id)
}

func (r priceBetRepo) Exists(_ context.Context, userID, ticker string, cur domain.Currency, endDate time.Time) (bool, error) {
	for _, p := range r.st.priceBets {
		if p.UserID == userID && p.Ticker == ticker && p.Currency == cur && p.EndDate.Equal(endDate) {
			return true, nil
		}
	}
	return false, nil
}

func (r priceBetRepo) OpenDue(_ context.Context, at time.Time) ([]*domain.PriceBet, error) {
	var out []*domain.PriceBet
	for _, p := range r.st.priceBets {
		if !p.Finished && !p.EndDate.After(at) {
			c := p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r priceBetRepo) Update(_ context.Context, p *domain.PriceBet) error {
	if _, ok := r.st.priceBets[p.ID]; !ok {
		return notFound("price bet", p.ID)
	}
	r.st.priceBets[p.ID] = *p
	return nil
}

// ---- nonces

type nonceRepo struct{ st *state }

func (r nonceRepo) Add(_ context.Context, n *domain.RewardNonce) error {
	if _, ok := r.st.nonces[n.Nonce]; ok {
		return fmt.Errorf("%w: nonce collision", domain.ErrConflict)
	}
	r.st.nonces[n.Nonce] = *n
	return nil
}

func (r nonceRepo) GetForUpdate(_ context.Context, nonce string) (*domain.RewardNonce, error) {
	n, ok := r.st.nonces[nonce]
	if !ok {
		return nil, notFound("nonce", "")
	}
	return &n, nil
}

func (r nonceRepo) Update(_ context.Context, n *domain.RewardNonce) error {
	if _, ok := r.st.nonces[n.Nonce]; !ok {
		return notFound("nonce", "")
	}
	r.st.nonces[n.Nonce] = *n
	return nil
}

func (r nonceRepo) CountOutstanding(_ context.Context, userID string, now time.Time) (int, error) {
	count := 0
	for _, n := range r.st.nonces {
		if n.UserID == userID && n.Outstanding(now) {
			count++
		}
	}
	return count, nil
}

func (r nonceRepo) PurgeExpired(_ context.Context, userID string, now time.Time) (int64, error) {
	var purged int64
	for k, n := range r.st.nonces {
		if n.UserID == userID && !n.Used && !now.Before(n.ExpiresAt) {
			delete(r.st.nonces, k)
			purged++
		}
	}
	return purged, nil
}

// ---- reward transactions

type rewardRepo struct{ st *state }

func (r rewardRepo) Exists(_ context.Context, transactionID string) (bool, error) {
	_, ok := r.st.rewards[transactionID]
	return ok, nil
}

func (r rewardRepo) Add(_ context.Context, t *domain.RewardTransaction) (*domain.RewardTransaction, error) {
	if _, ok := r.st.rewards[t.TransactionID]; ok {
		return nil, fmt.Errorf("%w: reward transaction %s exists", domain.ErrConflict, t.TransactionID)
	}
	c := *t
	c.ID = uuid.NewString()
	r.st.rewards[c.TransactionID] = c
	return &c, nil
}
