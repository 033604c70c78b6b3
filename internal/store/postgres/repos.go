package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/radieske/wager-settlement-engine/internal/domain"
	"github.com/radieske/wager-settlement-engine/internal/store"
)

type scanner interface {
	Scan(dest ...any) error
}

// ---- users

type userRepo struct{ q querier }

const userCols = `id, points, pending_balance, verified, country, fullname, created_at, updated_at`

func scanUser(row scanner) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Points, &u.PendingBalance, &u.Verified, &u.Country, &u.Fullname, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *userRepo) Add(ctx context.Context, u *domain.User) (*domain.User, error) {
	c := *u
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO users (`+userCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.Points, c.PendingBalance, c.Verified, c.Country, c.Fullname, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *userRepo) Get(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (r *userRepo) GetForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return scanUser(r.q.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id=$1 FOR UPDATE`, id))
}

func (r *userRepo) Update(ctx context.Context, u *domain.User) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE users SET points=$1, pending_balance=$2, verified=$3, country=$4, fullname=$5, updated_at=$6
		WHERE id=$7`,
		u.Points, u.PendingBalance, u.Verified, u.Country, u.Fullname, u.UpdatedAt, u.ID)
	return expectOne(res, err, "user", u.ID)
}

// ---- ledger

type ledgerRepo struct{ q querier }

func (r *ledgerRepo) Append(ctx context.Context, e *domain.LedgerEntry) (*domain.LedgerEntry, error) {
	c := *e
	c.ID = uuid.NewString()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, entry_type, amount, balance, reason, reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		c.ID, c.UserID, string(c.Type), c.Amount, c.Balance, c.Reason, c.Reference, c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *ledgerRepo) ByUser(ctx context.Context, userID string, limit int) ([]*domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, user_id, entry_type, amount, balance, reason, reference, created_at
		FROM ledger_entries WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var typ string
		if err := rows.Scan(&e.ID, &e.UserID, &typ, &e.Amount, &e.Balance, &e.Reason, &e.Reference, &e.CreatedAt); err != nil {
			return nil, mapErr(err)
		}
		e.Type = domain.EntryType(typ)
		out = append(out, &e)
	}
	return out, mapErr(rows.Err())
}

// ---- zones

type zoneRepo struct{ q querier }

const zoneCols = `id, ticker, currency, target_value, bet_margin, start_date, end_date, target_odds, bet_type, timeframe, active, created_at`

func scanZone(row scanner) (*domain.BetZone, error) {
	var z domain.BetZone
	var cur, typ, tf string
	if err := row.Scan(&z.ID, &z.Ticker, &cur, &z.TargetValue, &z.BetMargin, &z.StartDate, &z.EndDate,
		&z.TargetOdds, &typ, &tf, &z.Active, &z.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	z.Currency, z.BetType, z.Timeframe = domain.Currency(cur), domain.BetType(typ), domain.Timeframe(tf)
	return &z, nil
}

func (r *zoneRepo) list(ctx context.Context, query string, args ...any) ([]*domain.BetZone, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*domain.BetZone
	for rows.Next() {
		z, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, mapErr(rows.Err())
}

func (r *zoneRepo) Add(ctx context.Context, z *domain.BetZone) (*domain.BetZone, error) {
	c := *z
	c.ID = uuid.NewString()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO bet_zones (`+zoneCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		c.ID, c.Ticker, string(c.Currency), c.TargetValue, c.BetMargin, c.StartDate, c.EndDate,
		c.TargetOdds, string(c.BetType), string(c.Timeframe), c.Active, c.CreatedAt)
	if err != nil {
		return nil, mapErr(err) // 23505 em ux_bet_zones_active vira ErrConflict
	}
	return &c, nil
}

func (r *zoneRepo) Get(ctx context.Context, id string) (*domain.BetZone, error) {
	return scanZone(r.q.QueryRowContext(ctx, `SELECT `+zoneCols+` FROM bet_zones WHERE id=$1`, id))
}

func (r *zoneRepo) GetForUpdate(ctx context.Context, id string) (*domain.BetZone, error) {
	return scanZone(r.q.QueryRowContext(ctx, `SELECT `+zoneCols+` FROM bet_zones WHERE id=$1 FOR UPDATE`, id))
}

func (r *zoneRepo) Update(ctx context.Context, z *domain.BetZone) error {
	res, err := r.q.ExecContext(ctx, `UPDATE bet_zones SET target_odds=$1, active=$2 WHERE id=$3`,
		z.TargetOdds, z.Active, z.ID)
	return expectOne(res, err, "zone", z.ID)
}

func (r *zoneRepo) ActiveByTicker(ctx context.Context, ticker string, tf domain.Timeframe, cur domain.Currency) ([]*domain.BetZone, error) {
	return r.list(ctx, `SELECT `+zoneCols+` FROM bet_zones
		WHERE active AND ticker=$1 AND timeframe=$2 AND currency=$3 ORDER BY end_date`,
		strings.ToUpper(ticker), string(tf), string(cur))
}

func (r *zoneRepo) ActiveByTickers(ctx context.Context, tickers []string) ([]*domain.BetZone, error) {
	upper := make([]string, len(tickers))
	for i, t := range tickers {
		upper[i] = strings.ToUpper(t)
	}
	return r.list(ctx, `SELECT `+zoneCols+` FROM bet_zones
		WHERE active AND ticker = ANY($1) ORDER BY end_date`, pq.Array(upper))
}

func (r *zoneRepo) ActiveFuture(ctx context.Context, at time.Time) ([]*domain.BetZone, error) {
	return r.list(ctx, `SELECT `+zoneCols+` FROM bet_zones WHERE active AND end_date > $1 ORDER BY end_date`, at)
}

func (r *zoneRepo) ActiveExpired(ctx context.Context, at time.Time) ([]*domain.BetZone, error) {
	return r.list(ctx, `SELECT `+zoneCols+` FROM bet_zones WHERE active AND end_date <= $1 ORDER BY end_date`, at)
}

// ---- bets

type betRepo struct{ q querier }

const betCols = `id, user_id, ticker, currency, bet_amount, origin_value, origin_odds, target_value, target_margin,
	zone_id, side, target_won, finished, paid, archived, created_at, settled_at, voided`

func scanBet(row scanner) (*domain.Bet, error) {
	var b domain.Bet
	var cur, side string
	var settled sql.NullTime
	if err := row.Scan(&b.ID, &b.UserID, &b.Ticker, &cur, &b.BetAmount, &b.OriginValue, &b.OriginOdds,
		&b.TargetValue, &b.TargetMargin, &b.ZoneID, &side, &b.TargetWon, &b.Finished, &b.Paid, &b.Archived,
		&b.CreatedAt, &settled, &b.Voided); err != nil {
		return nil, mapErr(err)
	}
	b.Currency, b.Side = domain.Currency(cur), domain.BetType(side)
	if settled.Valid {
		b.SettledAt = &settled.Time
	}
	return &b, nil
}

func (r *betRepo) Add(ctx context.Context, b *domain.Bet) (*domain.Bet, error) {
	c := *b
	c.ID = uuid.NewString()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO bets (`+betCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		c.ID, c.UserID, c.Ticker, string(c.Currency), c.BetAmount, c.OriginValue, c.OriginOdds,
		c.TargetValue, c.TargetMargin, c.ZoneID, string(c.Side), c.TargetWon, c.Finished, c.Paid, c.Archived,
		c.CreatedAt, c.SettledAt, c.Voided)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *betRepo) Get(ctx context.Context, id string) (*domain.Bet, error) {
	return scanBet(r.q.QueryRowContext(ctx, `SELECT `+betCols+` FROM bets WHERE id=$1`, id))
}

func (r *betRepo) OpenByZone(ctx context.Context, zoneID string) ([]*domain.Bet, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+betCols+` FROM bets
		WHERE zone_id=$1 AND NOT finished ORDER BY id FOR UPDATE`, zoneID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, mapErr(rows.Err())
}

func (r *betRepo) StakeByZone(ctx context.Context, zoneID string) (store.StakePool, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT side, COALESCE(SUM(bet_amount), 0) FROM bets WHERE zone_id=$1 GROUP BY side`, zoneID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	pool := store.StakePool{}
	for rows.Next() {
		var side string
		var total int64
		if err := rows.Scan(&side, &total); err != nil {
			return nil, mapErr(err)
		}
		pool[domain.BetType(side)] = total
	}
	return pool, mapErr(rows.Err())
}

func (r *betRepo) Update(ctx context.Context, b *domain.Bet) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE bets SET target_won=$1, finished=$2, paid=$3, archived=$4, settled_at=$5, voided=$6 WHERE id=$7`,
		b.TargetWon, b.Finished, b.Paid, b.Archived, b.SettledAt, b.Voided, b.ID)
	return expectOne(res, err, "bet", b.ID)
}

// ---- price bets

type priceBetRepo struct{ q querier }

const priceBetCols = `id, user_id, ticker, currency, price_bet_value, margin, cost, prize, bet_date, end_date,
	finished, won, settled_value, paid, archived`

func scanPriceBet(row scanner) (*domain.PriceBet, error) {
	var p domain.PriceBet
	var cur string
	if err := row.Scan(&p.ID, &p.UserID, &p.Ticker, &cur, &p.PriceBetValue, &p.Margin, &p.Cost, &p.Prize,
		&p.BetDate, &p.EndDate, &p.Finished, &p.Won, &p.SettledValue, &p.Paid, &p.Archived); err != nil {
		return nil, mapErr(err)
	}
	p.Currency = domain.Currency(cur)
	return &p, nil
}

func (r *priceBetRepo) Add(ctx context.Context, p *domain.PriceBet) (*domain.PriceBet, error) {
	c := *p
	c.ID = uuid.NewString()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO price_bets (`+priceBetCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		c.ID, c.UserID, c.Ticker, string(c.Currency), c.PriceBetValue, c.Margin, c.Cost, c.Prize,
		c.BetDate, c.EndDate, c.Finished, c.Won, c.SettledValue, c.Paid, c.Archived)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *priceBetRepo) Get(ctx context.Context, id string) (*domain.PriceBet, error) {
	return scanPriceBet(r.q.QueryRowContext(ctx, `SELECT `+priceBetCols+` FROM price_bets WHERE id=$1`, id))
}

func (r *priceBetRepo) GetForUpdate(ctx context.Context, id string) (*domain.PriceBet, error) {
	return scanPriceBet(r.q.QueryRowContext(ctx, `SELECT `+priceBetCols+` FROM price_bets WHERE id=$1 FOR UPDATE`, id))
}

func (r *priceBetRepo) Exists(ctx context.Context, userID, ticker string, cur domain.Currency, endDate time.Time) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM price_bets WHERE user_id=$1 AND ticker=$2 AND currency=$3 AND end_date=$4)`,
		userID, ticker, string(cur), endDate).Scan(&exists)
	return exists, mapErr(err)
}

func (r *priceBetRepo) OpenDue(ctx context.Context, at time.Time) ([]*domain.PriceBet, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+priceBetCols+` FROM price_bets
		WHERE NOT finished AND end_date <= $1 ORDER BY end_date, id FOR UPDATE SKIP LOCKED`, at)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var out []*domain.PriceBet
	for rows.Next() {
		p, err := scanPriceBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, mapErr(rows.Err())
}

func (r *priceBetRepo) Update(ctx context.Context, p *domain.PriceBet) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE price_bets SET finished=$1, won=$2, settled_value=$3, paid=$4, archived=$5 WHERE id=$6`,
		p.Finished, p.Won, p.SettledValue, p.Paid, p.Archived, p.ID)
	return expectOne(res, err, "price bet", p.ID)
}

// ---- nonces

type nonceRepo struct{ q querier }

func (r *nonceRepo) Add(ctx context.Context, n *domain.RewardNonce) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO reward_nonces (nonce, user_id, ad_unit_id, purpose, coins, used, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		n.Nonce, n.UserID, n.AdUnitID, n.Purpose, n.Coins, n.Used, n.CreatedAt, n.ExpiresAt)
	return mapErr(err)
}

func (r *nonceRepo) GetForUpdate(ctx context.Context, nonce string) (*domain.RewardNonce, error) {
	var n domain.RewardNonce
	var usedAt sql.NullTime
	err := r.q.QueryRowContext(ctx, `
		SELECT nonce, user_id, ad_unit_id, purpose, coins, used, created_at, expires_at, used_at
		FROM reward_nonces WHERE nonce=$1 FOR UPDATE`, nonce).
		Scan(&n.Nonce, &n.UserID, &n.AdUnitID, &n.Purpose, &n.Coins, &n.Used, &n.CreatedAt, &n.ExpiresAt, &usedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if usedAt.Valid {
		n.UsedAt = &usedAt.Time
	}
	return &n, nil
}

func (r *nonceRepo) Update(ctx context.Context, n *domain.RewardNonce) error {
	res, err := r.q.ExecContext(ctx, `UPDATE reward_nonces SET used=$1, used_at=$2 WHERE nonce=$3`,
		n.Used, n.UsedAt, n.Nonce)
	return expectOne(res, err, "nonce", "")
}

func (r *nonceRepo) CountOutstanding(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reward_nonces WHERE user_id=$1 AND NOT used AND expires_at > $2`,
		userID, now).Scan(&n)
	return n, mapErr(err)
}

func (r *nonceRepo) PurgeExpired(ctx context.Context, userID string, now time.Time) (int64, error) {
	res, err := r.q.ExecContext(ctx, `
		DELETE FROM reward_nonces WHERE user_id=$1 AND NOT used AND expires_at <= $2`, userID, now)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	return n, mapErr(err)
}

// ---- reward transactions

type rewardRepo struct{ q querier }

func (r *rewardRepo) Exists(ctx context.Context, transactionID string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM reward_transactions WHERE transaction_id=$1)`, transactionID).Scan(&exists)
	return exists, mapErr(err)
}

func (r *rewardRepo) Add(ctx context.Context, t *domain.RewardTransaction) (*domain.RewardTransaction, error) {
	c := *t
	c.ID = uuid.NewString()
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO reward_transactions
		  (id, transaction_id, user_id, coins, ad_unit_id, reward_item, reward_amount_raw, ssv_key_id, raw_query, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		c.ID, c.TransactionID, c.UserID, c.Coins, c.AdUnitID, c.RewardItem, c.RewardAmountRaw, c.SSVKeyID,
		c.RawQuery, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reward transaction %s: %w", c.TransactionID, mapErr(err))
	}
	return &c, nil
}
