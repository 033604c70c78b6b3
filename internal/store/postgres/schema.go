package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema é idempotente; Apply pode rodar a cada boot
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              TEXT PRIMARY KEY,
		points          BIGINT NOT NULL DEFAULT 0 CHECK (points >= 0),
		pending_balance BIGINT NOT NULL DEFAULT 0 CHECK (pending_balance >= 0),
		verified        BOOLEAN NOT NULL DEFAULT FALSE,
		country         TEXT NOT NULL DEFAULT '',
		fullname        TEXT NOT NULL DEFAULT '',
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_entries (
		id         UUID PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		entry_type TEXT NOT NULL,
		amount     BIGINT NOT NULL,
		balance    BIGINT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		reference  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ix_ledger_entries_user ON ledger_entries(user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS bet_zones (
		id           UUID PRIMARY KEY,
		ticker       TEXT NOT NULL,
		currency     TEXT NOT NULL,
		target_value DOUBLE PRECISION NOT NULL,
		bet_margin   DOUBLE PRECISION NOT NULL,
		start_date   TIMESTAMPTZ NOT NULL,
		end_date     TIMESTAMPTZ NOT NULL,
		target_odds  DOUBLE PRECISION NOT NULL CHECK (target_odds > 0),
		bet_type     TEXT NOT NULL,
		timeframe    TEXT NOT NULL,
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL,
		CHECK (end_date > start_date)
	)`,
	// no máximo uma zona ativa por (ticker, timeframe, currency)
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_bet_zones_active ON bet_zones(ticker, timeframe, currency) WHERE active`,
	`CREATE INDEX IF NOT EXISTS ix_bet_zones_active_end ON bet_zones(end_date) WHERE active`,
	`CREATE TABLE IF NOT EXISTS bets (
		id            UUID PRIMARY KEY,
		user_id       TEXT NOT NULL REFERENCES users(id),
		ticker        TEXT NOT NULL,
		currency      TEXT NOT NULL,
		bet_amount    BIGINT NOT NULL CHECK (bet_amount > 0),
		origin_value  DOUBLE PRECISION NOT NULL,
		origin_odds   DOUBLE PRECISION NOT NULL,
		target_value  DOUBLE PRECISION NOT NULL,
		target_margin DOUBLE PRECISION NOT NULL,
		zone_id       UUID NOT NULL REFERENCES bet_zones(id),
		side          TEXT NOT NULL,
		target_won    BOOLEAN NOT NULL DEFAULT FALSE,
		finished      BOOLEAN NOT NULL DEFAULT FALSE,
		paid          BOOLEAN NOT NULL DEFAULT FALSE,
		archived      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL,
		settled_at    TIMESTAMPTZ,
		voided        BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`ALTER TABLE bets ADD COLUMN IF NOT EXISTS voided BOOLEAN NOT NULL DEFAULT FALSE`,
	`CREATE INDEX IF NOT EXISTS ix_bets_zone_open ON bets(zone_id) WHERE NOT finished`,
	`CREATE TABLE IF NOT EXISTS price_bets (
		id              UUID PRIMARY KEY,
		user_id         TEXT NOT NULL REFERENCES users(id),
		ticker          TEXT NOT NULL,
		currency        TEXT NOT NULL,
		price_bet_value DOUBLE PRECISION NOT NULL,
		margin          DOUBLE PRECISION NOT NULL,
		cost            BIGINT NOT NULL,
		prize           BIGINT NOT NULL,
		bet_date        TIMESTAMPTZ NOT NULL,
		end_date        TIMESTAMPTZ NOT NULL,
		finished        BOOLEAN NOT NULL DEFAULT FALSE,
		won             BOOLEAN NOT NULL DEFAULT FALSE,
		settled_value   DOUBLE PRECISION NOT NULL DEFAULT 0,
		paid            BOOLEAN NOT NULL DEFAULT FALSE,
		archived        BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (user_id, ticker, currency, end_date)
	)`,
	`CREATE TABLE IF NOT EXISTS reward_nonces (
		nonce      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		ad_unit_id TEXT NOT NULL,
		purpose    TEXT NOT NULL DEFAULT '',
		coins      BIGINT NOT NULL DEFAULT 0,
		used       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		used_at    TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS ix_reward_nonces_user ON reward_nonces(user_id) WHERE NOT used`,
	`CREATE TABLE IF NOT EXISTS reward_transactions (
		id                UUID PRIMARY KEY,
		transaction_id    TEXT NOT NULL UNIQUE,
		user_id           TEXT NOT NULL,
		coins             BIGINT NOT NULL,
		ad_unit_id        TEXT NOT NULL DEFAULT '',
		reward_item       TEXT NOT NULL DEFAULT '',
		reward_amount_raw TEXT NOT NULL DEFAULT '',
		ssv_key_id        TEXT NOT NULL DEFAULT '',
		raw_query         TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL
	)`,
}

// Apply cria tabelas e índices que ainda não existam
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
