// Package store implements the persistence layer (C11): Postgres-backed
// repositories for positions, decisions, tick summaries, and pending
// transactions, grounded on the teacher's pkg/database.DB wrapper. Audit
// events are not stored here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/kpjmd/mammon/internal/errs"
	"github.com/kpjmd/mammon/pkg/database"
)

// PositionStatus mirrors spec.md §3's Position lifecycle.
type PositionStatus string

const (
	PositionActive PositionStatus = "active"
	PositionClosed PositionStatus = "closed"
)

// Position is one open or closed allocation.
type Position struct {
	ID         int64
	Wallet     string
	ProtocolID string
	PoolID     string
	Token      string
	Amount     decimal.Decimal
	USDValue   decimal.Decimal
	EntryAPY   decimal.Decimal
	CurrentAPY decimal.Decimal
	Status     PositionStatus
	OpenedAt   time.Time
	ClosedAt   sql.NullTime
}

// Decision records one recommendation the scheduler acted (or chose not
// to act) on, for audit and for strategy-comparison testable properties.
type Decision struct {
	ID             int64
	TickID         string
	FromProtocol   string
	ToProtocol     string
	Token          string
	AmountUSD      decimal.Decimal
	IsProfitable   bool
	RiskLevel      string
	Executed       bool
	ResultState    string
	CreatedAt      time.Time
}

// TickSummary is the scheduler's per-tick persisted report, a
// supplemented feature (spec.md supplied no explicit type for it, only
// "persist a tick summary").
type TickSummary struct {
	ID                int64
	TickID            string
	StartedAt         time.Time
	FinishedAt        time.Time
	OpportunitiesSeen int
	RecommendationsN  int
	RebalancesRun     int
	Errors            []string
}

// PendingTransaction tracks a broadcast-but-not-yet-confirmed tx, so a
// restart can reconcile outstanding state instead of losing track of it.
type PendingTransaction struct {
	ID        int64
	TxHash    string
	Wallet    string
	Kind      string
	CreatedAt time.Time
	Confirmed bool
}

// Store bundles every repository behind one Postgres connection.
type Store struct {
	db *database.DB
}

func New(db *database.DB) *Store { return &Store{db: db} }

// Migrate creates the tables this store needs if they don't already
// exist. Grounded on the teacher's practice of plain SQL DDL run at
// startup rather than a separate migration binary for a small schema.
func (s *Store) Migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS positions (
	id BIGSERIAL PRIMARY KEY,
	wallet TEXT NOT NULL,
	protocol_id TEXT NOT NULL,
	pool_id TEXT NOT NULL,
	token TEXT NOT NULL,
	amount NUMERIC NOT NULL,
	usd_value NUMERIC NOT NULL,
	entry_apy NUMERIC NOT NULL,
	current_apy NUMERIC NOT NULL,
	status TEXT NOT NULL,
	opened_at TIMESTAMPTZ NOT NULL,
	closed_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS positions_active_unique
	ON positions (wallet, protocol_id, pool_id)
	WHERE status = 'active';

CREATE TABLE IF NOT EXISTS decisions (
	id BIGSERIAL PRIMARY KEY,
	tick_id TEXT NOT NULL,
	from_protocol TEXT NOT NULL,
	to_protocol TEXT NOT NULL,
	token TEXT NOT NULL,
	amount_usd NUMERIC NOT NULL,
	is_profitable BOOLEAN NOT NULL,
	risk_level TEXT NOT NULL,
	executed BOOLEAN NOT NULL,
	result_state TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tick_summaries (
	id BIGSERIAL PRIMARY KEY,
	tick_id TEXT NOT NULL UNIQUE,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	opportunities_seen INT NOT NULL,
	recommendations_n INT NOT NULL,
	rebalances_run INT NOT NULL,
	errors TEXT[] NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS pending_transactions (
	id BIGSERIAL PRIMARY KEY,
	tx_hash TEXT NOT NULL UNIQUE,
	wallet TEXT NOT NULL,
	kind TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	confirmed BOOLEAN NOT NULL DEFAULT false
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "store migration failed", err)
	}
	return nil
}

// OpenPosition inserts a new active position. The unique partial index
// on (wallet, protocol_id, pool_id) WHERE status='active' enforces the
// "at most one active position per (wallet, protocol, pool)" invariant
// at the database layer, not just in application code.
func (s *Store) OpenPosition(ctx context.Context, p Position) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO positions (wallet, protocol_id, pool_id, token, amount, usd_value, entry_apy, current_apy, status, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'active',$9)
		RETURNING id
	`, p.Wallet, p.ProtocolID, p.PoolID, p.Token, p.Amount.String(), p.USDValue.String(), p.EntryAPY.String(), p.CurrentAPY.String(), p.OpenedAt).Scan(&id)
	if err != nil {
		return 0, errs.Wrap(errs.KindConfig, "open position failed", err)
	}
	return id, nil
}

// ClosePosition marks an active position closed.
func (s *Store) ClosePosition(ctx context.Context, wallet, protocolID, poolID string, closedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions SET status='closed', closed_at=$4
		WHERE wallet=$1 AND protocol_id=$2 AND pool_id=$3 AND status='active'
	`, wallet, protocolID, poolID, closedAt)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "close position failed", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindConfig, "no active position to close")
	}
	return nil
}

// ActivePositions returns every currently-active position for a wallet.
func (s *Store) ActivePositions(ctx context.Context, wallet string) ([]Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet, protocol_id, pool_id, token, amount, usd_value, entry_apy, current_apy, status, opened_at, closed_at
		FROM positions WHERE wallet=$1 AND status='active'
	`, wallet)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfig, "query active positions failed", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		var amount, usdValue, entryAPY, currentAPY string
		if err := rows.Scan(&p.ID, &p.Wallet, &p.ProtocolID, &p.PoolID, &p.Token, &amount, &usdValue, &entryAPY, &currentAPY, &p.Status, &p.OpenedAt, &p.ClosedAt); err != nil {
			return nil, errs.Wrap(errs.KindConfig, "scan position failed", err)
		}
		p.Amount, _ = decimal.NewFromString(amount)
		p.USDValue, _ = decimal.NewFromString(usdValue)
		p.EntryAPY, _ = decimal.NewFromString(entryAPY)
		p.CurrentAPY, _ = decimal.NewFromString(currentAPY)
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// RecordDecision persists one decision from a tick, executed or not.
func (s *Store) RecordDecision(ctx context.Context, d Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (tick_id, from_protocol, to_protocol, token, amount_usd, is_profitable, risk_level, executed, result_state, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, d.TickID, d.FromProtocol, d.ToProtocol, d.Token, d.AmountUSD.String(), d.IsProfitable, d.RiskLevel, d.Executed, d.ResultState, d.CreatedAt)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "record decision failed", err)
	}
	return nil
}

// RecordTickSummary persists one completed tick's report.
func (s *Store) RecordTickSummary(ctx context.Context, t TickSummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tick_summaries (tick_id, started_at, finished_at, opportunities_seen, recommendations_n, rebalances_run, errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (tick_id) DO NOTHING
	`, t.TickID, t.StartedAt, t.FinishedAt, t.OpportunitiesSeen, t.RecommendationsN, t.RebalancesRun, pq.Array(t.Errors))
	if err != nil {
		return errs.Wrap(errs.KindConfig, "record tick summary failed", err)
	}
	return nil
}

// RecordPendingTransaction tracks a broadcast hash until it confirms.
func (s *Store) RecordPendingTransaction(ctx context.Context, p PendingTransaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_transactions (tx_hash, wallet, kind, created_at, confirmed)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (tx_hash) DO NOTHING
	`, p.TxHash, p.Wallet, p.Kind, p.CreatedAt, p.Confirmed)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "record pending transaction failed", err)
	}
	return nil
}

// ConfirmTransaction flags a pending transaction confirmed.
func (s *Store) ConfirmTransaction(ctx context.Context, txHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE pending_transactions SET confirmed=true WHERE tx_hash=$1`, txHash)
	if err != nil {
		return errs.Wrap(errs.KindConfig, "confirm transaction failed", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errors.New("no pending transaction with that hash")
	}
	return nil
}

