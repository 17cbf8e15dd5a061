package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/clob-engine/internal/model"
)

// uniqueViolation is the PostgreSQL SQLSTATE for duplicate keys.
const uniqueViolation = "23505"

// PostgresStore implements Store using PostgreSQL as the durable journal.
// Amounts and prices are stored as BIGINT base units and basis points.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema creates the journal tables if they do not exist.
const Schema = `
CREATE TABLE IF NOT EXISTS events (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	asset           TEXT NOT NULL,
	outcome_count   INT NOT NULL,
	status          TEXT NOT NULL,
	winning_outcome INT,
	created_at      TIMESTAMPTZ NOT NULL,
	finalized_at    TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS orders (
	id              TEXT PRIMARY KEY,
	event_id        TEXT NOT NULL REFERENCES events(id),
	outcome_index   INT NOT NULL,
	side            TEXT NOT NULL,
	price           BIGINT NOT NULL,
	total_amount    BIGINT NOT NULL,
	filled_amount   BIGINT NOT NULL,
	status          TEXT NOT NULL,
	owner           TEXT NOT NULL,
	asset           TEXT NOT NULL,
	locked          BIGINT NOT NULL,
	sequence_number BIGINT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	revision        BIGINT NOT NULL DEFAULT 0
);
ALTER TABLE orders ADD COLUMN IF NOT EXISTS revision BIGINT NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS orders_owner_idx ON orders (owner, sequence_number);
CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	event_id       TEXT NOT NULL REFERENCES events(id),
	outcome_index  INT NOT NULL,
	asset          TEXT NOT NULL,
	buyer          TEXT NOT NULL,
	seller         TEXT NOT NULL,
	maker_order_id TEXT NOT NULL,
	taker_order_id TEXT NOT NULL,
	taker_side     TEXT NOT NULL,
	price          BIGINT NOT NULL,
	quantity       BIGINT NOT NULL,
	cost           BIGINT NOT NULL,
	buyer_fee      BIGINT NOT NULL,
	seller_fee     BIGINT NOT NULL,
	executed_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_event_idx ON trades (event_id, executed_at);
CREATE TABLE IF NOT EXISTS settlements (
	event_id         TEXT PRIMARY KEY REFERENCES events(id),
	asset            TEXT NOT NULL,
	winning_outcome  INT NOT NULL,
	pool_total       BIGINT NOT NULL,
	distributed      BIGINT NOT NULL,
	remainder        BIGINT NOT NULL,
	winners          INT NOT NULL,
	cancelled_orders INT NOT NULL,
	settled_at       TIMESTAMPTZ NOT NULL
);`

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) CreateEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, title, asset, outcome_count, status, winning_outcome, created_at, finalized_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.Title, ev.Asset, ev.OutcomeCount, ev.Status,
		ev.WinningOutcome, ev.CreatedAt, ev.FinalizedAt,
	)
	return mapErr(err, "create event "+ev.ID)
}

func (s *PostgresStore) UpdateEvent(ctx context.Context, ev *model.Event) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET status = $2, winning_outcome = $3, finalized_at = $4 WHERE id = $1`,
		ev.ID, ev.Status, ev.WinningOutcome, ev.FinalizedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("event %s: %w", ev.ID, ErrNotFound)
	}
	return nil
}

const eventColumns = `id, title, asset, outcome_count, status, winning_outcome, created_at, finalized_at`

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		return nil, mapErr(err, "get event "+id)
	}
	return ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) UpsertOrder(ctx context.Context, o *model.Order) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO orders (id, event_id, outcome_index, side, price, total_amount, filled_amount,
		                     status, owner, asset, locked, sequence_number, created_at, revision)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (id) DO UPDATE
		 SET filled_amount = EXCLUDED.filled_amount,
		     status = EXCLUDED.status,
		     locked = EXCLUDED.locked,
		     revision = EXCLUDED.revision
		 WHERE orders.revision <= EXCLUDED.revision`,
		o.ID, o.EventID, o.OutcomeIndex, o.Side, o.Price, o.TotalAmount, o.FilledAmount,
		o.Status, o.Owner, o.Asset, o.Locked, int64(o.SequenceNumber), o.CreatedAt, int64(o.Revision),
	)
	return err
}

const orderColumns = `id, event_id, outcome_index, side, price, total_amount, filled_amount,
	status, owner, asset, locked, sequence_number, created_at, revision`

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, mapErr(err, "get order "+id)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByOwner(ctx context.Context, owner string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE owner = $1 ORDER BY sequence_number`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (id, event_id, outcome_index, asset, buyer, seller, maker_order_id, taker_order_id,
		                     taker_side, price, quantity, cost, buyer_fee, seller_fee, executed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		t.ID, t.EventID, t.OutcomeIndex, t.Asset, t.Buyer, t.Seller, t.MakerOrderID, t.TakerOrderID,
		t.TakerSide, t.Price, t.Quantity, t.Cost, t.BuyerFee, t.SellerFee, t.ExecutedAt,
	)
	return mapErr(err, "insert trade "+t.ID)
}

func (s *PostgresStore) ListTradesByEvent(ctx context.Context, eventID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, event_id, outcome_index, asset, buyer, seller, maker_order_id, taker_order_id,
		        taker_side, price, quantity, cost, buyer_fee, seller_fee, executed_at
		 FROM trades WHERE event_id = $1 ORDER BY executed_at, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.EventID, &t.OutcomeIndex, &t.Asset, &t.Buyer, &t.Seller,
			&t.MakerOrderID, &t.TakerOrderID, &t.TakerSide, &t.Price, &t.Quantity, &t.Cost,
			&t.BuyerFee, &t.SellerFee, &t.ExecutedAt); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

func (s *PostgresStore) InsertSettlement(ctx context.Context, st *model.Settlement) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settlements (event_id, asset, winning_outcome, pool_total, distributed, remainder,
		                          winners, cancelled_orders, settled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		st.EventID, st.Asset, st.WinningOutcome, st.PoolTotal, st.Distributed, st.Remainder,
		st.Winners, st.CancelledCount, st.SettledAt,
	)
	return mapErr(err, "insert settlement "+st.EventID)
}

func (s *PostgresStore) GetSettlement(ctx context.Context, eventID string) (*model.Settlement, error) {
	var st model.Settlement
	err := s.pool.QueryRow(ctx,
		`SELECT event_id, asset, winning_outcome, pool_total, distributed, remainder,
		        winners, cancelled_orders, settled_at
		 FROM settlements WHERE event_id = $1`, eventID).
		Scan(&st.EventID, &st.Asset, &st.WinningOutcome, &st.PoolTotal, &st.Distributed,
			&st.Remainder, &st.Winners, &st.CancelledCount, &st.SettledAt)
	if err != nil {
		return nil, mapErr(err, "get settlement "+eventID)
	}
	return &st, nil
}

// scanEvent and scanOrder accept both pgx.Row and pgx.Rows.
func scanEvent(row pgx.Row) (*model.Event, error) {
	var ev model.Event
	if err := row.Scan(&ev.ID, &ev.Title, &ev.Asset, &ev.OutcomeCount, &ev.Status,
		&ev.WinningOutcome, &ev.CreatedAt, &ev.FinalizedAt); err != nil {
		return nil, err
	}
	return &ev, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o   model.Order
		seq int64
		rev int64
	)
	if err := row.Scan(&o.ID, &o.EventID, &o.OutcomeIndex, &o.Side, &o.Price, &o.TotalAmount,
		&o.FilledAmount, &o.Status, &o.Owner, &o.Asset, &o.Locked, &seq, &o.CreatedAt, &rev); err != nil {
		return nil, err
	}
	o.SequenceNumber = uint64(seq)
	o.Revision = uint64(rev)
	return &o, nil
}

// mapErr translates pgx errors into store sentinels.
func mapErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", op, ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}
