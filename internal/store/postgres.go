package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flipside/market-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are BIGINT (smallest currency unit); weight fractions are
// NUMERIC scanned through their text form for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	var a model.Account
	err := s.pool.QueryRow(ctx,
		`SELECT id, balance, created_at FROM accounts WHERE id = $1`, id).
		Scan(&a.ID, &a.Balance, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, notFound(err))
	}
	return &a, nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	err := s.pool.QueryRow(ctx,
		`SELECT id, symbol, question, status, resolution, created_at
		 FROM markets WHERE id = $1`, id).
		Scan(&m.ID, &m.Symbol, &m.Question, &m.Status, &m.Resolution, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, notFound(err))
	}
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, symbol, question, status, resolution, created_at
		 FROM markets ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		if err := rows.Scan(&m.ID, &m.Symbol, &m.Question, &m.Status, &m.Resolution, &m.CreatedAt); err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

const orderColumns = `id, account_id, market_id, side, price, shares, filled, status, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	if err := row.Scan(&o.ID, &o.AccountID, &o.MarketID, &o.Side,
		&o.Price, &o.Shares, &o.Filled, &o.Status, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, notFound(err))
	}
	return o, nil
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func (s *PostgresStore) ListRestingOrders(ctx context.Context, marketID string, side model.Side) ([]model.Order, error) {
	if side == "" {
		return s.queryOrders(ctx,
			`SELECT `+orderColumns+` FROM orders
			 WHERE market_id = $1 AND status IN ('open','partial')
			 ORDER BY created_at, id`, marketID)
	}
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE market_id = $1 AND side = $2 AND status IN ('open','partial')
		 ORDER BY created_at, id`, marketID, side)
}

func (s *PostgresStore) ListRestingOrdersByAccount(ctx context.Context, accountID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE account_id = $1 AND status IN ('open','partial')
		 ORDER BY created_at, id`, accountID)
}

const positionColumns = `id, market_id, yes_account_id, no_account_id, yes_order_id,
	no_order_id, trade_price, shares, status, winner, created_at, settled_at`

func (s *PostgresStore) queryPositions(ctx context.Context, query string, args ...any) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		if err := rows.Scan(&p.ID, &p.MarketID, &p.YesAccountID, &p.NoAccountID,
			&p.YesOrderID, &p.NoOrderID, &p.TradePrice, &p.Shares,
			&p.Status, &p.Winner, &p.CreatedAt, &p.SettledAt); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) ListActivePositions(ctx context.Context, marketID string) ([]model.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 AND status = 'active'
		 ORDER BY created_at, id`, marketID)
}

func (s *PostgresStore) ListActivePositionsByAccount(ctx context.Context, accountID string) ([]model.Position, error) {
	return s.queryPositions(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE (yes_account_id = $1 OR no_account_id = $1) AND status = 'active'
		 ORDER BY created_at, id`, accountID)
}

// GetExposure reads the singleton exposure row; a missing row is the zero
// snapshot, not an error.
func (s *PostgresStore) GetExposure(ctx context.Context) (*model.Exposure, error) {
	var e model.Exposure
	err := s.pool.QueryRow(ctx,
		`SELECT total_at_risk, tier, last_pullback_at FROM exposure WHERE singleton = TRUE`).
		Scan(&e.TotalAtRisk, &e.Tier, &e.LastPullbackAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Exposure{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) ListWeights(ctx context.Context) ([]model.MarketWeight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT market_id, weight::TEXT, locked, relative_odds::TEXT
		 FROM market_weights ORDER BY market_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weights []model.MarketWeight
	for rows.Next() {
		var w model.MarketWeight
		var weightS, oddsS string
		if err := rows.Scan(&w.MarketID, &weightS, &w.Locked, &oddsS); err != nil {
			return nil, err
		}
		if w.Weight, err = decimal.NewFromString(weightS); err != nil {
			return nil, fmt.Errorf("weight for market %s: %w", w.MarketID, err)
		}
		if w.RelativeOdds, err = decimal.NewFromString(oddsS); err != nil {
			return nil, fmt.Errorf("odds for market %s: %w", w.MarketID, err)
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

func scanShape(row pgx.Row) (*model.CurveShape, error) {
	var sh model.CurveShape
	var paramsJSON, pointsJSON []byte
	if err := row.Scan(&sh.ID, &sh.Name, &sh.Kind, &paramsJSON, &pointsJSON,
		&sh.IsDefault, &sh.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(paramsJSON, &sh.Params); err != nil {
		return nil, fmt.Errorf("shape %s params: %w", sh.ID, err)
	}
	if err := json.Unmarshal(pointsJSON, &sh.Points); err != nil {
		return nil, fmt.Errorf("shape %s points: %w", sh.ID, err)
	}
	return &sh, nil
}

const shapeColumns = `id, name, kind, params, normalized_points, is_default, created_at`

func (s *PostgresStore) GetShape(ctx context.Context, id string) (*model.CurveShape, error) {
	sh, err := scanShape(s.pool.QueryRow(ctx,
		`SELECT `+shapeColumns+` FROM curve_shapes WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get shape %s: %w", id, notFound(err))
	}
	return sh, nil
}

func (s *PostgresStore) GetDefaultShape(ctx context.Context) (*model.CurveShape, error) {
	sh, err := scanShape(s.pool.QueryRow(ctx,
		`SELECT `+shapeColumns+` FROM curve_shapes WHERE is_default = TRUE LIMIT 1`))
	if err != nil {
		return nil, fmt.Errorf("get default shape: %w", notFound(err))
	}
	return sh, nil
}

func (s *PostgresStore) ListJournal(ctx context.Context, accountID string) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, account_id, kind, amount, ref_id, created_at
		 FROM journal_entries WHERE account_id = $1 ORDER BY created_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Amount, &e.RefID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Apply commits the change set inside a single transaction. An error on any
// row rolls back every row.
func (s *PostgresStore) Apply(ctx context.Context, cs *ChangeSet) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin apply: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, a := range cs.Accounts {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, balance, created_at) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET balance = EXCLUDED.balance`,
			a.ID, a.Balance, a.CreatedAt); err != nil {
			return fmt.Errorf("apply account %s: %w", a.ID, err)
		}
	}

	for _, m := range cs.Markets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO markets (id, symbol, question, status, resolution, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, resolution = EXCLUDED.resolution`,
			m.ID, m.Symbol, m.Question, m.Status, m.Resolution, m.CreatedAt); err != nil {
			return fmt.Errorf("apply market %s: %w", m.ID, err)
		}
	}

	for _, o := range cs.Orders {
		if _, err := tx.Exec(ctx,
			`INSERT INTO orders (id, account_id, market_id, side, price, shares, filled, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (id) DO UPDATE SET
			   shares = EXCLUDED.shares, filled = EXCLUDED.filled, status = EXCLUDED.status`,
			o.ID, o.AccountID, o.MarketID, o.Side, o.Price, o.Shares, o.Filled, o.Status, o.CreatedAt); err != nil {
			return fmt.Errorf("apply order %s: %w", o.ID, err)
		}
	}

	for _, p := range cs.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO positions (id, market_id, yes_account_id, no_account_id, yes_order_id,
			   no_order_id, trade_price, shares, status, winner, created_at, settled_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 ON CONFLICT (id) DO UPDATE SET
			   shares = EXCLUDED.shares, status = EXCLUDED.status,
			   winner = EXCLUDED.winner, settled_at = EXCLUDED.settled_at`,
			p.ID, p.MarketID, p.YesAccountID, p.NoAccountID, p.YesOrderID, p.NoOrderID,
			p.TradePrice, p.Shares, p.Status, p.Winner, p.CreatedAt, p.SettledAt); err != nil {
			return fmt.Errorf("apply position %s: %w", p.ID, err)
		}
	}

	for _, w := range cs.Weights {
		if _, err := tx.Exec(ctx,
			`INSERT INTO market_weights (market_id, weight, locked, relative_odds)
			 VALUES ($1, $2::NUMERIC, $3, $4::NUMERIC)
			 ON CONFLICT (market_id) DO UPDATE SET
			   weight = EXCLUDED.weight, locked = EXCLUDED.locked, relative_odds = EXCLUDED.relative_odds`,
			w.MarketID, w.Weight.String(), w.Locked, w.RelativeOdds.String()); err != nil {
			return fmt.Errorf("apply weight %s: %w", w.MarketID, err)
		}
	}

	for _, sh := range cs.Shapes {
		paramsJSON, err := json.Marshal(sh.Params)
		if err != nil {
			return fmt.Errorf("marshal shape %s params: %w", sh.ID, err)
		}
		pointsJSON, err := json.Marshal(sh.Points)
		if err != nil {
			return fmt.Errorf("marshal shape %s points: %w", sh.ID, err)
		}
		if sh.IsDefault {
			if _, err := tx.Exec(ctx,
				`UPDATE curve_shapes SET is_default = FALSE WHERE is_default = TRUE`); err != nil {
				return fmt.Errorf("clear default shape: %w", err)
			}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO curve_shapes (id, name, kind, params, normalized_points, is_default, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   name = EXCLUDED.name, kind = EXCLUDED.kind, params = EXCLUDED.params,
			   normalized_points = EXCLUDED.normalized_points, is_default = EXCLUDED.is_default`,
			sh.ID, sh.Name, sh.Kind, paramsJSON, pointsJSON, sh.IsDefault, sh.CreatedAt); err != nil {
			return fmt.Errorf("apply shape %s: %w", sh.ID, err)
		}
	}

	if cs.Exposure != nil {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exposure (singleton, total_at_risk, tier, last_pullback_at)
			 VALUES (TRUE, $1, $2, $3)
			 ON CONFLICT (singleton) DO UPDATE SET
			   total_at_risk = EXCLUDED.total_at_risk, tier = EXCLUDED.tier,
			   last_pullback_at = EXCLUDED.last_pullback_at`,
			cs.Exposure.TotalAtRisk, cs.Exposure.Tier, cs.Exposure.LastPullbackAt); err != nil {
			return fmt.Errorf("apply exposure: %w", err)
		}
	}

	for _, e := range cs.Journal {
		if _, err := tx.Exec(ctx,
			`INSERT INTO journal_entries (id, account_id, kind, amount, ref_id, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.AccountID, e.Kind, e.Amount, e.RefID, e.CreatedAt); err != nil {
			return fmt.Errorf("apply journal %s: %w", e.ID, err)
		}
	}

	return tx.Commit(ctx)
}
