package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-engine/internal/model"
	"github.com/atmx/portfolio-engine/internal/money"
	"github.com/atmx/portfolio-engine/internal/position"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All quantities, prices and amounts are stored as NUMERIC for exact
// decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// --- Orders ---

const orderColumns = `client_order_id, account_id, instrument_id, strategy_id, position_id,
	side, order_type, quantity::TEXT, price::TEXT, trigger_price::TEXT,
	status, filled_qty::TEXT, updated_at`

func (s *PostgresStore) AddOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO orders (client_order_id, account_id, instrument_id, venue, strategy_id, position_id,
		                     side, order_type, quantity, price, trigger_price, status, filled_qty, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13::NUMERIC, $14)
		 ON CONFLICT (client_order_id) DO NOTHING`,
		o.ClientOrderID, o.AccountID.String(), o.InstrumentID.String(), o.InstrumentID.Venue.String(),
		o.StrategyID, o.PositionID, o.Side, o.Type,
		o.Quantity.String(), optPrice(o.Price), optPrice(o.TriggerPrice),
		o.Status, o.FilledQty.String(), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("add order %s: %w", o.ClientOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.ClientOrderID, ErrExists)
	}
	return nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, o *model.Order) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders
		 SET position_id = $2, quantity = $3::NUMERIC, price = $4::NUMERIC, trigger_price = $5::NUMERIC,
		     status = $6, filled_qty = $7::NUMERIC, updated_at = $8
		 WHERE client_order_id = $1`,
		o.ClientOrderID, o.PositionID, o.Quantity.String(),
		optPrice(o.Price), optPrice(o.TriggerPrice),
		o.Status, o.FilledQty.String(), o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ClientOrderID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s: %w", o.ClientOrderID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id model.ClientOrderID) (*model.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_order_id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, f OrderFilter) ([]model.Order, error) {
	var where []string
	var args []any
	if f.Venue != "" {
		args = append(args, f.Venue.String())
		where = append(where, fmt.Sprintf("venue = $%d", len(args)))
	}
	if !f.InstrumentID.IsZero() {
		args = append(args, f.InstrumentID.String())
		where = append(where, fmt.Sprintf("instrument_id = $%d", len(args)))
	}
	if f.WorkingOnly {
		args = append(args, []string{
			string(model.StatusAccepted), string(model.StatusTriggered), string(model.StatusPartiallyFilled),
		})
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders`+whereClause(where)+` ORDER BY client_order_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
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

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o                       model.Order
		accountID, instrumentID string
		qty, filled             string
		price, trigger          *string
	)
	if err := row.Scan(&o.ClientOrderID, &accountID, &instrumentID, &o.StrategyID, &o.PositionID,
		&o.Side, &o.Type, &qty, &price, &trigger,
		&o.Status, &filled, &o.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	if o.AccountID, err = model.ParseAccountID(accountID); err != nil {
		return nil, err
	}
	if o.InstrumentID, err = model.ParseInstrumentID(instrumentID); err != nil {
		return nil, err
	}
	if o.Quantity, err = money.ParseQuantity(qty); err != nil {
		return nil, err
	}
	if o.FilledQty, err = money.ParseQuantity(filled); err != nil {
		return nil, err
	}
	if o.Price, err = parseOptPrice(price); err != nil {
		return nil, err
	}
	if o.TriggerPrice, err = parseOptPrice(trigger); err != nil {
		return nil, err
	}
	return &o, nil
}

// --- Positions ---

const positionColumns = `position_id, instrument_id, strategy_id, account_id,
	net_qty::TEXT, avg_px_open::TEXT, realized_pnl::TEXT, settlement_currency,
	multiplier::TEXT, inverse, commissions::TEXT, trade_ids, opened_at, closed_at, closed`

func (s *PostgresStore) AddPosition(ctx context.Context, p *position.Position) error {
	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO positions (position_id, instrument_id, venue, strategy_id, account_id,
		                        net_qty, avg_px_open, realized_pnl, settlement_currency,
		                        multiplier, inverse, commissions, trade_ids, opened_at, closed_at, closed)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9,
		         $10::NUMERIC, $11, $12::JSONB, $13, $14, $15, $16)
		 ON CONFLICT (position_id) DO NOTHING`, args...)
	if err != nil {
		return fmt.Errorf("add position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", p.ID, ErrExists)
	}
	return nil
}

func (s *PostgresStore) UpdatePosition(ctx context.Context, p *position.Position) error {
	args, err := positionArgs(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions
		 SET instrument_id = $2, venue = $3, strategy_id = $4, account_id = $5,
		     net_qty = $6::NUMERIC, avg_px_open = $7::NUMERIC, realized_pnl = $8::NUMERIC,
		     settlement_currency = $9, multiplier = $10::NUMERIC, inverse = $11,
		     commissions = $12::JSONB, trade_ids = $13, opened_at = $14, closed_at = $15, closed = $16
		 WHERE position_id = $1`, args...)
	if err != nil {
		return fmt.Errorf("update position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("position %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetPosition(ctx context.Context, id model.PositionID) (*position.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+positionColumns+` FROM positions WHERE position_id = $1`, id)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get position %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, f PositionFilter) ([]position.Position, error) {
	var where []string
	var args []any
	if f.Venue != "" {
		args = append(args, f.Venue.String())
		where = append(where, fmt.Sprintf("venue = $%d", len(args)))
	}
	if !f.InstrumentID.IsZero() {
		args = append(args, f.InstrumentID.String())
		where = append(where, fmt.Sprintf("instrument_id = $%d", len(args)))
	}
	if f.OpenOnly {
		where = append(where, "net_qty <> 0")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions`+whereClause(where)+` ORDER BY position_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var positions []position.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func positionArgs(p *position.Position) ([]any, error) {
	commissions, err := json.Marshal(p.Commissions)
	if err != nil {
		return nil, fmt.Errorf("encode commissions: %w", err)
	}
	trades := make([]string, len(p.TradeIDs))
	for i, t := range p.TradeIDs {
		trades[i] = string(t)
	}
	var closedAt *time.Time
	if !p.ClosedAt.IsZero() {
		closedAt = &p.ClosedAt
	}
	return []any{
		p.ID, p.InstrumentID.String(), p.InstrumentID.Venue.String(), p.StrategyID, p.AccountID.String(),
		p.NetQty.String(), p.AvgPxOpen.String(), p.RealizedPnL.Amount().String(), p.SettlementCurrency,
		p.Multiplier.String(), p.Inverse, string(commissions), trades, p.OpenedAt, closedAt, p.Closed,
	}, nil
}

func scanPosition(row pgx.Row) (*position.Position, error) {
	var (
		p                                   position.Position
		instrumentID, accountID, currency   string
		netQty, avgPx, realized, multiplier string
		commissions                         string
		trades                              []string
		closedAt                            *time.Time
	)
	if err := row.Scan(&p.ID, &instrumentID, &p.StrategyID, &accountID,
		&netQty, &avgPx, &realized, &currency,
		&multiplier, &p.Inverse, &commissions, &trades, &p.OpenedAt, &closedAt, &p.Closed); err != nil {
		return nil, err
	}

	var err error
	if p.InstrumentID, err = model.ParseInstrumentID(instrumentID); err != nil {
		return nil, err
	}
	if p.AccountID, err = model.ParseAccountID(accountID); err != nil {
		return nil, err
	}
	p.SettlementCurrency = money.Currency(currency)
	p.NetQty, _ = decimal.NewFromString(netQty)
	p.AvgPxOpen, _ = decimal.NewFromString(avgPx)
	p.Multiplier, _ = decimal.NewFromString(multiplier)
	amount, _ := decimal.NewFromString(realized)
	p.RealizedPnL = money.New(amount, p.SettlementCurrency)

	p.Commissions = make(map[money.Currency]money.Money)
	if err := json.Unmarshal([]byte(commissions), &p.Commissions); err != nil {
		return nil, fmt.Errorf("decode commissions of %s: %w", p.ID, err)
	}
	for _, t := range trades {
		p.TradeIDs = append(p.TradeIDs, model.TradeID(t))
	}
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}
	return &p, nil
}

// --- Helpers ---

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func optPrice(p *money.Price) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

func parseOptPrice(s *string) (*money.Price, error) {
	if s == nil {
		return nil, nil
	}
	p, err := money.ParsePrice(*s)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
