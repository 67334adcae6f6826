package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/exchanged/internal/money"
)

// ErrOrderNotFound is returned when an order lookup misses.
var ErrOrderNotFound = errors.New("ledger: order not found")

// Side is which side of a market an order trades on.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is a position in the order-status DAG: open and
// partially_filled are live, filled and cancelled are terminal.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
)

// IsTerminal reports whether status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// Order is a limit order.
type Order struct {
	ID        string
	UserID    string
	MarketID  string
	Side      Side
	Price     money.Amount
	Amount    money.Amount
	Remaining money.Amount
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// InsertOrderTx inserts a new open order within tx. Remaining starts equal
// to Amount and Status must be OrderOpen; the caller is responsible for
// having already locked and debited the placing user's balance before
// calling this.
func InsertOrderTx(tx *sql.Tx, o *Order) error {
	_, err := tx.Exec(
		`INSERT INTO orders (id, user_id, market_id, side, price, amount, remaining, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.UserID, o.MarketID, string(o.Side), int64(o.Price), int64(o.Amount), int64(o.Remaining),
		string(o.Status), o.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// NewOrder builds an Order ready for InsertOrderTx: a fresh id, status
// open, remaining == amount.
func NewOrder(userID, marketID string, side Side, price, amount money.Amount) *Order {
	return &Order{
		ID: uuid.NewString(), UserID: userID, MarketID: marketID, Side: side,
		Price: price, Amount: amount, Remaining: amount, Status: OrderOpen,
		CreatedAt: time.Now().UTC(),
	}
}

// UpdateOrderTx persists a mutated order's remaining/status/updated_at
// within tx. Orders' price, amount, user, market, and side are immutable
// after insertion and are not re-written here.
func UpdateOrderTx(tx *sql.Tx, o *Order) error {
	now := time.Now().UTC()
	o.UpdatedAt = &now
	_, err := tx.Exec(
		`UPDATE orders SET remaining = ?, status = ?, updated_at = ? WHERE id = ?`,
		int64(o.Remaining), string(o.Status), now.Unix(), o.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

// OrderByIDTx locks and returns an order row within tx (SQLite's single
// writer connection serializes this implicitly; the call exists so
// callers always read orders through the transaction that will mutate
// them).
func OrderByIDTx(tx *sql.Tx, id string) (*Order, error) {
	row := tx.QueryRow(
		`SELECT id, user_id, market_id, side, price, amount, remaining, status, created_at
		 FROM orders WHERE id = ?`, id,
	)
	return scanOrderRow(row)
}

// OrderByID looks up an order outside any transaction, for read paths
// like order status queries.
func (s *Storage) OrderByID(id string) (*Order, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, market_id, side, price, amount, remaining, status, created_at
		 FROM orders WHERE id = ?`, id,
	)
	return scanOrderRow(row)
}

func scanOrderRow(row *sql.Row) (*Order, error) {
	var o Order
	var side, status string
	var price, amount, remaining int64
	var createdAt int64
	if err := row.Scan(&o.ID, &o.UserID, &o.MarketID, &side, &price, &amount, &remaining, &status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.Side, o.Status = Side(side), OrderStatus(status)
	o.Price, o.Amount, o.Remaining = money.Amount(price), money.Amount(amount), money.Amount(remaining)
	o.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &o, nil
}

// OpenBuyOrdersTx returns every open or partially-filled buy order on
// marketID sorted best price first (descending), ties broken by creation
// time ascending then id ascending, matching the matcher's price-time
// priority requirement.
func OpenBuyOrdersTx(tx *sql.Tx, marketID string) ([]*Order, error) {
	return queryOpenOrdersTx(tx, marketID, SideBuy, "price DESC, created_at ASC, id ASC")
}

// OpenSellOrdersTx returns every open or partially-filled sell order on
// marketID sorted best price first (ascending), same tie-break rule.
func OpenSellOrdersTx(tx *sql.Tx, marketID string) ([]*Order, error) {
	return queryOpenOrdersTx(tx, marketID, SideSell, "price ASC, created_at ASC, id ASC")
}

// OpenOrdersByMarket returns every open or partially-filled order on
// marketID for side, best price first, for read paths like orderbook
// aggregation that don't need a transaction.
func (s *Storage) OpenOrdersByMarket(marketID string, side Side) ([]*Order, error) {
	orderBy := "price DESC, created_at ASC, id ASC"
	if side == SideSell {
		orderBy = "price ASC, created_at ASC, id ASC"
	}
	rows, err := s.db.Query(
		`SELECT id, user_id, market_id, side, price, amount, remaining, status, created_at
		 FROM orders WHERE market_id = ? AND side = ? AND status IN ('open', 'partially_filled')
		 ORDER BY `+orderBy,
		marketID, string(side),
	)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		var sd, status string
		var price, amount, remaining, createdAt int64
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &sd, &price, &amount, &remaining, &status, &createdAt); err != nil {
			return nil, err
		}
		o.Side, o.Status = Side(sd), OrderStatus(status)
		o.Price, o.Amount, o.Remaining = money.Amount(price), money.Amount(amount), money.Amount(remaining)
		o.CreatedAt = time.Unix(createdAt, 0).UTC()
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}

func queryOpenOrdersTx(tx *sql.Tx, marketID string, side Side, orderBy string) ([]*Order, error) {
	rows, err := tx.Query(
		`SELECT id, user_id, market_id, side, price, amount, remaining, status, created_at
		 FROM orders WHERE market_id = ? AND side = ? AND status IN ('open', 'partially_filled')
		 ORDER BY `+orderBy,
		marketID, string(side),
	)
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		var o Order
		var s, status string
		var price, amount, remaining, createdAt int64
		if err := rows.Scan(&o.ID, &o.UserID, &o.MarketID, &s, &price, &amount, &remaining, &status, &createdAt); err != nil {
			return nil, err
		}
		o.Side, o.Status = Side(s), OrderStatus(status)
		o.Price, o.Amount, o.Remaining = money.Amount(price), money.Amount(amount), money.Amount(remaining)
		o.CreatedAt = time.Unix(createdAt, 0).UTC()
		orders = append(orders, &o)
	}
	return orders, rows.Err()
}
